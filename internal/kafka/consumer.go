package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"campus-im/internal/config"
	"campus-im/internal/logger"
)

// MessageHandler processes one consumed Kafka message. A nil return commits the offset.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	groupID  string
}

// NewConfluentKafkaConsumer creates a consumer; the underlying client is created in Consume once the group is known.
func NewConfluentKafkaConsumer(cfg config.KafkaConfig) (MessageConsumer, error) {
	return &confluentKafkaConsumer{cfg: cfg}, nil
}

// Consume subscribes to topics and blocks until ctx is canceled or a fatal error occurs.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return fmt.Errorf("kafka consumer: no topics specified")
	}
	c.groupID = groupID

	configMap := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(c.cfg.Brokers, ","),
		"group.id":          c.groupID,
		// 每个 chatserver 实例使用独立的消费组，只关心启动之后的事件
		"auto.offset.reset":  "latest",
		"enable.auto.commit": "false",
		"security.protocol":  c.cfg.Protocol,
	}
	if c.cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", c.cfg.ClientID)
	}

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer for group %s: %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close()
		c.consumer = nil
		return fmt.Errorf("failed to subscribe to topics %v for group %s: %w", topics, groupID, err)
	}

	log := logger.Log.With(zap.String("group", groupID))
	log.Info("kafka consumer started", zap.Strings("topics", topics))

	for {
		select {
		case <-ctx.Done():
			log.Info("kafka consumer context canceled, shutting down")
			return nil
		default:
		}

		ev := c.consumer.Poll(1000)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := handler(ctx, e); err != nil {
				log.Warn("error processing kafka message",
					zap.Stringp("topic", e.TopicPartition.Topic), zap.Int64("offset", int64(e.TopicPartition.Offset)), zap.Error(err))
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				log.Warn("failed to commit offset",
					zap.Stringp("topic", e.TopicPartition.Topic), zap.Int64("offset", int64(e.TopicPartition.Offset)), zap.Error(err))
			}
		case kafka.Error:
			log.Error("kafka consumer error", zap.Error(e), zap.Int("code", int(e.Code())), zap.Bool("fatal", e.IsFatal()))
			if e.IsFatal() {
				return e
			}
		case kafka.AssignedPartitions:
			log.Info("partitions assigned", zap.Int("count", len(e.Partitions)))
			c.consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			log.Info("partitions revoked", zap.Int("count", len(e.Partitions)))
			c.consumer.Unassign()
		}
	}
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		logger.Log.Warn("error closing kafka consumer", zap.String("group", c.groupID), zap.Error(err))
	} else {
		logger.Log.Info("kafka consumer closed", zap.String("group", c.groupID))
	}
	c.consumer = nil
}
