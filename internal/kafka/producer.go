package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"campus-im/internal/config"
	"campus-im/internal/logger"
)

// MessageProducer defines the interface for a Kafka message producer.
type MessageProducer interface {
	SendMessage(ctx context.Context, topic string, key []byte, payload []byte) error
	Close()
}

// confluentKafkaProducer is an implementation of MessageProducer using confluent-kafka-go.
type confluentKafkaProducer struct {
	producer *kafka.Producer
	cfg      config.KafkaConfig
}

// NewConfluentKafkaProducer creates a new Kafka producer instance using confluent-kafka-go.
func NewConfluentKafkaProducer(cfg config.KafkaConfig) (MessageProducer, error) {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(cfg.Brokers, ","),
		"security.protocol": cfg.Protocol,
		// 同一房间的事件用房间名做 key，落在同一分区，保证消费顺序
		"acks":               "all",
		"enable.idempotence": true,
	}
	if cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", cfg.ClientID)
	}

	p, err := kafka.NewProducer(configMap)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	// 没有指定 delivery channel 的消息和客户端级错误会出现在 Events() 上
	go func() {
		for e := range p.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					logger.Log.Warn("kafka delivery failed", zap.Stringp("topic", ev.TopicPartition.Topic), zap.Error(ev.TopicPartition.Error))
				}
			case kafka.Error:
				logger.Log.Error("kafka producer error", zap.Error(ev), zap.Bool("fatal", ev.IsFatal()))
			}
		}
	}()

	return &confluentKafkaProducer{producer: p, cfg: cfg}, nil
}

// SendMessage sends a single message to the specified Kafka topic and waits for the delivery report.
func (p *confluentKafkaProducer) SendMessage(ctx context.Context, topic string, key []byte, payload []byte) error {
	// 不关闭 deliveryChan：ctx 先结束时 librdkafka 之后仍会写入报告
	deliveryChan := make(chan kafka.Event, 1)

	kafkaMsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          payload,
		Timestamp:      time.Now(),
	}

	if err := p.producer.Produce(kafkaMsg, deliveryChan); err != nil {
		// 本地错误，例如生产队列已满
		return fmt.Errorf("kafka producer failed to enqueue message for topic %s: %w", topic, err)
	}

	select {
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("kafka producer: unexpected event type received on delivery channel: %T %v", e, e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka producer: delivery failed for topic %s: %w", topic, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kafka producer: context canceled while waiting for delivery report for topic %s: %w", topic, ctx.Err())
	}
}

// Close flushes any outstanding messages and closes the Kafka producer.
func (p *confluentKafkaProducer) Close() {
	if p.producer == nil {
		return
	}
	logger.Log.Info("closing kafka producer")
	if remaining := p.producer.Flush(15 * 1000); remaining > 0 {
		logger.Log.Warn("kafka messages still outstanding after flush", zap.Int("remaining", remaining))
	}
	p.producer.Close()
	logger.Log.Info("kafka producer closed")
}
