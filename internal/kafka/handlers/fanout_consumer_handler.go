package kafkahandlers

import (
	"context"
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"campus-im/internal/imtypes"
	"campus-im/internal/logger"
)

// Dispatcher broadcasts a decoded fan-out event to the local subscribers of its room.
type Dispatcher interface {
	Dispatch(ctx context.Context, event imtypes.Event)
}

// FanoutConsumerLogic 处理推送 topic 上的事件。
type FanoutConsumerLogic struct {
	dispatcher Dispatcher
}

// NewFanoutConsumerLogic creates a new instance of FanoutConsumerLogic.
func NewFanoutConsumerLogic(d Dispatcher) *FanoutConsumerLogic {
	if d == nil {
		logger.Log.Panic("Dispatcher cannot be nil")
	}
	return &FanoutConsumerLogic{dispatcher: d}
}

// HandleFanoutEvent is the kafka.MessageHandler passed to the consumer.
// 无法解析的消息直接跳过（返回 nil 以提交 offset），重试也不会成功。
func (h *FanoutConsumerLogic) HandleFanoutEvent(ctx context.Context, msg *kafka.Message) error {
	var ev imtypes.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		logger.Log.Warn("无法解析推送事件，已跳过",
			zap.ByteString("key", msg.Key), zap.Int64("offset", int64(msg.TopicPartition.Offset)), zap.Error(err))
		return nil
	}
	if ev.Room == "" {
		// 旧版本生产者只写了 key
		ev.Room = string(msg.Key)
	}
	logger.Log.Debug("收到推送事件", zap.String("room", ev.Room), zap.String("type", string(ev.Type)))
	h.dispatcher.Dispatch(ctx, ev)
	return nil
}
