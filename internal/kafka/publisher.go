package kafka

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"campus-im/internal/imtypes"
	"campus-im/internal/logger"
	"campus-im/internal/metrics"
)

const defaultPublishTimeout = 5 * time.Second

// EventPublisher writes push events to the fan-out topic. Every chatserver instance
// consumes the topic and broadcasts each event to its local subscribers of Event.Room.
type EventPublisher struct {
	producer MessageProducer
	topic    string
	timeout  time.Duration
	now      func() time.Time
}

func NewEventPublisher(producer MessageProducer, topic string, timeout time.Duration) *EventPublisher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &EventPublisher{producer: producer, topic: topic, timeout: timeout, now: time.Now}
}

// Publish is best-effort: failures are logged and counted, never returned.
func (p *EventPublisher) Publish(ctx context.Context, room string, event imtypes.Event) {
	event.Room = room
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Log.Error("序列化推送事件失败", zap.String("type", string(event.Type)), zap.Error(err))
		metrics.FanoutEvents.WithLabelValues(string(event.Type), "failed").Inc()
		return
	}

	// 请求结束后投递仍需完成
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.producer.SendMessage(sendCtx, p.topic, []byte(room), payload); err != nil {
		logger.Log.Warn("推送事件发布失败",
			zap.String("room", room), zap.String("type", string(event.Type)), zap.Error(err))
		metrics.FanoutEvents.WithLabelValues(string(event.Type), "failed").Inc()
		return
	}
	metrics.FanoutEvents.WithLabelValues(string(event.Type), "published").Inc()
}
