package chatserver

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"campus-im/internal/imtypes"
	"campus-im/internal/logger"
	"campus-im/internal/metrics"
	"campus-im/internal/models"
	"campus-im/internal/presence"
	ws "campus-im/internal/websocket"
)

// Fanout 把推送事件广播给本实例上订阅了对应房间的连接。
// 多实例部署时由 Kafka 消费者调用 Dispatch；单实例部署时 apiserver 直接把它当作 EventPublisher。
type Fanout struct {
	hub     *ws.Hub
	tracker presence.Tracker
	now     func() time.Time
}

func NewFanout(hub *ws.Hub, tracker presence.Tracker) *Fanout {
	return &Fanout{hub: hub, tracker: tracker, now: time.Now}
}

// Publish implements services.EventPublisher.
func (f *Fanout) Publish(ctx context.Context, room string, event imtypes.Event) {
	event.Room = room
	f.Dispatch(ctx, event)
}

// Dispatch broadcasts event to event.Room. A new message ends its sender's typing state.
func (f *Fanout) Dispatch(ctx context.Context, event imtypes.Event) {
	if event.Room == "" {
		logger.Log.Warn("推送事件缺少房间，已丢弃", zap.String("type", string(event.Type)))
		metrics.FanoutEvents.WithLabelValues(string(event.Type), "failed").Inc()
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = f.now()
	}

	// 私聊消息同时发往会话房间和接收者的个人房间，只在会话房间上处理一次
	if event.Type == imtypes.EventMessageCreated && event.Message != nil &&
		event.Room == models.ConversationRoom(event.ConversationID) {
		f.stopTyping(ctx, event.Room, event.ConversationID, event.Message.SenderID)
	}

	f.broadcast(event, nil)
}

// TypingExpired is the presence sweep callback.
func (f *Fanout) TypingExpired(s presence.Session) {
	conversationID, _ := models.ParseConversationRoom(s.RoomID)
	f.broadcast(imtypes.Event{
		Type:           imtypes.EventTypingStop,
		Room:           s.RoomID,
		ConversationID: conversationID,
		UserID:         s.UserID,
		UserName:       s.UserName,
		Timestamp:      f.now(),
	}, nil)
}

func (f *Fanout) stopTyping(ctx context.Context, room string, conversationID, userID uint) {
	stopped, err := f.tracker.StopTyping(ctx, room, userID)
	if err != nil {
		logger.Log.Warn("清除输入状态失败", zap.String("room", room), zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	if stopped {
		f.broadcast(imtypes.Event{
			Type:           imtypes.EventTypingStop,
			Room:           room,
			ConversationID: conversationID,
			UserID:         userID,
			Timestamp:      f.now(),
		}, nil)
	}
}

func (f *Fanout) broadcast(event imtypes.Event, except *ws.Client) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Log.Error("序列化推送事件失败", zap.String("type", string(event.Type)), zap.Error(err))
		metrics.FanoutEvents.WithLabelValues(string(event.Type), "failed").Inc()
		return
	}
	f.hub.BroadcastToRoom(event.Room, payload, except)
	metrics.FanoutEvents.WithLabelValues(string(event.Type), "broadcast").Inc()
}
