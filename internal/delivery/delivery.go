// Package delivery keeps one deduplicated, ordered message stream per open
// conversation on the client side, merging websocket pushes with a polling
// backstop.
package delivery

import (
	"context"
	"time"

	"campus-im/internal/config"
	"campus-im/internal/imtypes"
	"campus-im/internal/models"
)

// State 是单个打开会话的投递状态。
type State int

const (
	StateIdle State = iota
	StateJoining
	StateSynced
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateSynced:
		return "synced"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Fetcher 拉取会话最近的消息（旧到新）。
type Fetcher interface {
	FetchRecent(ctx context.Context, conversationID uint, limit int) ([]*models.Message, error)
}

// SendRequest 是客户端发送消息的请求体。
type SendRequest struct {
	Content     string             `json:"content"`
	MessageType models.MessageType `json:"messageType,omitempty"`
	Attachment  *models.Attachment `json:"attachment,omitempty"`
	ReplyToID   uint               `json:"replyToId,omitempty"`
	ClientMsgID string             `json:"clientMsgId,omitempty"`
}

// Sender 把消息提交到服务端。
type Sender interface {
	Send(ctx context.Context, conversationID uint, req SendRequest) (*models.Message, error)
}

// BlockLister 列出当前用户屏蔽的人。Fetcher 同时实现它时，被屏蔽者在屏蔽之后发送的消息不会通过推送进入消息流。
type BlockLister interface {
	ListBlocked(ctx context.Context) ([]*models.Block, error)
}

// PushChannel 是到 chatserver 的推送连接，多个会话共享。
type PushChannel interface {
	// Join 订阅会话房间，服务端确认后返回。
	Join(ctx context.Context, conversationID uint) error
	Leave(ctx context.Context, conversationID uint) error
	Events() <-chan imtypes.Event
	// Connectivity 在连接建立 (true) 或断开 (false) 时各发送一次。
	Connectivity() <-chan bool
}

// Options 是 Coordinator 的时间参数。
type Options struct {
	InitialFetchLimit int
	PollInterval      time.Duration
	TombstoneTTL      time.Duration
	RequestTimeout    time.Duration
	TypingTTL         time.Duration
}

// OptionsFromConfig 从配置构造 Options，缺省值与服务端默认配置一致。
func OptionsFromConfig(cfg config.DeliveryConfig, typingTTL time.Duration) Options {
	return Options{
		InitialFetchLimit: cfg.InitialFetchLimit,
		PollInterval:      cfg.PollInterval,
		TombstoneTTL:      cfg.TombstoneTTL,
		RequestTimeout:    cfg.RequestTimeout,
		TypingTTL:         typingTTL,
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.InitialFetchLimit <= 0 {
		o.InitialFetchLimit = 50
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.TombstoneTTL <= 0 {
		o.TombstoneTTL = 2 * time.Minute
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 3 * time.Second
	}
	return o
}
