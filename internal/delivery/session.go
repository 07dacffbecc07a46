package delivery

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"campus-im/internal/imtypes"
	"campus-im/internal/logger"
)

// Session 在一条推送连接上管理多个打开的会话，并把事件分发给对应的 Coordinator。
type Session struct {
	selfID  uint
	push    PushChannel
	fetcher Fetcher
	sender  Sender
	opts    Options

	mu       sync.Mutex
	open     map[uint]*Coordinator
	// unrouted 接收未打开会话的事件（例如个人房间中的新消息，用于更新会话列表）
	unrouted func(imtypes.Event)
}

// NewSession 创建一个新的 Session。
func NewSession(selfID uint, push PushChannel, fetcher Fetcher, sender Sender, opts Options) *Session {
	return &Session{
		selfID:  selfID,
		push:    push,
		fetcher: fetcher,
		sender:  sender,
		opts:    opts.withDefaults(),
		open:    make(map[uint]*Coordinator),
	}
}

// OnUnrouted 设置未打开会话事件的回调。
func (s *Session) OnUnrouted(fn func(imtypes.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unrouted = fn
}

// Open 打开会话；已打开时返回现有的 Coordinator。
func (s *Session) Open(ctx context.Context, conversationID uint) (*Coordinator, error) {
	s.mu.Lock()
	if c, ok := s.open[conversationID]; ok {
		s.mu.Unlock()
		return c, nil
	}
	c := NewCoordinator(conversationID, s.selfID, s.push, s.fetcher, s.sender, s.opts)
	s.open[conversationID] = c
	s.mu.Unlock()

	if err := c.Open(ctx); err != nil {
		s.mu.Lock()
		delete(s.open, conversationID)
		s.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// Get 返回已打开的会话。
func (s *Session) Get(conversationID uint) (*Coordinator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.open[conversationID]
	return c, ok
}

// Close 关闭会话：离开房间并停止轮询。
func (s *Session) Close(ctx context.Context, conversationID uint) {
	s.mu.Lock()
	c, ok := s.open[conversationID]
	delete(s.open, conversationID)
	s.mu.Unlock()
	if ok {
		c.Close(ctx)
	}
}

// Run 分发推送事件和连接状态变化，直到 ctx 结束或推送通道关闭。
func (s *Session) Run(ctx context.Context) {
	events := s.push.Events()
	connectivity := s.push.Connectivity()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.dispatch(ev)
		case up, ok := <-connectivity:
			if !ok {
				return
			}
			s.setConnected(up)
		}
	}
}

func (s *Session) dispatch(ev imtypes.Event) {
	s.mu.Lock()
	c, ok := s.open[ev.ConversationID]
	unrouted := s.unrouted
	s.mu.Unlock()

	if ok {
		c.HandleEvent(ev)
		return
	}
	if unrouted != nil {
		unrouted(ev)
	}
}

func (s *Session) setConnected(up bool) {
	s.mu.Lock()
	coords := make([]*Coordinator, 0, len(s.open))
	for _, c := range s.open {
		coords = append(coords, c)
	}
	s.mu.Unlock()

	logger.Log.Info("push channel connectivity changed", zap.Bool("connected", up), zap.Int("open_conversations", len(coords)))
	// 每个 Coordinator 在自己的 loop 中按顺序处理，不阻塞事件分发
	for _, c := range coords {
		c.queueConnectivity(up)
	}
}

// Shutdown 关闭所有打开的会话。
func (s *Session) Shutdown(ctx context.Context) {
	s.mu.Lock()
	coords := s.open
	s.open = make(map[uint]*Coordinator)
	s.mu.Unlock()
	for _, c := range coords {
		c.Close(ctx)
	}
}
