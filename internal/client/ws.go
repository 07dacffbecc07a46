// Package client contains the transports used by the delivery coordinator:
// a reconnecting websocket push channel and a REST client for fetch/send.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campus-im/internal/config"
	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var newline = []byte("\n")

// PushClient 是到 chatserver 的 websocket 连接，断开后按指数退避自动重连。
// 它实现 delivery.PushChannel。
type PushClient struct {
	url          string
	dialer       *websocket.Dialer
	reconnectMin time.Duration
	reconnectMax time.Duration

	events       chan imtypes.Event
	connectivity chan bool

	mu      sync.Mutex
	conn    *websocket.Conn
	waiters map[uint][]chan error // conversationID → 等待 room.joined 的调用者

	writeMu sync.Mutex
}

// NewPushClient 创建 PushClient；token 作为查询参数传给 chatserver。
func NewPushClient(wsURL, token string, cfg config.DeliveryConfig) (*PushClient, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("无效的 WebSocket 地址 %q: %w", wsURL, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	lo, hi := cfg.ReconnectMin, cfg.ReconnectMax
	if lo <= 0 {
		lo = 500 * time.Millisecond
	}
	if hi < lo {
		hi = 30 * time.Second
	}
	return &PushClient{
		url:          u.String(),
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconnectMin: lo,
		reconnectMax: hi,
		events:       make(chan imtypes.Event, 256),
		connectivity: make(chan bool, 8),
		waiters:      make(map[uint][]chan error),
	}, nil
}

func (c *PushClient) Events() <-chan imtypes.Event { return c.events }

func (c *PushClient) Connectivity() <-chan bool { return c.connectivity }

// Run 维持连接直到 ctx 结束，结束时关闭 Events 和 Connectivity。
func (c *PushClient) Run(ctx context.Context) {
	defer close(c.events)
	defer close(c.connectivity)

	backoff := c.reconnectMin
	for ctx.Err() == nil {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			logger.Log.Warn("websocket dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.reconnectMax {
				backoff = c.reconnectMax
			}
			continue
		}
		backoff = c.reconnectMin

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.signal(ctx, true)

		c.serve(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		waiters := c.waiters
		c.waiters = make(map[uint][]chan error)
		c.mu.Unlock()
		for _, ws := range waiters {
			for _, w := range ws {
				w <- imerrors.TransportUnavailable(fmt.Errorf("connection closed"))
			}
		}
		c.signal(ctx, false)
	}
}

func (c *PushClient) signal(ctx context.Context, up bool) {
	select {
	case c.connectivity <- up:
	case <-ctx.Done():
	}
}

// serve 读取服务端帧直到连接断开。
func (c *PushClient) serve(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				c.writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		// 服务端会把多条帧用换行合并到一次写入
		for _, frame := range bytes.Split(data, newline) {
			if len(bytes.TrimSpace(frame)) == 0 {
				continue
			}
			var ev imtypes.Event
			if err := json.Unmarshal(frame, &ev); err != nil {
				logger.Log.Warn("invalid push frame", zap.Error(err), zap.ByteString("frame", frame))
				continue
			}
			c.handle(ctx, ev)
		}
	}
}

func (c *PushClient) handle(ctx context.Context, ev imtypes.Event) {
	switch ev.Type {
	case imtypes.EventRoomJoined:
		c.resolveWaiters(ev.ConversationID, nil)
		return
	case imtypes.EventError:
		if ev.ConversationID != 0 && c.resolveWaiters(ev.ConversationID, &imerrors.AppError{Code: ev.Code, Message: ev.Error}) {
			return
		}
	}
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *PushClient) resolveWaiters(conversationID uint, err error) bool {
	c.mu.Lock()
	ws := c.waiters[conversationID]
	delete(c.waiters, conversationID)
	c.mu.Unlock()
	for _, w := range ws {
		w <- err
	}
	return len(ws) > 0
}

func (c *PushClient) write(frame imtypes.ClientFrame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return imerrors.TransportUnavailable(fmt.Errorf("not connected"))
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return imerrors.TransportUnavailable(err)
	}
	return nil
}

// Join 发送 join 帧并等待服务端的 room.joined 确认。
func (c *PushClient) Join(ctx context.Context, conversationID uint) error {
	done := make(chan error, 1)
	c.mu.Lock()
	c.waiters[conversationID] = append(c.waiters[conversationID], done)
	c.mu.Unlock()

	if err := c.write(imtypes.ClientFrame{Action: imtypes.ActionJoin, ConversationID: conversationID}); err != nil {
		c.dropWaiter(conversationID, done)
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.dropWaiter(conversationID, done)
		return imerrors.TransportUnavailable(ctx.Err())
	}
}

func (c *PushClient) dropWaiter(conversationID uint, done chan error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws := c.waiters[conversationID]
	for i, w := range ws {
		if w == done {
			c.waiters[conversationID] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(c.waiters[conversationID]) == 0 {
		delete(c.waiters, conversationID)
	}
}

func (c *PushClient) Leave(_ context.Context, conversationID uint) error {
	return c.write(imtypes.ClientFrame{Action: imtypes.ActionLeave, ConversationID: conversationID})
}

// Typing 通知服务端开始或停止输入。
func (c *PushClient) Typing(conversationID uint, typing bool) error {
	action := imtypes.ActionTyping
	if !typing {
		action = imtypes.ActionStopTyping
	}
	return c.write(imtypes.ClientFrame{Action: action, ConversationID: conversationID})
}
