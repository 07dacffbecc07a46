package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campus-im/internal/config"
	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Client frames are small control frames.
	maxMessageSize = 4096

	sendBufferSize = 256
)

var newline = []byte("\n")

// FrameHandler handles a control frame (join/leave/typing) received from a client.
type FrameHandler func(ctx context.Context, c *Client, frame imtypes.ClientFrame)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Closed by the hub.
	send chan []byte

	// 已订阅的房间，只由 hub 协程读写
	rooms map[string]struct{}

	// Authenticated user of this connection. A user may hold several connections.
	UserID   uint
	UserName string

	handleFrame FrameHandler
}

// NewClient creates a client bound to hub. conn may be nil for in-process subscribers.
func NewClient(hub *Hub, conn *websocket.Conn, userID uint, userName string, bufferSize int, handler FrameHandler) *Client {
	if bufferSize <= 0 {
		bufferSize = sendBufferSize
	}
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, bufferSize),
		rooms:       make(map[string]struct{}),
		UserID:      userID,
		UserName:    userName,
		handleFrame: handler,
	}
}

// Outbound exposes the queued payloads of an in-process subscriber (conn == nil).
// The channel is closed when the hub drops the client.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// SendEvent queues ev for this connection only.
func (c *Client) SendEvent(ev imtypes.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Error("序列化推送事件失败", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	c.hub.SendTo(c, payload)
}

type timeouts struct {
	writeWait, pongWait, pingPeriod time.Duration
	maxMessageSize                  int64
}

func timeoutsFrom(cfg config.WebSocketConfig) timeouts {
	t := timeouts{writeWait: writeWait, pongWait: pongWait, pingPeriod: pingPeriod, maxMessageSize: maxMessageSize}
	if cfg.WriteWaitSeconds > 0 {
		t.writeWait = time.Duration(cfg.WriteWaitSeconds) * time.Second
	}
	if cfg.PongWaitSeconds > 0 {
		t.pongWait = time.Duration(cfg.PongWaitSeconds) * time.Second
	}
	if cfg.PingPeriodSeconds > 0 {
		t.pingPeriod = time.Duration(cfg.PingPeriodSeconds) * time.Second
	}
	if t.pingPeriod >= t.pongWait {
		t.pingPeriod = (t.pongWait * 9) / 10
	}
	if cfg.MaxMessageSizeBytes > 0 {
		t.maxMessageSize = int64(cfg.MaxMessageSizeBytes)
	}
	return t
}

// readPump pumps control frames from the websocket connection to the frame handler.
func (c *Client) readPump(t timeouts) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(t.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(t.pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warn("WebSocket 错误", zap.Uint("user_id", c.UserID), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			logger.Log.Debug("忽略非文本帧", zap.Uint("user_id", c.UserID), zap.Int("type", messageType))
			continue
		}

		var frame imtypes.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Log.Warn("无法解析客户端帧", zap.Uint("user_id", c.UserID), zap.Error(err))
			c.SendEvent(imtypes.Event{Type: imtypes.EventError, Code: imerrors.CodeBadRequest, Error: "invalid frame", Timestamp: time.Now()})
			continue
		}
		if c.handleFrame != nil {
			c.handleFrame(ctx, c, frame)
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump(t timeouts) {
	ticker := time.NewTicker(t.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 把发送队列中已有的帧合并到同一次写入，用换行分隔
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write(newline)
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWsPerConnection upgrades the request and attaches the connection to hub.
// The caller has already authenticated userID.
func ServeWsPerConnection(hub *Hub, handler FrameHandler, userID uint, userName string, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}
	client := NewClient(hub, conn, userID, userName, wsCfg.SendBufferSize, handler)
	hub.Register(client)

	t := timeoutsFrom(wsCfg)
	go client.writePump(t)
	go client.readPump(t)

	logger.Log.Info("客户端已连接", zap.Uint("user_id", userID))
}
