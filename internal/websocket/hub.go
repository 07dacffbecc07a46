package websocket

import (
	"context"

	"go.uber.org/zap"

	"campus-im/internal/logger"
	"campus-im/internal/metrics"
	"campus-im/internal/models"
)

// roomMessage is a payload for every subscriber of room except one connection.
// target != nil addresses a single connection instead (acks, error frames).
type roomMessage struct {
	room    string
	payload []byte
	except  *Client
	target  *Client
}

type subscription struct {
	client *Client
	room   string
	join   bool
	ack    []byte // join 成功后在同一轮循环中发给 client，保证先于该房间的后续广播
}

// Hub maintains the set of active clients and the rooms they subscribe to.
// All maps are owned by the Run goroutine.
type Hub struct {
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	broadcast  chan roomMessage
	queries    chan func()
	done       chan struct{}

	// onDisconnect 在连接注销后调用（不在 hub 协程内），参数是该连接注销前所在的房间。
	onDisconnect func(c *Client, rooms []string)
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		broadcast:  make(chan roomMessage, 1024),
		queries:    make(chan func()),
		done:       make(chan struct{}),
	}
}

// OnDisconnect sets the callback invoked after a connection is dropped. Call before Run.
func (h *Hub) OnDisconnect(fn func(c *Client, rooms []string)) {
	h.onDisconnect = fn
}

// Register adds c to the hub and subscribes it to its user room.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Join subscribes c to room; ack (if any) is queued to c right after the subscription.
func (h *Hub) Join(c *Client, room string, ack []byte) {
	select {
	case h.subscribe <- subscription{client: c, room: room, join: true, ack: ack}:
	case <-h.done:
	}
}

func (h *Hub) Leave(c *Client, room string) {
	select {
	case h.subscribe <- subscription{client: c, room: room}:
	case <-h.done:
	}
}

// BroadcastToRoom queues payload for every connection subscribed to room except `except`.
// It never blocks the caller (Kafka consumer, typing sweeper); a full queue drops the payload.
func (h *Hub) BroadcastToRoom(room string, payload []byte, except *Client) {
	h.enqueue(roomMessage{room: room, payload: payload, except: except})
}

// SendTo queues payload for a single connection.
func (h *Hub) SendTo(c *Client, payload []byte) {
	h.enqueue(roomMessage{payload: payload, target: c})
}

func (h *Hub) enqueue(m roomMessage) {
	select {
	case h.broadcast <- m:
	default:
		logger.Log.Warn("hub broadcast queue full, dropping payload", zap.String("room", m.room))
	}
}

// InRoom reports whether c is currently subscribed to room.
func (h *Hub) InRoom(c *Client, room string) bool {
	reply := make(chan bool, 1)
	if !h.query(func() {
		_, ok := h.rooms[room][c]
		reply <- ok
	}) {
		return false
	}
	return <-reply
}

// RoomSize returns the number of local connections subscribed to room.
func (h *Hub) RoomSize(room string) int {
	reply := make(chan int, 1)
	if !h.query(func() { reply <- len(h.rooms[room]) }) {
		return 0
	}
	return <-reply
}

func (h *Hub) query(fn func()) bool {
	select {
	case h.queries <- fn:
		return true
	case <-h.done:
		return false
	}
}

// Run starts the hub and serves its channels until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	logger.Log.Info("websocket hub started")
	defer func() {
		for c := range h.clients {
			h.remove(c)
		}
		close(h.done)
		logger.Log.Info("websocket hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.add(c, models.UserRoom(c.UserID))
			metrics.WebSocketConnections.Set(float64(len(h.clients)))
			logger.Log.Info("客户端已注册", zap.Uint("user_id", c.UserID), zap.Int("connections", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				logger.Log.Info("客户端已注销", zap.Uint("user_id", c.UserID))
			}

		case s := <-h.subscribe:
			if _, ok := h.clients[s.client]; !ok {
				continue
			}
			if s.join {
				h.add(s.client, s.room)
				if s.ack != nil {
					h.deliver(s.client, s.ack)
				}
			} else {
				h.drop(s.client, s.room)
			}

		case m := <-h.broadcast:
			if m.target != nil {
				if _, ok := h.clients[m.target]; ok {
					h.deliver(m.target, m.payload)
				}
				continue
			}
			for c := range h.rooms[m.room] {
				if c != m.except {
					h.deliver(c, m.payload)
				}
			}

		case fn := <-h.queries:
			fn()
		}
	}
}

// deliver 非阻塞写入；发送缓冲已满视为慢连接并移除。
func (h *Hub) deliver(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		logger.Log.Warn("发送通道已满，移除客户端", zap.Uint("user_id", c.UserID))
		h.remove(c)
	}
}

func (h *Hub) add(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
		metrics.ActiveRooms.Set(float64(len(h.rooms)))
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) drop(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
		metrics.ActiveRooms.Set(float64(len(h.rooms)))
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		h.drop(c, room)
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketConnections.Set(float64(len(h.clients)))

	if h.onDisconnect != nil {
		go h.onDisconnect(c, rooms)
	}
}
