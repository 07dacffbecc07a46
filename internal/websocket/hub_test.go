package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-im/internal/config"
	"campus-im/internal/imtypes"
	"campus-im/internal/models"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func recv(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case p, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return string(p)
	case <-time.After(time.Second):
		t.Fatal("nothing delivered")
	}
	return ""
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case p := <-c.send:
		t.Fatalf("unexpected payload %q", p)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestHubRoomBroadcast(t *testing.T) {
	h := startHub(t)
	alice := NewClient(h, nil, 1, "Alice", 8, nil)
	aliceTab := NewClient(h, nil, 1, "Alice", 8, nil)
	bob := NewClient(h, nil, 2, "Bob", 8, nil)
	for _, c := range []*Client{alice, aliceTab, bob} {
		h.Register(c)
	}

	room := models.ConversationRoom(7)
	h.Join(alice, room, []byte("ack"))
	assert.Equal(t, "ack", recv(t, alice))
	h.Join(bob, room, nil)
	assert.Equal(t, 2, h.RoomSize(room))
	assert.True(t, h.InRoom(bob, room))
	assert.False(t, h.InRoom(aliceTab, room))

	h.BroadcastToRoom(room, []byte("hello"), alice)
	assert.Equal(t, "hello", recv(t, bob))
	assertEmpty(t, alice)
	assertEmpty(t, aliceTab)

	// 用户房间在注册时自动加入，同一用户的所有连接都会收到
	h.BroadcastToRoom(models.UserRoom(1), []byte("dm"), nil)
	assert.Equal(t, "dm", recv(t, alice))
	assert.Equal(t, "dm", recv(t, aliceTab))
	assertEmpty(t, bob)

	h.Leave(bob, room)
	assert.False(t, h.InRoom(bob, room))
	h.BroadcastToRoom(room, []byte("after leave"), nil)
	assert.Equal(t, "after leave", recv(t, alice))
	assertEmpty(t, bob)
}

func TestHubUnregisterDropsRoomsAndNotifies(t *testing.T) {
	h := NewHub()
	var (
		mu   sync.Mutex
		left []string
		done = make(chan struct{})
	)
	h.OnDisconnect(func(c *Client, rooms []string) {
		mu.Lock()
		left = rooms
		mu.Unlock()
		close(done)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := NewClient(h, nil, 3, "Carol", 8, nil)
	h.Register(c)
	h.Join(c, models.ConversationRoom(1), nil)
	h.Unregister(c)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not called")
	}
	mu.Lock()
	assert.ElementsMatch(t, []string{models.UserRoom(3), models.ConversationRoom(1)}, left)
	mu.Unlock()
	assert.Equal(t, 0, h.RoomSize(models.ConversationRoom(1)))

	_, ok := <-c.send
	assert.False(t, ok, "send channel should be closed")
}

func TestHubDropsSlowClient(t *testing.T) {
	h := startHub(t)
	slow := NewClient(h, nil, 4, "Dave", 1, nil)
	h.Register(slow)
	room := models.ConversationRoom(9)
	h.Join(slow, room, nil)

	h.BroadcastToRoom(room, []byte("one"), nil)
	h.BroadcastToRoom(room, []byte("two"), nil)

	require.Eventually(t, func() bool { return h.RoomSize(room) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "one", string(<-slow.send))
	_, ok := <-slow.send
	assert.False(t, ok)
}

func TestServeWsRoutesFramesAndBatchesWrites(t *testing.T) {
	h := startHub(t)
	frames := make(chan imtypes.ClientFrame, 4)
	handler := func(_ context.Context, c *Client, f imtypes.ClientFrame) {
		frames <- f
		if f.Action == imtypes.ActionJoin {
			h.Join(c, models.ConversationRoom(f.ConversationID), []byte(`{"type":"room.joined"}`))
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWsPerConnection(h, handler, 5, "Eve", w, r, config.WebSocketConfig{})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(imtypes.ClientFrame{Action: imtypes.ActionJoin, ConversationID: 11}))
	select {
	case f := <-frames:
		assert.Equal(t, imtypes.ActionJoin, f.Action)
		assert.Equal(t, uint(11), f.ConversationID)
	case <-time.After(time.Second):
		t.Fatal("frame not routed")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "room.joined")

	h.BroadcastToRoom(models.ConversationRoom(11), []byte("a"), nil)
	h.BroadcastToRoom(models.ConversationRoom(11), []byte("b"), nil)
	var got []string
	for len(got) < 2 {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		got = append(got, strings.Split(string(data), "\n")...)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}
