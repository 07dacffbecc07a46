package chatserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-im/internal/config"
	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/models"
	"campus-im/internal/presence"
	ws "campus-im/internal/websocket"
)

// members 允许的 (conversation, user) 组合
type fakeAccess map[uint][]uint

func (f fakeAccess) CanAccess(_ context.Context, conversationID, userID uint) error {
	for _, id := range f[conversationID] {
		if id == userID {
			return nil
		}
	}
	return imerrors.NotAMember("you are not a member of this conversation")
}

type fixture struct {
	hub     *ws.Hub
	handler *WebSocketHandler
	fanout  *Fanout
	tracker *presence.MemoryTracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := ws.NewHub()
	tracker := presence.NewMemoryTracker(time.Minute, time.Now)
	fanout := NewFanout(hub, tracker)
	h := NewWebSocketHandler(hub, fakeAccess{7: {1, 2}}, nil, tracker, fanout, config.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return &fixture{hub: hub, handler: h, fanout: fanout, tracker: tracker}
}

func (f *fixture) connect(userID uint, name string) *ws.Client {
	c := ws.NewClient(f.hub, nil, userID, name, 16, f.handler.handleFrame)
	f.hub.Register(c)
	return c
}

func (f *fixture) frame(c *ws.Client, action imtypes.ClientAction, conversationID uint) {
	f.handler.handleFrame(context.Background(), c, imtypes.ClientFrame{Action: action, ConversationID: conversationID})
}

func next(t *testing.T, c *ws.Client) imtypes.Event {
	t.Helper()
	select {
	case p, ok := <-c.Outbound():
		require.True(t, ok)
		var ev imtypes.Event
		require.NoError(t, json.Unmarshal(p, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	return imtypes.Event{}
}

func none(t *testing.T, c *ws.Client) {
	t.Helper()
	select {
	case p := <-c.Outbound():
		t.Fatalf("unexpected event %s", p)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestJoinRequiresMembership(t *testing.T) {
	f := newFixture(t)
	carol := f.connect(3, "Carol")

	f.frame(carol, imtypes.ActionJoin, 7)
	ev := next(t, carol)
	assert.Equal(t, imtypes.EventError, ev.Type)
	assert.Equal(t, imerrors.CodeNotAMember, ev.Code)
	assert.Equal(t, uint(7), ev.ConversationID)
	assert.False(t, f.hub.InRoom(carol, models.ConversationRoom(7)))

	f.frame(carol, imtypes.ActionJoin, 0)
	assert.Equal(t, imerrors.CodeBadRequest, next(t, carol).Code)

	alice := f.connect(1, "Alice")
	f.frame(alice, imtypes.ActionJoin, 7)
	ev = next(t, alice)
	assert.Equal(t, imtypes.EventRoomJoined, ev.Type)
	assert.Equal(t, models.ConversationRoom(7), ev.Room)
	assert.True(t, f.hub.InRoom(alice, models.ConversationRoom(7)))
}

func TestTypingLifecycle(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(1, "Alice")
	bob := f.connect(2, "Bob")
	f.frame(alice, imtypes.ActionJoin, 7)
	f.frame(bob, imtypes.ActionJoin, 7)
	next(t, alice)
	next(t, bob)

	f.frame(alice, imtypes.ActionTyping, 7)
	ev := next(t, bob)
	assert.Equal(t, imtypes.EventTyping, ev.Type)
	assert.Equal(t, uint(1), ev.UserID)
	assert.Equal(t, "Alice", ev.UserName)
	none(t, alice)

	// 续约不重复广播
	f.frame(alice, imtypes.ActionTyping, 7)
	none(t, bob)

	// 发送消息结束输入状态
	msg := &models.Message{ConversationID: 7, SenderID: 1, Content: "hi"}
	f.fanout.Publish(context.Background(), models.ConversationRoom(7), imtypes.Event{Type: imtypes.EventMessageCreated, ConversationID: 7, Message: msg})
	assert.Equal(t, imtypes.EventTypingStop, next(t, bob).Type)
	assert.Equal(t, imtypes.EventMessageCreated, next(t, bob).Type)
	assert.Equal(t, imtypes.EventTypingStop, next(t, alice).Type)
	assert.Equal(t, imtypes.EventMessageCreated, next(t, alice).Type)

	sessions, err := f.tracker.Typing(context.Background(), models.ConversationRoom(7))
	require.NoError(t, err)
	assert.Empty(t, sessions)

	f.frame(bob, imtypes.ActionStopTyping, 7)
	none(t, alice)
}

func TestTypingRequiresJoin(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(1, "Alice")
	f.frame(alice, imtypes.ActionTyping, 7)
	ev := next(t, alice)
	assert.Equal(t, imtypes.EventError, ev.Type)
	assert.Equal(t, imerrors.CodeNotAMember, ev.Code)
}

func TestLeaveAndDisconnectStopTyping(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(1, "Alice")
	bob := f.connect(2, "Bob")
	f.frame(alice, imtypes.ActionJoin, 7)
	f.frame(bob, imtypes.ActionJoin, 7)
	next(t, alice)
	next(t, bob)

	f.frame(alice, imtypes.ActionTyping, 7)
	next(t, bob)
	f.frame(alice, imtypes.ActionLeave, 7)
	assert.Equal(t, imtypes.EventTypingStop, next(t, bob).Type)
	assert.Equal(t, imtypes.EventRoomLeft, next(t, alice).Type)

	f.frame(bob, imtypes.ActionTyping, 7)
	f.hub.Unregister(bob)
	require.Eventually(t, func() bool {
		s, _ := f.tracker.Typing(context.Background(), models.ConversationRoom(7))
		return len(s) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTypingExpiredBroadcast(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(2, "Bob")
	f.frame(bob, imtypes.ActionJoin, 7)
	next(t, bob)

	f.fanout.TypingExpired(presence.Session{RoomID: models.ConversationRoom(7), UserID: 1, UserName: "Alice"})
	ev := next(t, bob)
	assert.Equal(t, imtypes.EventTypingStop, ev.Type)
	assert.Equal(t, uint(7), ev.ConversationID)
	assert.Equal(t, uint(1), ev.UserID)
}

func TestServeWSRejectsMissingOrBadToken(t *testing.T) {
	f := newFixture(t)
	f.handler.cfg.Auth = config.AuthConfig{JWTSecretKey: "k"}

	for _, target := range []string{"/ws/chat", "/ws/chat?token=garbage"} {
		rec := httptest.NewRecorder()
		f.handler.ServeWS(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}
}
