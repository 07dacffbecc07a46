package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-im/internal/config"
	"campus-im/internal/delivery"
	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/models"
)

func TestAPIClientFetchAndSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/conversations/5/messages":
			assert.Equal(t, "20", r.URL.Query().Get("limit"))
			m := models.Message{ConversationID: 5, Content: "hi"}
			m.ID = 1
			_ = json.NewEncoder(w).Encode([]models.Message{m})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/conversations/5/replies":
			var req delivery.SendRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			m := models.Message{ConversationID: 5, Content: req.Content, ClientMsgID: req.ClientMsgID}
			m.ID = 2
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(m)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/blocks":
			_ = json.NewEncoder(w).Encode([]models.Block{{BlockerID: 1, BlockedID: 9, CreatedAt: time.Unix(1700000000, 0).UTC()}})
		case r.URL.Path == "/api/v1/conversations/6/messages":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"this user has blocked you","code":"BLOCKED"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL+"/api/v1/", "tok", time.Second)
	ctx := context.Background()

	msgs, err := c.FetchRecent(ctx, 5, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)

	sent, err := c.Send(ctx, 5, delivery.SendRequest{Content: "re", ReplyToID: 1, ClientMsgID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, uint(2), sent.ID)
	assert.Equal(t, "abc", sent.ClientMsgID)

	_, err = c.Send(ctx, 6, delivery.SendRequest{Content: "x"})
	assert.True(t, imerrors.Is(err, imerrors.CodeBlocked))
	assert.Contains(t, err.Error(), "blocked you")

	blocks, err := c.ListBlocked(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint(9), blocks[0].BlockedID)
	var _ delivery.BlockLister = c

	_, err = c.FetchRecent(ctx, 7, 20)
	assert.True(t, imerrors.Is(err, imerrors.CodeTransportUnavailable))
}

func TestAPIClientUnreachable(t *testing.T) {
	c := NewAPIClient("http://127.0.0.1:1", "tok", 200*time.Millisecond)
	_, err := c.FetchRecent(context.Background(), 1, 10)
	assert.True(t, imerrors.Is(err, imerrors.CodeTransportUnavailable))
}

func TestPushClientJoinAndBatchedFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var frame imtypes.ClientFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Action != imtypes.ActionJoin {
				continue
			}
			if frame.ConversationID == 9 {
				ack, _ := json.Marshal(imtypes.Event{Type: imtypes.EventError, ConversationID: 9, Code: imerrors.CodeNotAMember, Error: "not a member"})
				_ = conn.WriteMessage(websocket.TextMessage, ack)
				continue
			}
			ack, _ := json.Marshal(imtypes.Event{Type: imtypes.EventRoomJoined, ConversationID: frame.ConversationID})
			one, _ := json.Marshal(imtypes.Event{Type: imtypes.EventTyping, ConversationID: frame.ConversationID, UserID: 2})
			two, _ := json.Marshal(imtypes.Event{Type: imtypes.EventTypingStop, ConversationID: frame.ConversationID, UserID: 2})
			_ = conn.WriteMessage(websocket.TextMessage, ack)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(strings.Join([]string{string(one), string(two)}, "\n")))
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := NewPushClient(wsURL, "tok", config.DeliveryConfig{ReconnectMin: 10 * time.Millisecond, ReconnectMax: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case up := <-c.Connectivity():
		require.True(t, up)
	case <-time.After(2 * time.Second):
		t.Fatal("push client did not connect")
	}

	joinCtx, joinCancel := context.WithTimeout(ctx, 2*time.Second)
	defer joinCancel()
	require.NoError(t, c.Join(joinCtx, 5))

	var got []imtypes.EventType
	for len(got) < 2 {
		select {
		case ev := <-c.Events():
			got = append(got, ev.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("batched events not delivered")
		}
	}
	assert.Equal(t, []imtypes.EventType{imtypes.EventTyping, imtypes.EventTypingStop}, got)

	err = c.Join(joinCtx, 9)
	assert.True(t, imerrors.Is(err, imerrors.CodeNotAMember))
}

func TestPushClientWriteWhileDisconnected(t *testing.T) {
	c, err := NewPushClient("ws://127.0.0.1:1/ws/chat", "tok", config.DeliveryConfig{})
	require.NoError(t, err)
	err = c.Join(context.Background(), 1)
	assert.True(t, imerrors.Is(err, imerrors.CodeTransportUnavailable))
}
