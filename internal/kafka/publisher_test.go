package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-im/internal/imtypes"
)

type sentMessage struct {
	topic   string
	key     string
	payload []byte
	ctxErr  error
}

type fakeProducer struct {
	sent []sentMessage
	err  error
}

func (f *fakeProducer) SendMessage(ctx context.Context, topic string, key []byte, payload []byte) error {
	f.sent = append(f.sent, sentMessage{topic: topic, key: string(key), payload: payload, ctxErr: ctx.Err()})
	return f.err
}

func (f *fakeProducer) Close() {}

func TestEventPublisherKeysByRoom(t *testing.T) {
	fp := &fakeProducer{}
	p := NewEventPublisher(fp, "im-websocket-outgoing", time.Second)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	// 请求上下文已取消时仍然投递
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Publish(ctx, "conversation:7", imtypes.Event{Type: imtypes.EventMessageDeleted, ConversationID: 7, MessageID: 3})

	require.Len(t, fp.sent, 1)
	sent := fp.sent[0]
	assert.Equal(t, "im-websocket-outgoing", sent.topic)
	assert.Equal(t, "conversation:7", sent.key)
	assert.NoError(t, sent.ctxErr)

	var ev imtypes.Event
	require.NoError(t, json.Unmarshal(sent.payload, &ev))
	assert.Equal(t, "conversation:7", ev.Room)
	assert.Equal(t, imtypes.EventMessageDeleted, ev.Type)
	assert.Equal(t, uint(3), ev.MessageID)
	assert.True(t, fixed.Equal(ev.Timestamp))
}

func TestEventPublisherSwallowsFailures(t *testing.T) {
	fp := &fakeProducer{err: errors.New("broker down")}
	p := NewEventPublisher(fp, "topic", 0)
	assert.NotPanics(t, func() {
		p.Publish(context.Background(), "user:1", imtypes.Event{Type: imtypes.EventConversationCleared})
	})
	assert.Len(t, fp.sent, 1)
}
