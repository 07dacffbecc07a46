package kafkahandlers

import (
	"context"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-im/internal/imtypes"
)

type recordingDispatcher struct {
	events []imtypes.Event
}

func (r *recordingDispatcher) Dispatch(_ context.Context, ev imtypes.Event) {
	r.events = append(r.events, ev)
}

func TestHandleFanoutEvent(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewFanoutConsumerLogic(d)
	topic := "im-websocket-outgoing"

	err := h.HandleFanoutEvent(context.Background(), &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic},
		Key:            []byte("conversation:4"),
		Value:          []byte(`{"type":"message.deleted","conversationId":4,"messageId":9}`),
	})
	require.NoError(t, err)

	err = h.HandleFanoutEvent(context.Background(), &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic},
		Key:            []byte("x"),
		Value:          []byte(`{not json`),
	})
	require.NoError(t, err, "undecodable messages are skipped, not retried")

	require.Len(t, d.events, 1)
	assert.Equal(t, "conversation:4", d.events[0].Room)
	assert.Equal(t, imtypes.EventMessageDeleted, d.events[0].Type)
	assert.Equal(t, uint(9), d.events[0].MessageID)
}
