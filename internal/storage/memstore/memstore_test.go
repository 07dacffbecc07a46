package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-im/internal/models"
	"campus-im/internal/storage"
)

func newDirect(t *testing.T, repos storage.Repositories, a, b uint) *models.Conversation {
	t.Helper()
	low, high := models.OrderPair(a, b)
	conv := &models.Conversation{
		Type:       models.DirectConversation,
		UniqueKey:  models.DirectKey(a, b),
		UserLowID:  low,
		UserHighID: high,
	}
	require.NoError(t, repos.Conversations.CreateConversation(context.Background(), conv, []uint{low, high}))
	return conv
}

func TestCreateConversationDuplicateKey(t *testing.T) {
	repos := New().Repositories()
	first := newDirect(t, repos, 1, 2)

	dup := &models.Conversation{Type: models.DirectConversation, UniqueKey: models.DirectKey(2, 1)}
	err := repos.Conversations.CreateConversation(context.Background(), dup, []uint{1, 2})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	got, err := repos.Conversations.GetConversationByKey(context.Background(), models.DirectKey(2, 1))
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestAppendOrdersAndCountsUnread(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	conv := newDirect(t, repos, 1, 2)

	ts := time.Now()
	for i := 0; i < 3; i++ {
		// identical client timestamps must still produce a strict order
		msg := &models.Message{ConversationID: conv.ID, SenderID: 2, Content: "x", MessageType: models.TextMessage}
		msg.CreatedAt = ts
		require.NoError(t, repos.Messages.Append(ctx, msg))
	}

	msgs, err := repos.Messages.List(ctx, storage.MessageQuery{ConversationID: conv.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))
	assert.True(t, msgs[1].CreatedAt.Before(msgs[2].CreatedAt))

	p1, err := repos.Conversations.GetParticipant(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, p1.UnreadCount)
	p2, err := repos.Conversations.GetParticipant(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, p2.UnreadCount)

	got, err := repos.Conversations.GetConversationByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageID)
	assert.Equal(t, msgs[2].ID, *got.LastMessageID)
}

func TestListPaginatesBackwards(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	conv := newDirect(t, repos, 1, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, repos.Messages.Append(ctx, &models.Message{ConversationID: conv.ID, SenderID: 1, Content: "m"}))
	}

	newest, err := repos.Messages.List(ctx, storage.MessageQuery{ConversationID: conv.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, []uint{4, 5}, []uint{newest[0].ID, newest[1].ID})

	cur := newest[0].Cursor()
	older, err := repos.Messages.List(ctx, storage.MessageQuery{ConversationID: conv.ID, Limit: 10, Before: &cur})
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, uint(1), older[0].ID)
	assert.Equal(t, uint(3), older[2].ID)
}

func TestListAppliesWatermarksAndCutoffs(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	conv := newDirect(t, repos, 1, 2)
	for _, sender := range []uint{1, 2, 1, 2} {
		require.NoError(t, repos.Messages.Append(ctx, &models.Message{ConversationID: conv.ID, SenderID: sender}))
	}

	msgs, err := repos.Messages.List(ctx, storage.MessageQuery{
		ConversationID: conv.ID, Limit: 10, ViewerID: 1, HideSentThrough: 3,
	})
	require.NoError(t, err)
	for _, m := range msgs {
		assert.Equal(t, uint(2), m.SenderID)
	}
	assert.Len(t, msgs, 2)

	cutoff, err := repos.Messages.GetByID(ctx, 4)
	require.NoError(t, err)
	msgs, err = repos.Messages.List(ctx, storage.MessageQuery{
		ConversationID: conv.ID, Limit: 10, ViewerID: 1,
		HiddenSenders: []storage.SenderCutoff{{SenderID: 2, Since: cutoff.CreatedAt}},
	})
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestDeleteIsSoft(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	conv := newDirect(t, repos, 1, 2)
	msg := &models.Message{ConversationID: conv.ID, SenderID: 1}
	require.NoError(t, repos.Messages.Append(ctx, msg))

	require.NoError(t, repos.Messages.Delete(ctx, msg.ID))
	assert.ErrorIs(t, repos.Messages.Delete(ctx, msg.ID), storage.ErrNotFound)

	_, err := repos.Messages.GetByID(ctx, msg.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, deleted, err := repos.Messages.GetByIDUnscoped(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	liveIDs, err := repos.Messages.LiveIDs(ctx, []uint{msg.ID})
	require.NoError(t, err)
	assert.False(t, liveIDs[msg.ID])
}

func TestClearHistoryNeverLowersWatermark(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	conv := newDirect(t, repos, 1, 2)

	require.NoError(t, repos.Conversations.ClearHistory(ctx, conv.ID, 1, 10, 0))
	require.NoError(t, repos.Conversations.ClearHistory(ctx, conv.ID, 1, 4, 7))

	p, err := repos.Conversations.GetParticipant(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(10), p.ClearedSentThrough)
	assert.Equal(t, uint(7), p.ClearedReceivedThrough)
}

func TestBlockCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()

	first, err := repos.Blocks.Create(ctx, 1, 2)
	require.NoError(t, err)
	second, err := repos.Blocks.Create(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	between, err := repos.Blocks.Between(ctx, 2, 1)
	require.NoError(t, err)
	assert.Len(t, between, 1)
}
