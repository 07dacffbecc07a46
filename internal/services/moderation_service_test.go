package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/models"
)

func TestCanDelete(t *testing.T) {
	direct := &models.Conversation{Type: models.DirectConversation, UserLowID: alice, UserHighID: bob}
	direct.ID = 1
	group := &models.Conversation{Type: models.GroupConversation, CommunityID: campusID}
	group.ID = 2

	msgIn := func(conv *models.Conversation, sender uint) *models.Message {
		return &models.Message{ConversationID: conv.ID, SenderID: sender}
	}

	tests := []struct {
		name   string
		actor  Actor
		action DeleteAction
		conv   *models.Conversation
		msg    *models.Message
		want   bool
	}{
		{"direct author", Actor{UserID: alice, Participant: true}, ActionDeleteMessage, direct, msgIn(direct, alice), true},
		{"direct counterpart", Actor{UserID: bob, Participant: true}, ActionDeleteMessage, direct, msgIn(direct, alice), false},
		{"direct outsider", Actor{UserID: carol}, ActionDeleteMessage, direct, msgIn(direct, carol), false},
		{"message of other conversation", Actor{UserID: alice, Participant: true}, ActionDeleteMessage, direct, msgIn(group, alice), false},
		{"group author", Actor{UserID: bob, Role: models.MemberRole}, ActionDeleteMessage, group, msgIn(group, bob), true},
		{"group member on other", Actor{UserID: bob, Role: models.MemberRole}, ActionDeleteMessage, group, msgIn(group, alice), false},
		{"group moderator on other", Actor{UserID: carol, Role: models.ModeratorRole}, ActionDeleteMessage, group, msgIn(group, alice), true},
		{"group former member", Actor{UserID: bob}, ActionDeleteMessage, group, msgIn(group, bob), false},
		{"direct clear sent", Actor{UserID: bob, Participant: true}, ActionClearSent, direct, nil, true},
		{"direct clear by outsider", Actor{UserID: carol, Participant: true}, ActionClearAll, direct, nil, false},
		{"group clear", Actor{UserID: carol, Role: models.AdminRole}, ActionClearAll, group, nil, false},
		{"group purge admin", Actor{UserID: carol, Role: models.AdminRole}, ActionPurgeHistory, group, nil, true},
		{"group purge member", Actor{UserID: bob, Role: models.MemberRole}, ActionPurgeHistory, group, nil, false},
		{"direct purge", Actor{UserID: alice, Participant: true}, ActionPurgeHistory, direct, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanDelete(tt.actor, tt.action, tt.conv, tt.msg))
		})
	}
}

func TestParseDeleteScope(t *testing.T) {
	for in, want := range map[string]DeleteScope{"": ScopeAll, "all": ScopeAll, "sent": ScopeSent, "received": ScopeReceived} {
		got, err := ParseDeleteScope(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDeleteScope("everything")
	assertCode(t, err, imerrors.CodeBadRequest)
}

func TestDeleteOwnMessageIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.conversations.GetOrCreateDirectConversation(ctx, alice, bob)
	require.NoError(t, err)
	keep := f.send(t, conv.ID, bob, "keep")
	gone := f.send(t, conv.ID, alice, "oops")

	assertCode(t, f.moderation.DeleteMessage(ctx, gone.ID, bob), imerrors.CodeForbidden)
	assert.Len(t, f.list(t, conv.ID, bob), 2)

	require.NoError(t, f.moderation.DeleteMessage(ctx, gone.ID, alice))
	require.NoError(t, f.moderation.DeleteMessage(ctx, gone.ID, alice))

	assert.Equal(t, []string{"keep"}, contents(f.list(t, conv.ID, alice)))
	assert.Equal(t, []string{"keep"}, contents(f.list(t, conv.ID, bob)))

	deleted := f.publisher.ofType(imtypes.EventMessageDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, gone.ID, deleted[0].event.MessageID)

	assertCode(t, f.moderation.DeleteMessage(ctx, 999, alice), imerrors.CodeNotFound)
	assertCode(t, f.moderation.DeleteMessage(ctx, keep.ID, carol), imerrors.CodeForbidden)
}

func TestGroupModerationRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.conversations.GetOrCreateGroupConversation(ctx, campusID, alice)
	require.NoError(t, err)
	first := f.send(t, conv.ID, alice, "first")
	second := f.send(t, conv.ID, alice, "second")
	f.send(t, conv.ID, bob, "third")

	assertCode(t, f.moderation.DeleteMessage(ctx, first.ID, bob), imerrors.CodeForbidden)
	assertCode(t, f.moderation.DeleteMessage(ctx, first.ID, dave), imerrors.CodeForbidden)

	// carol 是社区管理员
	require.NoError(t, f.moderation.DeleteMessage(ctx, first.ID, carol))
	require.NoError(t, f.moderation.DeleteMessage(ctx, second.ID, alice))
	assert.Equal(t, []string{"third"}, contents(f.list(t, conv.ID, bob)))

	assertCode(t, f.moderation.DeleteConversation(ctx, conv.ID, bob, ScopeAll), imerrors.CodeForbidden)
	assertCode(t, f.moderation.DeleteConversation(ctx, conv.ID, carol, ScopeSent), imerrors.CodeBadRequest)
	assertCode(t, f.moderation.DeleteConversation(ctx, conv.ID, dave, ScopeAll), imerrors.CodeForbidden)

	require.NoError(t, f.moderation.DeleteConversation(ctx, conv.ID, carol, ScopeAll))
	assert.Empty(t, f.list(t, conv.ID, alice))
	cleared := f.publisher.ofType(imtypes.EventConversationCleared)
	require.Len(t, cleared, 1)
	assert.Equal(t, models.ConversationRoom(conv.ID), cleared[0].room)
}

func TestDeleteDirectConversationScopes(t *testing.T) {
	tests := []struct {
		scope     DeleteScope
		aliceView []string
	}{
		{ScopeSent, []string{"b1", "b2"}},
		{ScopeReceived, []string{"a1", "a2"}},
		{ScopeAll, []string{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			conv, err := f.conversations.GetOrCreateDirectConversation(ctx, alice, bob)
			require.NoError(t, err)
			f.send(t, conv.ID, alice, "a1")
			f.send(t, conv.ID, bob, "b1")
			f.send(t, conv.ID, alice, "a2")
			f.send(t, conv.ID, bob, "b2")

			require.NoError(t, f.moderation.DeleteConversation(ctx, conv.ID, alice, tt.scope))

			assert.Equal(t, tt.aliceView, contents(f.list(t, conv.ID, alice)))
			// 对方视图不受影响
			assert.Equal(t, []string{"a1", "b1", "a2", "b2"}, contents(f.list(t, conv.ID, bob)))

			// 之后的新消息照常可见
			f.send(t, conv.ID, alice, "a3")
			f.send(t, conv.ID, bob, "b3")
			got := contents(f.list(t, conv.ID, alice))
			assert.Equal(t, append(append([]string{}, tt.aliceView...), "a3", "b3"), got)

			cleared := f.publisher.ofType(imtypes.EventConversationCleared)
			require.Len(t, cleared, 1)
			assert.Equal(t, models.UserRoom(alice), cleared[0].room)
		})
	}
}

func TestDeleteDirectConversationByOutsider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.conversations.GetOrCreateDirectConversation(ctx, alice, bob)
	require.NoError(t, err)
	f.send(t, conv.ID, alice, "a1")

	assertCode(t, f.moderation.DeleteConversation(ctx, conv.ID, carol, ScopeAll), imerrors.CodeForbidden)
	assertCode(t, f.moderation.DeleteConversation(ctx, 999, alice, ScopeAll), imerrors.CodeNotFound)
	assert.Len(t, f.list(t, conv.ID, alice), 1)
}
