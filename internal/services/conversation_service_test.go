package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/models"
)

func TestGetOrCreateDirectConversationIsUniqueUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]uint, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice, bob
			if i%2 == 1 {
				a, b = bob, alice
			}
			conv, err := f.conversations.GetOrCreateDirectConversation(ctx, a, b)
			errs[i] = err
			if err == nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestGetOrCreateDirectConversationValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.conversations.GetOrCreateDirectConversation(ctx, alice, alice)
	assertCode(t, err, imerrors.CodeBadRequest)

	_, err = f.conversations.GetOrCreateDirectConversation(ctx, alice, 999)
	assertCode(t, err, imerrors.CodeNotFound)
}

func TestUnreadCountGrowsPerMessageAndMarkReadResets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.conversations.GetOrCreateDirectConversation(ctx, alice, bob)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		f.send(t, conv.ID, bob, "ping")
	}
	assert.Equal(t, 4, f.unread(t, alice, conv.ID))
	assert.Equal(t, 0, f.unread(t, bob, conv.ID))

	require.NoError(t, f.conversations.MarkRead(ctx, conv.ID, alice))
	assert.Equal(t, 0, f.unread(t, alice, conv.ID))

	for _, m := range f.list(t, conv.ID, alice) {
		assert.True(t, m.IsRead)
		assert.NotNil(t, m.ReadAt)
	}
	reads := f.publisher.ofType(imtypes.EventConversationRead)
	require.Len(t, reads, 1)
	assert.Equal(t, alice, reads[0].event.UserID)
}

func TestMarkReadLeavesOwnMessagesUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.conversations.GetOrCreateDirectConversation(ctx, alice, bob)
	require.NoError(t, err)
	f.send(t, conv.ID, alice, "mine")

	require.NoError(t, f.conversations.MarkRead(ctx, conv.ID, alice))
	msgs := f.list(t, conv.ID, alice)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].IsRead)
}

func TestAppendPublishesToConversationAndRecipientRooms(t *testing.T) {
	f := newFixture(t)
	msg, err := f.conversations.SendDirectMessage(context.Background(), alice, bob, text("  hello  "))
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, models.TextMessage, msg.MessageType)
	assert.Equal(t, "Alice", msg.SenderName)

	created := f.publisher.ofType(imtypes.EventMessageCreated)
	require.Len(t, created, 2)
	assert.Equal(t, models.ConversationRoom(msg.ConversationID), created[0].room)
	assert.Equal(t, models.UserRoom(bob), created[1].room)
}

func TestAppendMessageValidatesPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.conversations.GetOrCreateDirectConversation(ctx, alice, bob)
	require.NoError(t, err)

	_, err = f.conversations.AppendMessage(ctx, conv.ID, alice, text("   "))
	assertCode(t, err, imerrors.CodeBadRequest)

	_, err = f.conversations.AppendMessage(ctx, conv.ID, alice, text(strings.Repeat("字", 101)))
	assertCode(t, err, imerrors.CodeBadRequest)

	_, err = f.conversations.AppendMessage(ctx, conv.ID, alice, MessagePayload{MessageType: models.ImageMessage, Content: "x"})
	assertCode(t, err, imerrors.CodeBadRequest)

	msg, err := f.conversations.AppendMessage(ctx, conv.ID, alice, MessagePayload{
		Attachment: &models.Attachment{URL: "/uploads/a.pdf", Name: "a.pdf", Size: 10, Category: models.CategoryPDF},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PDFMessage, msg.MessageType)
}

func TestBlockPreventsSendingBothWaysAndKeepsEarlierHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.conversations.GetOrCreateDirectConversation(ctx, alice, bob)
	require.NoError(t, err)
	f.send(t, conv.ID, alice, "from alice")
	f.send(t, conv.ID, bob, "from bob")

	_, err = f.conversations.Block(ctx, alice, bob)
	require.NoError(t, err)

	_, err = f.conversations.AppendMessage(ctx, conv.ID, bob, text("hey"))
	assertCode(t, err, imerrors.CodeBlocked)
	assert.Contains(t, err.Error(), "this user has blocked you")

	_, err = f.conversations.AppendMessage(ctx, conv.ID, alice, text("hey"))
	assertCode(t, err, imerrors.CodeBlocked)
	assert.Contains(t, err.Error(), "you have blocked this user")

	assert.Equal(t, []string{"from alice", "from bob"}, contents(f.list(t, conv.ID, bob)))
	assert.Equal(t, []string{"from alice", "from bob"}, contents(f.list(t, conv.ID, alice)))

	blocked, err := f.conversations.ListBlocked(ctx, alice)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, bob, blocked[0].BlockedID)

	require.NoError(t, f.conversations.Unblock(ctx, alice, bob))
	f.send(t, conv.ID, bob, "again")
	assert.Equal(t, []string{"from alice", "from bob", "again"}, contents(f.list(t, conv.ID, alice)))
}

func TestBlockRejectsSelfAndUnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.conversations.Block(ctx, alice, alice)
	assertCode(t, err, imerrors.CodeBadRequest)
	_, err = f.conversations.Block(ctx, alice, 999)
	assertCode(t, err, imerrors.CodeNotFound)
}

func TestGroupConversationRequiresMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.conversations.GetOrCreateGroupConversation(ctx, campusID, dave)
	assertCode(t, err, imerrors.CodeNotAMember)

	conv, err := f.conversations.GetOrCreateGroupConversation(ctx, campusID, alice)
	require.NoError(t, err)
	again, err := f.conversations.GetOrCreateGroupConversation(ctx, campusID, bob)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	_, err = f.conversations.AppendMessage(ctx, conv.ID, dave, text("let me in"))
	assertCode(t, err, imerrors.CodeNotAMember)
	_, err = f.conversations.ListMessages(ctx, conv.ID, dave, 0, nil)
	assertCode(t, err, imerrors.CodeNotAMember)

	f.send(t, conv.ID, alice, "hi all")
	assert.Equal(t, []string{"hi all"}, contents(f.list(t, conv.ID, carol)))

	// 离开社区后失去访问权限
	f.store.RemoveMember(campusID, alice)
	assertCode(t, f.conversations.CanAccess(ctx, conv.ID, alice), imerrors.CodeNotAMember)
}

func TestListMessagesPaginatesBackwardByCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.conversations.GetOrCreateDirectConversation(ctx, alice, bob)
	require.NoError(t, err)

	var sent []*models.Message
	for _, c := range []string{"1", "2", "3", "4", "5"} {
		sent = append(sent, f.send(t, conv.ID, alice, c))
	}

	page, err := f.conversations.ListMessages(ctx, conv.ID, bob, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5"}, contents(page))

	cursor := page[0].Cursor()
	page, err = f.conversations.ListMessages(ctx, conv.ID, bob, 2, &cursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, contents(page))

	cursor = page[0].Cursor()
	page, err = f.conversations.ListMessages(ctx, conv.ID, bob, 2, &cursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, contents(page))
	assert.Equal(t, sent[0].ID, page[0].ID)
}

func TestListConversationsOrderingAndArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	withBob, err := f.conversations.GetOrCreateDirectConversation(ctx, alice, bob)
	require.NoError(t, err)
	withDave, err := f.conversations.GetOrCreateDirectConversation(ctx, alice, dave)
	require.NoError(t, err)
	group, err := f.conversations.GetOrCreateGroupConversation(ctx, campusID, alice)
	require.NoError(t, err)

	f.send(t, withBob.ID, bob, "1")
	f.send(t, group.ID, carol, "2")
	f.send(t, withDave.ID, dave, "3")

	summaries, err := f.conversations.ListConversationsForUser(ctx, alice, false)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, withDave.ID, summaries[0].ID)
	assert.Equal(t, group.ID, summaries[1].ID)
	assert.Equal(t, withBob.ID, summaries[2].ID)

	assert.Equal(t, dave, summaries[0].OtherUser.ID)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "3", summaries[0].LastMessage.Content)
	assert.Equal(t, 1, summaries[0].UnreadCount)
	require.NotNil(t, summaries[1].Community)
	assert.Equal(t, "Campus", summaries[1].Community.Name)

	require.NoError(t, f.conversations.SetArchived(ctx, withBob.ID, alice, true))
	summaries, err = f.conversations.ListConversationsForUser(ctx, alice, false)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)

	archived, err := f.conversations.ListConversationsForUser(ctx, alice, true)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, withBob.ID, archived[0].ID)
	assert.True(t, archived[0].Archived)

	// 归档只影响自己
	bobs, err := f.conversations.ListConversationsForUser(ctx, bob, false)
	require.NoError(t, err)
	assert.Len(t, bobs, 2)

	assertCode(t, f.conversations.SetArchived(ctx, group.ID, alice, true), imerrors.CodeBadRequest)
}

func TestEditMessageOnlyByAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.conversations.GetOrCreateDirectConversation(ctx, alice, bob)
	require.NoError(t, err)
	msg := f.send(t, conv.ID, alice, "draft")

	_, err = f.conversations.EditMessage(ctx, msg.ID, bob, "hacked")
	assertCode(t, err, imerrors.CodeForbidden)

	edited, err := f.conversations.EditMessage(ctx, msg.ID, alice, "final")
	require.NoError(t, err)
	assert.Equal(t, "final", edited.Content)
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)
	assert.Len(t, f.publisher.ofType(imtypes.EventMessageUpdated), 1)
}

func TestEndToEndDirectConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hello, err := f.conversations.SendDirectMessage(ctx, alice, bob, text("hello"))
	require.NoError(t, err)
	convID := hello.ConversationID
	assert.Equal(t, 1, f.unread(t, bob, convID))

	require.NoError(t, f.conversations.MarkRead(ctx, convID, bob))
	assert.Equal(t, 0, f.unread(t, bob, convID))

	hi, err := f.reactions.Reply(ctx, convID, bob, text("hi"), hello.ID)
	require.NoError(t, err)

	msgs := f.list(t, convID, alice)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[1].ReplyTo)
	assert.Contains(t, msgs[1].ReplyTo.Content, "hello")
	assert.False(t, msgs[1].ReplyTo.OriginalDeleted)

	_, err = f.reactions.React(ctx, hi.ID, alice, "❤️")
	require.NoError(t, err)

	msgs = f.list(t, convID, bob)
	require.Len(t, msgs[1].Reactions, 1)
	assert.Equal(t, alice, msgs[1].Reactions[0].UserID)
	assert.Equal(t, "❤️", msgs[1].Reactions[0].Emoji)
}
