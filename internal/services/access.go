package services

import (
	"context"
	"errors"
	"fmt"

	"campus-im/internal/imerrors"
	"campus-im/internal/models"
	"campus-im/internal/storage"
)

// viewer is a user's resolved relation to one conversation.
type viewer struct {
	userID       uint
	conversation *models.Conversation
	participant  *models.ConversationParticipant // direct only
	role         models.CommunityRole            // group only
}

// actor projects the viewer onto the deletion policy input.
func (v *viewer) actor() Actor {
	return Actor{UserID: v.userID, Role: v.role, Participant: v.participant != nil}
}

// accessPolicy answers membership and blocking questions shared by all services.
type accessPolicy struct {
	repos      storage.Repositories
	membership Membership
}

// resolve loads the conversation and checks that userID belongs to it.
func (a *accessPolicy) resolve(ctx context.Context, conversationID uint, userID uint) (*viewer, error) {
	conv, err := a.repos.Conversations.GetConversationByID(ctx, conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, imerrors.NotFound("conversation", err)
	}
	if err != nil {
		return nil, fmt.Errorf("获取会话 %d 失败: %w", conversationID, err)
	}

	v := &viewer{userID: userID, conversation: conv}
	switch conv.Type {
	case models.DirectConversation:
		if !conv.IsParticipant(userID) {
			return nil, imerrors.NotAMember("you are not a participant of this conversation")
		}
		p, err := a.repos.Conversations.GetParticipant(ctx, conv.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("获取会话 %d 参与者 %d 失败: %w", conv.ID, userID, err)
		}
		v.participant = p
	case models.GroupConversation:
		role, err := a.membership.RoleOf(ctx, conv.CommunityID, userID)
		if err != nil {
			return nil, err
		}
		if role == "" {
			return nil, imerrors.NotAMember("you are not a member of this community")
		}
		v.role = role
	default:
		return nil, imerrors.Internal("unknown conversation type", fmt.Errorf("type %q", conv.Type))
	}
	return v, nil
}

// checkNotBlocked fails with Blocked when either user blocked the other.
func (a *accessPolicy) checkNotBlocked(ctx context.Context, userID uint, otherID uint) error {
	blocks, err := a.repos.Blocks.Between(ctx, userID, otherID)
	if err != nil {
		return fmt.Errorf("查询屏蔽关系失败: %w", err)
	}
	for _, b := range blocks {
		if b.BlockerID == userID {
			return imerrors.Blocked("you have blocked this user")
		}
	}
	if len(blocks) > 0 {
		return imerrors.Blocked("this user has blocked you")
	}
	return nil
}

// checkDirectNotBlocked applies checkNotBlocked to the counterpart of a direct conversation.
func (a *accessPolicy) checkDirectNotBlocked(ctx context.Context, v *viewer) error {
	if v.conversation.Type != models.DirectConversation {
		return nil
	}
	return a.checkNotBlocked(ctx, v.userID, v.conversation.OtherParticipant(v.userID))
}

// visibility builds the per-viewer filters of a message listing.
func (a *accessPolicy) visibility(ctx context.Context, v *viewer) (storage.MessageQuery, error) {
	q := storage.MessageQuery{ConversationID: v.conversation.ID, ViewerID: v.userID}
	if v.participant != nil {
		q.HideSentThrough = v.participant.ClearedSentThrough
		q.HideReceivedThrough = v.participant.ClearedReceivedThrough
	}
	blocks, err := a.repos.Blocks.ListByBlocker(ctx, v.userID)
	if err != nil {
		return q, fmt.Errorf("查询屏蔽列表失败: %w", err)
	}
	for _, b := range blocks {
		q.HiddenSenders = append(q.HiddenSenders, storage.SenderCutoff{SenderID: b.BlockedID, Since: b.CreatedAt})
	}
	return q, nil
}

// visible reports whether msg passes the filters of q.
func visible(q storage.MessageQuery, msg *models.Message) bool {
	if msg.ConversationID != q.ConversationID {
		return false
	}
	if q.HideSentThrough > 0 && msg.SenderID == q.ViewerID && msg.ID <= q.HideSentThrough {
		return false
	}
	if q.HideReceivedThrough > 0 && msg.SenderID != q.ViewerID && msg.ID <= q.HideReceivedThrough {
		return false
	}
	for _, c := range q.HiddenSenders {
		if msg.SenderID == c.SenderID && !msg.CreatedAt.Before(c.Since) {
			return false
		}
	}
	return true
}

// markReplyTombstones sets OriginalDeleted on reply snapshots whose original is gone.
func (a *accessPolicy) markReplyTombstones(ctx context.Context, msgs []*models.Message) error {
	var ids []uint
	for _, m := range msgs {
		if m.ReplyTo != nil {
			ids = append(ids, m.ReplyTo.MessageID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	live, err := a.repos.Messages.LiveIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("检查回复原消息失败: %w", err)
	}
	for _, m := range msgs {
		if m.ReplyTo != nil {
			m.ReplyTo.OriginalDeleted = !live[m.ReplyTo.MessageID]
		}
	}
	return nil
}

// loadMessage fetches a live message or fails with NotFound.
func (a *accessPolicy) loadMessage(ctx context.Context, messageID uint) (*models.Message, error) {
	msg, err := a.repos.Messages.GetByID(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, imerrors.NotFound("message", err)
	}
	if err != nil {
		return nil, fmt.Errorf("获取消息 %d 失败: %w", messageID, err)
	}
	return msg, nil
}
