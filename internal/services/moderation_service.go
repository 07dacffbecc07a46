package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/logger"
	"campus-im/internal/metrics"
	"campus-im/internal/models"
	"campus-im/internal/storage"
)

// DeleteScope 是删除整个私聊会话时选择的范围。
type DeleteScope string

const (
	ScopeAll      DeleteScope = "all"
	ScopeSent     DeleteScope = "sent"
	ScopeReceived DeleteScope = "received"
)

// ParseDeleteScope accepts "", "all", "sent" and "received"; "" means all.
func ParseDeleteScope(s string) (DeleteScope, error) {
	switch DeleteScope(s) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeSent, ScopeReceived:
		return DeleteScope(s), nil
	}
	return "", imerrors.BadRequest(fmt.Sprintf("unknown delete scope %q", s), nil)
}

// DeleteAction 是删除策略判断的操作。
type DeleteAction string

const (
	ActionDeleteMessage DeleteAction = "delete_message"
	ActionClearAll      DeleteAction = "clear_all"
	ActionClearSent     DeleteAction = "clear_sent"
	ActionClearReceived DeleteAction = "clear_received"
	ActionPurgeHistory  DeleteAction = "purge_history"
)

func clearAction(scope DeleteScope) DeleteAction {
	switch scope {
	case ScopeSent:
		return ActionClearSent
	case ScopeReceived:
		return ActionClearReceived
	default:
		return ActionClearAll
	}
}

// Actor is the caller as seen by the deletion policy.
type Actor struct {
	UserID      uint
	Role        models.CommunityRole // group conversations; "" when not a member
	Participant bool                 // direct conversations
}

// CanDelete 是唯一的删除权限判断：
// 作者总能删除自己在所属会话中的消息；社区 admin/moderator 可以删除群聊中的任意消息并清空历史；
// 私聊参与者可以按范围清除自己视图中的会话历史。
func CanDelete(actor Actor, action DeleteAction, conv *models.Conversation, msg *models.Message) bool {
	if conv == nil {
		return false
	}
	switch action {
	case ActionDeleteMessage:
		if msg == nil || msg.ConversationID != conv.ID {
			return false
		}
		switch conv.Type {
		case models.DirectConversation:
			return actor.Participant && conv.IsParticipant(actor.UserID) && msg.SenderID == actor.UserID
		case models.GroupConversation:
			if actor.Role == "" {
				return false
			}
			return msg.SenderID == actor.UserID || actor.Role.Elevated()
		}
	case ActionClearAll, ActionClearSent, ActionClearReceived:
		return conv.Type == models.DirectConversation && actor.Participant && conv.IsParticipant(actor.UserID)
	case ActionPurgeHistory:
		return conv.Type == models.GroupConversation && actor.Role.Elevated()
	}
	return false
}

// ModerationService 负责消息和会话历史的删除。
type ModerationService interface {
	// DeleteMessage 软删除一条消息（对所有参与者生效）。重复删除视为成功。
	DeleteMessage(ctx context.Context, messageID, userID uint) error
	// DeleteConversation 私聊: 按范围清除调用者自己的视图；群聊: 管理员清空全部历史。
	DeleteConversation(ctx context.Context, conversationID, userID uint, scope DeleteScope) error
}

type moderationService struct {
	accessPolicy
	publisher EventPublisher
	now       func() time.Time
}

// NewModerationService 创建一个新的 ModerationService 实例。
func NewModerationService(repos storage.Repositories, membership Membership, publisher EventPublisher) ModerationService {
	if publisher == nil {
		publisher = NewNopPublisher()
	}
	return &moderationService{
		accessPolicy: accessPolicy{repos: repos, membership: membership},
		publisher:    publisher,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// resolveForDelete maps membership failures to Forbidden.
func (s *moderationService) resolveForDelete(ctx context.Context, conversationID, userID uint) (*viewer, error) {
	v, err := s.resolve(ctx, conversationID, userID)
	if imerrors.Is(err, imerrors.CodeNotAMember) {
		return nil, imerrors.Forbidden("you are not a member of this conversation")
	}
	return v, err
}

func (s *moderationService) DeleteMessage(ctx context.Context, messageID, userID uint) error {
	msg, deleted, err := s.repos.Messages.GetByIDUnscoped(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return imerrors.NotFound("message", err)
	}
	if err != nil {
		return fmt.Errorf("获取消息 %d 失败: %w", messageID, err)
	}

	v, err := s.resolveForDelete(ctx, msg.ConversationID, userID)
	if err != nil {
		return err
	}
	if !CanDelete(v.actor(), ActionDeleteMessage, v.conversation, msg) {
		return imerrors.Forbidden("you can only delete your own messages")
	}
	if deleted {
		return nil
	}

	if err := s.repos.Messages.Delete(ctx, messageID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// 并发删除
			return nil
		}
		return fmt.Errorf("删除消息 %d 失败: %w", messageID, err)
	}

	reason := "own"
	if msg.SenderID != userID {
		reason = "moderator"
	}
	metrics.MessagesDeleted.WithLabelValues(reason).Inc()
	logger.Log.Info("message deleted",
		zap.Uint("message_id", messageID),
		zap.Uint("conversation_id", msg.ConversationID),
		zap.Uint("actor_id", userID),
		zap.String("reason", reason))

	s.publisher.Publish(ctx, v.conversation.Room(), imtypes.Event{
		Type:           imtypes.EventMessageDeleted,
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
		UserID:         userID,
		Timestamp:      s.now(),
	})
	return nil
}

func (s *moderationService) DeleteConversation(ctx context.Context, conversationID, userID uint, scope DeleteScope) error {
	if scope == "" {
		scope = ScopeAll
	}
	v, err := s.resolveForDelete(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	conv := v.conversation

	if conv.Type == models.GroupConversation {
		if scope != ScopeAll {
			return imerrors.BadRequest("group history can only be deleted with scope all", nil)
		}
		if !CanDelete(v.actor(), ActionPurgeHistory, conv, nil) {
			return imerrors.Forbidden("only community admins or moderators can delete the conversation history")
		}
		n, err := s.repos.Messages.DeleteByConversation(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("清空群聊 %d 历史失败: %w", conversationID, err)
		}
		metrics.MessagesDeleted.WithLabelValues("purge").Add(float64(n))
		logger.Log.Info("group history purged",
			zap.Uint("conversation_id", conversationID),
			zap.Uint("actor_id", userID),
			zap.Int64("messages", n))
		s.publisher.Publish(ctx, conv.Room(), imtypes.Event{
			Type:           imtypes.EventConversationCleared,
			ConversationID: conversationID,
			UserID:         userID,
			Timestamp:      s.now(),
		})
		return nil
	}

	if !CanDelete(v.actor(), clearAction(scope), conv, nil) {
		return imerrors.Forbidden("you cannot delete this conversation")
	}
	latest, err := s.repos.Messages.LatestID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("获取会话 %d 最新消息失败: %w", conversationID, err)
	}
	if latest == 0 {
		return nil
	}

	var sentThrough, receivedThrough uint
	switch scope {
	case ScopeSent:
		sentThrough = latest
	case ScopeReceived:
		receivedThrough = latest
	default:
		sentThrough, receivedThrough = latest, latest
	}
	if err := s.repos.Conversations.ClearHistory(ctx, conversationID, userID, sentThrough, receivedThrough); err != nil {
		return fmt.Errorf("清除会话 %d 历史失败: %w", conversationID, err)
	}

	// 只影响调用者自己的视图，只通知调用者的其他连接
	s.publisher.Publish(ctx, models.UserRoom(userID), imtypes.Event{
		Type:           imtypes.EventConversationCleared,
		ConversationID: conversationID,
		UserID:         userID,
		Timestamp:      s.now(),
	})
	return nil
}
