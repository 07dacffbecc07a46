package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"campus-im/internal/config"
	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/metrics"
	"campus-im/internal/models"
	"campus-im/internal/storage"
)

const maxEmojiRunes = 16

// ReactionService 负责表情回应和单层回复。
type ReactionService interface {
	// React 设置调用者对消息的表情（替换之前的），返回完整的表情列表。
	React(ctx context.Context, messageID, userID uint, emoji string) ([]models.Reaction, error)
	// Unreact 移除调用者的表情；不存在时为空操作。
	Unreact(ctx context.Context, messageID, userID uint) ([]models.Reaction, error)
	// Reply 发送一条引用 replyToID 的消息，引用快照在此刻捕获。
	Reply(ctx context.Context, conversationID, senderID uint, payload MessagePayload, replyToID uint) (*models.Message, error)
}

type reactionService struct {
	accessPolicy
	conversations ConversationService
	publisher     EventPublisher
	previewRunes  int
}

// NewReactionService 创建一个新的 ReactionService 实例。
func NewReactionService(repos storage.Repositories, membership Membership, conversations ConversationService, publisher EventPublisher, cfg config.MessagingConfig) ReactionService {
	if publisher == nil {
		publisher = NewNopPublisher()
	}
	preview := cfg.ReplyPreviewRunes
	if preview <= 0 {
		preview = 200
	}
	return &reactionService{
		accessPolicy:  accessPolicy{repos: repos, membership: membership},
		conversations: conversations,
		publisher:     publisher,
		previewRunes:  preview,
	}
}

func (s *reactionService) React(ctx context.Context, messageID, userID uint, emoji string) ([]models.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, imerrors.BadRequest("emoji is required", nil)
	}
	if utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return nil, imerrors.BadRequest("emoji is too long", nil)
	}

	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	v, err := s.resolve(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDirectNotBlocked(ctx, v); err != nil {
		return nil, err
	}

	updated, err := s.repos.Messages.Mutate(ctx, messageID, func(m *models.Message) error {
		m.SetReaction(userID, emoji)
		m.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, s.mutateErr(messageID, err)
	}
	s.afterChange(ctx, v, updated, userID)
	return updated.Reactions, nil
}

func (s *reactionService) Unreact(ctx context.Context, messageID, userID uint) ([]models.Reaction, error) {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	v, err := s.resolve(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if _, ok := msg.ReactionOf(userID); !ok {
		return nonNil(msg.Reactions), nil
	}

	removed := false
	updated, err := s.repos.Messages.Mutate(ctx, messageID, func(m *models.Message) error {
		removed = m.RemoveReaction(userID)
		if removed {
			m.UpdatedAt = time.Now().UTC()
		}
		return nil
	})
	if err != nil {
		return nil, s.mutateErr(messageID, err)
	}
	if removed {
		s.afterChange(ctx, v, updated, userID)
	}
	return nonNil(updated.Reactions), nil
}

func (s *reactionService) mutateErr(messageID uint, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return imerrors.NotFound("message", err)
	}
	return fmt.Errorf("更新消息 %d 的表情失败: %w", messageID, err)
}

func (s *reactionService) afterChange(ctx context.Context, v *viewer, msg *models.Message, userID uint) {
	metrics.ReactionsChanged.Inc()
	_ = s.markReplyTombstones(ctx, []*models.Message{msg})
	s.publisher.Publish(ctx, v.conversation.Room(), imtypes.Event{
		Type:           imtypes.EventMessageUpdated,
		ConversationID: msg.ConversationID,
		Message:        msg,
		UserID:         userID,
		Timestamp:      msg.UpdatedAt,
	})
}

func (s *reactionService) Reply(ctx context.Context, conversationID, senderID uint, payload MessagePayload, replyToID uint) (*models.Message, error) {
	v, err := s.resolve(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	target, err := s.loadMessage(ctx, replyToID)
	if err != nil {
		return nil, err
	}
	if target.ConversationID != conversationID {
		return nil, imerrors.BadRequest("the replied message belongs to another conversation", nil)
	}
	q, err := s.visibility(ctx, v)
	if err != nil {
		return nil, err
	}
	if !visible(q, target) {
		return nil, imerrors.NotFound("message", nil)
	}

	payload.replyTo = target.Snapshot(s.previewRunes)
	return s.conversations.AppendMessage(ctx, conversationID, senderID, payload)
}

func nonNil(rs []models.Reaction) []models.Reaction {
	if rs == nil {
		return []models.Reaction{}
	}
	return rs
}
