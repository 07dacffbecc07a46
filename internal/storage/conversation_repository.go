package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"campus-im/internal/models"
)

// gormConversationRepository 使用 GORM 实现 ConversationRepository。
type gormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository 创建一个新的基于 GORM 的 ConversationRepository。
func NewGormConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db}
}

// CreateConversation 创建会话和参与者。并发创建同一对用户的会话时，
// 唯一索引 unique_key 保证只有一个成功，失败方得到 ErrDuplicate。
func (r *gormConversationRepository) CreateConversation(ctx context.Context, conversation *models.Conversation, participantIDs []uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Participants").Create(conversation).Error; err != nil {
			return err
		}
		if len(participantIDs) == 0 {
			return nil
		}
		participants := make([]models.ConversationParticipant, 0, len(participantIDs))
		for _, uid := range participantIDs {
			participants = append(participants, models.ConversationParticipant{
				ConversationID: conversation.ID,
				UserID:         uid,
			})
		}
		if err := tx.Create(&participants).Error; err != nil {
			return err
		}
		conversation.Participants = participants
		return nil
	})
	return translate(err)
}

// GetConversationByID 通过ID检索会话。
func (r *gormConversationRepository) GetConversationByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := r.db.WithContext(ctx).First(&conversation, id).Error; err != nil {
		return nil, translate(err)
	}
	return &conversation, nil
}

// GetConversationByKey 通过唯一键检索会话。
func (r *gormConversationRepository) GetConversationByKey(ctx context.Context, key string) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := r.db.WithContext(ctx).Where("unique_key = ?", key).First(&conversation).Error; err != nil {
		return nil, translate(err)
	}
	return &conversation, nil
}

func (r *gormConversationRepository) GetConversationsByIDs(ctx context.Context, ids []uint) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	if len(ids) == 0 {
		return conversations, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&conversations).Error
	return conversations, translate(err)
}

func (r *gormConversationRepository) ListGroupConversations(ctx context.Context, communityIDs []uint) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	if len(communityIDs) == 0 {
		return conversations, nil
	}
	err := r.db.WithContext(ctx).
		Where("type = ? AND community_id IN ? AND last_message_id IS NOT NULL", models.GroupConversation, communityIDs).
		Find(&conversations).Error
	return conversations, translate(err)
}

// GetParticipant 获取会话中的特定参与者信息。
func (r *gormConversationRepository) GetParticipant(ctx context.Context, conversationID uint, userID uint) (*models.ConversationParticipant, error) {
	var participant models.ConversationParticipant
	err := r.db.WithContext(ctx).Where("conversation_id = ? AND user_id = ?", conversationID, userID).First(&participant).Error
	if err != nil {
		return nil, translate(err)
	}
	return &participant, nil
}

// GetConversationParticipants 获取会话的所有参与者。
func (r *gormConversationRepository) GetConversationParticipants(ctx context.Context, conversationID uint) ([]*models.ConversationParticipant, error) {
	var participants []*models.ConversationParticipant
	err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Find(&participants).Error
	return participants, translate(err)
}

// ListUserParticipations 返回用户在私聊中的参与记录，按归档状态过滤。
func (r *gormConversationRepository) ListUserParticipations(ctx context.Context, userID uint, archived bool) ([]*models.ConversationParticipant, error) {
	var participants []*models.ConversationParticipant
	err := r.db.WithContext(ctx).Where("user_id = ? AND archived = ?", userID, archived).Find(&participants).Error
	return participants, translate(err)
}

func (r *gormConversationRepository) SetArchived(ctx context.Context, conversationID uint, userID uint, archived bool) error {
	res := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("archived", archived)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetUnread 清零未读数并记录阅读时间。
func (r *gormConversationRepository) ResetUnread(ctx context.Context, conversationID uint, userID uint, readAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(map[string]interface{}{"unread_count": 0, "last_read_at": readAt})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormConversationRepository) ClearHistory(ctx context.Context, conversationID uint, userID uint, sentThrough uint, receivedThrough uint) error {
	res := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(map[string]interface{}{
			"cleared_sent_through":     gorm.Expr("GREATEST(cleared_sent_through, ?)", sentThrough),
			"cleared_received_through": gorm.Expr("GREATEST(cleared_received_through, ?)", receivedThrough),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
