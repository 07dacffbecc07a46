package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campus-im/internal/models"
)

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// Append 追加一条消息。会话行在事务内以 FOR UPDATE 锁定，
// 同一会话的并发追加因此被串行化。
func (r *gormMessageRepository) Append(ctx context.Context, message *models.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conversation models.Conversation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&conversation, message.ConversationID).Error; err != nil {
			return err
		}

		// postgres 时间精度为微秒
		createdAt := message.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		createdAt = createdAt.UTC().Truncate(time.Microsecond)
		if conversation.LastMessageAt != nil && !createdAt.After(*conversation.LastMessageAt) {
			createdAt = conversation.LastMessageAt.UTC().Add(time.Microsecond)
		}
		message.CreatedAt = createdAt
		message.UpdatedAt = createdAt

		if err := tx.Create(message).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Conversation{}).Where("id = ?", conversation.ID).
			Updates(map[string]interface{}{
				"last_message_at": createdAt,
				"last_message_id": message.ID,
			}).Error; err != nil {
			return err
		}

		return tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id <> ?", conversation.ID, message.SenderID).
			UpdateColumn("unread_count", gorm.Expr("unread_count + 1")).Error
	})
	return translate(err)
}

// GetByID 通过ID检索消息。
func (r *gormMessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		return nil, translate(err)
	}
	return &message, nil
}

func (r *gormMessageRepository) GetByIDUnscoped(ctx context.Context, id uint) (*models.Message, bool, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).Unscoped().First(&message, id).Error; err != nil {
		return nil, false, translate(err)
	}
	return &message, message.DeletedAt.Valid, nil
}

// List 按 (created_at, id) 倒序取一页，再翻转为正序返回。
func (r *gormMessageRepository) List(ctx context.Context, q MessageQuery) ([]*models.Message, error) {
	query := r.db.WithContext(ctx).Where("conversation_id = ?", q.ConversationID)

	if q.Before != nil {
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			q.Before.CreatedAt, q.Before.CreatedAt, q.Before.ID)
	}
	if q.HideSentThrough > 0 {
		query = query.Where("NOT (sender_id = ? AND id <= ?)", q.ViewerID, q.HideSentThrough)
	}
	if q.HideReceivedThrough > 0 {
		query = query.Where("NOT (sender_id <> ? AND id <= ?)", q.ViewerID, q.HideReceivedThrough)
	}
	for _, c := range q.HiddenSenders {
		query = query.Where("NOT (sender_id = ? AND created_at >= ?)", c.SenderID, c.Since)
	}

	var messages []*models.Message
	if err := query.Order("created_at DESC, id DESC").Limit(q.Limit).Find(&messages).Error; err != nil {
		return nil, translate(err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *gormMessageRepository) LiveIDs(ctx context.Context, ids []uint) (map[uint]bool, error) {
	live := make(map[uint]bool, len(ids))
	if len(ids) == 0 {
		return live, nil
	}
	var found []uint
	if err := r.db.WithContext(ctx).Model(&models.Message{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, translate(err)
	}
	for _, id := range found {
		live[id] = true
	}
	return live, nil
}

func (r *gormMessageRepository) LatestID(ctx context.Context, conversationID uint) (uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Unscoped().Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").Limit(1).Pluck("id", &ids).Error
	if err != nil {
		return 0, translate(err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

// MarkRead 将会话中他人发送的未读消息标记为已读。
func (r *gormMessageRepository) MarkRead(ctx context.Context, conversationID uint, readerID uint, readAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conversationID, readerID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": readAt})
	return res.RowsAffected, translate(res.Error)
}

// Delete 软删除消息；消息不存在或已删除时返回 ErrNotFound。
func (r *gormMessageRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Message{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormMessageRepository) DeleteByConversation(ctx context.Context, conversationID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&models.Message{})
	return res.RowsAffected, translate(res.Error)
}

func (r *gormMessageRepository) Mutate(ctx context.Context, id uint, fn func(*models.Message) error) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&message, id).Error; err != nil {
			return err
		}
		if err := fn(&message); err != nil {
			return err
		}
		return tx.Save(&message).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &message, nil
}
