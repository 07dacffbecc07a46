package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campus-im/internal/models"
)

type gormBlockRepository struct {
	db *gorm.DB
}

// NewGormBlockRepository 创建一个新的基于 GORM 的 BlockRepository。
func NewGormBlockRepository(db *gorm.DB) BlockRepository {
	return &gormBlockRepository{db: db}
}

// Create 创建屏蔽关系；已存在时保留原有的生效时间。
func (r *gormBlockRepository) Create(ctx context.Context, blockerID uint, blockedID uint) (*models.Block, error) {
	block := &models.Block{BlockerID: blockerID, BlockedID: blockedID, CreatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(block).Error; err != nil {
		return nil, translate(err)
	}
	return r.Get(ctx, blockerID, blockedID)
}

func (r *gormBlockRepository) Delete(ctx context.Context, blockerID uint, blockedID uint) error {
	err := r.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.Block{}).Error
	return translate(err)
}

func (r *gormBlockRepository) Get(ctx context.Context, blockerID uint, blockedID uint) (*models.Block, error) {
	var block models.Block
	err := r.db.WithContext(ctx).Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).First(&block).Error
	if err != nil {
		return nil, translate(err)
	}
	return &block, nil
}

func (r *gormBlockRepository) Between(ctx context.Context, a uint, b uint) ([]*models.Block, error) {
	var blocks []*models.Block
	err := r.db.WithContext(ctx).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Find(&blocks).Error
	return blocks, translate(err)
}

func (r *gormBlockRepository) ListByBlocker(ctx context.Context, blockerID uint) ([]*models.Block, error) {
	var blocks []*models.Block
	err := r.db.WithContext(ctx).Where("blocker_id = ?", blockerID).Order("created_at DESC").Find(&blocks).Error
	return blocks, translate(err)
}
