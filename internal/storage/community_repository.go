package storage

import (
	"context"

	"gorm.io/gorm"

	"campus-im/internal/models"
)

// gormCommunityRepository 使用 GORM 实现 CommunityRepository。
// 社区及成员由社区服务维护，这里只读。
type gormCommunityRepository struct {
	db *gorm.DB
}

// NewGormCommunityRepository 创建一个新的基于 GORM 的 CommunityRepository。
func NewGormCommunityRepository(db *gorm.DB) CommunityRepository {
	return &gormCommunityRepository{db: db}
}

// GetCommunityByID 通过ID检索社区。
func (r *gormCommunityRepository) GetCommunityByID(ctx context.Context, id uint) (*models.Community, error) {
	var community models.Community
	if err := r.db.WithContext(ctx).First(&community, id).Error; err != nil {
		return nil, translate(err)
	}
	return &community, nil
}

func (r *gormCommunityRepository) GetCommunitiesByIDs(ctx context.Context, ids []uint) ([]*models.Community, error) {
	var communities []*models.Community
	if len(ids) == 0 {
		return communities, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&communities).Error
	return communities, translate(err)
}

// GetMember 获取社区中的特定成员信息。
func (r *gormCommunityRepository) GetMember(ctx context.Context, communityID uint, userID uint) (*models.CommunityMember, error) {
	var member models.CommunityMember
	err := r.db.WithContext(ctx).Where("community_id = ? AND user_id = ?", communityID, userID).First(&member).Error
	if err != nil {
		return nil, translate(err)
	}
	return &member, nil
}

// GetUserCommunityIDs 获取用户加入的所有社区ID。
func (r *gormCommunityRepository) GetUserCommunityIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.CommunityMember{}).
		Where("user_id = ?", userID).
		Pluck("community_id", &ids).Error
	return ids, translate(err)
}
