package storage

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"campus-im/internal/models"
)

// gormUserRepository implements UserRepository using GORM.
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based UserRepository.
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

// SearchUsers 在 username 和 nickname 上做大小写不敏感的模糊匹配，并排除当前用户自己。
func (r *gormUserRepository) SearchUsers(ctx context.Context, query string, currentUserID uint, limit int) ([]models.UserBasicInfo, error) {
	users := []models.UserBasicInfo{}
	searchTerm := "%" + strings.ToLower(query) + "%"

	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("(LOWER(username) LIKE ? OR LOWER(nickname) LIKE ?) AND id != ?", searchTerm, searchTerm, currentUserID).
		Select("id", "username", "nickname", "avatar_url").
		Order("username ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, translate(err)
	}
	return users, nil
}

// GetBasicInfoByID retrieves minimal public user info by ID.
func (r *gormUserRepository) GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error) {
	var basicInfo models.UserBasicInfo
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "username", "nickname", "avatar_url").
		Where("id = ?", id).
		First(&basicInfo).Error
	if err != nil {
		return nil, translate(err)
	}
	return &basicInfo, nil
}

// GetMultipleBasicInfoByIDs retrieves minimal public user info for a list of user IDs.
func (r *gormUserRepository) GetMultipleBasicInfoByIDs(ctx context.Context, userIDs []uint) ([]*models.UserBasicInfo, error) {
	var basicInfos []*models.UserBasicInfo
	if len(userIDs) == 0 {
		return basicInfos, nil
	}

	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "username", "nickname", "avatar_url").
		Where("id IN ?", userIDs).
		Find(&basicInfos).Error
	if err != nil {
		// batch fetches never report not-found
		return nil, err
	}
	return basicInfos, nil
}
