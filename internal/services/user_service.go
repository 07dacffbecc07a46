package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"campus-im/internal/imerrors"
	"campus-im/internal/models"
	"campus-im/internal/storage"
)

const maxSearchResults = 10

// UserDirectory 提供用户查找，用于发起私聊和显示发送者名称。
type UserDirectory interface {
	BasicInfo(ctx context.Context, userID uint) (*models.UserBasicInfo, error)
	BasicInfos(ctx context.Context, userIDs []uint) (map[uint]*models.UserBasicInfo, error)
	Search(ctx context.Context, query string, currentUserID uint) ([]models.UserBasicInfo, error)
}

// userService 是 UserDirectory 的实现。
type userService struct {
	userRepo storage.UserRepository
}

// NewUserService 创建一个新的 UserDirectory 实例。
func NewUserService(userRepo storage.UserRepository) UserDirectory {
	return &userService{userRepo: userRepo}
}

func (s *userService) BasicInfo(ctx context.Context, userID uint) (*models.UserBasicInfo, error) {
	info, err := s.userRepo.GetBasicInfoByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, imerrors.NotFound("user", err)
	}
	if err != nil {
		return nil, fmt.Errorf("获取用户 %d 失败: %w", userID, err)
	}
	return info, nil
}

func (s *userService) BasicInfos(ctx context.Context, userIDs []uint) (map[uint]*models.UserBasicInfo, error) {
	infos, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("批量获取用户信息失败: %w", err)
	}
	out := make(map[uint]*models.UserBasicInfo, len(infos))
	for _, info := range infos {
		out[info.ID] = info
	}
	return out, nil
}

// Search 搜索用户（不含自己），空查询返回空列表。
func (s *userService) Search(ctx context.Context, query string, currentUserID uint) ([]models.UserBasicInfo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.UserBasicInfo{}, nil
	}
	users, err := s.userRepo.SearchUsers(ctx, query, currentUserID, maxSearchResults)
	if err != nil {
		return nil, fmt.Errorf("搜索用户失败: %w", err)
	}
	return users, nil
}
