package services

import (
	"context"
	"errors"
	"fmt"

	"campus-im/internal/models"
	"campus-im/internal/storage"
)

// Membership 是社区成员关系的只读接口（由社区服务维护）。
type Membership interface {
	IsMember(ctx context.Context, communityID uint, userID uint) (bool, error)
	// RoleOf returns "" when userID is not a member.
	RoleOf(ctx context.Context, communityID uint, userID uint) (models.CommunityRole, error)
	CommunitiesOf(ctx context.Context, userID uint) ([]uint, error)
}

type repoMembership struct {
	repo storage.CommunityRepository
}

// NewMembership 基于社区成员表实现 Membership。
func NewMembership(repo storage.CommunityRepository) Membership {
	return &repoMembership{repo: repo}
}

func (m *repoMembership) IsMember(ctx context.Context, communityID uint, userID uint) (bool, error) {
	role, err := m.RoleOf(ctx, communityID, userID)
	return role != "", err
}

func (m *repoMembership) RoleOf(ctx context.Context, communityID uint, userID uint) (models.CommunityRole, error) {
	member, err := m.repo.GetMember(ctx, communityID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("查询社区 %d 成员 %d 失败: %w", communityID, userID, err)
	}
	if member.Role == "" {
		return models.MemberRole, nil
	}
	return member.Role, nil
}

func (m *repoMembership) CommunitiesOf(ctx context.Context, userID uint) ([]uint, error) {
	return m.repo.GetUserCommunityIDs(ctx, userID)
}
