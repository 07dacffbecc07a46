package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"campus-im/internal/models"
	"campus-im/internal/storage"
)

type blockRepo struct{ s *Store }

func (r *blockRepo) Create(_ context.Context, blockerID uint, blockedID uint) (*models.Block, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := pairKey{blockerID, blockedID}
	b, ok := r.s.blocks[k]
	if !ok {
		b = &models.Block{BlockerID: blockerID, BlockedID: blockedID, CreatedAt: time.Now().UTC()}
		r.s.blocks[k] = b
	}
	cp := *b
	return &cp, nil
}

func (r *blockRepo) Delete(_ context.Context, blockerID uint, blockedID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.blocks, pairKey{blockerID, blockedID})
	return nil
}

func (r *blockRepo) Get(_ context.Context, blockerID uint, blockedID uint) (*models.Block, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.blocks[pairKey{blockerID, blockedID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *blockRepo) Between(_ context.Context, a uint, b uint) ([]*models.Block, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Block
	for _, k := range []pairKey{{a, b}, {b, a}} {
		if blk, ok := r.s.blocks[k]; ok {
			cp := *blk
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *blockRepo) ListByBlocker(_ context.Context, blockerID uint) ([]*models.Block, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Block
	for k, b := range r.s.blocks {
		if k[0] == blockerID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type communityRepo struct{ s *Store }

func (r *communityRepo) GetCommunityByID(_ context.Context, id uint) (*models.Community, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.communities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *communityRepo) GetCommunitiesByIDs(_ context.Context, ids []uint) ([]*models.Community, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Community
	for _, id := range ids {
		if c, ok := r.s.communities[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *communityRepo) GetMember(_ context.Context, communityID uint, userID uint) (*models.CommunityMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.members[pairKey{communityID, userID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *communityRepo) GetUserCommunityIDs(_ context.Context, userID uint) ([]uint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uint
	for k := range r.s.members {
		if k[1] == userID {
			ids = append(ids, k[0])
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type userRepo struct{ s *Store }

func (r *userRepo) SearchUsers(_ context.Context, query string, currentUserID uint, limit int) ([]models.UserBasicInfo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q := strings.ToLower(query)
	out := []models.UserBasicInfo{}
	for id, u := range r.s.users {
		if id == currentUserID {
			continue
		}
		if containsFold(u.Username, q) || containsFold(u.Nickname, q) {
			out = append(out, u.BasicInfo())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *userRepo) GetBasicInfoByID(_ context.Context, id uint) (*models.UserBasicInfo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	info := u.BasicInfo()
	return &info, nil
}

func (r *userRepo) GetMultipleBasicInfoByIDs(_ context.Context, userIDs []uint) ([]*models.UserBasicInfo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.UserBasicInfo
	for _, id := range userIDs {
		if u, ok := r.s.users[id]; ok {
			info := u.BasicInfo()
			out = append(out, &info)
		}
	}
	return out, nil
}
