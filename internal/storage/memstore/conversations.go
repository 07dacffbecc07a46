package memstore

import (
	"context"
	"time"

	"campus-im/internal/models"
	"campus-im/internal/storage"
)

type conversationRepo struct{ s *Store }

func (r *conversationRepo) CreateConversation(_ context.Context, conversation *models.Conversation, participantIDs []uint) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversationBy[conversation.UniqueKey]; ok {
		return storage.ErrDuplicate
	}
	s.nextConversationID++
	now := time.Now().UTC()
	conversation.ID = s.nextConversationID
	conversation.CreatedAt = now
	conversation.UpdatedAt = now
	s.conversations[conversation.ID] = copyConversation(conversation)
	s.conversationBy[conversation.UniqueKey] = conversation.ID

	conversation.Participants = nil
	for _, uid := range participantIDs {
		p := &models.ConversationParticipant{ConversationID: conversation.ID, UserID: uid, CreatedAt: now, UpdatedAt: now}
		s.participants[pairKey{conversation.ID, uid}] = p
		conversation.Participants = append(conversation.Participants, *copyParticipant(p))
	}
	return nil
}

func (r *conversationRepo) GetConversationByID(_ context.Context, id uint) (*models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyConversation(c), nil
}

func (r *conversationRepo) GetConversationByKey(_ context.Context, key string) (*models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.conversationBy[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyConversation(r.s.conversations[id]), nil
}

func (r *conversationRepo) GetConversationsByIDs(_ context.Context, ids []uint) ([]*models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.Conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.s.conversations[id]; ok {
			out = append(out, copyConversation(c))
		}
	}
	return out, nil
}

func (r *conversationRepo) ListGroupConversations(_ context.Context, communityIDs []uint) ([]*models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[uint]bool, len(communityIDs))
	for _, id := range communityIDs {
		want[id] = true
	}
	var out []*models.Conversation
	for _, c := range r.s.conversations {
		if c.Type == models.GroupConversation && want[c.CommunityID] && c.LastMessageID != nil {
			out = append(out, copyConversation(c))
		}
	}
	return out, nil
}

func (r *conversationRepo) GetParticipant(_ context.Context, conversationID uint, userID uint) (*models.ConversationParticipant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[pairKey{conversationID, userID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyParticipant(p), nil
}

func (r *conversationRepo) GetConversationParticipants(_ context.Context, conversationID uint) ([]*models.ConversationParticipant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ConversationParticipant
	for k, p := range r.s.participants {
		if k[0] == conversationID {
			out = append(out, copyParticipant(p))
		}
	}
	return out, nil
}

func (r *conversationRepo) ListUserParticipations(_ context.Context, userID uint, archived bool) ([]*models.ConversationParticipant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ConversationParticipant
	for k, p := range r.s.participants {
		if k[1] == userID && p.Archived == archived {
			out = append(out, copyParticipant(p))
		}
	}
	return out, nil
}

func (r *conversationRepo) update(conversationID, userID uint, fn func(p *models.ConversationParticipant)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[pairKey{conversationID, userID}]
	if !ok {
		return storage.ErrNotFound
	}
	fn(p)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *conversationRepo) SetArchived(_ context.Context, conversationID uint, userID uint, archived bool) error {
	return r.update(conversationID, userID, func(p *models.ConversationParticipant) {
		p.Archived = archived
	})
}

func (r *conversationRepo) ResetUnread(_ context.Context, conversationID uint, userID uint, readAt time.Time) error {
	return r.update(conversationID, userID, func(p *models.ConversationParticipant) {
		p.UnreadCount = 0
		t := readAt
		p.LastReadAt = &t
	})
}

func (r *conversationRepo) ClearHistory(_ context.Context, conversationID uint, userID uint, sentThrough uint, receivedThrough uint) error {
	return r.update(conversationID, userID, func(p *models.ConversationParticipant) {
		if sentThrough > p.ClearedSentThrough {
			p.ClearedSentThrough = sentThrough
		}
		if receivedThrough > p.ClearedReceivedThrough {
			p.ClearedReceivedThrough = receivedThrough
		}
	})
}
