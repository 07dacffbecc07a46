package memstore

import (
	"context"
	"time"

	"campus-im/internal/models"
	"campus-im/internal/storage"
)

type messageRepo struct{ s *Store }

func (r *messageRepo) Append(_ context.Context, message *models.Message) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[message.ConversationID]
	if !ok {
		return storage.ErrNotFound
	}

	createdAt := message.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	if conversation.LastMessageAt != nil && !createdAt.After(*conversation.LastMessageAt) {
		createdAt = conversation.LastMessageAt.Add(time.Microsecond)
	}

	s.nextMessageID++
	message.ID = s.nextMessageID
	message.CreatedAt = createdAt
	message.UpdatedAt = createdAt
	s.messages[message.ID] = copyMessage(message)

	at, id := createdAt, message.ID
	conversation.LastMessageAt = &at
	conversation.LastMessageID = &id
	conversation.UpdatedAt = createdAt

	for k, p := range s.participants {
		if k[0] == conversation.ID && k[1] != message.SenderID {
			p.UnreadCount++
		}
	}
	return nil
}

func (r *messageRepo) GetByID(_ context.Context, id uint) (*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok || !live(m) {
		return nil, storage.ErrNotFound
	}
	return copyMessage(m), nil
}

func (r *messageRepo) GetByIDUnscoped(_ context.Context, id uint) (*models.Message, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, false, storage.ErrNotFound
	}
	return copyMessage(m), !live(m), nil
}

func (r *messageRepo) List(_ context.Context, q storage.MessageQuery) ([]*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var page []*models.Message
	for _, m := range r.s.messages {
		if m.ConversationID != q.ConversationID || !live(m) {
			continue
		}
		if q.Before != nil && !m.Cursor().Before(*q.Before) {
			continue
		}
		if q.HideSentThrough > 0 && m.SenderID == q.ViewerID && m.ID <= q.HideSentThrough {
			continue
		}
		if q.HideReceivedThrough > 0 && m.SenderID != q.ViewerID && m.ID <= q.HideReceivedThrough {
			continue
		}
		if hiddenBy(m, q.HiddenSenders) {
			continue
		}
		page = append(page, m)
	}

	sortMessagesDesc(page)
	if q.Limit > 0 && len(page) > q.Limit {
		page = page[:q.Limit]
	}
	out := make([]*models.Message, len(page))
	for i, m := range page {
		out[len(page)-1-i] = copyMessage(m)
	}
	return out, nil
}

func hiddenBy(m *models.Message, cutoffs []storage.SenderCutoff) bool {
	for _, c := range cutoffs {
		if m.SenderID == c.SenderID && !m.CreatedAt.Before(c.Since) {
			return true
		}
	}
	return false
}

func (r *messageRepo) LiveIDs(_ context.Context, ids []uint) (map[uint]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if m, ok := r.s.messages[id]; ok && live(m) {
			out[id] = true
		}
	}
	return out, nil
}

func (r *messageRepo) LatestID(_ context.Context, conversationID uint) (uint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest uint
	for id, m := range r.s.messages {
		if m.ConversationID == conversationID && id > latest {
			latest = id
		}
	}
	return latest, nil
}

func (r *messageRepo) MarkRead(_ context.Context, conversationID uint, readerID uint, readAt time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && m.SenderID != readerID && !m.IsRead && live(m) {
			t := readAt
			m.IsRead = true
			m.ReadAt = &t
			n++
		}
	}
	return n, nil
}

func (r *messageRepo) Delete(_ context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok || !live(m) {
		return storage.ErrNotFound
	}
	softDelete(m, time.Now().UTC())
	return nil
}

func (r *messageRepo) DeleteByConversation(_ context.Context, conversationID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && live(m) {
			softDelete(m, now)
			n++
		}
	}
	return n, nil
}

func (r *messageRepo) Mutate(_ context.Context, id uint, fn func(*models.Message) error) (*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok || !live(m) {
		return nil, storage.ErrNotFound
	}
	working := copyMessage(m)
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = m.ID
	working.ConversationID = m.ConversationID
	r.s.messages[id] = working
	return copyMessage(working), nil
}
