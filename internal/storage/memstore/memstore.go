// Package memstore is an in-process implementation of the storage repositories.
// It backs DATABASE.TYPE=memory and the service tests. All records are copied
// on the way in and out so callers never share state with the store.
package memstore

import (
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"campus-im/internal/models"
	"campus-im/internal/storage"
)

type pairKey [2]uint

// Store holds every table behind one mutex.
type Store struct {
	mu sync.Mutex

	nextConversationID uint
	nextMessageID      uint

	conversations  map[uint]*models.Conversation
	conversationBy map[string]uint
	participants   map[pairKey]*models.ConversationParticipant
	messages       map[uint]*models.Message
	blocks         map[pairKey]*models.Block
	communities    map[uint]*models.Community
	members        map[pairKey]*models.CommunityMember
	users          map[uint]*models.User
}

func New() *Store {
	return &Store{
		conversations:  make(map[uint]*models.Conversation),
		conversationBy: make(map[string]uint),
		participants:   make(map[pairKey]*models.ConversationParticipant),
		messages:       make(map[uint]*models.Message),
		blocks:         make(map[pairKey]*models.Block),
		communities:    make(map[uint]*models.Community),
		members:        make(map[pairKey]*models.CommunityMember),
		users:          make(map[uint]*models.User),
	}
}

// Repositories returns the repository set backed by s.
func (s *Store) Repositories() storage.Repositories {
	return storage.Repositories{
		Conversations: &conversationRepo{s},
		Messages:      &messageRepo{s},
		Blocks:        &blockRepo{s},
		Communities:   &communityRepo{s},
		Users:         &userRepo{s},
	}
}

// AddUser seeds a user of the external identity service.
func (s *Store) AddUser(id uint, username, nickname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &models.User{Username: username, Nickname: nickname}
	u.ID = id
	u.CreatedAt = time.Now()
	s.users[id] = u
}

// AddCommunity seeds a community of the external community service.
func (s *Store) AddCommunity(id uint, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Community{Name: name}
	c.ID = id
	c.CreatedAt = time.Now()
	s.communities[id] = c
}

// AddMember seeds a community membership.
func (s *Store) AddMember(communityID, userID uint, role models.CommunityRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[pairKey{communityID, userID}] = &models.CommunityMember{
		CommunityID: communityID,
		UserID:      userID,
		Role:        role,
		JoinedAt:    time.Now(),
	}
}

// RemoveMember drops a community membership.
func (s *Store) RemoveMember(communityID, userID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, pairKey{communityID, userID})
}

func copyConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	cp.Participants = nil
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		cp.LastMessageAt = &t
	}
	if c.LastMessageID != nil {
		id := *c.LastMessageID
		cp.LastMessageID = &id
	}
	return &cp
}

func copyParticipant(p *models.ConversationParticipant) *models.ConversationParticipant {
	cp := *p
	if p.LastReadAt != nil {
		t := *p.LastReadAt
		cp.LastReadAt = &t
	}
	return &cp
}

func copyMessage(m *models.Message) *models.Message {
	cp := *m
	if m.Attachment != nil {
		a := *m.Attachment
		cp.Attachment = &a
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		cp.ReplyTo = &r
	}
	if m.Reactions != nil {
		cp.Reactions = append([]models.Reaction(nil), m.Reactions...)
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		cp.ReadAt = &t
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	return &cp
}

func live(m *models.Message) bool {
	return !m.DeletedAt.Valid
}

func softDelete(m *models.Message, at time.Time) {
	m.DeletedAt = gorm.DeletedAt{Time: at, Valid: true}
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), sub)
}

func sortMessagesDesc(ms []*models.Message) {
	sort.Slice(ms, func(i, j int) bool { return ms[j].Before(ms[i]) })
}
