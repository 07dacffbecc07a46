package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-im/internal/config"
	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/models"
	"campus-im/internal/storage/memstore"
)

const (
	alice uint = 1
	bob   uint = 2
	carol uint = 3
	dave  uint = 4

	campusID uint = 100
)

type published struct {
	room  string
	event imtypes.Event
}

// recordingPublisher 记录所有发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, room string, event imtypes.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{room: room, event: event})
}

func (p *recordingPublisher) ofType(t imtypes.EventType) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.event.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store         *memstore.Store
	publisher     *recordingPublisher
	conversations ConversationService
	moderation    ModerationService
	reactions     ReactionService
	users         UserDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	store.AddUser(alice, "alice", "Alice")
	store.AddUser(bob, "bob", "Bob")
	store.AddUser(carol, "carol", "")
	store.AddUser(dave, "dave", "Dave")
	store.AddCommunity(campusID, "Campus")
	store.AddMember(campusID, alice, models.MemberRole)
	store.AddMember(campusID, bob, models.MemberRole)
	store.AddMember(campusID, carol, models.AdminRole)

	repos := store.Repositories()
	membership := NewMembership(repos.Communities)
	users := NewUserService(repos.Users)
	pub := &recordingPublisher{}
	cfg := config.MessagingConfig{
		MaxContentLength:  100,
		DefaultPageSize:   50,
		MaxPageSize:       200,
		ReplyPreviewRunes: 10,
	}
	convs := NewConversationService(repos, membership, users, pub, cfg)
	convs.(*conversationService).now = steppingClock(time.Now().Add(-time.Hour), time.Millisecond)
	return &fixture{
		store:         store,
		publisher:     pub,
		conversations: convs,
		moderation:    NewModerationService(repos, membership, pub),
		reactions:     NewReactionService(repos, membership, convs, pub, cfg),
		users:         users,
	}
}

// steppingClock 每次调用前进 step，保证消息时间严格递增且早于真实时间
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := start.UTC()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(step)
		return t
	}
}

func text(s string) MessagePayload {
	return MessagePayload{Content: s}
}

func contents(msgs []*models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func (f *fixture) send(t *testing.T, conversationID, sender uint, content string) *models.Message {
	t.Helper()
	msg, err := f.conversations.AppendMessage(context.Background(), conversationID, sender, text(content))
	require.NoError(t, err)
	return msg
}

func (f *fixture) list(t *testing.T, conversationID, viewer uint) []*models.Message {
	t.Helper()
	msgs, err := f.conversations.ListMessages(context.Background(), conversationID, viewer, 0, nil)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) unread(t *testing.T, userID uint, conversationID uint) int {
	t.Helper()
	summaries, err := f.conversations.ListConversationsForUser(context.Background(), userID, false)
	require.NoError(t, err)
	for _, s := range summaries {
		if s.ID == conversationID {
			return s.UnreadCount
		}
	}
	t.Fatalf("conversation %d not listed for user %d", conversationID, userID)
	return 0
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, imerrors.Is(err, code), "expected %s, got %v", code, err)
}
