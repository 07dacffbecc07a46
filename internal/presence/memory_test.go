package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-im/internal/metrics"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTracker() (*MemoryTracker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	return NewMemoryTracker(3*time.Second, clock.Now), clock
}

func TestStartTypingIsIdempotentWhileActive(t *testing.T) {
	ctx := context.Background()
	tr, clock := newTracker()

	started, err := tr.StartTyping(ctx, "conversation:1", 7, "Alice")
	require.NoError(t, err)
	assert.True(t, started)

	clock.Advance(2 * time.Second)
	started, err = tr.StartTyping(ctx, "conversation:1", 7, "Alice")
	require.NoError(t, err)
	assert.False(t, started)

	// 刷新后租约延长
	clock.Advance(2 * time.Second)
	sessions, err := tr.Typing(ctx, "conversation:1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Alice", sessions[0].UserName)
}

func TestTypingExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	tr, clock := newTracker()
	_, _ = tr.StartTyping(ctx, "conversation:1", 7, "Alice")
	_, _ = tr.StartTyping(ctx, "conversation:1", 8, "Bob")
	_, _ = tr.StartTyping(ctx, "conversation:2", 7, "Alice")

	clock.Advance(time.Second)
	_, _ = tr.StartTyping(ctx, "conversation:1", 8, "Bob")

	clock.Advance(2 * time.Second)
	sessions, err := tr.Typing(ctx, "conversation:1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, uint(8), sessions[0].UserID)

	expired, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, expired, 2)

	expired, err = tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)

	started, err := tr.StartTyping(ctx, "conversation:2", 7, "Alice")
	require.NoError(t, err)
	assert.True(t, started)
}

func TestStopTyping(t *testing.T) {
	ctx := context.Background()
	tr, clock := newTracker()

	stopped, err := tr.StopTyping(ctx, "conversation:1", 7)
	require.NoError(t, err)
	assert.False(t, stopped)

	_, _ = tr.StartTyping(ctx, "conversation:1", 7, "Alice")
	stopped, err = tr.StopTyping(ctx, "conversation:1", 7)
	require.NoError(t, err)
	assert.True(t, stopped)

	sessions, err := tr.Typing(ctx, "conversation:1")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// 过期后停止不再产生通知
	_, _ = tr.StartTyping(ctx, "conversation:1", 7, "Alice")
	clock.Advance(5 * time.Second)
	stopped, err = tr.StopTyping(ctx, "conversation:1", 7)
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestRunReportsExpiredSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr, clock := newTracker()
	_, _ = tr.StartTyping(ctx, "conversation:1", 7, "Alice")
	clock.Advance(4 * time.Second)

	got := make(chan Session, 1)
	go Run(ctx, tr, 5*time.Millisecond, func(s Session) { got <- s })

	select {
	case s := <-got:
		assert.Equal(t, uint(7), s.UserID)
		assert.Equal(t, "conversation:1", s.RoomID)
	case <-time.After(2 * time.Second):
		t.Fatal("expired session was not reported")
	}
}

func TestTrackerGaugeCanBeDisabled(t *testing.T) {
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.TypingSessions)

	tr, _ := newTracker()
	_, _ = tr.StartTyping(ctx, "conversation:1", 7, "Alice")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.TypingSessions))
	_, _ = tr.StopTyping(ctx, "conversation:1", 7)
	assert.Equal(t, before, testutil.ToFloat64(metrics.TypingSessions))

	quiet, clock := newTracker()
	quiet.WithoutMetrics()
	_, _ = quiet.StartTyping(ctx, "conversation:1", 7, "Alice")
	_, _ = quiet.StartTyping(ctx, "conversation:1", 8, "Bob")
	assert.Equal(t, before, testutil.ToFloat64(metrics.TypingSessions))
	clock.Advance(5 * time.Second)
	expired, err := quiet.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, expired, 2)
	assert.Equal(t, before, testutil.ToFloat64(metrics.TypingSessions))
}
