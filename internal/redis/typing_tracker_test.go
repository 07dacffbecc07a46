package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingKeyRoundTrip(t *testing.T) {
	key := typingKey("conversation:42", 7)
	assert.Equal(t, "typing:conversation:42:7", key)

	room, uid, ok := parseTypingKey(key)
	assert.True(t, ok)
	assert.Equal(t, "conversation:42", room)
	assert.Equal(t, uint(7), uid)
}

func TestParseTypingKeyRejectsForeignKeys(t *testing.T) {
	for _, k := range []string{"bl:jti:abc", "typing:", "typing:room", "typing:room:x"} {
		_, _, ok := parseTypingKey(k)
		assert.False(t, ok, k)
	}
}

func newTestTracker(t *testing.T) (*typingTracker, *miniredis.Miniredis, func(time.Duration)) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tr := NewTypingTracker(client, 3*time.Second).(*typingTracker)
	now := time.Unix(1700000000, 0)
	tr.now = func() time.Time { return now }
	advance := func(d time.Duration) {
		now = now.Add(d)
		mr.FastForward(d)
	}
	return tr, mr, advance
}

func TestStartTypingSetsLeaseOnce(t *testing.T) {
	ctx := context.Background()
	tr, mr, _ := newTestTracker(t)

	started, err := tr.StartTyping(ctx, "conversation:1", 7, "Alice")
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, 3*time.Second, mr.TTL("typing:conversation:1:7"))

	started, err = tr.StartTyping(ctx, "conversation:1", 7, "Alice")
	require.NoError(t, err)
	assert.False(t, started, "refresh is not a new start")

	_, err = tr.StartTyping(ctx, "conversation:10", 8, "Bob")
	require.NoError(t, err)

	sessions, err := tr.Typing(ctx, "conversation:1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, uint(7), sessions[0].UserID)
	assert.Equal(t, "Alice", sessions[0].UserName)

	stopped, err := tr.StopTyping(ctx, "conversation:1", 7)
	require.NoError(t, err)
	assert.True(t, stopped)
	stopped, err = tr.StopTyping(ctx, "conversation:1", 7)
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.False(t, mr.Exists("typing:conversation:1:7"))
}

func TestSweepReportsExpiredLeases(t *testing.T) {
	ctx := context.Background()
	tr, mr, advance := newTestTracker(t)

	_, _ = tr.StartTyping(ctx, "conversation:1", 7, "Alice")
	_, _ = tr.StartTyping(ctx, "conversation:1", 8, "Bob")

	expired, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)

	// 键已过期但本地租约未到期（其它实例刚刚刷新过）时不报告
	mr.FastForward(4 * time.Second)
	expired, err = tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)

	advance(4 * time.Second)
	expired, err = tr.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	names := []string{expired[0].UserName, expired[1].UserName}
	assert.ElementsMatch(t, []string{"Alice", "Bob"}, names)

	expired, err = tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)

	sessions, err := tr.Typing(ctx, "conversation:1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
