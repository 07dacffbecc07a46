package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"campus-im/internal/metrics"
)

type sessionKey struct {
	room string
	user uint
}

// MemoryTracker 是单进程的 Tracker 实现。
type MemoryTracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[sessionKey]Session
	// gauge 为 nil 时不上报指标（客户端进程内使用）
	gauge    gauge
}

type gauge interface {
	Inc()
	Dec()
}

// NewMemoryTracker 创建 MemoryTracker；now 为 nil 时使用 time.Now。
func NewMemoryTracker(ttl time.Duration, now func() time.Time) *MemoryTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryTracker{ttl: ttl, now: now, sessions: make(map[sessionKey]Session), gauge: metrics.TypingSessions}
}

// WithoutMetrics 关闭 TypingSessions 指标上报，返回 m 本身。
func (m *MemoryTracker) WithoutMetrics() *MemoryTracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauge = nil
	return m
}

func (m *MemoryTracker) inc() {
	if m.gauge != nil {
		m.gauge.Inc()
	}
}

func (m *MemoryTracker) dec() {
	if m.gauge != nil {
		m.gauge.Dec()
	}
}

func (m *MemoryTracker) StartTyping(_ context.Context, roomID string, userID uint, userName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := sessionKey{roomID, userID}
	prev, ok := m.sessions[k]
	started := !ok || !now.Before(prev.ExpiresAt)
	if ok && started {
		// 已过期但尚未被清理，视为重新开始
		m.dec()
	}
	m.sessions[k] = Session{RoomID: roomID, UserID: userID, UserName: userName, ExpiresAt: now.Add(m.ttl)}
	if started {
		m.inc()
	}
	return started, nil
}

func (m *MemoryTracker) StopTyping(_ context.Context, roomID string, userID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := sessionKey{roomID, userID}
	s, ok := m.sessions[k]
	if !ok {
		return false, nil
	}
	delete(m.sessions, k)
	m.dec()
	return m.now().Before(s.ExpiresAt), nil
}

func (m *MemoryTracker) Typing(_ context.Context, roomID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := []Session{}
	for k, s := range m.sessions {
		if k.room == roomID && now.Before(s.ExpiresAt) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryTracker) Sweep(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expired []Session
	for k, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, k)
			m.dec()
			expired = append(expired, s)
		}
	}
	return expired, nil
}
