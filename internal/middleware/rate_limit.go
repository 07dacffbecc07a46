package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"campus-im/internal/imerrors"
	"campus-im/internal/metrics"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 为每个用户维护一个令牌桶，长时间未使用的桶会被清理。
type RateLimiter struct {
	mu    sync.Mutex
	m     map[uint]*limiterEntry
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time
}

// NewRateLimiter creates a limiter allowing perSecond sustained requests with the given burst per user.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		m:     make(map[uint]*limiterEntry),
		limit: rate.Limit(perSecond),
		burst: burst,
		ttl:   10 * time.Minute,
		now:   time.Now,
	}
}

// Allow reports whether userID may make one more request now.
func (p *RateLimiter) Allow(userID uint) bool {
	p.mu.Lock()
	e, ok := p.m[userID]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(p.limit, p.burst)}
		p.m[userID] = e
	}
	now := p.now()
	e.lastSeen = now
	p.mu.Unlock()
	return e.l.AllowN(now, 1)
}

// Cleanup removes limiters unused for longer than the TTL.
func (p *RateLimiter) Cleanup() {
	cutoff := p.now().Add(-p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
}

// RunCleanup 周期性调用 Cleanup，直到 stop 被关闭。
func (p *RateLimiter) RunCleanup(period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Cleanup()
		case <-stop:
			return
		}
	}
}

// Middleware 拒绝超出速率的已认证请求，必须放在 AuthMiddleware 之后。
func (p *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserIDFromContext(r.Context())
		if ok && !p.Allow(userID) {
			metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", "1")
			writeError(w, imerrors.RateLimited("发送过于频繁，请稍后再试"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
