// Package presence tracks ephemeral "user is typing" leases per room.
// Nothing here is persisted; consumers treat it as best-effort.
package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"campus-im/internal/logger"
)

// DefaultTTL 是输入状态在未刷新时的过期时间。
const DefaultTTL = 3 * time.Second

// Session 表示某用户在某房间中的输入状态。
type Session struct {
	RoomID    string    `json:"roomId"`
	UserID    uint      `json:"userId"`
	UserName  string    `json:"userName"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Tracker 管理输入状态租约。
type Tracker interface {
	// StartTyping (re)starts the lease. started is false when the user was already typing.
	StartTyping(ctx context.Context, roomID string, userID uint, userName string) (started bool, err error)
	// StopTyping clears the lease. stopped is false when there was nothing to clear.
	StopTyping(ctx context.Context, roomID string, userID uint) (stopped bool, err error)
	// Typing lists the live sessions of a room.
	Typing(ctx context.Context, roomID string) ([]Session, error)
	// Sweep removes expired sessions and returns them.
	Sweep(ctx context.Context) ([]Session, error)
}

// Run 周期性地清理过期的输入状态并回调 onExpire，直到 ctx 结束。
func Run(ctx context.Context, t Tracker, interval time.Duration, onExpire func(Session)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := t.Sweep(ctx)
			if err != nil {
				logger.Log.Warn("typing sweep failed", zap.Error(err))
				continue
			}
			if onExpire == nil {
				continue
			}
			for _, s := range expired {
				onExpire(s)
			}
		}
	}
}
