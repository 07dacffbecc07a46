package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"campus-im/internal/config"
	"campus-im/internal/metrics"
	"campus-im/internal/presence"
)

const typingKeyPrefix = "typing:"

// NewClient 根据配置创建 Redis 客户端并检查连通性。
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis %s 失败: %w", cfg.Addr, err)
	}
	return client, nil
}

// typingTracker 是 presence.Tracker 的 Redis 实现，多个 chatserver 实例共享输入状态。
// 每个键带 TTL 自动过期；本实例启动过的键记录在 local 中，Sweep 据此发现过期。
type typingTracker struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	local map[string]presence.Session
}

// NewTypingTracker 创建一个新的 Redis 输入状态跟踪器。
func NewTypingTracker(client *redis.Client, ttl time.Duration) presence.Tracker {
	if ttl <= 0 {
		ttl = presence.DefaultTTL
	}
	return &typingTracker{client: client, ttl: ttl, now: time.Now, local: make(map[string]presence.Session)}
}

func typingKey(roomID string, userID uint) string {
	return typingKeyPrefix + roomID + ":" + strconv.FormatUint(uint64(userID), 10)
}

// parseTypingKey 从 "typing:<room>:<uid>" 中解析房间和用户。房间名本身可能包含冒号。
func parseTypingKey(key string) (string, uint, bool) {
	rest := strings.TrimPrefix(key, typingKeyPrefix)
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 || rest == key {
		return "", 0, false
	}
	id, err := strconv.ParseUint(rest[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return rest[:i], uint(id), true
}

func (t *typingTracker) StartTyping(ctx context.Context, roomID string, userID uint, userName string) (bool, error) {
	key := typingKey(roomID, userID)
	started, err := t.client.SetNX(ctx, key, userName, t.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("设置输入状态 %s 失败: %w", key, err)
	}
	if !started {
		if err := t.client.Set(ctx, key, userName, t.ttl).Err(); err != nil {
			return false, fmt.Errorf("刷新输入状态 %s 失败: %w", key, err)
		}
	}

	t.mu.Lock()
	if _, ok := t.local[key]; !ok {
		metrics.TypingSessions.Inc()
	}
	t.local[key] = presence.Session{RoomID: roomID, UserID: userID, UserName: userName, ExpiresAt: t.now().Add(t.ttl)}
	t.mu.Unlock()
	return started, nil
}

func (t *typingTracker) StopTyping(ctx context.Context, roomID string, userID uint) (bool, error) {
	key := typingKey(roomID, userID)
	t.forget(key)
	n, err := t.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("清除输入状态 %s 失败: %w", key, err)
	}
	return n > 0, nil
}

func (t *typingTracker) forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.local[key]; ok {
		delete(t.local, key)
		metrics.TypingSessions.Dec()
	}
}

func (t *typingTracker) Typing(ctx context.Context, roomID string) ([]presence.Session, error) {
	var keys []string
	iter := t.client.Scan(ctx, 0, typingKeyPrefix+roomID+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("扫描房间 %s 的输入状态失败: %w", roomID, err)
	}
	if len(keys) == 0 {
		return []presence.Session{}, nil
	}

	pipe := t.client.Pipeline()
	names := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, k := range keys {
		names[i] = pipe.Get(ctx, k)
		ttls[i] = pipe.PTTL(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("读取房间 %s 的输入状态失败: %w", roomID, err)
	}

	now := t.now()
	out := make([]presence.Session, 0, len(keys))
	for i, k := range keys {
		room, uid, ok := parseTypingKey(k)
		// 前缀匹配可能命中 "conversation:1" 之外的 "conversation:1:x"
		if !ok || room != roomID {
			continue
		}
		name, err := names[i].Result()
		if err != nil {
			continue
		}
		ttl := ttls[i].Val()
		if ttl <= 0 {
			continue
		}
		out = append(out, presence.Session{RoomID: room, UserID: uid, UserName: name, ExpiresAt: now.Add(ttl)})
	}
	return out, nil
}

func (t *typingTracker) Sweep(ctx context.Context) ([]presence.Session, error) {
	t.mu.Lock()
	keys := make([]string, 0, len(t.local))
	for k := range t.local {
		keys = append(keys, k)
	}
	t.mu.Unlock()
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := t.client.Pipeline()
	exists := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		exists[i] = pipe.Exists(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("检查输入状态过期失败: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var expired []presence.Session
	for i, k := range keys {
		if exists[i].Val() > 0 {
			continue
		}
		s, ok := t.local[k]
		// 检查期间被刷新的不算过期
		if !ok || now.Before(s.ExpiresAt) {
			continue
		}
		delete(t.local, k)
		metrics.TypingSessions.Dec()
		expired = append(expired, s)
	}
	return expired, nil
}
