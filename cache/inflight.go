package cache

import (
	"context"
	"fmt"
	"time"

	"ReleaseKit/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const inflightKeyPrefix = "releasekit:inflight:"

// releaseScript 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// InflightGuard serializes "look for an existing download, else create one" across
// processes with a short-lived SET NX lock. A nil client disables the guard.
type InflightGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewInflightGuard 创建请求去重锁，client 为 nil 时所有操作直接放行
func NewInflightGuard(client *redis.Client, ttl time.Duration) *InflightGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &InflightGuard{client: client, ttl: ttl}
}

// InflightKey builds the lock key for one (release, user, format) triple.
func InflightKey(releaseID, userID int64, format string) string {
	return fmt.Sprintf("%s%d:%d:%s", inflightKeyPrefix, releaseID, userID, format)
}

// Acquire 尝试获取锁。
//
// 返回 ok=false 表示其他进程正持有该锁。Redis 不可用时记录告警并放行，
// 调用方退化为至少一次语义。release 总是可以安全调用。
func (g *InflightGuard) Acquire(ctx context.Context, key string) (release func(), ok bool) {
	noop := func() {}
	if g == nil || g.client == nil {
		return noop, true
	}

	token := uuid.NewString()
	acquired, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		logger.Warn("in-flight guard unavailable, continuing without it",
			logger.String("key", key),
			logger.ErrorField(err))
		return noop, true
	}
	if !acquired {
		return noop, false
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			logger.Warn("failed to release in-flight guard",
				logger.String("key", key),
				logger.ErrorField(err))
		}
	}, true
}

// Wait polls until the key is free or ctx / timeout ends. Returns true when free.
func (g *InflightGuard) Wait(ctx context.Context, key string, timeout time.Duration) bool {
	if g == nil || g.client == nil {
		return true
	}
	deadline := time.Now().Add(timeout)
	delay := 50 * time.Millisecond
	for {
		n, err := g.client.Exists(ctx, key).Result()
		if err != nil || n == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if delay < 400*time.Millisecond {
			delay *= 2 // 指数退避
		}
	}
}

// HeldKeys lists the currently held guard keys with their remaining TTL.
func (g *InflightGuard) HeldKeys(ctx context.Context) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration)
	if g == nil || g.client == nil {
		return out, nil
	}
	iter := g.client.Scan(ctx, 0, inflightKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := g.client.TTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read ttl of %s: %w", key, err)
		}
		out[key] = ttl
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan in-flight keys: %w", err)
	}
	return out, nil
}
