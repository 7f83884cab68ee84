package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultKeyPrefix 默认 key 前缀 (studyflow)
const DefaultKeyPrefix = "sf:"

// RedisRateLimiter 基于 INCR + EXPIRE 的固定窗口限流，多进程共享计数。
type RedisRateLimiter struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRateLimiter 创建 RedisRateLimiter 实例
func NewRedisRateLimiter(client *redis.Client, keyPrefix string) *RedisRateLimiter {
	if client == nil {
		panic("redis client cannot be nil for RedisRateLimiter")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisRateLimiter{client: client, keyPrefix: keyPrefix}
}

// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
// 返回 true 表示超限。窗口只在第一次计数时设置，不随后续请求顺延。
func (l *RedisRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := l.keyPrefix + "ratelimit:" + key
	pipe := l.client.TxPipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	ttlCmd := pipe.PTTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", fullKey, err)
	}
	count := incrCmd.Val()
	// 新 key（或遗留的无过期 key）需要设置窗口
	if count == 1 || ttlCmd.Val() < 0 {
		if err := l.client.PExpire(ctx, fullKey, window).Err(); err != nil {
			return false, fmt.Errorf("redis: set rate limit window on key %s: %w", fullKey, err)
		}
	}
	return count > int64(limit), nil
}
