package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
)

const (
	// presenceTTL 房间在线状态 Hash 的过期时间，每次写入刷新
	presenceTTL = 24 * time.Hour
	// maxWatchRetries SetOnline 乐观事务的最大重试次数
	maxWatchRetries = 5
)

// addConnectionScript 原子地调整连接计数，归零时删除字段并刷新过期时间
var addConnectionScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
	n = 0
end
redis.call('EXPIRE', KEYS[1], ARGV[3])
return n
`)

// RedisPresenceRepository 是 PresenceRepository 接口的 Redis 实现。
// 每个房间一个 Hash，field 为用户 ID，value 为 PresenceEntry 的 JSON。
type RedisPresenceRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisPresenceRepository 创建 RedisPresenceRepository 实例
func NewRedisPresenceRepository(client *redis.Client, keyPrefix string) *RedisPresenceRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisPresenceRepository")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisPresenceRepository{client: client, keyPrefix: keyPrefix}
}

func (r *RedisPresenceRepository) roomPresenceKey(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:presence", r.keyPrefix, roomID)
}

func (r *RedisPresenceRepository) roomConnectionsKey(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:connections", r.keyPrefix, roomID)
}

func userField(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

// SetPresence 覆盖写入，同一用户并发写入以最后一次为准
func (r *RedisPresenceRepository) SetPresence(ctx context.Context, roomID, userID uint, entry domain.PresenceEntry) error {
	key := r.roomPresenceKey(roomID)
	entry.UserID = userID
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: marshal presence for user %d in room %d: %w", userID, roomID, err)
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, userField(userID), data)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set presence for user %d on %s: %w", userID, key, err)
	}
	return nil
}

// RemovePresence 幂等删除
func (r *RedisPresenceRepository) RemovePresence(ctx context.Context, roomID, userID uint) error {
	key := r.roomPresenceKey(roomID)
	if err := r.client.HDel(ctx, key, userField(userID)).Err(); err != nil {
		return fmt.Errorf("redis: remove presence for user %d on %s: %w", userID, key, err)
	}
	return nil
}

// ListPresence 返回房间内全部在线状态
func (r *RedisPresenceRepository) ListPresence(ctx context.Context, roomID uint) ([]domain.PresenceEntry, error) {
	key := r.roomPresenceKey(roomID)
	raw, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list presence from %s: %w", key, err)
	}
	entries := make([]domain.PresenceEntry, 0, len(raw))
	for field, value := range raw {
		var entry domain.PresenceEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			logrus.WithFields(logrus.Fields{"room_id": roomID, "field": field}).WithError(err).Warn("redis: skipping undecodable presence entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SetOnline 在 WATCH 事务内读-改-写，只修改 online 字段。
// 记录不存在时直接返回，不会凭空创建在线状态。
func (r *RedisPresenceRepository) SetOnline(ctx context.Context, roomID, userID uint, online bool) error {
	key := r.roomPresenceKey(roomID)
	field := userField(userID)

	txf := func(tx *redis.Tx) error {
		value, err := tx.HGet(ctx, key, field).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		var entry domain.PresenceEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return fmt.Errorf("decode presence: %w", err)
		}
		entry.Online = online
		entry.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // 期间有其他写入，重试
		}
		return fmt.Errorf("redis: set online=%t for user %d on %s: %w", online, userID, key, err)
	}
	return fmt.Errorf("redis: set online=%t for user %d on %s: too much contention", online, userID, key)
}

// AddConnection 调整用户在房间内跨实例的连接数，返回调整后的值（不小于 0）
func (r *RedisPresenceRepository) AddConnection(ctx context.Context, roomID, userID uint, delta int64) (int64, error) {
	key := r.roomConnectionsKey(roomID)
	n, err := addConnectionScript.Run(ctx, r.client, []string{key}, userField(userID), delta, int64(presenceTTL/time.Second)).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis: add %d connections for user %d on %s: %w", delta, userID, key, err)
	}
	return n, nil
}

// ClearConnections 幂等删除用户的连接计数
func (r *RedisPresenceRepository) ClearConnections(ctx context.Context, roomID, userID uint) error {
	key := r.roomConnectionsKey(roomID)
	if err := r.client.HDel(ctx, key, userField(userID)).Err(); err != nil {
		return fmt.Errorf("redis: clear connections for user %d on %s: %w", userID, key, err)
	}
	return nil
}
