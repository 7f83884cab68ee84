package repository

import (
	"context"
	"time"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
)

// PresenceRepository 房间在线状态存储，由 Redis 实现，多实例共享。
type PresenceRepository interface {
	// SetPresence 覆盖写入用户在房间内的状态，不校验成员资格。
	SetPresence(ctx context.Context, roomID, userID uint, entry domain.PresenceEntry) error

	// RemovePresence 删除用户状态，不存在时不报错。
	RemovePresence(ctx context.Context, roomID, userID uint) error

	// ListPresence 返回房间内所有状态，无顺序保证；没有记录时返回空切片。
	ListPresence(ctx context.Context, roomID uint) ([]domain.PresenceEntry, error)

	// SetOnline 只更新 online 字段；记录不存在时什么也不做。
	SetOnline(ctx context.Context, roomID, userID uint, online bool) error

	// AddConnection 按 delta 调整用户在房间内的活跃连接数（所有实例共享），
	// 返回调整后的值；归零时删除计数。
	AddConnection(ctx context.Context, roomID, userID uint, delta int64) (int64, error)

	// ClearConnections 删除用户的连接计数，不存在时不报错。
	ClearConnections(ctx context.Context, roomID, userID uint) error
}

// RateLimiter 固定窗口计数限流。
type RateLimiter interface {
	// CheckRateLimit 递增 key 的计数，超过 limit 时返回 true。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
