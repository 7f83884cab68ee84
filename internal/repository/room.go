package repository

import (
	"context"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
)

// RoomMutation 在房间行锁内执行的修改函数。
// 返回错误时整个事务回滚，房间与成员不做任何变更。
type RoomMutation func(room *domain.Room) error

// RoomRepository 定义了房间及成员数据的存储操作。
type RoomRepository interface {
	// FindByID 根据房间 ID 查找房间（含成员），不存在时返回 ErrRoomNotFound。
	FindByID(ctx context.Context, id uint) (*domain.Room, error)

	// FindByJoinCode 根据加入码查找房间（含成员），code 须已规范化为大写。
	FindByJoinCode(ctx context.Context, code string) (*domain.Room, error)

	// IsJoinCodeExists 检查加入码是否已被占用。
	IsJoinCodeExists(ctx context.Context, code string) (bool, error)

	// Create 创建房间及其初始成员，加入码冲突返回 ErrDuplicateEntry。
	Create(ctx context.Context, room *domain.Room) error

	// UpdateWithLock 锁定房间后加载最新状态，执行 fn 并持久化房间状态与成员变更。
	// 同一房间的并发调用串行执行。返回提交后的房间。
	UpdateWithLock(ctx context.Context, roomID uint, fn RoomMutation) (*domain.Room, error)
}
