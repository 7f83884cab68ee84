package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// membersByJoinOrder 成员按加入时间排序，保证房主转移的结果可预期
func membersByJoinOrder(db *gorm.DB) *gorm.DB {
	return db.Order("joined_at ASC, id ASC")
}

// FindByID 根据房间 ID 查找房间
func (r *GormRoomRepository) FindByID(ctx context.Context, id uint) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Preload("Members", membersByJoinOrder).First(&room, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by id %d: %w", id, err)
	}
	return &room, nil
}

// FindByJoinCode 根据加入码查找房间
func (r *GormRoomRepository) FindByJoinCode(ctx context.Context, code string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Preload("Members", membersByJoinOrder).Where("join_code = ?", code).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by join code '%s': %w", code, err)
	}
	return &room, nil
}

// IsJoinCodeExists 检查加入码是否存在
func (r *GormRoomRepository) IsJoinCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("join_code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count rooms by join code '%s': %w", code, err)
	}
	return count > 0, nil
}

// Create 在同一事务内创建房间和初始成员
func (r *GormRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(room).Error // GORM 会一并创建 Members 关联
	})
	if err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create room (join_code: %s): %w", room.JoinCode, err)
	}
	return nil
}

// UpdateWithLock 使用 SELECT ... FOR UPDATE 锁定房间行，
// 同一房间的成员变更因此在数据库层面串行化，多实例部署下同样成立。
func (r *GormRoomRepository) UpdateWithLock(ctx context.Context, roomID uint, fn repository.RoomMutation) (*domain.Room, error) {
	var result domain.Room
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room domain.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrRoomNotFound
			}
			return fmt.Errorf("gorm: lock room %d: %w", roomID, err)
		}
		if err := membersByJoinOrder(tx).Where("room_id = ?", roomID).Find(&room.Members).Error; err != nil {
			return fmt.Errorf("gorm: load members of room %d: %w", roomID, err)
		}

		before := make(map[uint]domain.Member, len(room.Members))
		for _, m := range room.Members {
			before[m.UserID] = m
		}

		if err := fn(&room); err != nil {
			return err // 业务错误原样返回，事务回滚
		}

		if err := r.persistMembers(tx, &room, before); err != nil {
			return err
		}
		if err := tx.Model(&domain.Room{}).Where("id = ?", room.ID).Updates(map[string]interface{}{
			"title":     room.Title,
			"status":    room.Status,
			"max_seats": room.MaxSeats,
		}).Error; err != nil {
			return fmt.Errorf("gorm: update room %d: %w", roomID, err)
		}
		result = room
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// persistMembers 对比修改前后的成员集合，删除离开者、写入新成员、更新角色和准备状态
func (r *GormRoomRepository) persistMembers(tx *gorm.DB, room *domain.Room, before map[uint]domain.Member) error {
	after := make(map[uint]bool, len(room.Members))
	for i := range room.Members {
		m := &room.Members[i]
		m.RoomID = room.ID
		after[m.UserID] = true

		old, existed := before[m.UserID]
		switch {
		case !existed:
			if err := tx.Create(m).Error; err != nil {
				if isDuplicateEntryError(err) {
					return repository.ErrDuplicateEntry
				}
				return fmt.Errorf("gorm: add member %d to room %d: %w", m.UserID, room.ID, err)
			}
		case old.Role != m.Role || old.Ready != m.Ready:
			if err := tx.Model(&domain.Member{}).Where("id = ?", old.ID).Updates(map[string]interface{}{
				"role":  m.Role,
				"ready": m.Ready,
			}).Error; err != nil {
				return fmt.Errorf("gorm: update member %d in room %d: %w", m.UserID, room.ID, err)
			}
		}
	}

	var removed []uint
	for userID := range before {
		if !after[userID] {
			removed = append(removed, userID)
		}
	}
	if len(removed) > 0 {
		if err := tx.Where("room_id = ? AND user_id IN ?", room.ID, removed).Delete(&domain.Member{}).Error; err != nil {
			return fmt.Errorf("gorm: remove members from room %d: %w", room.ID, err)
		}
	}
	return nil
}
