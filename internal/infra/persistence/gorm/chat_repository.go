package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
)

// GormChatMessageRepository 是 ChatMessageRepository 接口的 GORM 实现
type GormChatMessageRepository struct {
	db *gorm.DB
}

// NewGormChatMessageRepository 创建 GormChatMessageRepository 实例
func NewGormChatMessageRepository(db *gorm.DB) *GormChatMessageRepository {
	if db == nil {
		panic("database connection cannot be nil for GormChatMessageRepository")
	}
	return &GormChatMessageRepository{db: db}
}

// Append 写入消息，message_id 冲突时忽略（队列重试不会产生重复记录）
func (r *GormChatMessageRepository) Append(ctx context.Context, msg *domain.ChatMessage) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Create(msg)
	if result.Error != nil {
		return false, fmt.Errorf("gorm: append chat message %s to room %d: %w", msg.MessageID, msg.RoomID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListByRoom 按 created_at 倒序分页
func (r *GormChatMessageRepository) ListByRoom(ctx context.Context, roomID uint, page, pageSize int) ([]domain.ChatMessage, error) {
	if page < 1 {
		page = 1
	}
	var messages []domain.ChatMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list messages of room %d (page %d, size %d): %w", roomID, page, pageSize, err)
	}
	return messages, nil
}

