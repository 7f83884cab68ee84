package repository

import (
	"context"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
)

// ChatMessageRepository 定义了聊天历史的持久化操作。
type ChatMessageRepository interface {
	// Append 写入一条消息。MessageID 已存在时静默忽略，返回 inserted=false。
	Append(ctx context.Context, msg *domain.ChatMessage) (inserted bool, err error)

	// ListByRoom 按时间倒序分页查询房间消息，page 从 1 开始。
	ListByRoom(ctx context.Context, roomID uint, page, pageSize int) ([]domain.ChatMessage, error)
}
