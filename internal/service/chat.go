package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/repository"
)

const (
	// MaxChatContentLength 单条消息内容的最大字符数
	MaxChatContentLength = 2000
	// DefaultHistoryPageSize 历史分页默认条数
	DefaultHistoryPageSize = 20
	maxHistoryPageSize     = 100
)

// ChatService 负责聊天消息的持久化与历史查询。
// PersistMessage 只由持久化 Worker 调用，实时链路不等待它。
type ChatService struct {
	chatRepo repository.ChatMessageRepository
	roomRepo repository.RoomRepository
	userRepo repository.UserRepository
	pageSize int
}

// NewChatService 创建 ChatService 实例
func NewChatService(chatRepo repository.ChatMessageRepository, roomRepo repository.RoomRepository, userRepo repository.UserRepository, pageSize int) *ChatService {
	if chatRepo == nil || roomRepo == nil || userRepo == nil {
		panic("repositories cannot be nil for ChatService")
	}
	if pageSize <= 0 || pageSize > maxHistoryPageSize {
		pageSize = DefaultHistoryPageSize
	}
	return &ChatService{chatRepo: chatRepo, roomRepo: roomRepo, userRepo: userRepo, pageSize: pageSize}
}

// ValidateContent 校验客户端提交的消息内容与类型，客户端不允许发送 SYSTEM 消息
func ValidateContent(content string, msgType domain.MessageType) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: message content is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > MaxChatContentLength {
		return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, MaxChatContentLength)
	}
	if !msgType.IsValid() || msgType == domain.MessageTypeSystem {
		return fmt.Errorf("%w: unsupported message type %q", ErrInvalidInput, msgType)
	}
	return nil
}

// PersistMessage 校验并写入一条队列消息，时间戳沿用任务中的值。
// 重复投递的同一 MessageID 只写入一次。
func (s *ChatService) PersistMessage(ctx context.Context, job domain.ChatMessageJob) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": job.RoomID, "message_id": job.MessageID})

	if job.MessageID == "" || job.RoomID == 0 || !job.Type.IsValid() || job.Content == "" {
		return fmt.Errorf("%w: incomplete chat job", ErrInvalidInput)
	}

	room, err := s.roomRepo.FindByID(ctx, job.RoomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("load room %d: %w", job.RoomID, err)
	}

	if job.Type != domain.MessageTypeSystem {
		if job.UserID == nil {
			return fmt.Errorf("%w: user message without user id", ErrInvalidInput)
		}
		if _, err := s.userRepo.FindByID(ctx, *job.UserID); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("load user %d: %w", *job.UserID, err)
		}
		if room.FindMember(*job.UserID) == nil {
			return ErrNotAMember
		}
	}

	msg := domain.NewChatMessageFromJob(job)
	inserted, err := s.chatRepo.Append(ctx, &msg)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	if !inserted {
		logCtx.Debug("Chat message already persisted, skipping duplicate")
		return nil
	}
	logCtx.Debug("Chat message persisted")
	return nil
}

// RecentHistory 返回房间最近的消息，按时间正序排列
func (s *ChatService) RecentHistory(ctx context.Context, roomID uint) ([]domain.ChatMessage, error) {
	messages, err := s.chatRepo.ListByRoom(ctx, roomID, 1, s.pageSize)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to load recent chat history")
		return nil, ErrInternalServer
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListHistory 按时间倒序分页查询历史消息，仅房间成员可查看
func (s *ChatService) ListHistory(ctx context.Context, roomID, userID uint, page, limit int) ([]domain.ChatMessage, error) {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithError(err).WithField("room_id", roomID).Error("ListHistory: repository error")
		return nil, ErrInternalServer
	}
	if room.FindMember(userID) == nil {
		return nil, ErrAccessDenied
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > maxHistoryPageSize {
		limit = maxHistoryPageSize
	}
	messages, err := s.chatRepo.ListByRoom(ctx, roomID, page, limit)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to list chat history")
		return nil, ErrInternalServer
	}
	return messages, nil
}
