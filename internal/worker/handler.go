package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/repository"
	"github.com/SnehitPandey/studyflow-backend/internal/service"
	"github.com/SnehitPandey/studyflow-backend/internal/tasks"
)

// rateWindow 任务速率限制的统计窗口
const rateWindow = time.Minute

// MessagePersister 持久化一条聊天任务，由 service.ChatService 实现
type MessagePersister interface {
	PersistMessage(ctx context.Context, job domain.ChatMessageJob) error
}

// RateLimitError 表示任务因速率上限被推迟，不计入重试次数
type RateLimitError struct {
	RetryIn time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryIn)
}

// IsRateLimitError 判断错误是否为 RateLimitError
func IsRateLimitError(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// ChatPersistenceHandler 处理聊天持久化任务
type ChatPersistenceHandler struct {
	persister     MessagePersister
	limiter       repository.RateLimiter // 可为 nil，表示不限速
	ratePerMinute int
}

// NewChatPersistenceHandler 创建 Handler 实例
func NewChatPersistenceHandler(persister MessagePersister, limiter repository.RateLimiter, ratePerMinute int) *ChatPersistenceHandler {
	if persister == nil {
		panic("MessagePersister cannot be nil for ChatPersistenceHandler")
	}
	return &ChatPersistenceHandler{persister: persister, limiter: limiter, ratePerMinute: ratePerMinute}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *ChatPersistenceHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID, _ := asynq.GetTaskID(ctx)
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})

	job, err := tasks.ParseChatPersistPayload(t.Payload())
	if err != nil {
		logCtx.WithError(err).Error("Malformed chat persistence payload")
		return fmt.Errorf("malformed payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("room_id", job.RoomID)

	if h.limiter != nil && h.ratePerMinute > 0 {
		limited, err := h.limiter.CheckRateLimit(ctx, "worker:"+tasks.TypeChatPersist, h.ratePerMinute, rateWindow)
		if err != nil {
			// 限流器不可用时继续处理
			logCtx.WithError(err).Warn("Rate limiter unavailable, processing without ceiling")
		} else if limited {
			logCtx.Debug("Chat persistence rate ceiling reached, deferring task")
			return &RateLimitError{RetryIn: rateWindow / 6}
		}
	}

	if err := h.persister.PersistMessage(ctx, job); err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			logCtx.WithError(err).Error("Chat job rejected as invalid")
			return fmt.Errorf("invalid chat job: %v: %w", err, asynq.SkipRetry)
		}
		logCtx.WithError(err).Warn("Failed to persist chat message")
		return fmt.Errorf("persist chat message %s: %w", job.MessageID, err)
	}

	logCtx.Debug("Chat persistence task processed")
	return nil
}
