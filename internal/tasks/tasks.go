package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
)

// 任务类型常量
const (
	TypeChatPersist = "chat:persist" // 聊天消息持久化任务
)

// 队列默认参数
const (
	DefaultQueue          = "chat"
	DefaultAttempts       = 3
	DefaultRetention      = 24 * time.Hour
	DefaultEnqueueTimeout = 2 * time.Second
	defaultTaskTimeout    = 30 * time.Second
)

// NewChatPersistTask 创建聊天持久化任务，payload 为 ChatMessageJob 的 JSON
func NewChatPersistTask(job domain.ChatMessageJob) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal chat job %s: %w", job.MessageID, err)
	}
	return asynq.NewTask(TypeChatPersist, payload), nil
}

// ParseChatPersistPayload 解析任务 payload，缺少关键字段视为格式错误
func ParseChatPersistPayload(payload []byte) (domain.ChatMessageJob, error) {
	var job domain.ChatMessageJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("unmarshal chat job: %w", err)
	}
	if job.MessageID == "" || job.RoomID == 0 {
		return job, errors.New("chat job missing messageId or roomId")
	}
	return job, nil
}

// EnqueueOptions 入队参数，零值字段使用默认值
type EnqueueOptions struct {
	Queue          string
	Attempts       int           // 总尝试次数，含首次执行
	Retention      time.Duration // 完成后任务保留时长
	EnqueueTimeout time.Duration
}

// ChatEnqueuer 将聊天消息写入持久化队列。
// 入队只等待 Redis 确认，不等待数据库写入。
type ChatEnqueuer struct {
	client *asynq.Client
	opts   EnqueueOptions
}

// NewChatEnqueuer 创建 ChatEnqueuer 实例
func NewChatEnqueuer(client *asynq.Client, opts EnqueueOptions) *ChatEnqueuer {
	if client == nil {
		panic("asynq client cannot be nil for ChatEnqueuer")
	}
	if opts.Queue == "" {
		opts.Queue = DefaultQueue
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = DefaultEnqueueTimeout
	}
	return &ChatEnqueuer{client: client, opts: opts}
}

// TaskOptions 返回每个聊天任务使用的 asynq 选项。任务 ID 即消息 ID，重复入队会被 asynq 拒绝。
func (e *ChatEnqueuer) TaskOptions(job domain.ChatMessageJob) []asynq.Option {
	return []asynq.Option{
		asynq.TaskID(job.MessageID),
		asynq.Queue(e.opts.Queue),
		asynq.MaxRetry(e.opts.Attempts - 1),
		asynq.Retention(e.opts.Retention),
		asynq.Timeout(defaultTaskTimeout),
	}
}

// Enqueue 入队一条消息，超时由 EnqueueTimeout 控制
func (e *ChatEnqueuer) Enqueue(ctx context.Context, job domain.ChatMessageJob) error {
	task, err := NewChatPersistTask(job)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.EnqueueTimeout)
	defer cancel()

	info, err := e.client.EnqueueContext(ctx, task, e.TaskOptions(job)...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue chat job %s: %w", job.MessageID, err)
	}
	logrus.WithFields(logrus.Fields{
		"task_id": info.ID,
		"queue":   info.Queue,
		"room_id": job.RoomID,
	}).Debug("Chat message enqueued for persistence")
	return nil
}
