package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/repository"
)

// DefaultAlertInterval 同一任务类型两次告警之间的最小间隔
const DefaultAlertInterval = 5 * time.Minute

// DeadLetterRecorder 是 asynq 的 ErrorHandler：记录每次失败，
// 对重试耗尽或跳过重试的任务写入死信存储，并按任务类型节流告警。
type DeadLetterRecorder struct {
	repo          repository.DeadLetterRepository // 可为 nil，仅记录日志
	log           *logrus.Entry
	alertInterval time.Duration
	now           func() time.Time

	mu        sync.Mutex
	lastAlert map[string]time.Time
}

// NewDeadLetterRecorder 创建 DeadLetterRecorder 实例
func NewDeadLetterRecorder(repo repository.DeadLetterRepository, log *logrus.Entry, alertInterval time.Duration) *DeadLetterRecorder {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if alertInterval <= 0 {
		alertInterval = DefaultAlertInterval
	}
	return &DeadLetterRecorder{
		repo:          repo,
		log:           log,
		alertInterval: alertInterval,
		now:           time.Now,
		lastAlert:     make(map[string]time.Time),
	}
}

// HandleError 实现 asynq.ErrorHandler
func (d *DeadLetterRecorder) HandleError(ctx context.Context, task *asynq.Task, err error) {
	if IsRateLimitError(err) {
		return
	}
	taskID, _ := asynq.GetTaskID(ctx)
	queue, _ := asynq.GetQueueName(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	logCtx := d.log.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": task.Type(),
		"queue":     queue,
		"retried":   retried,
		"max_retry": maxRetry,
	})

	if !errors.Is(err, asynq.SkipRetry) && retried < maxRetry {
		logCtx.WithError(err).Warn("Task failed, will be retried")
		return
	}

	logCtx.WithError(err).Error("Task exhausted retries, archived as dead letter")
	if d.shouldAlert(task.Type()) {
		logCtx.WithField("alert", true).Errorf("ALERT: %s tasks are being dead-lettered", task.Type())
	}

	if d.repo == nil {
		return
	}
	letter := domain.DeadLetter{
		TaskID:   taskID,
		Type:     task.Type(),
		Queue:    queue,
		Payload:  string(task.Payload()),
		Error:    err.Error(),
		Retried:  retried,
		MaxRetry: maxRetry,
		FailedAt: d.now().UTC(),
	}
	// 任务上下文可能已取消
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if saveErr := d.repo.Save(saveCtx, letter); saveErr != nil {
		logCtx.WithError(saveErr).Error("Failed to record dead letter")
	}
}

func (d *DeadLetterRecorder) shouldAlert(taskType string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.lastAlert[taskType]; ok && now.Sub(last) < d.alertInterval {
		return false
	}
	d.lastAlert[taskType] = now
	return true
}
