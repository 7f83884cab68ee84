package repository

import (
	"context"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
)

// DeadLetterRepository 保存重试耗尽的任务。
type DeadLetterRepository interface {
	Save(ctx context.Context, letter domain.DeadLetter) error
}
