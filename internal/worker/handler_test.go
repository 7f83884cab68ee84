package worker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/repository/mocks"
	"github.com/SnehitPandey/studyflow-backend/internal/service"
	"github.com/SnehitPandey/studyflow-backend/internal/tasks"
	"github.com/SnehitPandey/studyflow-backend/internal/worker"
)

type mockPersister struct {
	mock.Mock
}

func (m *mockPersister) PersistMessage(ctx context.Context, job domain.ChatMessageJob) error {
	return m.Called(ctx, job).Error(0)
}

func newTask(t *testing.T, job domain.ChatMessageJob) *asynq.Task {
	t.Helper()
	task, err := tasks.NewChatPersistTask(job)
	require.NoError(t, err)
	return task
}

func sampleJob() domain.ChatMessageJob {
	uid := uint(2)
	return domain.ChatMessageJob{
		MessageID: "m-1", RoomID: 3, UserID: &uid, Username: "bob",
		Content: "hello", Type: domain.MessageTypeText,
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestChatPersistenceHandler_Success(t *testing.T) {
	persister := new(mockPersister)
	limiter := new(mocks.RateLimiter)
	h := worker.NewChatPersistenceHandler(persister, limiter, 100)
	ctx := context.Background()

	limiter.On("CheckRateLimit", ctx, "worker:"+tasks.TypeChatPersist, 100, time.Minute).Return(false, nil).Once()
	persister.On("PersistMessage", ctx, mock.MatchedBy(func(job domain.ChatMessageJob) bool {
		return job.MessageID == "m-1" && job.Timestamp.Equal(sampleJob().Timestamp)
	})).Return(nil).Once()

	require.NoError(t, h.ProcessTask(ctx, newTask(t, sampleJob())))
	persister.AssertExpectations(t)
	limiter.AssertExpectations(t)
}

func TestChatPersistenceHandler_MalformedPayloadSkipsRetry(t *testing.T) {
	persister := new(mockPersister)
	h := worker.NewChatPersistenceHandler(persister, nil, 0)

	err := h.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeChatPersist, []byte("garbage")))

	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "格式错误的任务不应重试")
	persister.AssertNotCalled(t, "PersistMessage", mock.Anything, mock.Anything)
}

func TestChatPersistenceHandler_InvalidJobSkipsRetry(t *testing.T) {
	persister := new(mockPersister)
	h := worker.NewChatPersistenceHandler(persister, nil, 0)
	ctx := context.Background()

	persister.On("PersistMessage", ctx, mock.Anything).Return(fmt.Errorf("%w: incomplete chat job", service.ErrInvalidInput)).Once()

	err := h.ProcessTask(ctx, newTask(t, sampleJob()))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestChatPersistenceHandler_PersistFailureIsRetried(t *testing.T) {
	persister := new(mockPersister)
	h := worker.NewChatPersistenceHandler(persister, nil, 0)
	ctx := context.Background()

	persister.On("PersistMessage", ctx, mock.Anything).Return(service.ErrRoomNotFound).Once()

	err := h.ProcessTask(ctx, newTask(t, sampleJob()))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestChatPersistenceHandler_RateLimited(t *testing.T) {
	persister := new(mockPersister)
	limiter := new(mocks.RateLimiter)
	h := worker.NewChatPersistenceHandler(persister, limiter, 100)
	ctx := context.Background()

	limiter.On("CheckRateLimit", ctx, mock.Anything, 100, time.Minute).Return(true, nil).Once()

	err := h.ProcessTask(ctx, newTask(t, sampleJob()))
	require.Error(t, err)
	assert.True(t, worker.IsRateLimitError(err))
	persister.AssertNotCalled(t, "PersistMessage", mock.Anything, mock.Anything)
}

func TestChatPersistenceHandler_LimiterDownFailsOpen(t *testing.T) {
	persister := new(mockPersister)
	limiter := new(mocks.RateLimiter)
	h := worker.NewChatPersistenceHandler(persister, limiter, 100)
	ctx := context.Background()

	limiter.On("CheckRateLimit", ctx, mock.Anything, 100, time.Minute).Return(false, errors.New("redis down")).Once()
	persister.On("PersistMessage", ctx, mock.Anything).Return(nil).Once()

	assert.NoError(t, h.ProcessTask(ctx, newTask(t, sampleJob())))
	persister.AssertExpectations(t)
}

func TestRetryDelay(t *testing.T) {
	delay := worker.RetryDelay(2 * time.Second)
	task := asynq.NewTask(tasks.TypeChatPersist, nil)

	assert.Equal(t, 2*time.Second, delay(0, errors.New("x"), task))
	assert.Equal(t, 4*time.Second, delay(1, errors.New("x"), task))
	assert.Equal(t, 10*time.Second, delay(5, &worker.RateLimitError{RetryIn: 10 * time.Second}, task), "限流推迟使用固定等待")
}
