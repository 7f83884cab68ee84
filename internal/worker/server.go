package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/infra/setup"
	"github.com/SnehitPandey/studyflow-backend/internal/tasks"
)

const (
	defaultStartRetryBase = time.Second
	defaultStartRetryMax  = 30 * time.Second
	readinessTimeout      = 2 * time.Second
)

// ServerOptions Worker 运行参数
type ServerOptions struct {
	Queue       string
	Concurrency int
	BackoffBase time.Duration // 第 n 次重试前等待 BackoffBase·2^n

	// Redis 非 nil 时，启动前先 PING 确认 Redis 可用
	Redis          *redis.Client
	StartRetryBase time.Duration
	StartRetryMax  time.Duration
}

// WorkerServer 封装了 Asynq Worker Server 的启动和关闭逻辑
type WorkerServer struct {
	newServer func() *asynq.Server
	log       *logrus.Entry
	handler   *ChatPersistenceHandler
	ready     *redis.Client
	retryBase time.Duration
	retryMax  time.Duration

	mu      sync.Mutex
	server  *asynq.Server // 启动成功后非 nil
	cancel  context.CancelFunc
	retryWG sync.WaitGroup
}

// NewWorkerServer 创建一个新的 WorkerServer 实例
func NewWorkerServer(redisOpt asynq.RedisClientOpt, handler *ChatPersistenceHandler, recorder *DeadLetterRecorder, opts ServerOptions, logger *logrus.Logger) *WorkerServer {
	if handler == nil || recorder == nil {
		panic("handler and recorder cannot be nil for WorkerServer")
	}
	logEntry := logger.WithField("component", "worker_server")

	if opts.Queue == "" {
		opts.Queue = tasks.DefaultQueue
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.StartRetryBase <= 0 {
		opts.StartRetryBase = defaultStartRetryBase
	}
	if opts.StartRetryMax <= 0 {
		opts.StartRetryMax = defaultStartRetryMax
	}

	cfg := asynq.Config{
		Concurrency:    opts.Concurrency,
		Queues:         map[string]int{opts.Queue: 1},
		RetryDelayFunc: RetryDelay(opts.BackoffBase),
		IsFailure:      func(err error) bool { return !IsRateLimitError(err) },
		ErrorHandler:   asynq.ErrorHandlerFunc(recorder.HandleError),
		Logger:         logEntry,
		LogLevel:       asynqLogLevel(logger.GetLevel()),
	}

	return &WorkerServer{
		newServer: func() *asynq.Server { return asynq.NewServer(redisOpt, cfg) },
		log:       logEntry,
		handler:   handler,
		ready:     opts.Redis,
		retryBase: opts.StartRetryBase,
		retryMax:  opts.StartRetryMax,
	}
}

// RetryDelay 返回指数退避函数；限流推迟的任务使用错误中给出的等待时间
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, _ *asynq.Task) time.Duration {
		var rle *RateLimitError
		if errors.As(err, &rle) {
			return rle.RetryIn
		}
		if n > 16 {
			n = 16
		}
		return base * time.Duration(1<<uint(n))
	}
}

// Start 尝试启动一次 Worker，成功后处理在后台进行，立即返回。
// 失败只返回错误，由调用方决定降级或重试。
func (ws *WorkerServer) Start(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.server != nil {
		return nil
	}

	if ws.ready != nil {
		pingCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
		err := ws.ready.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
	}

	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeChatPersist, ws.handler)

	ws.log.Info("Worker server starting...")
	// 每次尝试使用新的 asynq.Server，失败的实例不再复用
	server := ws.newServer()
	if err := server.Start(mux); err != nil {
		ws.log.WithError(err).Error("Could not start worker server")
		return err
	}
	ws.server = server
	return nil
}

// StartWithRetry 在后台反复尝试 Start，间隔按指数退避增长，直到成功或 Shutdown。
// Redis 暂时不可用时消息持久化暂停，恢复后自动开始消费积压任务。
func (ws *WorkerServer) StartWithRetry(ctx context.Context) {
	ws.mu.Lock()
	if ws.cancel != nil {
		ws.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	ws.cancel = cancel
	ws.mu.Unlock()

	ws.retryWG.Add(1)
	go func() {
		defer ws.retryWG.Done()
		for attempt := 0; ; attempt++ {
			err := ws.Start(ctx)
			if err == nil {
				ws.log.WithField("attempts", attempt+1).Info("Worker server started")
				return
			}
			delay := setup.RetryBackoff(attempt, ws.retryBase, ws.retryMax)
			ws.log.WithError(err).WithFields(logrus.Fields{"attempt": attempt + 1, "retry_in": delay}).Warn("Worker server not started, chat persistence paused")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()
}

// Started 返回 Worker 是否已在处理任务
func (ws *WorkerServer) Started() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.server != nil
}

// Shutdown 停止启动重试并优雅地关闭 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.mu.Lock()
	cancel := ws.cancel
	ws.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	ws.retryWG.Wait()

	ws.mu.Lock()
	server := ws.server
	ws.server = nil
	ws.mu.Unlock()
	if server != nil {
		server.Shutdown()
	}
	ws.log.Info("Worker server shut down complete.")
}

func asynqLogLevel(level logrus.Level) asynq.LogLevel {
	switch {
	case level >= logrus.DebugLevel:
		return asynq.DebugLevel
	case level == logrus.InfoLevel:
		return asynq.InfoLevel
	case level == logrus.WarnLevel:
		return asynq.WarnLevel
	default:
		return asynq.ErrorLevel
	}
}
