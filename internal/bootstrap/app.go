package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"gorm.io/gorm"

	httpHandler "github.com/SnehitPandey/studyflow-backend/internal/handler/http"
	wsHandler "github.com/SnehitPandey/studyflow-backend/internal/handler/websocket"
	"github.com/SnehitPandey/studyflow-backend/internal/hub"
	gormpersistence "github.com/SnehitPandey/studyflow-backend/internal/infra/persistence/gorm"
	mongopersistence "github.com/SnehitPandey/studyflow-backend/internal/infra/persistence/mongo"
	"github.com/SnehitPandey/studyflow-backend/internal/infra/setup"
	redisstate "github.com/SnehitPandey/studyflow-backend/internal/infra/state/redis"
	"github.com/SnehitPandey/studyflow-backend/internal/middleware"
	"github.com/SnehitPandey/studyflow-backend/internal/repository"
	"github.com/SnehitPandey/studyflow-backend/internal/service"
	"github.com/SnehitPandey/studyflow-backend/internal/tasks"
	"github.com/SnehitPandey/studyflow-backend/internal/worker"
)

// Role 决定进程运行哪些组件
type Role int

const (
	// RoleAll 同时运行 HTTP/WebSocket 网关和持久化 Worker（受 WORKER_ENABLED 控制）
	RoleAll Role = iota
	// RoleWorker 只运行持久化 Worker
	RoleWorker
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config       *Config
	Log          *logrus.Logger
	DB           *gorm.DB
	RedisClient  *redis.Client
	MongoClient  *mongo.Client // 未配置 MONGO_URI 或连接失败时为 nil
	AsynqClient  *asynq.Client
	WorkerServer *worker.WorkerServer // 未启用 Worker 时为 nil
	Hub          *hub.Hub             // RoleWorker 时为 nil
	HttpServer   *http.Server         // RoleWorker 时为 nil

	role      Role
	hubCancel context.CancelFunc
}

// NewApp 创建并初始化应用的所有组件
func NewApp(role Role) (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. 初始化 Logger
	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s)", log.GetLevel().String())

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(setup.DBOptions{
		Driver:   cfg.DBDriver,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(ctx, setup.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		// 降级运行：实时链路仍可用，在线状态、限流和入队会各自报错并记录日志
		log.WithError(err).Warn("Redis unavailable at startup, running in degraded mode")
	}

	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		mongoClient, err = setup.InitMongo(ctx, cfg.MongoURI)
		if err != nil {
			log.WithError(err).Warn("MongoDB unavailable, dead letters will only be logged")
			mongoClient = nil
		}
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Infrastructure initialized")

	// 4. 初始化 Repositories
	userRepo := gormpersistence.NewGormUserRepository(db)
	roomRepo := gormpersistence.NewGormRoomRepository(db)
	chatRepo := gormpersistence.NewGormChatMessageRepository(db)
	presenceRepo := redisstate.NewRedisPresenceRepository(redisClient, cfg.KeyPrefix)
	rateLimiter := redisstate.NewRedisRateLimiter(redisClient, cfg.KeyPrefix)
	var deadLetterRepo repository.DeadLetterRepository
	if mongoClient != nil {
		deadLetterRepo = mongopersistence.NewMongoDeadLetterRepository(mongoClient, cfg.MongoDB, mongopersistence.DefaultDeadLetterCollection)
	}

	// 5. 初始化 Services
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	roomService := service.NewRoomService(roomRepo, cfg.DefaultMaxSeats)
	chatService := service.NewChatService(chatRepo, roomRepo, userRepo, cfg.HistoryPageSize)
	enqueuer := tasks.NewChatEnqueuer(asynqClient, tasks.EnqueueOptions{
		Queue:          cfg.ChatQueue,
		Attempts:       cfg.JobAttempts,
		Retention:      cfg.JobRetention,
		EnqueueTimeout: cfg.EnqueueTimeout,
	})

	app := &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		MongoClient: mongoClient,
		AsynqClient: asynqClient,
		role:        role,
	}

	// 6. Worker
	if role == RoleWorker || cfg.WorkerEnabled {
		handler := worker.NewChatPersistenceHandler(chatService, rateLimiter, cfg.JobRatePerMinute)
		recorder := worker.NewDeadLetterRecorder(deadLetterRepo, log.WithField("component", "dead_letter"), worker.DefaultAlertInterval)
		app.WorkerServer = worker.NewWorkerServer(redisClientOpt, handler, recorder, worker.ServerOptions{
			Queue:       cfg.ChatQueue,
			Concurrency: cfg.WorkerConcurrency,
			BackoffBase: cfg.JobBackoffBase,
			Redis:       redisClient,
		}, log)
		log.Info("Worker server initialized")
	}
	if role == RoleWorker {
		return app, nil
	}

	// 7. Hub 与 Handlers
	app.Hub = hub.NewHub(roomService, presenceRepo, chatService, enqueuer, hub.Options{
		Redis:      redisClient,
		KeyPrefix:  cfg.KeyPrefix,
		InstanceID: cfg.InstanceID,
	})
	handlers := routeHandlers{
		auth: httpHandler.NewAuthHandler(authService),
		room: httpHandler.NewRoomHandler(roomService),
		chat: httpHandler.NewChatHandler(chatService),
		ws:   wsHandler.NewWebSocketHandler(app.Hub, authService, cfg.JWTSecret, cfg.CORSAllowedOrigin),
	}

	// 8. Gin Engine 和 HTTP Server
	router := newRouter(cfg, log, rateLimiter, handlers)
	app.HttpServer = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

type routeHandlers struct {
	auth *httpHandler.AuthHandler
	room *httpHandler.RoomHandler
	chat *httpHandler.ChatHandler
	ws   *wsHandler.WebSocketHandler
}

func newRouter(cfg *Config, log *logrus.Logger, limiter repository.RateLimiter, h routeHandlers) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))
	router.Use(middleware.RateLimit(limiter, cfg.RateLimitMax, cfg.RateLimitWindow))

	api := router.Group("/api")
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", h.auth.Register)
		authRoutes.POST("/login", h.auth.Login)
	}
	roomRoutes := api.Group("/rooms").Use(middleware.Auth(cfg.JWTSecret))
	{
		roomRoutes.POST("", h.room.CreateRoom)
		roomRoutes.POST("/join", h.room.JoinRoom)
		roomRoutes.GET("/code/:code", h.room.PreviewByCode)
		roomRoutes.GET("/:roomId", h.room.GetRoom)
		roomRoutes.PATCH("/:roomId/status", h.room.UpdateStatus)
		roomRoutes.GET("/:roomId/messages", h.chat.ListMessages)
	}
	// WebSocket 在升级后自行认证
	router.GET("/ws", h.ws.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	return router
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	if a.WorkerServer != nil {
		// Redis 恢复前消息持久化暂停，实时链路不受影响
		a.WorkerServer.StartWithRetry(context.Background())
	}
	if a.role == RoleWorker {
		return
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	a.hubCancel = cancel
	go a.Hub.Run(hubCtx)
	a.Log.Info("Hub relay routine started")

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 1. 停止接收新请求，再断开已有 WebSocket 连接
	if a.HttpServer != nil {
		if err := a.HttpServer.Shutdown(ctx); err != nil {
			a.Log.Errorf("Error shutting down HTTP server: %v", err)
		} else {
			a.Log.Info("HTTP server shut down gracefully.")
		}
	}
	if a.Hub != nil {
		if a.hubCancel != nil {
			a.hubCancel()
		}
		a.Hub.StopAllSubscriptions()
		a.Hub.CloseAll()
	}

	// 2. Worker 会等待进行中的任务完成
	if a.WorkerServer != nil {
		a.WorkerServer.Shutdown()
	}

	// 3. 关闭客户端连接
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.MongoClient != nil {
		if err := a.MongoClient.Disconnect(ctx); err != nil {
			a.Log.Errorf("Error disconnecting MongoDB: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" && c.Query("token") == "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}

// CORSMiddleware 只允许配置的来源跨域访问
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
