package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	httpHandler "github.com/SnehitPandey/studyflow-backend/internal/handler/http"
	wsHandler "github.com/SnehitPandey/studyflow-backend/internal/handler/websocket"
	"github.com/SnehitPandey/studyflow-backend/internal/hub"
	redisstate "github.com/SnehitPandey/studyflow-backend/internal/infra/state/redis"
	"github.com/SnehitPandey/studyflow-backend/internal/repository/mocks"
	"github.com/SnehitPandey/studyflow-backend/internal/service"
	"github.com/SnehitPandey/studyflow-backend/internal/tasks"
)

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(context.Context, domain.ChatMessageJob) error { return nil }

func setRequiredEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "config-test-secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, "sf:", cfg.KeyPrefix)
	assert.Equal(t, tasks.DefaultQueue, cfg.ChatQueue)
	assert.Equal(t, 3, cfg.JobAttempts)
	assert.Equal(t, 2*time.Second, cfg.JobBackoffBase)
	assert.Equal(t, 24*time.Hour, cfg.JobRetention)
	assert.Equal(t, service.DefaultMaxSeats, cfg.DefaultMaxSeats)
	assert.True(t, cfg.WorkerEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("JOB_BACKOFF_BASE", "500")
	t.Setenv("JOB_RETENTION", "2h")
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")
	t.Setenv("LOG_LEVEL", "verbose")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 500*time.Millisecond, cfg.JobBackoffBase, "纯数字按毫秒处理")
	assert.Equal(t, 2*time.Hour, cfg.JobRetention)
	assert.False(t, cfg.WorkerEnabled)
	assert.Equal(t, 5, cfg.WorkerConcurrency, "非法值回退到默认值")
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_RequiredValues(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("JWT_SECRET", "secret")
	_, err := LoadConfig()
	assert.Error(t, err)

	setRequiredEnv(t)
	t.Setenv("JOB_ATTEMPTS", "0")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestRouter_Wiring(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &Config{
		JWTSecret:         "router-secret",
		AppEnv:            "production",
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimitMax:      100,
		RateLimitWindow:   time.Second,
	}
	userRepo, roomRepo, chatRepo := new(mocks.UserRepository), new(mocks.RoomRepository), new(mocks.ChatMessageRepository)
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, 1)
	require.NoError(t, err)
	roomService := service.NewRoomService(roomRepo, 0)
	chatService := service.NewChatService(chatRepo, roomRepo, userRepo, 0)
	h := hub.NewHub(roomService, redisstate.NewRedisPresenceRepository(client, ""), chatService, nopEnqueuer{}, hub.Options{})

	router := newRouter(cfg, NewLogger(cfg), redisstate.NewRedisRateLimiter(client, ""), routeHandlers{
		auth: httpHandler.NewAuthHandler(authService),
		room: httpHandler.NewRoomHandler(roomService),
		chat: httpHandler.NewChatHandler(chatService),
		ws:   wsHandler.NewWebSocketHandler(h, authService, cfg.JWTSecret, ""),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms/1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "房间接口需要认证")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/rooms", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
