package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	redisstate "github.com/SnehitPandey/studyflow-backend/internal/infra/state/redis"
	"github.com/SnehitPandey/studyflow-backend/internal/service"
	"github.com/SnehitPandey/studyflow-backend/internal/tasks"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DBDriver   string
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis Key 前缀

	MongoURI string // 为空时死信只写日志
	MongoDB  string

	JWTSecret      string
	JWTExpiryHours int

	ServerPort        string
	LogLevel          string
	AppEnv            string // development / production
	CORSAllowedOrigin string
	RateLimitMax      int
	RateLimitWindow   time.Duration

	// 持久化队列
	ChatQueue         string
	WorkerEnabled     bool
	WorkerConcurrency int
	JobAttempts       int
	JobBackoffBase    time.Duration
	JobRatePerMinute  int // 0 表示不限速
	JobRetention      time.Duration
	EnqueueTimeout    time.Duration

	HistoryPageSize int
	DefaultMaxSeats int
	InstanceID      string // 为空时 Hub 自动生成
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load() // 忽略错误，允许只使用环境变量

	cfg := &Config{
		DBDriver:          envString("DB_DRIVER", "mysql"),
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBHost:            os.Getenv("DB_HOST"),
		DBPort:            os.Getenv("DB_PORT"),
		DBName:            os.Getenv("DB_NAME"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           envInt("REDIS_DB", 0),
		KeyPrefix:         envString("REDIS_KEY_PREFIX", redisstate.DefaultKeyPrefix),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDB:           envString("MONGO_DB", "studyflow"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTExpiryHours:    envInt("JWT_EXPIRY_HOURS", 24),
		ServerPort:        envString("SERVER_PORT", "8080"),
		LogLevel:          envString("LOG_LEVEL", "info"),
		AppEnv:            envString("APP_ENV", "development"),
		CORSAllowedOrigin: envString("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
		RateLimitMax:      envInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", time.Second),
		ChatQueue:         envString("CHAT_QUEUE", tasks.DefaultQueue),
		WorkerEnabled:     envBool("WORKER_ENABLED", true),
		WorkerConcurrency: envInt("WORKER_CONCURRENCY", 5),
		JobAttempts:       envInt("JOB_ATTEMPTS", tasks.DefaultAttempts),
		JobBackoffBase:    envDuration("JOB_BACKOFF_BASE", 2*time.Second),
		JobRatePerMinute:  envInt("JOB_RATE_PER_MINUTE", 100),
		JobRetention:      envDuration("JOB_RETENTION", tasks.DefaultRetention),
		EnqueueTimeout:    envDuration("ENQUEUE_TIMEOUT", tasks.DefaultEnqueueTimeout),
		HistoryPageSize:   envInt("HISTORY_PAGE_SIZE", service.DefaultHistoryPageSize),
		DefaultMaxSeats:   envInt("DEFAULT_MAX_SEATS", service.DefaultMaxSeats),
		InstanceID:        os.Getenv("INSTANCE_ID"),
	}

	// --- 必要检查 ---
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.JobAttempts < 1 {
		return nil, fmt.Errorf("JOB_ATTEMPTS must be at least 1, got %d", cfg.JobAttempts)
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// NewLogger 按配置创建 logrus Logger
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel) // 已被 LoadConfig 验证
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	// 各组件通过包级 logrus 记录日志，保持与 App logger 一致
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	return log
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %d", key, raw, def)
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %t", key, raw, def)
		return def
	}
	return v
}

// envDuration 接受 time.ParseDuration 格式，纯数字按毫秒处理
func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %s", key, raw, def)
		return def
	}
	return v
}
