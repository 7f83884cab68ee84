package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DBOptions 数据库连接参数
type DBOptions struct {
	Driver   string // mysql | postgres
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// RedisOptions Redis 连接参数
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

const (
	redisConnectAttempts = 5
	redisBackoffBase     = 200 * time.Millisecond
	redisBackoffMax      = 3 * time.Second
)

// InitDB 按驱动类型打开数据库连接并配置连接池
func InitDB(opts DBOptions) (*gorm.DB, error) {
	dialector, err := dialectorFor(opts)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB() // 获取底层的 *sql.DB 对象
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logrus.WithField("driver", opts.Driver).Info("Database connected")
	return db, nil
}

func dialectorFor(opts DBOptions) (gorm.Dialector, error) {
	if opts.User == "" {
		return nil, fmt.Errorf("database user must be set")
	}
	switch opts.Driver {
	case "", "mysql":
		host, port := withDefault(opts.Host, "127.0.0.1"), withDefault(opts.Port, "3306")
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			opts.User, opts.Password, host, port, withDefault(opts.Name, "studyflow"))
		return mysql.Open(dsn), nil
	case "postgres":
		host, port := withDefault(opts.Host, "127.0.0.1"), withDefault(opts.Port, "5432")
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			host, port, opts.User, opts.Password, withDefault(opts.Name, "studyflow"))
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// InitRedis 创建 Redis 客户端并做有限次数的连通性检查。
// 检查失败时仍返回客户端和错误，调用方可以选择降级运行，go-redis 会在后续命令中自动重连。
func InitRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxConnAge:   30 * time.Minute, // 连接最大存活时间
	})

	var lastErr error
	for attempt := 0; attempt < redisConnectAttempts; attempt++ {
		if attempt > 0 {
			delay := RetryBackoff(attempt-1, redisBackoffBase, redisBackoffMax)
			logrus.WithFields(logrus.Fields{"attempt": attempt + 1, "delay": delay}).Warn("Retrying Redis connection")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return client, ctx.Err()
			}
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			logrus.WithField("addr", opts.Addr).Info("Redis connected")
			return client, nil
		}
	}
	return client, fmt.Errorf("redis unreachable at %s after %d attempts: %w", opts.Addr, redisConnectAttempts, lastErr)
}

// RetryBackoff 返回第 n 次重试前的等待时间：base·2^n，上限 max
func RetryBackoff(n int, base, max time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
