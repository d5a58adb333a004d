package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable through STORE_BACKEND.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendREST     = "rest"
	StoreBackendMemory   = "memory"
)

// Merge throttle backends selectable through MERGE_THROTTLE_BACKEND.
const (
	ThrottleBackendMemory = "memory"
	ThrottleBackendRedis  = "redis"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Store        StoreConfig
	Postgres     PostgresConfig
	Tabular      TabularConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Session      SessionConfig
	Notification NotificationConfig
	Merge        MergeConfig
	Queue        QueueConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	InstitutionsFile      string
}

// StoreConfig selects the case store implementation.
type StoreConfig struct {
	Backend string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnectRetries int
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// TabularConfig holds the hosted tabular store settings.
type TabularConfig struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
	MaxRetries     int
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	// URL, when set, takes precedence over the discrete fields.
	URL      string
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level  string
	// Format is "json" or "console".
	Format string
}

// SessionConfig defines how session cookies are verified.
type SessionConfig struct {
	JWTSecret  string
	CookieName string
}

// NotificationConfig holds outbound notification endpoints.
type NotificationConfig struct {
	TransferWebhookURL    string
	WebhookTimeoutSeconds int
	AMQPURL               string
	AMQPExchange          string
	GhostMessagesEnabled  bool
}

// MergeConfig controls duplicate merging.
type MergeConfig struct {
	ThrottleBackend       string
	CooldownSeconds       int
	WorkerIntervalSeconds int
	MessageBatchSize      int
}

// QueueConfig controls round robin assignment.
type QueueConfig struct {
	DefaultMode           string
	AutoAssignBatchSize   int
	WorkerIntervalSeconds int
	BulkAssignLimit       int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "case-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			InstitutionsFile:      os.Getenv("INSTITUTIONS_FILE"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnectRetries: getEnvAsInt("POSTGRES_CONNECT_RETRIES", 3),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Tabular: TabularConfig{
			BaseURL:        os.Getenv("TABULAR_BASE_URL"),
			APIKey:         os.Getenv("TABULAR_API_KEY"),
			TimeoutSeconds: getEnvAsInt("TABULAR_TIMEOUT_SECONDS", 20),
			MaxRetries:     getEnvAsInt("TABULAR_MAX_RETRIES", 3),
		},
		Redis: RedisConfig{
			URL:      os.Getenv("REDIS_URL"),
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		Session: SessionConfig{
			JWTSecret:  getEnv("SESSION_JWT_SECRET", "dev-secret"),
			CookieName: getEnv("SESSION_COOKIE_NAME", "case_session"),
		},
		Notification: NotificationConfig{
			TransferWebhookURL:    os.Getenv("NOTIFY_TRANSFER_WEBHOOK_URL"),
			WebhookTimeoutSeconds: getEnvAsInt("NOTIFY_WEBHOOK_TIMEOUT_SECONDS", 10),
			AMQPURL:               os.Getenv("NOTIFY_AMQP_URL"),
			AMQPExchange:          getEnv("NOTIFY_AMQP_EXCHANGE", "cases"),
			GhostMessagesEnabled:  getEnvAsBool("NOTIFY_GHOST_MESSAGES", true),
		},
		Merge: MergeConfig{
			ThrottleBackend:       strings.ToLower(getEnv("MERGE_THROTTLE_BACKEND", ThrottleBackendMemory)),
			CooldownSeconds:       getEnvAsInt("MERGE_COOLDOWN_SECONDS", 60),
			WorkerIntervalSeconds: getEnvAsInt("MERGE_WORKER_INTERVAL_SECONDS", 0),
			MessageBatchSize:      getEnvAsInt("MERGE_MESSAGE_BATCH_SIZE", 5),
		},
		Queue: QueueConfig{
			DefaultMode:           strings.ToLower(getEnv("QUEUE_DEFAULT_MODE", "manual")),
			AutoAssignBatchSize:   getEnvAsInt("QUEUE_AUTO_ASSIGN_BATCH_SIZE", 50),
			WorkerIntervalSeconds: getEnvAsInt("QUEUE_WORKER_INTERVAL_SECONDS", 0),
			BulkAssignLimit:       getEnvAsInt("QUEUE_BULK_ASSIGN_LIMIT", 50),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations that cannot start.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("POSTGRES_DSN required for store backend %q", c.Store.Backend)
		}
	case StoreBackendREST:
		if c.Tabular.BaseURL == "" {
			return fmt.Errorf("TABULAR_BASE_URL required for store backend %q", c.Store.Backend)
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Merge.ThrottleBackend {
	case ThrottleBackendMemory, ThrottleBackendRedis:
	default:
		return fmt.Errorf("unsupported MERGE_THROTTLE_BACKEND %q", c.Merge.ThrottleBackend)
	}
	if c.Queue.DefaultMode != "manual" && c.Queue.DefaultMode != "auto" {
		return fmt.Errorf("unsupported QUEUE_DEFAULT_MODE %q", c.Queue.DefaultMode)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Cooldown returns the automatic merge throttle window.
func (m MergeConfig) Cooldown() time.Duration {
	if m.CooldownSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(m.CooldownSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
