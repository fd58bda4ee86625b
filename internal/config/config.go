package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Store    StoreConfig
	Mongo    MongoConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Notify   NotificationConfig
	Storage  StorageConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Sentry   SentryConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// StoreConfig selects the ticket document store and its write policy.
type StoreConfig struct {
	Backend          string
	MaxWriteAttempts int
}

// MongoConfig holds MongoDB connection values.
type MongoConfig struct {
	URI               string
	Database          string
	ConnectTimeoutSec int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	EventsChannel string
}

// NotificationConfig bounds the outbound event queue.
type NotificationConfig struct {
	QueueSize            int
	PublishTimeoutMillis int
}

// PublishTimeout returns the per-event publish deadline.
func (n NotificationConfig) PublishTimeout() time.Duration {
	return time.Duration(n.PublishTimeoutMillis) * time.Millisecond
}

// StorageConfig configures the S3-compatible attachment bucket.
type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
	MaxUploadSize int64
}

// Enabled reports whether attachment storage was configured.
func (s StorageConfig) Enabled() bool {
	return s.Endpoint != ""
}

// RequestBodyLimit sizes the HTTP body limit for a message carrying
// maxAttachments base64 encoded files of MaxUploadSize bytes each. A
// non-positive MaxUploadSize means uploads are unbounded, which falls back to
// a fixed ceiling.
func (s StorageConfig) RequestBodyLimit(maxAttachments int) int {
	if s.MaxUploadSize <= 0 {
		return unboundedBodyLimit
	}
	encoded := (s.MaxUploadSize + 2) / 3 * 4
	limit := int64(maxAttachments)*encoded + bodyLimitHeadroom
	if limit > unboundedBodyLimit {
		return unboundedBodyLimit
	}
	return int(limit)
}

const (
	bodyLimitHeadroom  = 1 << 20
	unboundedBodyLimit = 512 << 20
)

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	// Development enables zap's development mode: stack traces on warnings
	// and panics on DPanic.
	Development bool
}

// AuthConfig defines bearer token parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string
	Environment string
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
			Name:                  getEnv("APP_NAME", "support-desk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Store: StoreConfig{
			Backend:          getEnv("STORE_BACKEND", BackendMongo),
			MaxWriteAttempts: getEnvAsInt("STORE_MAX_WRITE_ATTEMPTS", 10),
		},
		Mongo: MongoConfig{
			URI:               getEnv("MONGO_URI", "mongodb://127.0.0.1:27017"),
			Database:          getEnv("MONGO_DB", "support_desk"),
			ConnectTimeoutSec: getEnvAsInt("MONGO_CONNECT_TIMEOUT_SECONDS", 10),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			EventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "ticket-events"),
		},
		Notify: NotificationConfig{
			QueueSize:            getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			PublishTimeoutMillis: getEnvAsInt("NOTIFY_PUBLISH_TIMEOUT_MS", 2000),
		},
		Storage: StorageConfig{
			Endpoint:      os.Getenv("STORAGE_ENDPOINT"),
			AccessKey:     os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey:     os.Getenv("STORAGE_SECRET_KEY"),
			Bucket:        getEnv("STORAGE_BUCKET", "ticket-attachments"),
			Region:        getEnv("STORAGE_REGION", "us-east-1"),
			UseSSL:        getEnvAsBool("STORAGE_USE_SSL", true),
			PublicBaseURL: os.Getenv("STORAGE_PUBLIC_BASE_URL"),
			MaxUploadSize: int64(getEnvAsInt("STORAGE_MAX_UPLOAD_BYTES", 10<<20)),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnv("APP_ENV", "development") == "development",
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Sentry: SentryConfig{
			DSN:         os.Getenv("SENTRY_DSN"),
			Environment: getEnv("SENTRY_ENVIRONMENT", getEnv("APP_ENV", "development")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendMongo, BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Store.Backend == BackendPostgres && c.Postgres.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required for the %s backend", BackendPostgres)
	}
	if c.Store.MaxWriteAttempts <= 0 {
		return fmt.Errorf("STORE_MAX_WRITE_ATTEMPTS must be positive")
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
