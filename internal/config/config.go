package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Storage backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Async queue backends. QueueNone commits LogAsync inline.
const (
	QueueRedis  = "redis"
	QueueMemory = "memory"
	QueueNone   = "none"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	JWT       JWTConfig
	Server    ServerConfig
	Signing   SigningConfig
	Retention RetentionConfig
	Verify    VerifyConfig
	Telemetry TelemetryConfig
}

type StoreConfig struct {
	Driver     string
	SQLitePath string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// QueueConfig selects and tunes the async log queue.
type QueueConfig struct {
	Driver       string
	Stream       string
	Group        string
	Consumer     string
	Size         int
	Block        time.Duration
	MinIdle      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration // first redelivery delay of the memory queue
}

// JWTConfig holds operator token settings.
type JWTConfig struct {
	Secret   string //nolint:gosec // G117: JWT signing secret config
	TokenTTL time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	RateLimit    float64
	RateBurst    int
}

// SigningConfig holds the Ed25519 keyring settings. Keys entries are either
// a bare key id (derived from Secret) or "id=<base64 seed>".
type SigningConfig struct {
	Secret string //nolint:gosec // G117: signing root secret config
	Keys   []string
}

type RetentionConfig struct {
	DefaultDays    int
	PolicyFile     string
	PurgeBatchSize int
	PurgeInterval  time.Duration
}

type VerifyConfig struct {
	PageSize int
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables, after merging an
// optional dotenv file (AUDITCHAIN_ENV_FILE, default ".env"). Variables
// already set in the environment win over the file.
// Defaults are safe for local development only.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnv("AUDITCHAIN_ENV_FILE", ".env")); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbPort, err := getEnvInt("AUDITCHAIN_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("AUDITCHAIN_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("AUDITCHAIN_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	queueSize, err := getEnvInt("AUDITCHAIN_QUEUE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	queueBlock, err := getEnvDuration("AUDITCHAIN_QUEUE_BLOCK", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	queueMinIdle, err := getEnvDuration("AUDITCHAIN_QUEUE_MIN_IDLE", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxAttempts, err := getEnvInt("AUDITCHAIN_QUEUE_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	retryBackoff, err := getEnvDuration("AUDITCHAIN_QUEUE_RETRY_BACKOFF", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	tokenTTL, err := getEnvDuration("AUDITCHAIN_JWT_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("AUDITCHAIN_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("AUDITCHAIN_SERVER_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimit, err := getEnvFloat("AUDITCHAIN_RATE_LIMIT", 50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("AUDITCHAIN_RATE_BURST", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	retentionDays, err := getEnvInt("AUDITCHAIN_RETENTION_DEFAULT_DAYS", 365)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	purgeBatch, err := getEnvInt("AUDITCHAIN_PURGE_BATCH_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	purgeInterval, err := getEnvDuration("AUDITCHAIN_PURGE_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pageSize, err := getEnvInt("AUDITCHAIN_VERIFY_PAGE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	hostname, _ := os.Hostname()

	cfg := &Config{
		Store: StoreConfig{
			Driver:     getEnv("AUDITCHAIN_STORE", StorePostgres),
			SQLitePath: getEnv("AUDITCHAIN_SQLITE_PATH", "auditchain.db"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("AUDITCHAIN_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("AUDITCHAIN_DB_USER", "auditchain"),
			Password: getEnv("AUDITCHAIN_DB_PASSWORD", ""),
			DBName:   getEnv("AUDITCHAIN_DB_NAME", "auditchain_dev"),
			SSLMode:  getEnv("AUDITCHAIN_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("AUDITCHAIN_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("AUDITCHAIN_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Queue: QueueConfig{
			Driver:       getEnv("AUDITCHAIN_QUEUE", QueueMemory),
			Stream:       getEnv("AUDITCHAIN_QUEUE_STREAM", "auditchain:requests"),
			Group:        getEnv("AUDITCHAIN_QUEUE_GROUP", "auditchain-workers"),
			Consumer:     getEnv("AUDITCHAIN_QUEUE_CONSUMER", getEnv("HOSTNAME", hostname)),
			Size:         queueSize,
			Block:        queueBlock,
			MinIdle:      queueMinIdle,
			MaxAttempts:  maxAttempts,
			RetryBackoff: retryBackoff,
		},
		JWT: JWTConfig{
			Secret:   getEnv("AUDITCHAIN_JWT_SECRET", ""),
			TokenTTL: tokenTTL,
		},
		Server: ServerConfig{
			Addr:         getEnv("AUDITCHAIN_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  getEnvList("AUDITCHAIN_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RateLimit:    rateLimit,
			RateBurst:    rateBurst,
		},
		Signing: SigningConfig{
			Secret: getEnv("AUDITCHAIN_SIGNING_SECRET", ""),
			Keys:   getEnvList("AUDITCHAIN_SIGNING_KEYS", nil),
		},
		Retention: RetentionConfig{
			DefaultDays:    retentionDays,
			PolicyFile:     getEnv("AUDITCHAIN_RETENTION_POLICY_FILE", ""),
			PurgeBatchSize: purgeBatch,
			PurgeInterval:  purgeInterval,
		},
		Verify: VerifyConfig{
			PageSize: pageSize,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getEnv("AUDITCHAIN_OTEL_ENDPOINT", ""),
			ServiceName:  getEnv("AUDITCHAIN_OTEL_SERVICE_NAME", "auditchain"),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	switch c.Store.Driver {
	case StorePostgres, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("AUDITCHAIN_STORE must be one of postgres, sqlite, memory, got %q", c.Store.Driver)
	}
	switch c.Queue.Driver {
	case QueueRedis, QueueMemory, QueueNone:
	default:
		return fmt.Errorf("AUDITCHAIN_QUEUE must be one of redis, memory, none, got %q", c.Queue.Driver)
	}

	// The JWT secret is only required to serve, but a short one is never accepted.
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return errors.New("AUDITCHAIN_JWT_SECRET must be at least 32 characters")
	}

	if c.Store.Driver == StorePostgres && c.Database.SSLMode == "disable" {
		log.Warn().Msg("AUDITCHAIN_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("AUDITCHAIN_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("AUDITCHAIN_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Queue.Size < 1 {
		return fmt.Errorf("AUDITCHAIN_QUEUE_SIZE must be >= 1, got %d", c.Queue.Size)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("AUDITCHAIN_QUEUE_MAX_ATTEMPTS must be >= 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.RetryBackoff <= 0 {
		return fmt.Errorf("AUDITCHAIN_QUEUE_RETRY_BACKOFF must be positive, got %s", c.Queue.RetryBackoff)
	}
	if c.JWT.TokenTTL <= 0 {
		return fmt.Errorf("AUDITCHAIN_JWT_TTL must be positive, got %s", c.JWT.TokenTTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("AUDITCHAIN_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("AUDITCHAIN_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("AUDITCHAIN_RATE_LIMIT must be positive, got %g", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("AUDITCHAIN_RATE_BURST must be >= 1, got %d", c.Server.RateBurst)
	}
	if c.Retention.DefaultDays < 1 {
		return fmt.Errorf("AUDITCHAIN_RETENTION_DEFAULT_DAYS must be >= 1, got %d", c.Retention.DefaultDays)
	}
	if c.Retention.PurgeBatchSize < 1 {
		return fmt.Errorf("AUDITCHAIN_PURGE_BATCH_SIZE must be >= 1, got %d", c.Retention.PurgeBatchSize)
	}
	if c.Retention.PurgeInterval < 0 {
		return fmt.Errorf("AUDITCHAIN_PURGE_INTERVAL must not be negative, got %s", c.Retention.PurgeInterval)
	}
	if c.Verify.PageSize < 1 {
		return fmt.Errorf("AUDITCHAIN_VERIFY_PAGE_SIZE must be >= 1, got %d", c.Verify.PageSize)
	}

	return nil
}

// RequireJWT fails unless an operator token secret is configured.
func (c *Config) RequireJWT() error {
	if c.JWT.Secret == "" {
		return errors.New("AUDITCHAIN_JWT_SECRET is required")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
