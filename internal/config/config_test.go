package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "AUDITCHAIN_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "AUDITCHAIN_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "AUDITCHAIN_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
		{name: "preserves whitespace", key: "AUDITCHAIN_TEST_GETENV_WS", setVal: strPtr("  spaced  "), fallback: "x", want: "  spaced  "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got := getEnv(tc.key, tc.fallback)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "AUDITCHAIN_TEST_INT_UNSET", setVal: nil, fallback: 42, want: 42},
		{name: "parses valid int", key: "AUDITCHAIN_TEST_INT_VALID", setVal: strPtr("8080"), fallback: 0, want: 8080},
		{name: "parses negative int", key: "AUDITCHAIN_TEST_INT_NEG", setVal: strPtr("-1"), fallback: 0, want: -1},
		{name: "parses zero", key: "AUDITCHAIN_TEST_INT_ZERO", setVal: strPtr("0"), fallback: 99, want: 0},
		{name: "returns fallback for empty string", key: "AUDITCHAIN_TEST_INT_EMPTY", setVal: strPtr(""), fallback: 25, want: 25},
		{name: "errors on non-numeric", key: "AUDITCHAIN_TEST_INT_NAN", setVal: strPtr("abc"), fallback: 0, wantErr: true},
		{name: "errors on float", key: "AUDITCHAIN_TEST_INT_FLOAT", setVal: strPtr("3.14"), fallback: 0, wantErr: true},
		{name: "errors on hex", key: "AUDITCHAIN_TEST_INT_HEX", setVal: strPtr("0xFF"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback float64
		want     float64
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "AUDITCHAIN_TEST_FLOAT_UNSET", setVal: nil, fallback: 2.5, want: 2.5},
		{name: "parses float", key: "AUDITCHAIN_TEST_FLOAT_VALID", setVal: strPtr("0.5"), fallback: 0, want: 0.5},
		{name: "parses integer", key: "AUDITCHAIN_TEST_FLOAT_INT", setVal: strPtr("10"), fallback: 0, want: 10},
		{name: "errors on garbage", key: "AUDITCHAIN_TEST_FLOAT_NAN", setVal: strPtr("fast"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvFloat(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "AUDITCHAIN_TEST_DUR_UNSET", setVal: nil, fallback: 10 * time.Second, want: 10 * time.Second},
		{name: "parses seconds", key: "AUDITCHAIN_TEST_DUR_SEC", setVal: strPtr("30s"), fallback: 0, want: 30 * time.Second},
		{name: "parses compound", key: "AUDITCHAIN_TEST_DUR_COMPOUND", setVal: strPtr("1h30m"), fallback: 0, want: 90 * time.Minute},
		{name: "parses zero", key: "AUDITCHAIN_TEST_DUR_ZERO", setVal: strPtr("0s"), fallback: time.Second, want: 0},
		{name: "errors on bare number", key: "AUDITCHAIN_TEST_DUR_BARE", setVal: strPtr("30"), fallback: 0, wantErr: true},
		{name: "errors on garbage", key: "AUDITCHAIN_TEST_DUR_BAD", setVal: strPtr("soon"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvList(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback []string
		want     []string
	}{
		{name: "returns fallback when unset", key: "AUDITCHAIN_TEST_LIST_UNSET", setVal: nil, fallback: []string{"a"}, want: []string{"a"}},
		{name: "splits and trims", key: "AUDITCHAIN_TEST_LIST_SPLIT", setVal: strPtr(" a , b,c "), fallback: nil, want: []string{"a", "b", "c"}},
		{name: "drops empty entries", key: "AUDITCHAIN_TEST_LIST_EMPTY", setVal: strPtr("a,,b,"), fallback: nil, want: []string{"a", "b"}},
		{name: "single value", key: "AUDITCHAIN_TEST_LIST_ONE", setVal: strPtr("primary"), fallback: nil, want: []string{"primary"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			assert.Equal(t, tc.want, getEnvList(tc.key, tc.fallback))
		})
	}
}

// ---------------------------------------------------------------------------
// Load tests
// ---------------------------------------------------------------------------

// isolate points the dotenv lookup at an empty directory so a developer's
// .env never leaks into assertions.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("AUDITCHAIN_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.Equal(t, "auditchain.db", cfg.Store.SQLitePath)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "auditchain", cfg.Database.User)
	assert.Equal(t, "auditchain_dev", cfg.Database.DBName)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 25, cfg.Database.MaxConns)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, QueueMemory, cfg.Queue.Driver)
	assert.Equal(t, "auditchain:requests", cfg.Queue.Stream)
	assert.Equal(t, "auditchain-workers", cfg.Queue.Group)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.RetryBackoff)
	assert.Equal(t, time.Hour, cfg.JWT.TokenTTL)
	assert.Empty(t, cfg.JWT.Secret)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.Empty(t, cfg.Signing.Keys)
	assert.Equal(t, 365, cfg.Retention.DefaultDays)
	assert.Equal(t, 500, cfg.Retention.PurgeBatchSize)
	assert.Zero(t, cfg.Retention.PurgeInterval)
	assert.Equal(t, 1000, cfg.Verify.PageSize)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "auditchain", cfg.Telemetry.ServiceName)
}

func TestLoad_AllCustomValues(t *testing.T) {
	isolate(t)
	t.Setenv("AUDITCHAIN_STORE", "sqlite")
	t.Setenv("AUDITCHAIN_SQLITE_PATH", "/var/lib/auditchain/chain.db")
	t.Setenv("AUDITCHAIN_DB_HOST", "db.example.com")
	t.Setenv("AUDITCHAIN_DB_PORT", "5433")
	t.Setenv("AUDITCHAIN_DB_USER", "admin")
	t.Setenv("AUDITCHAIN_DB_PASSWORD", "s3cret")
	t.Setenv("AUDITCHAIN_DB_NAME", "audit_prod")
	t.Setenv("AUDITCHAIN_DB_SSLMODE", "require")
	t.Setenv("AUDITCHAIN_DB_MAX_CONNS", "50")
	t.Setenv("AUDITCHAIN_REDIS_ADDR", "redis:6380")
	t.Setenv("AUDITCHAIN_REDIS_DB", "3")
	t.Setenv("AUDITCHAIN_QUEUE", "redis")
	t.Setenv("AUDITCHAIN_QUEUE_STREAM", "audit:in")
	t.Setenv("AUDITCHAIN_QUEUE_GROUP", "writers")
	t.Setenv("AUDITCHAIN_QUEUE_CONSUMER", "writer-1")
	t.Setenv("AUDITCHAIN_QUEUE_MAX_ATTEMPTS", "9")
	t.Setenv("AUDITCHAIN_JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	t.Setenv("AUDITCHAIN_JWT_TTL", "15m")
	t.Setenv("AUDITCHAIN_SERVER_ADDR", ":9090")
	t.Setenv("AUDITCHAIN_SERVER_READ_TIMEOUT", "5s")
	t.Setenv("AUDITCHAIN_SERVER_WRITE_TIMEOUT", "2m")
	t.Setenv("AUDITCHAIN_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AUDITCHAIN_SIGNING_SECRET", "root")
	t.Setenv("AUDITCHAIN_SIGNING_KEYS", "primary,backup")
	t.Setenv("AUDITCHAIN_RETENTION_DEFAULT_DAYS", "30")
	t.Setenv("AUDITCHAIN_RETENTION_POLICY_FILE", "/etc/auditchain/retention.yaml")
	t.Setenv("AUDITCHAIN_PURGE_BATCH_SIZE", "100")
	t.Setenv("AUDITCHAIN_PURGE_INTERVAL", "1h")
	t.Setenv("AUDITCHAIN_QUEUE_RETRY_BACKOFF", "2s")
	t.Setenv("AUDITCHAIN_VERIFY_PAGE_SIZE", "250")
	t.Setenv("AUDITCHAIN_OTEL_ENDPOINT", "otel:4318")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/auditchain/chain.db", cfg.Store.SQLitePath)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "admin", cfg.Database.User)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "audit_prod", cfg.Database.DBName)
	assert.Equal(t, "require", cfg.Database.SSLMode)
	assert.Equal(t, 50, cfg.Database.MaxConns)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, QueueRedis, cfg.Queue.Driver)
	assert.Equal(t, "audit:in", cfg.Queue.Stream)
	assert.Equal(t, "writers", cfg.Queue.Group)
	assert.Equal(t, "writer-1", cfg.Queue.Consumer)
	assert.Equal(t, 9, cfg.Queue.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.RetryBackoff)
	assert.Equal(t, 15*time.Minute, cfg.JWT.TokenTTL)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "root", cfg.Signing.Secret)
	assert.Equal(t, []string{"primary", "backup"}, cfg.Signing.Keys)
	assert.Equal(t, 30, cfg.Retention.DefaultDays)
	assert.Equal(t, "/etc/auditchain/retention.yaml", cfg.Retention.PolicyFile)
	assert.Equal(t, 100, cfg.Retention.PurgeBatchSize)
	assert.Equal(t, time.Hour, cfg.Retention.PurgeInterval)
	assert.Equal(t, 250, cfg.Verify.PageSize)
	assert.Equal(t, "otel:4318", cfg.Telemetry.OTLPEndpoint)
}

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "non-numeric port", key: "AUDITCHAIN_DB_PORT", val: "abc"},
		{name: "non-numeric max conns", key: "AUDITCHAIN_DB_MAX_CONNS", val: "many"},
		{name: "non-numeric redis db", key: "AUDITCHAIN_REDIS_DB", val: "zero"},
		{name: "bad queue block", key: "AUDITCHAIN_QUEUE_BLOCK", val: "forever"},
		{name: "bad jwt ttl", key: "AUDITCHAIN_JWT_TTL", val: "1 hour"},
		{name: "bad read timeout", key: "AUDITCHAIN_SERVER_READ_TIMEOUT", val: "10"},
		{name: "bad rate limit", key: "AUDITCHAIN_RATE_LIMIT", val: "lots"},
		{name: "bad retention days", key: "AUDITCHAIN_RETENTION_DEFAULT_DAYS", val: "1y"},
		{name: "bad page size", key: "AUDITCHAIN_VERIFY_PAGE_SIZE", val: "big"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			t.Setenv(tc.key, tc.val)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.key)
		})
	}
}

func TestLoad_BoundaryValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		val     string
		wantErr bool
	}{
		{name: "port lower bound", key: "AUDITCHAIN_DB_PORT", val: "1"},
		{name: "port upper bound", key: "AUDITCHAIN_DB_PORT", val: "65535"},
		{name: "port zero", key: "AUDITCHAIN_DB_PORT", val: "0", wantErr: true},
		{name: "port too high", key: "AUDITCHAIN_DB_PORT", val: "65536", wantErr: true},
		{name: "max conns zero", key: "AUDITCHAIN_DB_MAX_CONNS", val: "0", wantErr: true},
		{name: "one retention day", key: "AUDITCHAIN_RETENTION_DEFAULT_DAYS", val: "1"},
		{name: "zero retention days", key: "AUDITCHAIN_RETENTION_DEFAULT_DAYS", val: "0", wantErr: true},
		{name: "zero batch size", key: "AUDITCHAIN_PURGE_BATCH_SIZE", val: "0", wantErr: true},
		{name: "negative purge interval", key: "AUDITCHAIN_PURGE_INTERVAL", val: "-1m", wantErr: true},
		{name: "zero page size", key: "AUDITCHAIN_VERIFY_PAGE_SIZE", val: "0", wantErr: true},
		{name: "zero max attempts", key: "AUDITCHAIN_QUEUE_MAX_ATTEMPTS", val: "0", wantErr: true},
		{name: "zero retry backoff", key: "AUDITCHAIN_QUEUE_RETRY_BACKOFF", val: "0s", wantErr: true},
		{name: "zero jwt ttl", key: "AUDITCHAIN_JWT_TTL", val: "0s", wantErr: true},
		{name: "zero rate limit", key: "AUDITCHAIN_RATE_LIMIT", val: "0", wantErr: true},
		{name: "unknown store", key: "AUDITCHAIN_STORE", val: "mysql", wantErr: true},
		{name: "unknown queue", key: "AUDITCHAIN_QUEUE", val: "kafka", wantErr: true},
		{name: "short jwt secret", key: "AUDITCHAIN_JWT_SECRET", val: "short", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			t.Setenv(tc.key, tc.val)

			_, err := Load()
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"AUDITCHAIN_STORE=memory\nAUDITCHAIN_RETENTION_DEFAULT_DAYS=90\nAUDITCHAIN_SERVER_ADDR=:7000\n",
	), 0o600))

	t.Setenv("AUDITCHAIN_ENV_FILE", path)
	// Process environment takes precedence over the file.
	t.Setenv("AUDITCHAIN_SERVER_ADDR", ":7100")
	// godotenv sets variables it loads; make sure they are restored.
	t.Setenv("AUDITCHAIN_STORE", "")
	t.Setenv("AUDITCHAIN_RETENTION_DEFAULT_DAYS", "")
	require.NoError(t, os.Unsetenv("AUDITCHAIN_STORE"))
	require.NoError(t, os.Unsetenv("AUDITCHAIN_RETENTION_DEFAULT_DAYS"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, 90, cfg.Retention.DefaultDays)
	assert.Equal(t, ":7100", cfg.Server.Addr)
}

func TestLoad_MalformedDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.env")
	require.NoError(t, os.WriteFile(path, []byte("AUDITCHAIN_STORE='unterminated\n"), 0o600))
	t.Setenv("AUDITCHAIN_ENV_FILE", path)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.env")
}

func TestRequireJWT(t *testing.T) {
	cfg := validBase()
	cfg.JWT.Secret = ""
	require.Error(t, cfg.RequireJWT())

	cfg.JWT.Secret = "this-is-a-very-long-secret-key-for-testing-purposes"
	require.NoError(t, cfg.RequireJWT())
}

// ---------------------------------------------------------------------------
// DSN tests
// ---------------------------------------------------------------------------

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "default values",
			cfg:  DatabaseConfig{Host: "localhost", Port: 5432, User: "auditchain", Password: "", DBName: "auditchain_dev", SSLMode: "disable"},
			want: "host=localhost port=5432 user=auditchain password= dbname=auditchain_dev sslmode=disable",
		},
		{
			name: "custom values",
			cfg:  DatabaseConfig{Host: "db.prod.internal", Port: 5433, User: "admin", Password: "p@ss", DBName: "audit", SSLMode: "verify-full"},
			want: "host=db.prod.internal port=5433 user=admin password=p@ss dbname=audit sslmode=verify-full",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cfg.DSN())
		})
	}
}

// ---------------------------------------------------------------------------
// validate tests
// ---------------------------------------------------------------------------

func validBase() *Config {
	return &Config{
		Store:    StoreConfig{Driver: StoreMemory},
		Database: DatabaseConfig{Port: 5432, MaxConns: 10, SSLMode: "require"},
		Queue:    QueueConfig{Driver: QueueNone, Size: 1, MaxAttempts: 1, RetryBackoff: time.Second},
		JWT:      JWTConfig{TokenTTL: time.Hour},
		Server: ServerConfig{
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			RateLimit:    1,
			RateBurst:    1,
		},
		Retention: RetentionConfig{DefaultDays: 1, PurgeBatchSize: 1},
		Verify:    VerifyConfig{PageSize: 1},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid base", mutate: func(*Config) {}},
		{name: "empty jwt secret allowed", mutate: func(c *Config) { c.JWT.Secret = "" }},
		{name: "31 char jwt secret", mutate: func(c *Config) { c.JWT.Secret = "1234567890123456789012345678901" }, wantErr: "AUDITCHAIN_JWT_SECRET"},
		{name: "32 char jwt secret", mutate: func(c *Config) { c.JWT.Secret = "12345678901234567890123456789012" }},
		{name: "bad store", mutate: func(c *Config) { c.Store.Driver = "" }, wantErr: "AUDITCHAIN_STORE"},
		{name: "bad queue", mutate: func(c *Config) { c.Queue.Driver = "nats" }, wantErr: "AUDITCHAIN_QUEUE"},
		{name: "queue size", mutate: func(c *Config) { c.Queue.Size = 0 }, wantErr: "AUDITCHAIN_QUEUE_SIZE"},
		{name: "rate burst", mutate: func(c *Config) { c.Server.RateBurst = 0 }, wantErr: "AUDITCHAIN_RATE_BURST"},
		{name: "write timeout", mutate: func(c *Config) { c.Server.WriteTimeout = 0 }, wantErr: "AUDITCHAIN_SERVER_WRITE_TIMEOUT"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBase()
			tc.mutate(cfg)

			err := cfg.validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func strPtr(s string) *string { return &s }
