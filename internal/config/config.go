// Package config loads all runtime configuration from environment variables.
// No config files and no third-party config framework are used.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the helpdesk.
type Config struct {
	HTTP      HTTPConfig
	DB        DBConfig
	Log       LogConfig
	JWT       JWTConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	App       AppConfig
	Worker    WorkerConfig
	OTel      OTelConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port           int
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	DSN      string // required when Driver == "postgres"
	File     string // SQLite database file path (default: "helpdesk.db")
	MaxConns int    // Postgres only
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string
	Format string
}

// JWTConfig holds JSON Web Token signing and expiry settings.
type JWTConfig struct {
	Secret        string //nolint:gosec // intentional: holds JWT signing secret loaded from env
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RotateRefresh bool
}

// PasswordConfig holds the credential hashing cost and strength policy bounds.
type PasswordConfig struct {
	BcryptCost int
	MinLength  int
	MaxLength  int
}

// RateLimitConfig bounds how often a single client may hit the auth endpoints.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	RedisURL string // optional; counters are shared through Redis when set
	// TrustedProxies are CIDRs or addresses whose X-Forwarded-For is honoured.
	// Empty means clients are keyed on their socket address.
	TrustedProxies []string
}

// AppConfig holds application-level settings such as seed credentials.
type AppConfig struct {
	Env               string
	SeedAdminEmail    string
	SeedAdminPassword string
	SeedDemoData      bool
}

// Development reports whether error details may be exposed to clients.
func (a AppConfig) Development() bool { return a.Env == "development" }

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency   int
	SweepInterval time.Duration
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string
}

// Load reads configuration from environment variables, applies defaults,
// and returns an error if any required field is absent.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// HTTP
	cfg.HTTP.Port = envInt("HTTP_PORT", 8080)
	if cfg.HTTP.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("REQUEST_TIMEOUT: %w", err)
	}
	cfg.HTTP.AllowedOrigins = envList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"})

	// DB
	cfg.DB.Driver = envStr("DB_DRIVER", "sqlite")
	cfg.DB.File = envStr("DB_FILE", "helpdesk.db")
	cfg.DB.DSN = os.Getenv("DB_DSN")
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("DB_DSN is required when DB_DRIVER=postgres")
	}
	cfg.DB.MaxConns = envInt("DB_MAX_CONNS", 25)

	// Log
	cfg.Log.Level = envStr("LOG_LEVEL", "info")
	cfg.Log.Format = envStr("LOG_FORMAT", "json")

	// JWT (secret required)
	cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	if cfg.JWT.Secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	cfg.JWT.Issuer = envStr("JWT_ISSUER", "helpdesk")
	if cfg.JWT.AccessTTL, err = envDuration("JWT_ACCESS_TTL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("JWT_ACCESS_TTL: %w", err)
	}
	if cfg.JWT.RefreshTTL, err = envDuration("JWT_REFRESH_TTL", 7*24*time.Hour); err != nil {
		return nil, fmt.Errorf("JWT_REFRESH_TTL: %w", err)
	}
	if cfg.JWT.RotateRefresh, err = envBool("JWT_REFRESH_ROTATE", false); err != nil {
		return nil, fmt.Errorf("JWT_REFRESH_ROTATE: %w", err)
	}

	// Password policy
	cfg.Password.BcryptCost = envInt("BCRYPT_COST", 12)
	cfg.Password.MinLength = envInt("PASSWORD_MIN_LENGTH", 12)
	cfg.Password.MaxLength = envInt("PASSWORD_MAX_LENGTH", 128)
	if cfg.Password.MinLength < 1 || cfg.Password.MaxLength < cfg.Password.MinLength {
		return nil, fmt.Errorf("PASSWORD_MIN_LENGTH/PASSWORD_MAX_LENGTH: invalid range [%d,%d]",
			cfg.Password.MinLength, cfg.Password.MaxLength)
	}

	// Rate limiting
	cfg.RateLimit.Requests = envInt("AUTH_RATE_LIMIT", 5)
	if cfg.RateLimit.Window, err = envDuration("AUTH_RATE_WINDOW", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("AUTH_RATE_WINDOW: %w", err)
	}
	cfg.RateLimit.RedisURL = os.Getenv("REDIS_URL")
	cfg.RateLimit.TrustedProxies = envList("TRUSTED_PROXIES", nil)

	// App
	cfg.App.Env = envStr("APP_ENV", "production")
	cfg.App.SeedAdminEmail = envStr("SEED_ADMIN_EMAIL", "admin@helpdesk.local")
	cfg.App.SeedAdminPassword = os.Getenv("SEED_ADMIN_PASSWORD")
	if cfg.App.SeedDemoData, err = envBool("SEED_DEMO_DATA", false); err != nil {
		return nil, fmt.Errorf("SEED_DEMO_DATA: %w", err)
	}

	// Worker
	cfg.Worker.Concurrency = envInt("WORKER_CONCURRENCY", 10)
	if cfg.Worker.SweepInterval, err = envDuration("REFRESH_SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("REFRESH_SWEEP_INTERVAL: %w", err)
	}

	// OTel
	cfg.OTel.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q: %w", v, err)
	}
	return b, nil
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
