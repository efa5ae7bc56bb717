package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	xerrors "timeclock-service/internal/pkg/errors"
	"timeclock-service/internal/pkg/jwt"
	"timeclock-service/internal/service/maintenance"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	ActionTokenStoreMemory = "memory"
	ActionTokenStoreRedis  = "redis"
)

type AppConfig struct {
	// Server
	Env            string
	HTTPAddr       string
	AllowedOrigins []string

	// Storage
	StoreBackend     string
	DatabaseURL      string
	DBMaxConns       int32
	RedisAddrs       []string
	RedisPass        string
	RedisCluster     bool
	RevocationCache  bool
	ActionTokenStore string

	// JWT
	JWT jwt.Config

	// Maintenance
	SweepInterval time.Duration

	// Warnings collects values that were invalid and replaced by defaults.
	// The logger does not exist yet when Load runs.
	Warnings []string
}

// Load loads environment variables into AppConfig.
func Load() AppConfig {
	cfg := AppConfig{
		Env:            getEnv("APP_ENV", "production"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8000"),
		AllowedOrigins: getEnvSlice("WS_ALLOWED_ORIGINS", nil),

		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisAddrs:       getEnvSlice("REDIS_ADDR", nil),
		RedisPass:        getEnv("REDIS_PASS", ""),
		RedisCluster:     strings.ToLower(getEnv("REDIS_CLUSTER", "false")) == "true",
		RevocationCache:  strings.ToLower(getEnv("REVOCATION_CACHE", "false")) == "true",
		ActionTokenStore: strings.ToLower(getEnv("ACTION_TOKEN_STORE", ActionTokenStoreMemory)),

		JWT: jwt.Config{
			SigningKey:     getEnv("JWT_SIGNING_KEY", ""),
			SigningKeyPath: getEnv("JWT_SIGNING_KEY_PATH", ""),
			Issuer:         getEnv("JWT_ISSUER", "timeclock"),
			Audience:       getEnv("JWT_AUDIENCE", "timeclock-staff"),
		},
	}

	cfg.DBMaxConns = int32(cfg.getEnvInt("DB_MAX_CONNS", 10))
	cfg.JWT.AccessTTL = cfg.getEnvDuration("JWT_ACCESS_TTL", jwt.DefaultAccessTTL)
	cfg.JWT.RefreshTTL = cfg.getEnvDuration("JWT_REFRESH_TTL", jwt.DefaultRefreshTTL)
	cfg.SweepInterval = cfg.getEnvDuration("SWEEP_INTERVAL", maintenance.DefaultInterval)

	return cfg
}

// Validate reports combinations the server cannot start with.
func (c AppConfig) Validate() error {
	switch c.StoreBackend {
	case StoreBackendMemory:
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for STORE_BACKEND=postgres", xerrors.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_BACKEND %q", xerrors.ErrConfig, c.StoreBackend)
	}

	switch c.ActionTokenStore {
	case ActionTokenStoreMemory, ActionTokenStoreRedis:
	default:
		return fmt.Errorf("%w: unknown ACTION_TOKEN_STORE %q", xerrors.ErrConfig, c.ActionTokenStore)
	}

	if c.NeedsRedis() && len(c.RedisAddrs) == 0 {
		return fmt.Errorf("%w: REDIS_ADDR is required for the redis-backed stores", xerrors.ErrConfig)
	}
	if c.JWT.SigningKey == "" && c.JWT.SigningKeyPath == "" && !c.IsDevelopment() {
		return fmt.Errorf("%w: JWT_SIGNING_KEY or JWT_SIGNING_KEY_PATH is required", xerrors.ErrConfig)
	}
	return nil
}

func (c AppConfig) IsDevelopment() bool { return c.Env == "development" }

func (c AppConfig) NeedsRedis() bool {
	return c.ActionTokenStore == ActionTokenStoreRedis || c.RevocationCache
}

// --- Helper functions ---

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func (c *AppConfig) getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s=%q, using %s", key, v, fallback))
		return fallback
	}
	return d
}

func (c *AppConfig) getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s=%q, using %d", key, v, fallback))
		return fallback
	}
	return n
}
