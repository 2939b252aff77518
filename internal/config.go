package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/DukeRupert/ghostwriter/internal/usagestore"
	"github.com/joho/godotenv"
)

// Enforcement modes for metered actions.
const (
	// EnforcementSoft checks before work and records after it. Concurrent
	// requests may overshoot the limit by at most the number of racers.
	EnforcementSoft = "soft"

	// EnforcementStrict records through a single conditional write that
	// never exceeds the limit.
	EnforcementStrict = "strict"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Usage ledger backend: "postgres", "redis" or "memory"
	LedgerBackend usagestore.Backend
	RedisURL      string

	// Quota policy
	QuotaEnforcement string
	DefaultPlan      domain.PlanID

	// StoreTimeout bounds every usage store call (0 disables)
	StoreTimeout time.Duration

	// APIRateLimit is requests per minute per caller on /api routes (0 disables)
	APIRateLimit int

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		RedisURL: getEnv("REDIS_URL", ""),

		QuotaEnforcement: getEnv("QUOTA_ENFORCEMENT", EnforcementSoft),
		DefaultPlan:      domain.PlanID(getEnv("DEFAULT_PLAN", string(domain.PlanTrial))),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	var err error
	if cfg.Port, err = getEnvInt("PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.StoreTimeout, err = getEnvDuration("STORE_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.APIRateLimit, err = getEnvInt("API_RATE_LIMIT", 120); err != nil {
		return nil, err
	}

	backend, err := usagestore.ParseBackend(getEnv("LEDGER_BACKEND", string(usagestore.BackendPostgres)))
	if err != nil {
		return nil, fmt.Errorf("LEDGER_BACKEND must be one of 'postgres', 'redis' or 'memory', got: %s", os.Getenv("LEDGER_BACKEND"))
	}
	cfg.LedgerBackend = backend

	// Required unless everything runs in memory. Subscriptions are read
	// from Postgres even when usage counters live in Redis.
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" && cfg.LedgerBackend != usagestore.BackendMemory {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.LedgerBackend == usagestore.BackendRedis && cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required when LEDGER_BACKEND is 'redis'")
	}

	if cfg.QuotaEnforcement != EnforcementSoft && cfg.QuotaEnforcement != EnforcementStrict {
		return nil, fmt.Errorf("QUOTA_ENFORCEMENT must be either 'soft' or 'strict', got: %s", cfg.QuotaEnforcement)
	}

	if cfg.StoreTimeout < 0 {
		return nil, fmt.Errorf("STORE_TIMEOUT must not be negative, got: %s", cfg.StoreTimeout)
	}

	if cfg.APIRateLimit < 0 {
		return nil, fmt.Errorf("API_RATE_LIMIT must not be negative, got: %d", cfg.APIRateLimit)
	}

	return cfg, nil
}

// PlanRegistry builds the plan registry with the configured default tier.
// An unknown default plan is a configuration error.
func (c *Config) PlanRegistry() (*domain.PlanRegistry, error) {
	plans, err := domain.NewPlanRegistry(c.DefaultPlan, domain.DefaultPlanLimits...)
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_PLAN: %w", err)
	}
	return plans, nil
}

// IsStrict reports whether metered actions use conditional writes.
func (c *Config) IsStrict() bool {
	return c.QuotaEnforcement == EnforcementStrict
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got: %s", key, value)
	}
	return i, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 3s or 500ms, got: %s", key, value)
	}
	return d, nil
}
