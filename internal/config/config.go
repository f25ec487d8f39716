package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/retail-ledger/internal/domain"
)

// Storage and lock backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	LockLocal = "local"
	LockRedis = "redis"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Storage
	StoreBackend string
	DBDSN        string
	DBMaxConns   int
	DBMigrate    bool

	// Account lock
	LockBackend   string
	RedisAddr     string
	RedisPassword string
	LockExpiry    time.Duration

	// Ledger rules
	Timezone               string
	BankCode               string
	ExternalATMFee         domain.Money
	ExternalTransferRate   decimal.Decimal
	ExternalTransferMinFee domain.Money

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxConcurrency int
	QueueWait      time.Duration

	// Cache
	CacheTTL        time.Duration
	CacheMaxEntries int

	// Observability
	OTLPEndpoint string

	// Caller auth; empty disables it.
	CallerJWTSecret string
	CallerTokenTTL  time.Duration

	// Reconciliation cron spec; empty disables the schedule.
	ReconcileSchedule string

	// Dev mode
	DevTools bool

	parseErrs []error
}

// Load reads configuration from environment variables with defaults.
// Malformed decimals are reported by Validate.
func Load() *Config {
	c := &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreBackend: getEnv("STORE_BACKEND", StoreMemory),
		DBDSN:        getEnv("LEDGER_DB_DSN", ""),
		DBMaxConns:   getEnvInt("LEDGER_DB_MAX_CONNS", 10),
		DBMigrate:    getEnvBool("LEDGER_DB_MIGRATE", true),

		LockBackend:   getEnv("LOCK_BACKEND", LockLocal),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		LockExpiry:    getEnvDuration("LOCK_EXPIRY", 10*time.Second),

		Timezone: getEnv("LEDGER_TIMEZONE", "Europe/Madrid"),
		BankCode: getEnv("LEDGER_BANK_CODE", ""),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 10*time.Millisecond),
		MaxBackoff:     getEnvDuration("MAX_BACKOFF", 200*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),
		QueueWait:      getEnvDuration("QUEUE_WAIT", 2*time.Second),

		CacheTTL:        getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 10000),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		CallerJWTSecret: getEnv("CALLER_JWT_SECRET", ""),
		CallerTokenTTL:  getEnvDuration("CALLER_TOKEN_TTL", time.Hour),

		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@daily"),

		DevTools: getEnvBool("DEV_TOOLS", false),
	}

	c.ExternalATMFee = c.money("EXTERNAL_ATM_FEE", "2.00")
	c.ExternalTransferMinFee = c.money("EXTERNAL_TRANSFER_MIN_FEE", "0.00")
	rate := getEnv("EXTERNAL_TRANSFER_RATE", "0")
	d, err := decimal.NewFromString(rate)
	if err != nil || d.IsNegative() {
		c.parseErrs = append(c.parseErrs, fmt.Errorf("EXTERNAL_TRANSFER_RATE: invalid rate %q", rate))
	}
	c.ExternalTransferRate = d
	return c
}

func (c *Config) money(key, fallback string) domain.Money {
	raw := getEnv(key, fallback)
	m, err := domain.ParseMoney(raw)
	if err != nil || m.IsNegative() {
		c.parseErrs = append(c.parseErrs, fmt.Errorf("%s: invalid amount %q", key, raw))
		return domain.Zero
	}
	return m
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.parseErrs...)

	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DBDSN == "" {
			errs = append(errs, errors.New("LEDGER_DB_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND: unknown backend %q", c.StoreBackend))
	}

	switch c.LockBackend {
	case LockLocal:
	case LockRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis lock"))
		}
	default:
		errs = append(errs, fmt.Errorf("LOCK_BACKEND: unknown backend %q", c.LockBackend))
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.BankCode != "" && len(c.BankCode) != 4 {
		errs = append(errs, fmt.Errorf("LEDGER_BANK_CODE: expected 4 characters, got %q", c.BankCode))
	}
	if c.CallerJWTSecret != "" && len(c.CallerJWTSecret) < 16 {
		errs = append(errs, errors.New("CALLER_JWT_SECRET must be at least 16 bytes"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("MAX_RETRIES must not be negative"))
	}
	return errors.Join(errs...)
}

// Location resolves the ledger timezone that defines "today".
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_TIMEZONE: %w", err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
