package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Env  string `yaml:"env"`

	StoreDriver            string        `yaml:"store_driver"`
	DatabaseURL            string        `yaml:"database_url"`
	DatabaseMaxConnections int           `yaml:"database_max_connections"`
	DatabaseMaxIdleTime    time.Duration `yaml:"database_max_idle_time"`
	RunMigrations          bool          `yaml:"run_migrations"`

	// RedisURL enables the shared delivery lease when set
	RedisURL string `yaml:"redis_url"`
	// NATSURL enables cross-instance wake-ups when set
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`

	LogLevel   string `yaml:"log_level"`
	LogService string `yaml:"log_service"`

	Webhooks Webhooks `yaml:"webhooks"`
}

// Webhooks tunes the delivery pipeline.
type Webhooks struct {
	BatchSize            int           `yaml:"batch_size"`
	Workers              int           `yaml:"workers"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	LeaseTTL             time.Duration `yaml:"lease_ttl"`
	DefaultTimeout       time.Duration `yaml:"default_timeout"`
	MaxResponseBytes     int64         `yaml:"max_response_bytes"`
	RateLimitRPS         float64       `yaml:"rate_limit_rps"`
	RateLimitBurst       int           `yaml:"rate_limit_burst"`
	NonRetryableStatuses []int         `yaml:"non_retryable_statuses"`
	RegistryCacheTTL     time.Duration `yaml:"registry_cache_ttl"`
	RegistryCacheSize    int64         `yaml:"registry_cache_size"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Host: "localhost",
		Port: "8080",
		Env:  "development",

		StoreDriver:            StoreDriverPostgres,
		DatabaseURL:            "postgres://localhost/claimsflow_dev?sslmode=disable",
		DatabaseMaxConnections: 25,
		DatabaseMaxIdleTime:    15 * time.Minute,
		RunMigrations:          true,

		NATSSubject: "webhooks.deliveries.created",

		JWTIssuer: "claimsflow",

		LogLevel:   "info",
		LogService: "claimsflow-webhooks",

		Webhooks: Webhooks{
			BatchSize:         100,
			Workers:           8,
			PollInterval:      10 * time.Second,
			LeaseTTL:          2 * time.Minute,
			DefaultTimeout:    30 * time.Second,
			MaxResponseBytes:  64 << 10,
			RateLimitBurst:    10,
			RegistryCacheTTL:  30 * time.Second,
			RegistryCacheSize: 1000,
		},
	}
}

// Load reads configuration with precedence defaults < YAML (CONFIG_FILE) < env.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = gotenv.Load()

	cfg := Defaults()
	if err := loadYAML(&cfg, os.Getenv("CONFIG_FILE")); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadYAML overlays the file at path onto cfg. An empty path or a missing
// file is not an error.
func loadYAML(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	cfg.Host = getEnvString("HOST", cfg.Host)
	cfg.Port = getEnvString("PORT", cfg.Port)
	cfg.Env = getEnvString("ENV", cfg.Env)

	cfg.StoreDriver = getEnvString("STORE_DRIVER", cfg.StoreDriver)
	cfg.DatabaseURL = getEnvString("DATABASE_URL", cfg.DatabaseURL)
	cfg.DatabaseMaxConnections = getEnvInt("DATABASE_MAX_CONNECTIONS", cfg.DatabaseMaxConnections)
	cfg.DatabaseMaxIdleTime = getEnvDuration("DATABASE_MAX_IDLE_TIME", cfg.DatabaseMaxIdleTime)
	cfg.RunMigrations = getEnvBool("RUN_MIGRATIONS", cfg.RunMigrations)

	cfg.RedisURL = getEnvString("REDIS_URL", cfg.RedisURL)
	cfg.NATSURL = getEnvString("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = getEnvString("NATS_SUBJECT", cfg.NATSSubject)

	cfg.JWTSecret = getEnvString("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", cfg.JWTIssuer)

	cfg.LogLevel = getEnvString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = getEnvString("LOG_SERVICE", cfg.LogService)

	wh := &cfg.Webhooks
	wh.BatchSize = getEnvInt("WEBHOOK_BATCH_SIZE", wh.BatchSize)
	wh.Workers = getEnvInt("WEBHOOK_WORKERS", wh.Workers)
	wh.PollInterval = getEnvDuration("WEBHOOK_POLL_INTERVAL", wh.PollInterval)
	wh.LeaseTTL = getEnvDuration("WEBHOOK_LEASE_TTL", wh.LeaseTTL)
	wh.DefaultTimeout = getEnvDuration("WEBHOOK_TIMEOUT", wh.DefaultTimeout)
	wh.MaxResponseBytes = int64(getEnvInt("WEBHOOK_MAX_RESPONSE_BYTES", int(wh.MaxResponseBytes)))
	wh.RateLimitRPS = getEnvFloat("WEBHOOK_RATE_LIMIT_RPS", wh.RateLimitRPS)
	wh.RateLimitBurst = getEnvInt("WEBHOOK_RATE_LIMIT_BURST", wh.RateLimitBurst)
	wh.NonRetryableStatuses = getEnvIntList("WEBHOOK_NON_RETRYABLE_STATUSES", wh.NonRetryableStatuses)
	wh.RegistryCacheTTL = getEnvDuration("WEBHOOK_REGISTRY_CACHE_TTL", wh.RegistryCacheTTL)
	wh.RegistryCacheSize = int64(getEnvInt("WEBHOOK_REGISTRY_CACHE_SIZE", int(wh.RegistryCacheSize)))
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Webhooks.RateLimitRPS > 0 && c.Webhooks.RateLimitBurst < 1 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT_BURST must be at least 1 when WEBHOOK_RATE_LIMIT_RPS is set")
	}
	if c.Webhooks.RegistryCacheTTL < 0 {
		return fmt.Errorf("WEBHOOK_REGISTRY_CACHE_TTL must not be negative")
	}
	for _, code := range c.Webhooks.NonRetryableStatuses {
		if code < 100 || code > 599 {
			return fmt.Errorf("invalid non-retryable status %d", code)
		}
		if code >= 200 && code < 300 {
			return fmt.Errorf("status %d is a success and cannot be non-retryable", code)
		}
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}

// getEnvIntList parses a comma separated list such as "400,410,422".
func getEnvIntList(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
