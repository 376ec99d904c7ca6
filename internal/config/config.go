// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/logging"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Decoy sessions
	DecoyTTL      time.Duration // lifetime of a freshly created decoy session
	SweepInterval time.Duration // 0 disables the expiry sweeper

	// Risk scoring
	ProfilesPath string // YAML file with per-user context profiles (optional)

	// Alert transports (all optional; the websocket hub is always on)
	RedisURL           string
	AlertWebhookURL    string
	AlertWebhookSecret string

	// Security
	RateLimitRPM int
	CORSOrigins  string // comma separated; empty allows any origin

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultDecoyTTL      = time.Hour
	DefaultSweepInterval = time.Minute
	DefaultRateLimitRPM  = 60
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		DecoyTTL:           getEnvDuration("DECOY_TTL", DefaultDecoyTTL),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		ProfilesPath:       os.Getenv("PROFILES_PATH"),
		RedisURL:           os.Getenv("REDIS_URL"),
		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CORSOrigins:        os.Getenv("CORS_ORIGINS"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.DecoyTTL <= 0 {
		return fmt.Errorf("DECOY_TTL must be a positive duration")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative")
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	if c.AlertWebhookURL != "" && c.AlertWebhookSecret == "" {
		return fmt.Errorf("ALERT_WEBHOOK_SECRET is required when ALERT_WEBHOOK_URL is set")
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
