// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway
	GatewayWebhookSecret string // Shared secret for inbound webhook HMAC signatures
	RequireDepositIntent bool   // Reject captures without a previously recorded intent

	// Platform fee on escrow release
	PlatformFeeBps  int    // Basis points, 0 disables the fee
	PlatformAccount string // Account credited with fee entries

	// Throttling
	RateLimitRPM int // Requests per minute per client

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint, empty disables tracing
}

// Defaults
const (
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultRateLimit = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		GatewayWebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),
		RequireDepositIntent: getEnvBool("REQUIRE_DEPOSIT_INTENT", true),
		PlatformFeeBps:       int(getEnvInt64("PLATFORM_FEE_BPS", 0)),
		PlatformAccount:      os.Getenv("PLATFORM_ACCOUNT"),
		RateLimitRPM:         int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.GatewayWebhookSecret == "" && !c.IsDevelopment() {
		return fmt.Errorf("GATEWAY_WEBHOOK_SECRET is required outside development")
	}

	if c.PlatformFeeBps < 0 || c.PlatformFeeBps > 10000 {
		return fmt.Errorf("PLATFORM_FEE_BPS must be between 0 and 10000")
	}

	if c.PlatformFeeBps > 0 && c.PlatformAccount == "" {
		return fmt.Errorf("PLATFORM_ACCOUNT is required when PLATFORM_FEE_BPS is set")
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
