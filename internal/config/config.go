// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

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

	// Risk scoring service
	ScoringURL     string
	ScoringTimeout time.Duration

	// Audit ledger settings
	RPCURL        string
	ChainID       int64
	PrivateKey    string // Hex-encoded, 0x prefix optional; empty disables auditing
	AuditContract string
	AuditTimeout  time.Duration

	// Reconciliation
	SweepInterval time.Duration

	// Security
	RateLimitRPM   int
	AllowedOrigins []string

	// Observability
	OTLPEndpoint string
}

// Base Sepolia defaults
const (
	DefaultRPCURL        = "https://sepolia.base.org"
	DefaultChainID       = 84532 // Base Sepolia
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultScoringURL    = "http://localhost:8000"
	DefaultRateLimitRPM  = 120
	DefaultScoringTime   = 3 * time.Second
	DefaultAuditTime     = 45 * time.Second
	DefaultSweepInterval = time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ScoringURL:     getEnv("SCORING_URL", DefaultScoringURL),
		ScoringTimeout: getEnvDuration("SCORING_TIMEOUT", DefaultScoringTime),
		RPCURL:         getEnv("RPC_URL", DefaultRPCURL),
		ChainID:        getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:     os.Getenv("PRIVATE_KEY"), // Optional; auditing disabled without it
		AuditContract:  os.Getenv("AUDIT_CONTRACT"),
		AuditTimeout:   getEnvDuration("AUDIT_TIMEOUT", DefaultAuditTime),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitAndTrim(origins)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.ScoringURL == "" {
		return fmt.Errorf("SCORING_URL is required")
	}

	// Auditing is optional, but when a key is present it must be usable
	if c.PrivateKey != "" {
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
		if c.AuditContract == "" {
			return fmt.Errorf("AUDIT_CONTRACT is required when PRIVATE_KEY is set")
		}
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required when PRIVATE_KEY is set")
		}
	}

	return nil
}

// AuditEnabled reports whether on-chain auditing is configured
func (c *Config) AuditEnabled() bool {
	return c.PrivateKey != ""
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
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
