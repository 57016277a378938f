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

	// Classification
	IntentThreshold float64 // Below this, intent falls back to UNKNOWN

	// Dispatch
	DispatchDeadline   time.Duration // Total wait for all providers of one case
	ProviderTimeout    time.Duration // Per provider call
	RetryBackoff       time.Duration // Backoff before the single transient retry
	MaxInFlightCalls   int64         // Engine-wide admission limit on provider calls
	BreakerThreshold   int           // Consecutive failures before a provider circuit opens
	BreakerOpenSeconds int           // Seconds an open circuit waits before probing

	// Aggregation
	PenaltyFactor     float64            // Weight factor for FAILED/TIMED_OUT signals
	ProviderWeights   map[string]float64 // provider name -> weight
	MediumThreshold   float64
	HighThreshold     float64
	CriticalThreshold float64

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultIntentThreshold  = 0.4
	DefaultDispatchDeadline = 5 * time.Second
	DefaultProviderTimeout  = 2 * time.Second
	DefaultRetryBackoff     = 200 * time.Millisecond
	DefaultMaxInFlight      = 32
	DefaultPenaltyFactor    = 0.1
)

// Default risk level thresholds. Scores at a boundary round up to the
// higher level.
const (
	DefaultMediumThreshold   = 0.3
	DefaultHighThreshold     = 0.6
	DefaultCriticalThreshold = 0.85
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
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		IntentThreshold:    getEnvFloat("INTENT_THRESHOLD", DefaultIntentThreshold),
		DispatchDeadline:   getEnvDuration("DISPATCH_DEADLINE", DefaultDispatchDeadline),
		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", DefaultProviderTimeout),
		RetryBackoff:       getEnvDuration("RETRY_BACKOFF", DefaultRetryBackoff),
		MaxInFlightCalls:   getEnvInt64("MAX_INFLIGHT_CALLS", DefaultMaxInFlight),
		BreakerThreshold:   int(getEnvInt64("BREAKER_THRESHOLD", 5)),
		BreakerOpenSeconds: int(getEnvInt64("BREAKER_OPEN_SECONDS", 30)),
		PenaltyFactor:      getEnvFloat("PENALTY_FACTOR", DefaultPenaltyFactor),
		ProviderWeights:    parseWeights(os.Getenv("PROVIDER_WEIGHTS")),
		MediumThreshold:    getEnvFloat("RISK_MEDIUM_THRESHOLD", DefaultMediumThreshold),
		HighThreshold:      getEnvFloat("RISK_HIGH_THRESHOLD", DefaultHighThreshold),
		CriticalThreshold:  getEnvFloat("RISK_CRITICAL_THRESHOLD", DefaultCriticalThreshold),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configured values are usable
func (c *Config) Validate() error {
	if c.IntentThreshold < 0 || c.IntentThreshold > 1 {
		return fmt.Errorf("INTENT_THRESHOLD must be in [0,1], got %v", c.IntentThreshold)
	}
	if c.PenaltyFactor < 0 || c.PenaltyFactor > 1 {
		return fmt.Errorf("PENALTY_FACTOR must be in [0,1], got %v", c.PenaltyFactor)
	}
	if c.DispatchDeadline <= 0 {
		return fmt.Errorf("DISPATCH_DEADLINE must be positive")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if c.ProviderTimeout > c.DispatchDeadline {
		return fmt.Errorf("PROVIDER_TIMEOUT (%v) must not exceed DISPATCH_DEADLINE (%v)",
			c.ProviderTimeout, c.DispatchDeadline)
	}
	if c.MaxInFlightCalls <= 0 {
		return fmt.Errorf("MAX_INFLIGHT_CALLS must be positive")
	}
	if !(c.MediumThreshold < c.HighThreshold && c.HighThreshold < c.CriticalThreshold) {
		return fmt.Errorf("risk thresholds must be strictly increasing: %v < %v < %v",
			c.MediumThreshold, c.HighThreshold, c.CriticalThreshold)
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

// parseWeights parses "provider=weight,provider=weight" pairs.
// Invalid entries are skipped; an empty result means package defaults apply.
func parseWeights(s string) map[string]float64 {
	if s == "" {
		return nil
	}
	weights := make(map[string]float64)
	for _, pair := range strings.Split(s, ",") {
		name, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		w, err := strconv.ParseFloat(val, 64)
		if err != nil || w < 0 {
			continue
		}
		weights[name] = w
	}
	if len(weights) == 0 {
		return nil
	}
	return weights
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
