// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/comexflow/encargos/engine"
)

// Config holds all configuration for the service.
type Config struct {
	Port         int
	DatabasePath string
	LogLevel     string

	// ERP client settings
	ERPBaseURL           string
	ERPUsername          string
	ERPPassword          string
	ERPTimeout           time.Duration
	ERPRequestsPerSecond float64
	ERPCacheTTL          time.Duration

	// MissingRates decides what an empty CDI window means:
	// "fallback" (factor 1, the historical behavior) or "error".
	MissingRates engine.MissingRatesPolicy
}

// Load reads configuration from the environment, honoring a .env file when
// present.
func Load() (*Config, error) {
	// A missing .env file is fine; real deployments set the environment.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 envInt("PORT", 8080),
		DatabasePath:         envString("DATABASE_PATH", "encargos.db"),
		LogLevel:             envString("LOG_LEVEL", "info"),
		ERPBaseURL:           envString("ERP_BASE_URL", "https://erp.example.com/api"),
		ERPUsername:          envString("ERP_USERNAME", ""),
		ERPPassword:          envString("ERP_PASSWORD", ""),
		ERPTimeout:           envDuration("ERP_TIMEOUT", 10*time.Second),
		ERPRequestsPerSecond: envFloat("ERP_REQUESTS_PER_SECOND", 10),
		ERPCacheTTL:          envDuration("ERP_CACHE_TTL", time.Minute),
	}

	if envString("MISSING_RATES_POLICY", "fallback") == "error" {
		cfg.MissingRates = engine.MissingRatesError
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
