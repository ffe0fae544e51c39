package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all gateway configuration values.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Redis-backed CounterStore. When empty, the gateway falls back to
	// the in-process memorystore.
	RedisURL string

	// Settings file holding the JSON Ingress/Egress rule document
	// (settings.Document).
	SettingsPath string

	// How often ConfigLoader re-reads SettingsPath in the background.
	// Zero disables the refresh loop (the document is loaded once).
	ConfigRefreshInterval time.Duration

	// How long cleanup callbacks (semaphore releases) get to run after
	// a request's own context has already ended.
	CleanupTimeout time.Duration

	// Max body size accepted on any route, enforced by the router's
	// mwMaxBodySize middleware.
	MaxBodyBytes int64

	// Logging level (parsed by logger.New via zerolog.ParseLevel);
	// falls back to the Env-based default when empty or unparseable.
	LogLevel string
}

// Load reads configuration from environment variables and optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("GATEWAY_GRACEFUL_TIMEOUT_SEC", 15)
	refreshSec := getEnvInt("GATEWAY_CONFIG_REFRESH_SEC", 30)
	cleanupSec := getEnvInt("GATEWAY_CLEANUP_TIMEOUT_SEC", 5)

	cfg := &Config{
		Addr:                  getEnv("GATEWAY_ADDR", ":8080"),
		Env:                   getEnv("ENV", "development"),
		GracefulTimeout:       time.Duration(gracefulSec) * time.Second,
		RedisURL:              getEnv("REDIS_URL", ""),
		SettingsPath:          getEnv("GATEWAY_SETTINGS_PATH", "settings.json"),
		ConfigRefreshInterval: time.Duration(refreshSec) * time.Second,
		CleanupTimeout:        time.Duration(cleanupSec) * time.Second,
		MaxBodyBytes:          int64(getEnvInt("GATEWAY_MAX_BODY_BYTES", 1*1024*1024)),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
