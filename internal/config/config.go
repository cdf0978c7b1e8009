// Package config loads server settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Storage backend names accepted in STEPFLOW_STORAGE.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config holds every runtime setting of the server binary.
type Config struct {
	// HTTPAddr is the listen address, e.g. ":8080".
	HTTPAddr string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// Storage selects the flow repository backend.
	Storage string
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string
	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string
	// RedisAddr and RedisPrefix configure the redis backend.
	RedisAddr   string
	RedisPrefix string
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:        getEnv("STEPFLOW_HTTP_ADDR", ":8080"),
		LogLevel:        getEnv("STEPFLOW_LOG_LEVEL", "info"),
		Storage:         getEnv("STEPFLOW_STORAGE", StorageMemory),
		SQLitePath:      getEnv("STEPFLOW_SQLITE_PATH", "stepflow.db"),
		PostgresDSN:     os.Getenv("STEPFLOW_POSTGRES_DSN"),
		RedisAddr:       getEnv("STEPFLOW_REDIS_ADDR", "localhost:6379"),
		RedisPrefix:     getEnv("STEPFLOW_REDIS_PREFIX", "stepflow:"),
		ShutdownTimeout: getDuration("STEPFLOW_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageSQLite, StorageRedis:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("STEPFLOW_POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
