// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds all configuration values for the server.
// Values are populated by Load from environment variables.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// CORSOrigins is the list of allowed cross-origin request origins.
	// It also drives the websocket origin check.
	// Defaults to ["http://localhost:5173"] (Vite dev server).
	// Set CORS_ORIGINS to a comma-separated list to override.
	CORSOrigins []string

	// StoreBackend selects where trips are kept: postgres, redis or memory.
	// Defaults to "postgres".
	StoreBackend string

	// DatabaseURL is the Postgres connection string.
	// Required when StoreBackend is postgres.
	DatabaseURL string

	// RedisAddr is the host:port of the Redis server.
	// Required when StoreBackend is redis.
	RedisAddr string

	// RedisPrefix namespaces every key the redis backend writes.
	// Defaults to "tripsync:".
	RedisPrefix string

	// WSMaxMessageBytes caps one inbound websocket frame. Defaults to 64 KiB.
	WSMaxMessageBytes int64

	// MaxBodyBytes caps an HTTP request body. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Load reads configuration from environment variables and returns a Config.
// Returns one error listing every required variable that is not set and
// every variable whose value is invalid.
func Load() (Config, error) {
	cfg := Config{
		Port:         getEnv("PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		CORSOrigins:  splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisPrefix:  getEnv("REDIS_PREFIX", "tripsync:"),
	}

	var missing, invalid []string

	switch cfg.StoreBackend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendRedis:
		if cfg.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
	case BackendMemory:
	default:
		invalid = append(invalid, "STORE_BACKEND")
	}

	var ok bool
	if cfg.WSMaxMessageBytes, ok = getEnvBytes("WS_MAX_MESSAGE_BYTES", 64<<10); !ok {
		invalid = append(invalid, "WS_MAX_MESSAGE_BYTES")
	}
	if cfg.MaxBodyBytes, ok = getEnvBytes("MAX_BODY_BYTES", 1<<20); !ok {
		invalid = append(invalid, "MAX_BODY_BYTES")
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "required environment variables not set: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		problems = append(problems, "invalid environment variables: "+strings.Join(invalid, ", "))
	}
	if len(problems) > 0 {
		return Config{}, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvBytes parses a positive byte count. ok is false for a value that is
// set but not a positive integer.
func getEnvBytes(key string, fallback int64) (n int64, ok bool) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, true
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
