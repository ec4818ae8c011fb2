// Package config loads matcher settings from the environment, optionally
// seeded from a .env file in the working directory.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Matching backends.
const (
	BackendLocal = "local"
	BackendNATS  = "nats"
)

// Config holds every matcher setting read from the environment.
type Config struct {
	// Server
	ListenAddr     string
	WorkerPoolSize int
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ServerName     string

	// Logging
	LogLevel string
	Env      string

	// Matching
	MatchBackend  string
	MatchDebounce time.Duration
	MatchTimeout  time.Duration
	ClaimTimeout  time.Duration

	// Collaboration hand-off
	CollabSessionTTL time.Duration

	// Infrastructure
	NATSURL   string
	RedisAddr string // empty disables Redis-backed features
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		WorkerPoolSize:   getInt("WORKER_POOL_SIZE", 256),
		MaxConnections:   getInt("MAX_CONNECTIONS", 100000),
		ReadTimeout:      getDuration("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:     getDuration("WRITE_TIMEOUT", 10*time.Second),
		ServerName:       getEnv("SERVER_NAME", hostname()),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Env:              getEnv("ENV", "development"),
		MatchBackend:     getEnv("MATCH_BACKEND", BackendLocal),
		MatchDebounce:    getDuration("MATCH_DEBOUNCE", 2*time.Second),
		MatchTimeout:     getDuration("MATCH_TIMEOUT", 60*time.Second),
		ClaimTimeout:     getDuration("CLAIM_TIMEOUT", 2*time.Second),
		CollabSessionTTL: getDuration("COLLAB_SESSION_TTL", 2*time.Hour),
		NATSURL:          getEnv("NATS_URL", "nats://localhost:4222"),
		RedisAddr:        lookupEnv("REDIS_ADDR", "localhost:6379"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the server misbehave rather than
// fail fast.
func (c *Config) Validate() error {
	switch c.MatchBackend {
	case BackendLocal, BackendNATS:
	default:
		return fmt.Errorf("config: MATCH_BACKEND must be %q or %q, got %q", BackendLocal, BackendNATS, c.MatchBackend)
	}
	if c.WorkerPoolSize <= 0 || c.MaxConnections <= 0 {
		return fmt.Errorf("config: WORKER_POOL_SIZE and MAX_CONNECTIONS must be positive")
	}
	if c.MatchTimeout <= 0 {
		return fmt.Errorf("config: MATCH_TIMEOUT must be positive, got %s", c.MatchTimeout)
	}
	if c.MatchDebounce < 0 {
		return fmt.Errorf("config: MATCH_DEBOUNCE must not be negative, got %s", c.MatchDebounce)
	}
	if c.ClaimTimeout <= 0 {
		return fmt.Errorf("config: CLAIM_TIMEOUT must be positive, got %s", c.ClaimTimeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv distinguishes an explicitly empty variable from an unset one.
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func hostname() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "matcher-1"
}
