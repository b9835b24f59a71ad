// config.go

// Environment variable loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all env configuration vars for the Kiwi API.
type Config struct {
	DatabaseURL string
	// RedisURL is optional -- empty disables the session cache and the sign-in limiter.
	RedisURL string
	Port     string
	LogLevel slog.Level

	// AppleClientID is the audience expected in Sign in with Apple identity tokens.
	AppleClientID string

	// Vision model settings. Defaults: gpt-4o, OpenAI base URL, 45s timeout, 4096 tokens.
	OpenAIAPIKey   string
	ModelName      string
	ModelBaseURL   string
	ModelTimeout   time.Duration
	ModelMaxTokens int

	// DailyScanLimit caps successful scans per user per UTC day. Default 4.
	DailyScanLimit int

	// SessionTTL is how long an issued bearer token stays valid. Default 720h (30d).
	SessionTTL time.Duration

	// Rate limit policy for sign-in attempts per client IP.
	// Defaults: max=20, window=10m, lockout=15m.
	RateAuthIPMax     int
	RateAuthIPWindow  time.Duration
	RateAuthIPLockout time.Duration
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into the process
// environment. Variables already set win. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables (DATABASE_URL, OPENAI_API_KEY, APPLE_CLIENT_ID) are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	cfg.AppleClientID = os.Getenv("APPLE_CLIENT_ID")
	if cfg.AppleClientID == "" {
		return nil, fmt.Errorf("APPLE_CLIENT_ID is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	// Attempt to get port num, default to 3000
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "3000"
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.ModelName = envString("MODEL_NAME", "gpt-4o")
	cfg.ModelBaseURL = strings.TrimRight(envString("MODEL_BASE_URL", "https://api.openai.com/v1"), "/")
	if !strings.HasPrefix(cfg.ModelBaseURL, "https://") && !strings.HasPrefix(cfg.ModelBaseURL, "http://") {
		return nil, fmt.Errorf("MODEL_BASE_URL must be an http(s) URL")
	}
	cfg.ModelTimeout = envDuration("MODEL_TIMEOUT", 45*time.Second)
	cfg.ModelMaxTokens = envInt("MODEL_MAX_TOKENS", 4096)

	cfg.DailyScanLimit = envInt("DAILY_SCAN_LIMIT", 4)
	cfg.SessionTTL = envDuration("SESSION_TTL", 720*time.Hour)

	// Rate limit: sign-in by IP. Invalid values fall back to defaults so a
	// misconfigured env doesn't silently disable rate limiting.
	cfg.RateAuthIPMax = envInt("RATE_AUTH_IP_MAX", 20)
	cfg.RateAuthIPWindow = envDuration("RATE_AUTH_IP_WINDOW", 10*time.Minute)
	cfg.RateAuthIPLockout = envDuration("RATE_AUTH_IP_LOCKOUT", 15*time.Minute)

	return cfg, nil
}

// envString reads an env var, returning def if missing.
func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
