// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	// TelegramBotToken enables the chat bot when set.
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64
	// HTTPAddr is the API listen address; empty disables the API.
	HTTPAddr string

	RefreshInterval    time.Duration
	AnalyzeBatch       int
	QualityFreshness   time.Duration
	RecommendThreshold float64
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	BatchSize          int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabasePath:     envOrDefault("DATABASE_PATH", "./data/silentfeed.db"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
	}
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok && strings.TrimSpace(v) == "" {
		cfg.HTTPAddr = ""
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid LOG_LEVEL %q", cfg.LogLevel)
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
		}
	}

	refresh, err := intEnv("REFRESH_INTERVAL_MINUTES", 30, 1, 1440)
	if err != nil {
		return nil, err
	}
	cfg.RefreshInterval = time.Duration(refresh) * time.Minute

	if cfg.AnalyzeBatch, err = intEnv("ANALYZE_BATCH", 10, 1, 1000); err != nil {
		return nil, err
	}

	freshness, err := intEnv("QUALITY_FRESHNESS_HOURS", 24, 1, 24*365)
	if err != nil {
		return nil, err
	}
	cfg.QualityFreshness = time.Duration(freshness) * time.Hour

	threshold, err := intEnv("RECOMMEND_THRESHOLD", 70, 0, 100)
	if err != nil {
		return nil, err
	}
	cfg.RecommendThreshold = float64(threshold)

	if cfg.RetryMaxAttempts, err = intEnv("RETRY_MAX_ATTEMPTS", 3, 1, 20); err != nil {
		return nil, err
	}

	delay, err := intEnv("RETRY_BASE_DELAY_MS", 100, 0, 60_000)
	if err != nil {
		return nil, err
	}
	cfg.RetryBaseDelay = time.Duration(delay) * time.Millisecond

	if cfg.BatchSize, err = intEnv("BATCH_SIZE", 50, 1, 10_000); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be between %d and %d, got %d", key, lo, hi, v)
	}
	return v, nil
}
