// Package config loads the engine's runtime configuration from the
// environment, following the same getEnv*/defaults pattern used throughout
// this codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration surface described in the
// "Configuration surface (environment)" section of the spec.
type Config struct {
	// Database
	DatabasePath string

	// Telegram notification sink
	TelegramToken       string
	DefaultNotifyChatID int64

	// Exchange endpoint overrides
	BinanceWSURL   string
	BinanceRESTURL string

	// Stream Manager
	StreamBufferCapacity int

	// Per-user trading worker. Read from LOCK_TIMEOUT_MS, but nothing passes
	// it to the worker: workers always use worker.DefaultLockTimeout.
	LockTimeout time.Duration

	// Reconciler default sizing
	DefaultSignalQuantity decimal.Decimal

	Debug bool
}

// Load reads the environment and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:          getEnv("DATABASE_URL", "data/signalengine.db"),
		TelegramToken:         os.Getenv("TELEGRAM_BOT_TOKEN"),
		BinanceWSURL:          getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443/ws"),
		BinanceRESTURL:        getEnv("BINANCE_REST_URL", "https://api.binance.com"),
		StreamBufferCapacity:  getEnvInt("STREAM_BUFFER_CAPACITY", 1000),
		LockTimeout:           getEnvDuration("LOCK_TIMEOUT_MS", 5*time.Second),
		DefaultSignalQuantity: getEnvDecimal("DEFAULT_SIGNAL_QUANTITY", decimal.NewFromFloat(0.001)),
		Debug:                 getEnvBool("DEBUG", false),
	}

	if chatID := os.Getenv("DEFAULT_NOTIFY_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_NOTIFY_CHAT_ID: %w", err)
		}
		cfg.DefaultNotifyChatID = id
	}

	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	return cfg, nil
}

// fileOverrides is the optional YAML layer read before environment
// variables are applied; any field left unset in the file falls through to
// the env-var default. Supplements the env-only surface with a file a
// deployment can check into its own config repo.
type fileOverrides struct {
	DatabasePath         string `yaml:"database_path"`
	BinanceWSURL         string `yaml:"binance_ws_url"`
	BinanceRESTURL       string `yaml:"binance_rest_url"`
	StreamBufferCapacity int    `yaml:"stream_buffer_capacity"`
}

// LoadWithFile behaves like Load, but first layers in overrides from a YAML
// file at path (if non-empty); environment variables that are explicitly
// set still take precedence over the file.
func LoadWithFile(path string) (*Config, error) {
	var overrides fileOverrides
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &overrides); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if overrides.DatabasePath != "" && os.Getenv("DATABASE_URL") == "" {
		os.Setenv("DATABASE_URL", overrides.DatabasePath)
	}
	if overrides.BinanceWSURL != "" && os.Getenv("BINANCE_WS_URL") == "" {
		os.Setenv("BINANCE_WS_URL", overrides.BinanceWSURL)
	}
	if overrides.BinanceRESTURL != "" && os.Getenv("BINANCE_REST_URL") == "" {
		os.Setenv("BINANCE_REST_URL", overrides.BinanceRESTURL)
	}
	if overrides.StreamBufferCapacity != 0 && os.Getenv("STREAM_BUFFER_CAPACITY") == "" {
		os.Setenv("STREAM_BUFFER_CAPACITY", strconv.Itoa(overrides.StreamBufferCapacity))
	}

	return Load()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration reads a millisecond integer (matching the spec's
// "lock-timeout ms (default 5,000)" surface) rather than a Go duration string.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
