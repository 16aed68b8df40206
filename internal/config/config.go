package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the waypost service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string
	DataDir     string

	CellID                string
	CellMaxTurns          int
	CellInactivityTimeout time.Duration

	ApprovalTimeout time.Duration

	TransportMode        string
	TelegramBotToken     string
	TelegramChatID       string
	TelegramAPIRoot      string
	TelegramPollInterval time.Duration

	AgentMode    string
	AgentHTTPURL string

	// Resolved at startup, reported on /readyz.
	StoreMode string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:              envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:      envOrDefault("APP_METRICS_NAMESPACE", "waypost"),
		AllowAnyOrigin:        false,
		DatabaseURL:           stringsTrimSpace("DATABASE_URL"),
		DataDir:               stringsTrimSpace("WAYPOST_DATA_DIR"),
		CellID:                envOrDefault("WAYPOST_CELL_ID", "main"),
		CellMaxTurns:          20,
		CellInactivityTimeout: 10 * time.Minute,
		ApprovalTimeout:       time.Hour,
		TransportMode:         envOrDefault("APPROVAL_TRANSPORT", "auto"),
		TelegramBotToken:      stringsTrimSpace("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:        stringsTrimSpace("TELEGRAM_CHAT_ID"),
		TelegramAPIRoot:       envOrDefault("TELEGRAM_API_ROOT", "https://api.telegram.org"),
		TelegramPollInterval:  2 * time.Second,
		AgentMode:             envOrDefault("AGENT_MODE", "auto"),
		AgentHTTPURL:          stringsTrimSpace("AGENT_HTTP_URL"),
		ShutdownTimeout:       15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CellInactivityTimeout, err = durationFromEnv("WAYPOST_CELL_INACTIVITY_TIMEOUT", cfg.CellInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ApprovalTimeout, err = durationFromEnv("HITL_APPROVAL_TIMEOUT", cfg.ApprovalTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TelegramPollInterval, err = durationFromEnv("TELEGRAM_POLL_INTERVAL", cfg.TelegramPollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CellMaxTurns, err = intFromEnv("WAYPOST_CELL_MAX_TURNS", cfg.CellMaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.CellMaxTurns < 5 {
		return Config{}, fmt.Errorf("WAYPOST_CELL_MAX_TURNS must be at least 5")
	}
	if cfg.ApprovalTimeout < time.Second {
		return Config{}, fmt.Errorf("HITL_APPROVAL_TIMEOUT must be at least 1s")
	}
	if cfg.CellInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("WAYPOST_CELL_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.TransportMode)) {
	case "auto", "telegram", "operator", "mock":
	default:
		return Config{}, fmt.Errorf("invalid APPROVAL_TRANSPORT: %q (expected auto|telegram|operator|mock)", cfg.TransportMode)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.AgentMode)) {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("invalid AGENT_MODE: %q (expected auto|http|mock)", cfg.AgentMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
