package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.CellMaxTurns != 20 {
		t.Fatalf("CellMaxTurns = %d, want 20", cfg.CellMaxTurns)
	}
	if cfg.ApprovalTimeout != time.Hour {
		t.Fatalf("ApprovalTimeout = %v, want 1h", cfg.ApprovalTimeout)
	}
	if cfg.TransportMode != "auto" {
		t.Fatalf("TransportMode = %q, want %q", cfg.TransportMode, "auto")
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadRejectsBadTransport(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APPROVAL_TRANSPORT", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want invalid transport error")
	}
}

func TestLoadRejectsTinyTurnCap(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("WAYPOST_CELL_MAX_TURNS", "2")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want turn cap error")
	}
}

func TestLoadParsesDurations(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("HITL_APPROVAL_TIMEOUT", "90s")
	t.Setenv("TELEGRAM_POLL_INTERVAL", "500ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ApprovalTimeout != 90*time.Second {
		t.Fatalf("ApprovalTimeout = %v, want 90s", cfg.ApprovalTimeout)
	}
	if cfg.TelegramPollInterval != 500*time.Millisecond {
		t.Fatalf("TelegramPollInterval = %v, want 500ms", cfg.TelegramPollInterval)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
		"WAYPOST_DATA_DIR",
		"WAYPOST_CELL_ID",
		"WAYPOST_CELL_MAX_TURNS",
		"WAYPOST_CELL_INACTIVITY_TIMEOUT",
		"HITL_APPROVAL_TIMEOUT",
		"APPROVAL_TRANSPORT",
		"TELEGRAM_BOT_TOKEN",
		"TELEGRAM_CHAT_ID",
		"TELEGRAM_API_ROOT",
		"TELEGRAM_POLL_INTERVAL",
		"AGENT_MODE",
		"AGENT_HTTP_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
