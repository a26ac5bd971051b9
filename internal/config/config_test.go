package config

import (
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://user@localhost:5432/gtfs?sslmode=disable")
	t.Setenv("OBA_API_URL", "https://api.example.org")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != time.Minute {
		t.Errorf("poll interval = %v, want 1m", cfg.PollInterval)
	}
	if cfg.ExpiryWindow != 30*time.Minute {
		t.Errorf("expiry window = %v, want 30m", cfg.ExpiryWindow)
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("fetch timeout = %v, want 10s", cfg.FetchTimeout)
	}
	if cfg.CleanupAge != 24*time.Hour {
		t.Errorf("cleanup age = %v, want 24h", cfg.CleanupAge)
	}
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("POLL_INTERVAL_MS", "30000")
	t.Setenv("EXPIRY_WINDOW_MIN", "45")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("poll interval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.ExpiryWindow != 45*time.Minute {
		t.Errorf("expiry window = %v, want 45m", cfg.ExpiryWindow)
	}
}

func TestLoadRejectsBadInterval(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("POLL_INTERVAL_MS", "nope")

	if _, err := Load(); err == nil {
		t.Errorf("expected error for invalid POLL_INTERVAL_MS")
	}
}

func TestLoadRequiresAPIURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://user@localhost:5432/gtfs")
	t.Setenv("OBA_API_URL", "")

	if _, err := Load(); err == nil {
		t.Errorf("expected error when OBA_API_URL is unset")
	}
}
