package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort == "" {
		t.Fatalf("expected default server port")
	}
	if cfg.PostgresURL == "" {
		t.Fatalf("expected default postgres url")
	}
	if cfg.BufferPath == "" {
		t.Fatalf("expected default buffer path")
	}
	if cfg.SyncInterval <= 0 {
		t.Fatalf("expected positive sync interval")
	}
	if cfg.CadenceDwell < 1 {
		t.Fatalf("expected cadence dwell >= 1")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("POSTGRES_URL", "postgres://example")
	t.Setenv("SYNC_URL", "http://backend/events")
	t.Setenv("SYNC_INTERVAL", "5s")
	t.Setenv("CADENCE_DWELL", "2")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.PostgresURL != "postgres://example" {
		t.Fatalf("expected override postgres")
	}
	if cfg.SyncURL != "http://backend/events" {
		t.Fatalf("expected override sync url")
	}
	if cfg.SyncInterval != 5*time.Second {
		t.Fatalf("expected override sync interval")
	}
	if cfg.CadenceDwell != 2 {
		t.Fatalf("expected override dwell")
	}
}
