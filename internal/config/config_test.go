package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BACKEND_URL", "https://backend.example")
	t.Setenv("BACKEND_API_KEY", "anon-key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.KeepaliveInterval != 24*time.Second {
		t.Errorf("expected 24s keepalive, got %s", cfg.KeepaliveInterval)
	}
	if cfg.ScaryCooldown != 60*time.Second {
		t.Errorf("expected 60s cooldown, got %s", cfg.ScaryCooldown)
	}
}

func TestLoad_RequiresBackend(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("BACKEND_API_KEY", "anon-key")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing BACKEND_URL to be a hard error")
	}
}

func TestLoad_RequiresAPIKey(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://backend.example")
	t.Setenv("BACKEND_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing BACKEND_API_KEY to be a hard error")
	}
}

func TestLoad_KeepaliveBounds(t *testing.T) {
	setRequired(t)

	// The liveness period must stay under the host's 30s idle eviction.
	t.Setenv("KEEPALIVE_INTERVAL", "45s")
	if _, err := Load(); err == nil {
		t.Fatal("expected an interval over 30s to be rejected")
	}

	t.Setenv("KEEPALIVE_INTERVAL", "10s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.KeepaliveInterval != 10*time.Second {
		t.Fatalf("expected 10s, got %s", cfg.KeepaliveInterval)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9999")
	t.Setenv("SCARY_COOLDOWN", "2m")
	t.Setenv("SHARED_SECRET", "hunter2")
	t.Setenv("DEFAULT_STICKER_URL", "https://cdn.example/default.png")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Port)
	}
	if cfg.ScaryCooldown != 2*time.Minute {
		t.Errorf("expected 2m cooldown, got %s", cfg.ScaryCooldown)
	}
	if cfg.SharedSecret != "hunter2" {
		t.Errorf("unexpected shared secret %q", cfg.SharedSecret)
	}
	if cfg.DefaultStickerURL != "https://cdn.example/default.png" {
		t.Errorf("unexpected default sticker %q", cfg.DefaultStickerURL)
	}
}
