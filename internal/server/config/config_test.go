package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_PORT", "")
	t.Setenv("JWT_EXPIRATION", "")
	t.Setenv("WATCH_POLL_INTERVAL", "not-a-duration")
	t.Setenv("PUBLIC_URL", "https://gate.example.com/")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.JWTExpiration != 168*time.Hour {
		t.Errorf("JWTExpiration = %v", cfg.JWTExpiration)
	}
	if cfg.WatchPollInterval != 2*time.Second {
		t.Errorf("WatchPollInterval = %v", cfg.WatchPollInterval)
	}
	if cfg.PublicURL != "https://gate.example.com" {
		t.Errorf("PublicURL = %q", cfg.PublicURL)
	}
}

func TestPlatformAdmins(t *testing.T) {
	t.Setenv("PLATFORM_ADMIN_EMAILS", " Root@Example.com, ops@example.com ,,")

	cfg := Load()
	if len(cfg.PlatformAdminEmails) != 2 {
		t.Fatalf("expected 2 admins, got %v", cfg.PlatformAdminEmails)
	}
	if !cfg.IsPlatformAdmin("root@example.COM") {
		t.Error("expected case-insensitive match")
	}
	if cfg.IsPlatformAdmin("") || cfg.IsPlatformAdmin("someone@example.com") {
		t.Error("unexpected admin match")
	}
}

func TestStreamOrigins(t *testing.T) {
	t.Setenv("STREAM_ORIGINS", "app.musa.estate, *.Musa.Estate")

	cfg := Load()
	if len(cfg.StreamOrigins) != 2 || cfg.StreamOrigins[1] != "*.musa.estate" {
		t.Errorf("StreamOrigins = %v", cfg.StreamOrigins)
	}
}
