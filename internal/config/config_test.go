package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "Asia/Tokyo")
	t.Setenv("DISPATCH_CONCURRENCY", "0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DispatchConcurrency != 1 {
		t.Fatalf("expected concurrency to be clamped to 1, got %d", cfg.DispatchConcurrency)
	}
	if cfg.DispatchTimeout != 50*time.Second {
		t.Fatalf("unexpected dispatch timeout %s", cfg.DispatchTimeout)
	}
	if cfg.Location().String() != "Asia/Tokyo" {
		t.Fatalf("unexpected location %s", cfg.Location())
	}
	if cfg.IsProduction() {
		t.Fatalf("expected development by default")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := "http_address: \":9090\"\nenvironment: production\ntimezone: UTC\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddress != ":9090" || !cfg.IsProduction() {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":7070")
	t.Setenv("APP_TIMEZONE", "UTC")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddress != ":7070" {
		t.Fatalf("expected env address, got %q", cfg.HTTPAddress)
	}
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}

func TestLoad_DigestTime(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "UTC")
	t.Setenv("DIGEST_TIME", "7:30")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DigestTime != "7:30" {
		t.Fatalf("unexpected digest time %q", cfg.DigestTime)
	}

	t.Setenv("DIGEST_TIME", "morning")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for malformed digest time")
	}
}
