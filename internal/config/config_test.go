package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 2333 {
		t.Fatalf("expected default port, got %d", cfg.Port)
	}
	if !cfg.IsDev() {
		t.Fatal("expected development default")
	}
	if cfg.Attendance.ChainTokenTTLSeconds != 20 {
		t.Fatalf("expected chain TTL 20, got %d", cfg.Attendance.ChainTokenTTLSeconds)
	}
	if cfg.Attendance.RotationIntervalSeconds != 60 {
		t.Fatalf("expected rotation interval 60, got %d", cfg.Attendance.RotationIntervalSeconds)
	}
	if cfg.Attendance.ExitWindowMinutes != 10 {
		t.Fatalf("expected exit window 10, got %d", cfg.Attendance.ExitWindowMinutes)
	}
}

func TestLoadOverridesAndDSN(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yml")
	raw := `
port: 8080
env: production
database:
  host: db.internal
  user: cp
  password: secret
  name: chainpass_prod
attendance:
  chain_token_ttl_seconds: 30
  rate_limit_max_attempts: 5
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 || cfg.IsDev() {
		t.Fatal("expected production overrides")
	}
	if cfg.Attendance.ChainTokenTTLSeconds != 30 {
		t.Fatalf("expected TTL override, got %d", cfg.Attendance.ChainTokenTTLSeconds)
	}
	if cfg.Attendance.RateLimitMaxAttempts != 5 {
		t.Fatalf("expected max attempts override, got %d", cfg.Attendance.RateLimitMaxAttempts)
	}
	// Untouched values still default.
	if cfg.Attendance.RotatingTTLSeconds != 90 {
		t.Fatalf("expected default rotating TTL, got %d", cfg.Attendance.RotatingTTLSeconds)
	}

	want := "cp:secret@tcp(db.internal:3306)/chainpass_prod?charset=utf8mb4&parseTime=True&loc=Local"
	if got := cfg.DSN(); got != want {
		t.Fatalf("dsn mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("prot: 8080\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestExplicitDSNWins(t *testing.T) {
	t.Parallel()
	cfg := &AppConfig{Database: DatabaseConfig{DSN: "user:pw@tcp(x:3306)/db"}}
	cfg.applyDefaults()
	if cfg.DSN() != "user:pw@tcp(x:3306)/db" {
		t.Fatalf("explicit dsn must win, got %s", cfg.DSN())
	}
}
