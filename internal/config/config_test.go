package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/config"
)

// clearEnv unsets every variable Load reads so the host environment does not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "PORT", "LOG_LEVEL", "OTEL_SERVICE_NAME", "SHUTDOWN_TIMEOUT",
		"STORAGE", "DATABASE_URL", "WAL_PATH", "ACCOUNT_NUMBER_ATTEMPTS", "DEFAULT_ACCOUNT_TYPE",
		"OWNER_BACKEND", "STATIC_OWNERS", "OWNER_API_URL", "HTTP_TIMEOUT", "MAX_RETRIES",
		"INITIAL_BACKOFF", "MAX_CONCURRENCY", "CACHE_TTL", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"SUPABASE_URL", "SUPABASE_ANON_KEY", "SUPABASE_SERVICE_ROLE_KEY", "JWT_SECRET", "JWT_ACCESS_TTL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 || cfg.Storage != config.StorageMemory || cfg.OwnerBackend != config.OwnersStatic {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.AccountNumberAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.AccountNumberAttempts)
	}
	if cfg.AuthEnabled() {
		t.Error("auth must be off without a secret")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	yaml := "port: 9090\nstorage: memory\nwal_path: /tmp/ledger.wal\nstatic_owners: [alice, bob]\ncache_ttl: 30s\nmax_retries: 1\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected port from file, got %d", cfg.Port)
	}
	if cfg.WALPath != "/tmp/ledger.wal" || cfg.CacheTTL != 30*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if len(cfg.StaticOwners) != 2 || cfg.StaticOwners[1] != "bob" {
		t.Errorf("unexpected owners %v", cfg.StaticOwners)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("env must override file, got %d", cfg.MaxRetries)
	}
	if !cfg.AuthEnabled() {
		t.Error("expected auth enabled")
	}
}

func TestLoad_UnknownFileKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	if err := os.WriteFile(path, []byte("prot: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without url":   {"STORAGE": "postgres"},
		"unknown storage":        {"STORAGE": "redis"},
		"supabase without creds": {"OWNER_BACKEND": "supabase"},
		"unknown owner backend":  {"OWNER_BACKEND": "ldap"},
		"zero attempts":          {"ACCOUNT_NUMBER_ATTEMPTS": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := config.Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoad_StaticOwnersFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("STATIC_OWNERS", " alice, ,bob ")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.StaticOwners) != 2 || cfg.StaticOwners[0] != "alice" || cfg.StaticOwners[1] != "bob" {
		t.Errorf("unexpected owners %q", cfg.StaticOwners)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nexport LEDGER_A=one\nLEDGER_B=\"two # kept\"\nLEDGER_C=three # dropped\nLEDGER_D=from-file\nnot a pair\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"LEDGER_A", "LEDGER_B", "LEDGER_C"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("LEDGER_D", "from-env")

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	want := map[string]string{
		"LEDGER_A": "one",
		"LEDGER_B": "two # kept",
		"LEDGER_C": "three",
		"LEDGER_D": "from-env",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Errorf("%s: expected %q, got %q", k, v, got)
		}
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	if err := config.LoadDotEnv(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
