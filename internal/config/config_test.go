package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGER_TIMEZONE", "UTC")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" || cfg.DatabasePath != "ledger.db" {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
	if cfg.TradeTimeout != 10*time.Second || cfg.TradeMaxAttempts != 3 {
		t.Errorf("Unexpected trade defaults timeout=%s attempts=%d", cfg.TradeTimeout, cfg.TradeMaxAttempts)
	}
	if cfg.Production() {
		t.Error("Expected development by default")
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "PORT=9090\nLEDGER_TIMEZONE=UTC\nTRADE_TIMEOUT=3s\nENV=production\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}
	for _, key := range []string{"PORT", "LEDGER_TIMEZONE", "TRADE_TIMEOUT", "ENV"} {
		key := key
		prev, had := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if had {
				os.Setenv(key, prev)
			} else {
				os.Unsetenv(key)
			}
		})
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" || cfg.TradeTimeout != 3*time.Second || !cfg.Production() {
		t.Errorf("Env file not applied: %+v", cfg)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Expected UTC, got %v (%v)", loc, err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")

	t.Run("timezone", func(t *testing.T) {
		t.Setenv("LEDGER_TIMEZONE", "Mars/Olympus")
		if _, err := Load(missing); err == nil {
			t.Error("Expected an error for an unknown timezone")
		}
	})

	t.Run("attempts", func(t *testing.T) {
		t.Setenv("LEDGER_TIMEZONE", "UTC")
		t.Setenv("TRADE_MAX_ATTEMPTS", "0")
		if _, err := Load(missing); err == nil {
			t.Error("Expected an error for zero attempts")
		}
	})
}
