package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noFlags() GlobalFlags {
	return GlobalFlags{Retries: -1, Slippage: -1}
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	body := "output: plain\nretries: 1\nhub:\n  partner: filepartner\n  slippage: 1.5\n  quote_interval: 20s\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("HUBROUTE_OUTPUT", "json")
	t.Setenv("HUBROUTE_PARTNER", "envpartner")
	flags := noFlags()
	flags.ConfigPath = configPath
	flags.Plain = true
	flags.Retries = 5
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.Partner != "envpartner" {
		t.Fatalf("expected env partner over file, got %s", settings.Partner)
	}
	if settings.Slippage != 1.5 || settings.QuoteInterval != 20*time.Second {
		t.Fatalf("expected file hub settings, got slippage=%v interval=%s", settings.Slippage, settings.QuoteInterval)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	flags := noFlags()
	flags.ConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Slippage != 0.5 || settings.QuoteInterval != 10*time.Second || settings.Chain != "polygon" {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
	if filepath.Base(settings.PrefsPath) != "prefs.db" || filepath.Base(settings.OrdersPath) != "orders.db" {
		t.Fatalf("unexpected store paths: %s %s", settings.PrefsPath, settings.OrdersPath)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	flags := noFlags()
	flags.JSON, flags.Plain = true, true
	if _, err := Load(flags); err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadRejectsSlippageOutOfRange(t *testing.T) {
	flags := noFlags()
	flags.ConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	flags.Slippage = 150
	if _, err := Load(flags); err == nil {
		t.Fatal("expected slippage range error")
	}
}
