package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ROTATION_STORE", "memory")
	t.Setenv("ROTATION_SIM_SEED", "")
	t.Setenv("ROTATION_TRUST_PROXY", "")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TrustProxy {
		t.Fatalf("forwarding headers must not be trusted by default")
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("got addr %q", cfg.Addr)
	}
	if cfg.TurnDuration != time.Hour || cfg.Lease != 2*time.Minute {
		t.Fatalf("got turn=%s lease=%s", cfg.TurnDuration, cfg.Lease)
	}
	if cfg.SimSeed != nil {
		t.Fatalf("seed should be unset")
	}
	if cfg.StuckAfter != 3 || cfg.TriggerBurst != 10 {
		t.Fatalf("got stuck=%d burst=%d", cfg.StuckAfter, cfg.TriggerBurst)
	}
}

func TestLoadAPIOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("ROTATION_STORE", "sqlite")
	t.Setenv("ROTATION_TURN_DURATION", "30m")
	t.Setenv("ROTATION_SIM_SEED", "42")
	t.Setenv("ROTATION_DECAY_RATE", "0.05")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Store.Driver != StoreSQLite {
		t.Fatalf("got addr=%q driver=%q", cfg.Addr, cfg.Store.Driver)
	}
	if cfg.TurnDuration != 30*time.Minute {
		t.Fatalf("got turn %s", cfg.TurnDuration)
	}
	if cfg.SimSeed == nil || *cfg.SimSeed != 42 {
		t.Fatalf("got seed %v", cfg.SimSeed)
	}
	if cfg.Economy.DecayRate != 0.05 {
		t.Fatalf("got decay %v", cfg.Economy.DecayRate)
	}
}

func TestLoadAPIRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without url": {"ROTATION_STORE": "postgres", "DATABASE_URL": ""},
		"unknown store":        {"ROTATION_STORE": "redis"},
		"bad seed":             {"ROTATION_STORE": "memory", "ROTATION_SIM_SEED": "abc"},
		"inverted plays":       {"ROTATION_STORE": "memory", "ROTATION_PLAYS_MIN": "900", "ROTATION_PLAYS_MAX": "100"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := LoadAPIFromEnv(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestPingerLogLevel(t *testing.T) {
	t.Setenv("ROTATION_LOG_LEVEL", "DEBUG")
	cfg := LoadPingerFromEnv()
	if cfg.LogLevel != "debug" {
		t.Fatalf("got log level %q", cfg.LogLevel)
	}
	if got := SlogLevel(cfg.LogLevel); got != slog.LevelDebug {
		t.Fatalf("got slog level %v want debug", got)
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		" Error ": slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for name, want := range cases {
		if got := SlogLevel(name); got != want {
			t.Fatalf("SlogLevel(%q) got %v want %v", name, got, want)
		}
	}
}

func TestLoadCharts(t *testing.T) {
	specs, err := LoadCharts("")
	if err != nil || len(specs) == 0 {
		t.Fatalf("defaults: %v %v", specs, err)
	}

	path := filepath.Join(t.TempDir(), "charts.yaml")
	body := "charts:\n  - type: hot_radio\n    subject: track\n    metric: spins\n    cap: 10\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	specs, err = LoadCharts(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(specs) != 1 || specs[0].Type != "hot_radio" || specs[0].Cap != 10 || string(specs[0].Metric) != "spins" {
		t.Fatalf("got %+v", specs)
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, []byte("charts: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCharts(empty); err == nil {
		t.Fatalf("expected error for empty charts file")
	}
}
