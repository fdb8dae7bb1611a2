package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"rotation/internal/charts"
	"rotation/internal/economy"

	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

type StoreConfig struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
}

type APIConfig struct {
	Addr         string
	Store        StoreConfig
	TurnDuration time.Duration
	Lease        time.Duration
	StuckAfter   int
	// SimSeed makes every pass reproducible when set.
	SimSeed      *int64
	APIToken     string
	TriggerRPS   float64
	TriggerBurst int
	// TrustProxy keys the trigger limiter on forwarding headers instead of
	// the socket peer. Only set it behind a proxy that overwrites them.
	TrustProxy  bool
	ChartsFile  string
	StartupSeed bool
	Economy     economy.Params
	LogLevel    string
}

type PingerConfig struct {
	APIBaseURL string
	APIToken   string
	Every      time.Duration
	RunOnce    bool
	LogLevel   string
}

type CLIConfig struct {
	APIBaseURL string
	APIToken   string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("ROTATION_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr: addr,
		Store: StoreConfig{
			Driver:      strings.ToLower(envDefault("ROTATION_STORE", StorePostgres)),
			DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
			SQLitePath:  envDefault("ROTATION_SQLITE_PATH", "rotation.db"),
		},
		TurnDuration: envDurationDefault("ROTATION_TURN_DURATION", time.Hour),
		Lease:        envDurationDefault("ROTATION_LEASE", 2*time.Minute),
		StuckAfter:   envIntDefault("ROTATION_STUCK_AFTER", 3),
		APIToken:     strings.TrimSpace(os.Getenv("ROTATION_API_TOKEN")),
		TriggerRPS:   envFloatDefault("ROTATION_TRIGGER_RPS", 2),
		TriggerBurst: envIntDefault("ROTATION_TRIGGER_BURST", 10),
		TrustProxy:   envBoolDefault("ROTATION_TRUST_PROXY", false),
		ChartsFile:   strings.TrimSpace(os.Getenv("ROTATION_CHARTS_FILE")),
		StartupSeed:  envBoolDefault("ROTATION_STARTUP_SEED", false),
		Economy:      economyFromEnv(),
		LogLevel:     strings.ToLower(envDefault("ROTATION_LOG_LEVEL", "info")),
	}
	if v := strings.TrimSpace(os.Getenv("ROTATION_SIM_SEED")); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("ROTATION_SIM_SEED must be an integer: %w", err)
		}
		cfg.SimSeed = &seed
	}

	switch cfg.Store.Driver {
	case StorePostgres:
		if cfg.Store.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreSQLite, StoreMemory:
	default:
		return cfg, fmt.Errorf("ROTATION_STORE must be postgres, sqlite or memory, got %q", cfg.Store.Driver)
	}
	if cfg.TurnDuration <= 0 {
		return cfg, fmt.Errorf("ROTATION_TURN_DURATION must be positive")
	}
	if cfg.Lease <= 0 {
		return cfg, fmt.Errorf("ROTATION_LEASE must be positive")
	}
	if cfg.TriggerRPS <= 0 || cfg.TriggerBurst <= 0 {
		return cfg, fmt.Errorf("trigger rate limit must be positive")
	}
	if err := cfg.Economy.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func economyFromEnv() economy.Params {
	p := economy.DefaultParams()
	p.DecayRate = envFloatDefault("ROTATION_DECAY_RATE", p.DecayRate)
	p.FloorDecay = envFloatDefault("ROTATION_FLOOR_DECAY", p.FloorDecay)
	p.PlaysMin = envInt64Default("ROTATION_PLAYS_MIN", p.PlaysMin)
	p.PlaysMax = envInt64Default("ROTATION_PLAYS_MAX", p.PlaysMax)
	p.SpinsMin = envInt64Default("ROTATION_SPINS_MIN", p.SpinsMin)
	p.SpinsMax = envInt64Default("ROTATION_SPINS_MAX", p.SpinsMax)
	return p
}

type chartsFile struct {
	Charts []charts.Spec `yaml:"charts"`
}

// LoadCharts reads chart definitions from a YAML file. An empty path yields
// the built-in charts.
func LoadCharts(path string) ([]charts.Spec, error) {
	if path == "" {
		return charts.DefaultSpecs(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read charts file: %w", err)
	}
	var f chartsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse charts file: %w", err)
	}
	if len(f.Charts) == 0 {
		return nil, fmt.Errorf("charts file %s defines no charts", path)
	}
	return f.Charts, nil
}

func LoadPingerFromEnv() PingerConfig {
	return PingerConfig{
		APIBaseURL: strings.TrimRight(envDefault("ROTATION_API_BASE_URL", "http://localhost:8080"), "/"),
		APIToken:   strings.TrimSpace(os.Getenv("ROTATION_API_TOKEN")),
		Every:      envDurationDefault("ROTATION_PING_EVERY", 15*time.Second),
		RunOnce:    envBoolDefault("ROTATION_PINGER_RUN_ONCE", false),
		LogLevel:   strings.ToLower(envDefault("ROTATION_LOG_LEVEL", "info")),
	}
}

// SlogLevel maps a ROTATION_LOG_LEVEL value to a slog level. Unknown names
// fall back to info.
func SlogLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("ROT_API_BASE_URL", "http://localhost:8080"), "/"),
		APIToken:   strings.TrimSpace(os.Getenv("ROT_API_TOKEN")),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
