package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	UserID  string        `yaml:"userID"`
	Backend BackendConfig `yaml:"backend"`
	Trade   TradeConfig   `yaml:"trade"`
	Search  SearchConfig  `yaml:"search"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Status  StatusConfig  `yaml:"status"`
}

type BackendConfig struct {
	BaseURL   string  `yaml:"baseURL"`
	Token     string  `yaml:"token"`
	TimeoutMs int     `yaml:"timeoutMs"`
	RateLimit float64 `yaml:"rateLimit"` // 每秒请求数，0 表示不限
	Burst     int     `yaml:"burst"`
	// 连续故障 breakerThreshold 次后熔断 breakerCooldownMs
	BreakerThreshold  int `yaml:"breakerThreshold"`
	BreakerCooldownMs int `yaml:"breakerCooldownMs"`
}

type TradeConfig struct {
	OnConflict     string `yaml:"onConflict"` // queue | reject
	QuoteTimeoutMs int    `yaml:"quoteTimeoutMs"`
}

type SearchConfig struct {
	DebounceMs int `yaml:"debounceMs"`
	MinLength  int `yaml:"minLength"`
	MaxResults int `yaml:"maxResults"`
	TimeoutMs  int `yaml:"timeoutMs"`
}

type StoreConfig struct {
	Driver         string  `yaml:"driver"` // remote | sqlite
	Path           string  `yaml:"path"`
	InitialBalance float64 `yaml:"initialBalance"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
	Output string `yaml:"output"` // stdout | file | both
	File   string `yaml:"file"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"`
}

const (
	DriverRemote = "remote"
	DriverSQLite = "sqlite"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (b BackendConfig) Timeout() time.Duration         { return ms(b.TimeoutMs) }
func (b BackendConfig) BreakerCooldown() time.Duration { return ms(b.BreakerCooldownMs) }
func (t TradeConfig) QuoteTimeout() time.Duration      { return ms(t.QuoteTimeoutMs) }
func (s SearchConfig) Debounce() time.Duration         { return ms(s.DebounceMs) }
func (s SearchConfig) Timeout() time.Duration          { return ms(s.TimeoutMs) }

// Default returns a config usable without a file (sqlite, local user).
func Default() AppConfig {
	cfg := AppConfig{
		Env:     "dev",
		Backend: BackendConfig{BaseURL: "http://127.0.0.1:8000"},
		Store:   StoreConfig{Driver: DriverSQLite, Path: "data/papertrade.db"},
	}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.UserID == "" {
		cfg.UserID = "local"
	}
	if cfg.Backend.TimeoutMs == 0 {
		cfg.Backend.TimeoutMs = 10000
	}
	if cfg.Backend.BreakerThreshold == 0 {
		cfg.Backend.BreakerThreshold = 5
	}
	if cfg.Backend.BreakerCooldownMs == 0 {
		cfg.Backend.BreakerCooldownMs = 30000
	}
	if cfg.Trade.OnConflict == "" {
		cfg.Trade.OnConflict = "queue"
	}
	if cfg.Trade.QuoteTimeoutMs == 0 {
		cfg.Trade.QuoteTimeoutMs = 10000
	}
	if cfg.Search.DebounceMs == 0 {
		cfg.Search.DebounceMs = 300
	}
	if cfg.Search.MinLength == 0 {
		cfg.Search.MinLength = 2
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 10
	}
	if cfg.Search.TimeoutMs == 0 {
		cfg.Search.TimeoutMs = 5000
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverRemote
	}
	if cfg.Store.InitialBalance == 0 {
		cfg.Store.InitialBalance = 100000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Status.Addr == "" {
		cfg.Status.Addr = "127.0.0.1:9464"
	}
}

func parse(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// LoadWithEnvOverrides loads config, reads .env if present, then overrides
// backend credentials and paths from PAPER_* env vars.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	_ = godotenv.Load()
	ApplyEnv(&cfg)
	return cfg, Validate(cfg)
}

// ApplyEnv copies PAPER_* env vars over cfg.
func ApplyEnv(cfg *AppConfig) {
	if v := os.Getenv("PAPER_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("PAPER_BACKEND_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}
	if v := os.Getenv("PAPER_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("PAPER_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}
