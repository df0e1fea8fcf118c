// Package config handles configuration loading for backtestcore.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// Config represents the complete application configuration.
type Config struct {
	Backtest  BacktestDefaults `mapstructure:"backtest"  yaml:"backtest"  json:"backtest"`
	Universe  UniverseConfig   `mapstructure:"universe"  yaml:"universe"  json:"universe"`
	Sandbox   SandboxConfig    `mapstructure:"sandbox"   yaml:"sandbox"   json:"sandbox"`
	API       APIConfig        `mapstructure:"api"       yaml:"api"       json:"api"`
	Logging   LoggingConfig    `mapstructure:"logging"   yaml:"logging"   json:"logging"`
	Market    MarketConfig     `mapstructure:"market"    yaml:"market"    json:"market"`
}

// BacktestDefaults holds the enumerated §6 request defaults. InitialCapital
// fills in a missing initial capital (API and CLI) and Workers a missing
// --workers value (CLI); PositionSize, Commission, Slippage and Interval are
// not applied to requests, which fall back to models.BacktestConfig.WithDefaults.
type BacktestDefaults struct {
	InitialCapital float64 `mapstructure:"initial_capital" yaml:"initial_capital" json:"initial_capital"`
	PositionSize   float64 `mapstructure:"position_size"   yaml:"position_size"   json:"position_size"`
	Commission     float64 `mapstructure:"commission"      yaml:"commission"      json:"commission"`
	Slippage       float64 `mapstructure:"slippage"        yaml:"slippage"        json:"slippage"`
	Workers        int     `mapstructure:"workers"         yaml:"workers"         json:"workers"`
	Interval       string  `mapstructure:"interval"        yaml:"interval"        json:"interval"`
}

// UniverseConfig holds ticker-universe resolver settings.
type UniverseConfig struct {
	Default  string `mapstructure:"default"   yaml:"default"   json:"default"`
	CacheTTL int    `mapstructure:"cache_ttl" yaml:"cache_ttl" json:"cache_ttl"` // seconds
}

// SandboxConfig holds strategy sandbox execution limits. CallTimeoutMs is not
// read by internal/sandbox, whose per-call budget is its CallTimeout constant.
type SandboxConfig struct {
	CallTimeoutMs int `mapstructure:"call_timeout_ms" yaml:"call_timeout_ms" json:"call_timeout_ms"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"        yaml:"host"        json:"host"`
	Port        int      `mapstructure:"port"        yaml:"port"        json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  json:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format" json:"format"` // "text" or "json"
}

// MarketConfig holds historical-data-provider settings.
type MarketConfig struct {
	CacheTTL       int    `mapstructure:"cache_ttl"        yaml:"cache_ttl"        json:"cache_ttl"` // seconds
	RateLimitPerS  int    `mapstructure:"rate_limit_per_s" yaml:"rate_limit_per_s" json:"rate_limit_per_s"`
	VendorAPIKey   string `mapstructure:"vendor_api_key"   yaml:"vendor_api_key"   json:"-"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.backtestcore/config.yaml (home directory)
//  3. /etc/backtestcore/config.yaml (system)
//
// Environment variables override config file values.
// Format: BACKTESTCORE_<SECTION>_<KEY>, e.g., BACKTESTCORE_MARKET_VENDOR_API_KEY
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".backtestcore"))
	v.AddConfigPath("/etc/backtestcore")

	v.SetEnvPrefix("BACKTESTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — that's fine, use defaults + env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)

	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("BACKTESTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values, matching
// models.BacktestConfig.WithDefaults and the engine's own defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("backtest.initial_capital", 100000)
	v.SetDefault("backtest.position_size", 1.0)
	v.SetDefault("backtest.commission", 0.0)
	v.SetDefault("backtest.slippage", 0.0)
	v.SetDefault("backtest.workers", 10)
	v.SetDefault("backtest.interval", "1d")

	v.SetDefault("universe.default", "sp500")
	v.SetDefault("universe.cache_ttl", 86400) // 24h, constituents change rarely

	v.SetDefault("sandbox.call_timeout_ms", 5000)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("market.cache_ttl", 900) // 15 minutes
	v.SetDefault("market.rate_limit_per_s", 5)
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("BACKTESTCORE_MARKET_VENDOR_API_KEY"); key != "" {
		cfg.Market.VendorAPIKey = key
	}
}

// SaveToFile writes the current configuration to a YAML file.
// If path is empty, it writes to ./config/config.yaml.
func SaveToFile(cfg *Config, path string) error {
	if path == "" {
		path = filepath.Join(".", "config", "config.yaml")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ConfigFilePath returns the path to the active config file (if any).
// Returns empty string if no config file was found.
func ConfigFilePath() string {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".backtestcore"))
	v.AddConfigPath("/etc/backtestcore")

	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
