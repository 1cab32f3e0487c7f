package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Checker   CheckerConfig   `json:"checker" yaml:"checker"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Netwatch  NetwatchConfig  `json:"netwatch" yaml:"netwatch"`
}

type SchedulerConfig struct {
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds"`
}

type CheckerConfig struct {
	Fallback  string `json:"fallback" yaml:"fallback"`   // "auto", "always" or "never"
	ProxyURL  string `json:"proxy_url" yaml:"proxy_url"` // http://, https:// or socks5://
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

type HistoryConfig struct {
	MaxRecords int `json:"max_records" yaml:"max_records"`
}

type APIConfig struct {
	Addr                 string `json:"addr" yaml:"addr"`
	TLSCertFile          string `json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile           string `json:"tls_key_file" yaml:"tls_key_file"`
	ManualCheckPerMinute int    `json:"manual_check_per_minute" yaml:"manual_check_per_minute"`
	EnableIPRateLimit    bool   `json:"enable_ip_rate_limit" yaml:"enable_ip_rate_limit"`
	DefaultHistoryLimit  int    `json:"default_history_limit" yaml:"default_history_limit"`
}

type StorageConfig struct {
	Type                   string `json:"type" yaml:"type"` // "none", "file", "sqlite", "redis"
	Path                   string `json:"path" yaml:"path"` // file path, sqlite path or redis address
	PersistIntervalSeconds int    `json:"persist_interval_seconds" yaml:"persist_interval_seconds"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "json" or "text"
}

type NetwatchConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	IntervalSeconds int  `json:"interval_seconds" yaml:"interval_seconds"`
}

// TLSEnabled reports whether the API server is served over HTTPS
func (a APIConfig) TLSEnabled() bool {
	return a.TLSCertFile != "" && a.TLSKeyFile != ""
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{IntervalSeconds: 30},
		Checker: CheckerConfig{
			Fallback:  "auto",
			UserAgent: "connectivity-monitor/1.0",
		},
		History: HistoryConfig{MaxRecords: 100},
		API: APIConfig{
			Addr:                 ":8083",
			ManualCheckPerMinute: 30,
			EnableIPRateLimit:    true,
			DefaultHistoryLimit:  20,
		},
		Storage: StorageConfig{
			Type:                   "none",
			Path:                   filepath.Join("data", "connectivity.json"),
			PersistIntervalSeconds: 300,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Endpoint:  "/metrics",
			Namespace: "connectivity",
		},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Netwatch: NetwatchConfig{Enabled: true, IntervalSeconds: 5},
	}
}

// Load reads configuration from a JSON or YAML file (by extension).
// A missing file yields the defaults.
func Load(filePath string) (*Config, error) {
	cfg := Default()
	if filePath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Scheduler.IntervalSeconds <= 0 {
		c.Scheduler.IntervalSeconds = def.Scheduler.IntervalSeconds
	}
	if c.Checker.Fallback == "" {
		c.Checker.Fallback = def.Checker.Fallback
	}
	if c.Checker.UserAgent == "" {
		c.Checker.UserAgent = def.Checker.UserAgent
	}
	if c.History.MaxRecords <= 0 {
		c.History.MaxRecords = def.History.MaxRecords
	}
	if c.API.Addr == "" {
		c.API.Addr = def.API.Addr
	}
	if c.API.ManualCheckPerMinute <= 0 {
		c.API.ManualCheckPerMinute = def.API.ManualCheckPerMinute
	}
	if c.API.DefaultHistoryLimit <= 0 {
		c.API.DefaultHistoryLimit = def.API.DefaultHistoryLimit
	}
	if c.Storage.Type == "" {
		c.Storage.Type = def.Storage.Type
	}
	if c.Storage.Path == "" && c.Storage.Type != "redis" {
		c.Storage.Path = def.Storage.Path
	}
	if c.Storage.PersistIntervalSeconds < 0 {
		c.Storage.PersistIntervalSeconds = 0
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = def.Metrics.Endpoint
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = def.Metrics.Namespace
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Netwatch.IntervalSeconds <= 0 {
		c.Netwatch.IntervalSeconds = def.Netwatch.IntervalSeconds
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Scheduler.IntervalSeconds < 5 || c.Scheduler.IntervalSeconds > 86400 {
		return fmt.Errorf("%w: scheduler.interval_seconds must be between 5 and 86400", ErrInvalid)
	}
	switch c.Checker.Fallback {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("%w: checker.fallback must be 'auto', 'always' or 'never'", ErrInvalid)
	}
	if c.Checker.ProxyURL != "" {
		u, err := url.Parse(c.Checker.ProxyURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%w: checker.proxy_url is not a valid URL", ErrInvalid)
		}
		switch u.Scheme {
		case "http", "https", "socks5":
		default:
			return fmt.Errorf("%w: checker.proxy_url scheme must be http, https or socks5", ErrInvalid)
		}
	}
	if c.History.MaxRecords < 1 || c.History.MaxRecords > 100000 {
		return fmt.Errorf("%w: history.max_records must be between 1 and 100000", ErrInvalid)
	}
	if (c.API.TLSCertFile == "") != (c.API.TLSKeyFile == "") {
		return fmt.Errorf("%w: api.tls_cert_file and api.tls_key_file must be set together", ErrInvalid)
	}
	switch c.Storage.Type {
	case "none", "file", "sqlite", "redis":
	default:
		return fmt.Errorf("%w: storage type must be 'none', 'file', 'sqlite', or 'redis'", ErrInvalid)
	}
	if c.Storage.Type == "redis" && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path must hold the redis address", ErrInvalid)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("%w: logging.format must be 'json' or 'text'", ErrInvalid)
	}
	return nil
}
