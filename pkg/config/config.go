// Package config loads and validates Watchtower's runtime configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the monitoring core.
type Config struct {
	Monitor   MonitorConfig   `yaml:"monitor" json:"monitor"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Bus       BusConfig       `yaml:"bus" json:"bus"`
	Breaker   BreakerConfig   `yaml:"breaker" json:"breaker"`
	Retention RetentionConfig `yaml:"retention" json:"retention"`
	Logs      LogConfig       `yaml:"logs" json:"logs"`
}

// LogConfig controls the zerolog logger constructed in cmd/monitor.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// MonitorConfig holds the HTTP surface the core mounts its health endpoint on.
type MonitorConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// DatabaseConfig describes the Postgres-capable store and its connection pool.
type DatabaseConfig struct {
	URL             string        `yaml:"url" json:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// BusConfig holds the Live Event Bus's capacity controls (§4.6).
type BusConfig struct {
	MaxClients        int           `yaml:"max_clients" json:"max_clients"`
	MaxRoomsPerClient int           `yaml:"max_rooms_per_client" json:"max_rooms_per_client"`
	ClientTimeout     time.Duration `yaml:"client_timeout" json:"client_timeout"`
	BulkChunkSize     int           `yaml:"bulk_chunk_size" json:"bulk_chunk_size"`
	BulkChunkPause    time.Duration `yaml:"bulk_chunk_pause" json:"bulk_chunk_pause"`
}

// BreakerConfig holds the default per-endpoint circuit breaker settings (§4.2, §4.4).
type BreakerConfig struct {
	FailureThreshold    int           `yaml:"failure_threshold" json:"failure_threshold"`
	ResetTimeoutFactor  int           `yaml:"reset_timeout_factor" json:"reset_timeout_factor"`
	MonitoringPeriod    time.Duration `yaml:"monitoring_period" json:"monitoring_period"`
	MinimumRequests     int           `yaml:"minimum_requests" json:"minimum_requests"`
}

// RetentionConfig holds the Retention & Roll-up Job's schedule and horizons (§4.7).
type RetentionConfig struct {
	DetailRetentionDays int  `yaml:"detail_retention_days" json:"detail_retention_days"`
	HourlyRetentionDays int  `yaml:"hourly_retention_days" json:"hourly_retention_days"`
	DailyRetentionDays  int  `yaml:"daily_retention_days" json:"daily_retention_days"`
	BatchSize           int  `yaml:"batch_size" json:"batch_size"`
	DeleteEnabled       bool `yaml:"delete_enabled" json:"delete_enabled"`
}

// Default returns a Config populated with the defaults named throughout spec.md.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{Host: "0.0.0.0", Port: 8085},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: time.Hour,
			ConnectTimeout:  5 * time.Second,
		},
		Bus: BusConfig{
			MaxClients:        100,
			MaxRoomsPerClient: 10,
			ClientTimeout:     5 * time.Minute,
			BulkChunkSize:     20,
			BulkChunkPause:    100 * time.Millisecond,
		},
		Breaker: BreakerConfig{
			FailureThreshold:   70,
			ResetTimeoutFactor: 3,
			MonitoringPeriod:   300 * time.Second,
			MinimumRequests:    3,
		},
		Retention: RetentionConfig{
			DetailRetentionDays: 7,
			HourlyRetentionDays: 30,
			DailyRetentionDays:  90,
			BatchSize:           10000,
			DeleteEnabled:       true,
		},
		Logs: LogConfig{Level: "info"},
	}
}

// Global configuration instance, set by Load.
var globalConfig *Config

// Load builds a Config from defaults, an optional YAML file named by
// WATCHTOWER_CONFIG_FILE, and environment variable overrides, then validates
// it. A missing DATABASE_URL is a fatal ConfigError, same as the teacher's
// missing-config-file failure.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("WATCHTOWER_CONFIG_FILE"); path != "" {
		if fileExists(path) {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	overrideWithEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the global configuration instance set by the last call to Load.
func Get() *Config {
	if globalConfig == nil {
		panic("configuration not loaded, call Load() first")
	}
	return globalConfig
}

func overrideWithEnv(cfg *Config) {
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.Database.URL = val
	}
	if val := os.Getenv("MAX_CLIENTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Bus.MaxClients = n
		}
	}
	if val := os.Getenv("MAX_ROOMS_PER_CLIENT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Bus.MaxRoomsPerClient = n
		}
	}
	if val := os.Getenv("CLIENT_TIMEOUT_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Bus.ClientTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if val := os.Getenv("DETAIL_RETENTION_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Retention.DetailRetentionDays = n
		}
	}
	if val := os.Getenv("HOURLY_RETENTION_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Retention.HourlyRetentionDays = n
		}
	}
	if val := os.Getenv("DAILY_RETENTION_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Retention.DailyRetentionDays = n
		}
	}
	if val := os.Getenv("CLEANUP_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Retention.BatchSize = n
		}
	}
	if val := os.Getenv("CLEANUP_ENABLED"); val != "" {
		cfg.Retention.DeleteEnabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("MONITOR_PORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Monitor.Port = n
		}
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logs.Level = val
	}
}

// ConfigError signals a fatal startup misconfiguration (§7).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return &ConfigError{Field: "DATABASE_URL", Reason: "required"}
	}
	if cfg.Monitor.Port <= 0 || cfg.Monitor.Port > 65535 {
		return &ConfigError{Field: "monitor.port", Reason: fmt.Sprintf("invalid port %d", cfg.Monitor.Port)}
	}
	if cfg.Bus.MaxClients <= 0 {
		return &ConfigError{Field: "bus.max_clients", Reason: "must be positive"}
	}
	if cfg.Bus.MaxRoomsPerClient <= 0 {
		return &ConfigError{Field: "bus.max_rooms_per_client", Reason: "must be positive"}
	}
	if cfg.Retention.BatchSize <= 0 {
		return &ConfigError{Field: "retention.batch_size", Reason: "must be positive"}
	}
	if cfg.Breaker.MinimumRequests <= 0 {
		return &ConfigError{Field: "breaker.minimum_requests", Reason: "must be positive"}
	}
	if cfg.Breaker.FailureThreshold < 0 || cfg.Breaker.FailureThreshold > 100 {
		return &ConfigError{Field: "breaker.failure_threshold", Reason: "must be in [0, 100]"}
	}
	return nil
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
