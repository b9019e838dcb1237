// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/tableview/model"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Client        ClientConfig        `yaml:"client"`
	Cache         CacheConfig         `yaml:"cache"`
	Dataset       DatasetConfig       `yaml:"dataset"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// ClientConfig describes the data access client.
type ClientConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	Locale           string        `yaml:"locale"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
}

// CacheConfig describes where column config and filter options are cached.
type CacheConfig struct {
	Driver    string        `yaml:"driver"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// DatasetConfig describes the in-memory reference table.
type DatasetConfig struct {
	Schema   string        `yaml:"schema"`
	SeedRows int           `yaml:"seed_rows"`
	Seed     int64         `yaml:"seed"`
	AutoAdd  AutoAddConfig `yaml:"auto_add"`
}

// AutoAddConfig holds the generator defaults used when a start request omits
// its parameters.
type AutoAddConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Interval  time.Duration `yaml:"interval"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Cache drivers.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Dataset schemas.
const (
	SchemaEmployees = "employees"
	SchemaOrders    = "orders"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3001,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Accept-Language", "X-Correlation-Id", "X-Table-Id", "traceparent"},
				MaxAge:         86400,
			},
		},
		Client: ClientConfig{
			BaseURL:          "http://localhost:3001/api",
			Timeout:          30 * time.Second,
			Locale:           "zh",
			MaxResponseBytes: 10 << 20,
		},
		Cache: CacheConfig{
			Driver:    CacheMemory,
			KeyPrefix: "tableview:",
		},
		Dataset: DatasetConfig{
			Schema:   SchemaEmployees,
			SeedRows: 1000,
			Seed:     42,
			AutoAdd: AutoAddConfig{
				BatchSize: 1,
				Interval:  500 * time.Millisecond,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates the result. An empty path skips the file and starts from
// Defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if c.Client.BaseURL == "" {
		errs = append(errs, "client.base_url is required")
	} else if u, err := url.Parse(c.Client.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "client.base_url must be an absolute URL")
	}
	if c.Client.Timeout <= 0 {
		errs = append(errs, "client.timeout must be positive")
	}
	if c.Client.MaxResponseBytes <= 0 {
		errs = append(errs, "client.max_response_bytes must be positive")
	}

	switch c.Cache.Driver {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, "cache.redis_addr is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.driver must be %q or %q", CacheMemory, CacheRedis))
	}

	switch c.Dataset.Schema {
	case SchemaEmployees, SchemaOrders:
	default:
		errs = append(errs, fmt.Sprintf("dataset.schema must be %q or %q", SchemaEmployees, SchemaOrders))
	}
	if c.Dataset.SeedRows < 0 {
		errs = append(errs, "dataset.seed_rows must not be negative")
	}
	if b := c.Dataset.AutoAdd.BatchSize; b < 1 || b > model.MaxAutoAddBatchSize {
		errs = append(errs, fmt.Sprintf("dataset.auto_add.batch_size must be between 1 and %d", model.MaxAutoAddBatchSize))
	}
	if iv := c.Dataset.AutoAdd.Interval.Seconds(); iv < model.MinAutoAddInterval || iv > model.MaxAutoAddInterval {
		errs = append(errs, fmt.Sprintf("dataset.auto_add.interval must be between %gs and %gs",
			model.MinAutoAddInterval, model.MaxAutoAddInterval))
	}

	if _, err := zapcore.ParseLevel(c.Observability.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("observability.log_level %q is not a valid level", c.Observability.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads TABLEVIEW_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("TABLEVIEW_SERVER_PORT"); v != "" {
		port, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("TABLEVIEW_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("TABLEVIEW_CLIENT_BASE_URL"); v != "" {
		cfg.Client.BaseURL = v
	}
	if v := os.Getenv("TABLEVIEW_CLIENT_TIMEOUT"); v != "" {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return fmt.Errorf("TABLEVIEW_CLIENT_TIMEOUT: %w", err)
		}
		cfg.Client.Timeout = d
	}
	if v := os.Getenv("TABLEVIEW_CLIENT_LOCALE"); v != "" {
		cfg.Client.Locale = v
	}
	if v := os.Getenv("TABLEVIEW_CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}
	if v := os.Getenv("TABLEVIEW_CACHE_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("TABLEVIEW_DATASET_SEED_ROWS"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("TABLEVIEW_DATASET_SEED_ROWS: %w", err)
		}
		cfg.Dataset.SeedRows = n
	}
	if v := os.Getenv("TABLEVIEW_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	return nil
}
