// Package config provides configuration structures and loading logic for
// the telemetry pipeline: YAML files, environment overrides, validation,
// and live reload on file change.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full configuration for both sides of the pipeline.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
	Policy    PolicyConfig    `yaml:"policy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the ingestion server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// ArchivePath enables the SQLite event archive when non-empty.
	ArchivePath string `yaml:"archive_path"`
	// SessionIdleTimeout is the reconstruction-timeout policy applied by
	// readers; sessions idle longer may be treated as abandoned.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
}

// ClientConfig holds the client pipeline settings.
type ClientConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	BatchSize         int           `yaml:"batch_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	Persist           bool          `yaml:"persist"`
	MaxStorageBytes   int           `yaml:"max_storage_bytes"`
	// StoragePath backs the durable buffer snapshot and opt-out flag.
	StoragePath string `yaml:"storage_path"`
}

// PrivacyConfig holds the PII filter settings.
type PrivacyConfig struct {
	StrictMode      bool     `yaml:"strict_mode"`
	SensitiveFields []string `yaml:"sensitive_fields"`
}

// PolicyConfig holds the ingest admission settings.
type PolicyConfig struct {
	MaxBatchEvents int      `yaml:"max_batch_events"`
	AllowedTypes   []string `yaml:"allowed_types"`
	RequireSession bool     `yaml:"require_session"`
	// ModuleFile points at a custom Rego admission module.
	ModuleFile string `yaml:"module_file"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	Environment  string `yaml:"environment"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr:         ":8080",
			SessionIdleTimeout: 30 * time.Minute,
		},
		Client: ClientConfig{
			Endpoint:          "http://localhost:8080/api/v1/events/batch",
			BatchSize:         50,
			FlushInterval:     30 * time.Second,
			MaxRetries:        3,
			RetryDelay:        time.Second,
			BackoffMultiplier: 2,
			RequestTimeout:    10 * time.Second,
			Persist:           true,
			MaxStorageBytes:   256 * 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("INTENT_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddr = val
	}
	if val := os.Getenv("INTENT_ARCHIVE_PATH"); val != "" {
		cfg.Server.ArchivePath = val
	}

	if val := os.Getenv("INTENT_ENDPOINT"); val != "" {
		cfg.Client.Endpoint = val
	}
	if val := os.Getenv("INTENT_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Client.BatchSize = n
		}
	}
	if val := os.Getenv("INTENT_PERSIST"); val == "false" {
		cfg.Client.Persist = false
	}

	if val := os.Getenv("INTENT_STRICT_PRIVACY"); val == "true" {
		cfg.Privacy.StrictMode = true
	}

	if val := os.Getenv("INTENT_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("INTENT_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("INTENT_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("INTENT_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}

// Validate checks the whole configuration, normalizing defaults in place.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client configuration: %w", err)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	return nil
}

// Validate normalizes and checks server settings.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8080"
	}
	if c.SessionIdleTimeout < 0 {
		return fmt.Errorf("session_idle_timeout must not be negative")
	}
	if c.SessionIdleTimeout == 0 {
		c.SessionIdleTimeout = 30 * time.Minute
	}
	return nil
}

// Validate normalizes and checks client settings.
func (c *ClientConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.BackoffMultiplier != 0 && c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1")
	}
	if c.MaxStorageBytes < 0 {
		return fmt.Errorf("max_storage_bytes must not be negative")
	}
	return nil
}

// Validate checks policy settings.
func (c *PolicyConfig) Validate() error {
	if c.MaxBatchEvents < 0 {
		return fmt.Errorf("max_batch_events must not be negative")
	}
	return nil
}

// Validate normalizes and checks logging settings.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	level := strings.ToLower(strings.TrimSpace(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	if strings.TrimSpace(c.Format) == "" {
		c.Format = "json"
	}
	format := strings.ToLower(strings.TrimSpace(c.Format))
	switch format {
	case "json", "text":
		c.Format = format
	default:
		return fmt.Errorf("invalid log format %q, supported formats: json, text", c.Format)
	}
	return nil
}
