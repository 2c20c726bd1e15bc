// Package config loads campaignflow configuration from a YAML file with
// CAMPAIGNFLOW_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for campaignflow.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Engine     EngineConfig     `yaml:"engine"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug, info, warn, error
	Format      string `yaml:"format"` // json, console
	Development bool   `yaml:"development"`
}

// StorageConfig selects the storage backend both transports bind to.
type StorageConfig struct {
	Backend     string `yaml:"backend"` // sqlite, redis, memory
	SQLitePath  string `yaml:"sqlite_path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
	Codec       string `yaml:"codec"` // json, msgpack
}

// ServerConfig configures the listeners started by `serve`.
type ServerConfig struct {
	GRPCAddr    string  `yaml:"grpc_addr"`
	HTTPAddr    string  `yaml:"http_addr"`
	MetricsAddr string  `yaml:"metrics_addr"`
	RateLimit   float64 `yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst   int     `yaml:"rate_burst"`
}

// CheckpointConfig configures how the engine reaches the checkpoint store.
type CheckpointConfig struct {
	// Mode is "local" (bind the storage backend in process) or "remote"
	// (diagnose and use the gRPC / HTTP transports).
	Mode             string        `yaml:"mode"`
	PrimaryAddr      string        `yaml:"primary_addr"`
	FallbackURL      string        `yaml:"fallback_url"`
	SRVService       string        `yaml:"srv_service"`
	SRVProto         string        `yaml:"srv_proto"`
	DNSTimeout       time.Duration `yaml:"dns_timeout"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	LatencyThreshold time.Duration `yaml:"latency_threshold"`
	DiagnosticsTTL   time.Duration `yaml:"diagnostics_ttl"`
	Namespace        string        `yaml:"namespace"`
}

// ApprovalConfig configures the approval gateway.
type ApprovalConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	DevAutoApprove bool          `yaml:"dev_auto_approve"`
}

// EngineConfig configures run execution limits.
type EngineConfig struct {
	MaxRevisions           int     `yaml:"max_revisions"`
	MaxSteps               int     `yaml:"max_steps"`
	AccessibilityThreshold float64 `yaml:"accessibility_threshold"`
}

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Checkpoint modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Backend:     BackendSQLite,
			SQLitePath:  "campaignflow.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "campaignflow",
			Codec:       "json",
		},
		Server: ServerConfig{
			GRPCAddr:    ":50051",
			HTTPAddr:    ":8080",
			MetricsAddr: ":9090",
			RateLimit:   200,
			RateBurst:   50,
		},
		Checkpoint: CheckpointConfig{
			Mode:             ModeLocal,
			PrimaryAddr:      "localhost:50051",
			FallbackURL:      "http://localhost:8080",
			SRVService:       "campaignflow",
			SRVProto:         "tcp",
			DNSTimeout:       2 * time.Second,
			ProbeTimeout:     5 * time.Second,
			LatencyThreshold: 2 * time.Second,
			DiagnosticsTTL:   5 * time.Minute,
			Namespace:        "campaign",
		},
		Approval: ApprovalConfig{
			DefaultTimeout: 24 * time.Hour,
			PollInterval:   2 * time.Second,
		},
		Engine: EngineConfig{
			MaxRevisions:           2,
			MaxSteps:               200,
			AccessibilityThreshold: 0.7,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies CAMPAIGNFLOW_* environment variables.
func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"CAMPAIGNFLOW_LOG_LEVEL":       &c.Logging.Level,
		"CAMPAIGNFLOW_LOG_FORMAT":      &c.Logging.Format,
		"CAMPAIGNFLOW_STORAGE_BACKEND": &c.Storage.Backend,
		"CAMPAIGNFLOW_SQLITE_PATH":     &c.Storage.SQLitePath,
		"CAMPAIGNFLOW_REDIS_ADDR":      &c.Storage.RedisAddr,
		"CAMPAIGNFLOW_CODEC":           &c.Storage.Codec,
		"CAMPAIGNFLOW_GRPC_ADDR":       &c.Server.GRPCAddr,
		"CAMPAIGNFLOW_HTTP_ADDR":       &c.Server.HTTPAddr,
		"CAMPAIGNFLOW_METRICS_ADDR":    &c.Server.MetricsAddr,
		"CAMPAIGNFLOW_CHECKPOINT_MODE": &c.Checkpoint.Mode,
		"CAMPAIGNFLOW_PRIMARY_ADDR":    &c.Checkpoint.PrimaryAddr,
		"CAMPAIGNFLOW_FALLBACK_URL":    &c.Checkpoint.FallbackURL,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("CAMPAIGNFLOW_MAX_REVISIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CAMPAIGNFLOW_MAX_REVISIONS: %w", err)
		}
		c.Engine.MaxRevisions = n
	}
	if v := os.Getenv("CAMPAIGNFLOW_DEV_AUTO_APPROVE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CAMPAIGNFLOW_DEV_AUTO_APPROVE: %w", err)
		}
		c.Approval.DevAutoApprove = b
	}
	if v := os.Getenv("CAMPAIGNFLOW_DIAGNOSTICS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CAMPAIGNFLOW_DIAGNOSTICS_TTL: %w", err)
		}
		c.Checkpoint.DiagnosticsTTL = d
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("invalid storage backend: %s (valid: sqlite, redis, memory)", c.Storage.Backend)
	}
	switch c.Storage.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("invalid codec: %s (valid: json, msgpack)", c.Storage.Codec)
	}
	switch c.Checkpoint.Mode {
	case ModeLocal, ModeRemote:
	default:
		return fmt.Errorf("invalid checkpoint mode: %s (valid: local, remote)", c.Checkpoint.Mode)
	}
	if c.Engine.MaxRevisions < 0 {
		return fmt.Errorf("max_revisions must be >= 0, got %d", c.Engine.MaxRevisions)
	}
	if c.Engine.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be > 0, got %d", c.Engine.MaxSteps)
	}
	if c.Approval.DefaultTimeout <= 0 {
		return fmt.Errorf("approval default_timeout must be positive")
	}
	return nil
}
