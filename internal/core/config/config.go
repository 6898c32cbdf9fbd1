package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/veldt-lab/veldt/internal/retention"
)

// Config represents the top-level application config plus the resolved
// retention policy set.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Buffer    BufferConfig    `koanf:"buffer"`
	Cache     CacheConfig     `koanf:"cache"`
	Retention RetentionConfig `koanf:"retention"`
	Admission AdmissionConfig `koanf:"admission"`
	Privacy   PrivacyConfig   `koanf:"privacy"`
	Features  FeatureConfig   `koanf:"features"`

	// Policies is populated by Load after merging the policy file.
	Policies []retention.Policy `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type BufferConfig struct {
	BatchSize     int    `koanf:"batch_size"`
	MaxPending    int    `koanf:"max_pending"`
	FlushInterval string `koanf:"flush_interval"` // parsed as time.Duration
}

type CacheConfig struct {
	DefaultTTL string `koanf:"default_ttl"` // parsed as time.Duration
}

type RetentionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	SweepInterval string `koanf:"sweep_interval"` // parsed as time.Duration
	PolicyFile    string `koanf:"policy_file"`    // optional per-dataset overrides
}

type AdmissionConfig struct {
	FailureThreshold int     `koanf:"failure_threshold"`
	FailureWindow    string  `koanf:"failure_window"` // parsed as time.Duration
	IngestRPS        float64 `koanf:"ingest_rps"`
	IngestBurst      int     `koanf:"ingest_burst"`
}

type PrivacyConfig struct {
	// Posture is "production" (missing secrets are fatal) or "development"
	// (missing secrets degrade with a warning).
	Posture string `koanf:"posture"`
}

// FeatureConfig carries the recognized feature toggles, passed into each
// component's constructor rather than consulted globally.
type FeatureConfig struct {
	CacheEnabled          bool `koanf:"cache_enabled"`
	OptimizedReadsEnabled bool `koanf:"optimized_reads_enabled"`
	BatchWriteEnabled     bool `koanf:"batch_write_enabled"`
}

// FlushIntervalDuration returns the parsed buffer flush interval. Validate
// has already rejected malformed values.
func (c BufferConfig) FlushIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.FlushInterval)
	return d
}

func (c CacheConfig) DefaultTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.DefaultTTL)
	return d
}

func (c RetentionConfig) SweepIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.SweepInterval)
	return d
}

func (c AdmissionConfig) FailureWindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.FailureWindow)
	return d
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if c.Buffer.BatchSize <= 0 {
		return fmt.Errorf("buffer.batch_size must be > 0")
	}
	if c.Buffer.MaxPending < c.Buffer.BatchSize {
		return fmt.Errorf("buffer.max_pending must be >= buffer.batch_size")
	}
	if err := validateDuration("buffer.flush_interval", c.Buffer.FlushInterval); err != nil {
		return err
	}

	if err := validateDuration("cache.default_ttl", c.Cache.DefaultTTL); err != nil {
		return err
	}

	if err := validateDuration("retention.sweep_interval", c.Retention.SweepInterval); err != nil {
		return err
	}

	if c.Admission.FailureThreshold <= 0 {
		return fmt.Errorf("admission.failure_threshold must be > 0")
	}
	if err := validateDuration("admission.failure_window", c.Admission.FailureWindow); err != nil {
		return err
	}
	if c.Admission.IngestRPS <= 0 {
		return fmt.Errorf("admission.ingest_rps must be > 0")
	}
	if c.Admission.IngestBurst <= 0 {
		return fmt.Errorf("admission.ingest_burst must be > 0")
	}

	if c.Privacy.Posture != "production" && c.Privacy.Posture != "development" {
		return fmt.Errorf("invalid privacy.posture %q (must be production or development)", c.Privacy.Posture)
	}

	return nil
}

func validateDuration(key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be > 0", key)
	}
	return nil
}

// Load parses config from file + env, validates it, then resolves the
// retention policy set.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                      8080,
		"server.host":                      "0.0.0.0",
		"server.max_body_size_mb":          1,
		"server.mode":                      "release",
		"database.type":                    "postgres",
		"database.dsn":                     "",
		"database.max_open_conns":          25,
		"database.max_idle_conns":          25,
		"database.auto_migrate":            true,
		"buffer.batch_size":                500,
		"buffer.max_pending":               10000,
		"buffer.flush_interval":            "10s",
		"cache.default_ttl":                "5m",
		"retention.enabled":                true,
		"retention.sweep_interval":         "1h",
		"retention.policy_file":            "",
		"admission.failure_threshold":      5,
		"admission.failure_window":         "15m",
		"admission.ingest_rps":             50.0,
		"admission.ingest_burst":           100,
		"privacy.posture":                  "production",
		"features.cache_enabled":           true,
		"features.optimized_reads_enabled": true,
		"features.batch_write_enabled":     true,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// VELDT_SERVER__PORT=9090 overrides server.port
	if err := k.Load(env.Provider("VELDT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "VELDT_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Retention.PolicyFile != "" {
		policies, err := retention.LoadPolicyFile(cfg.Retention.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load retention policies: %w", err)
		}
		cfg.Policies = policies
	} else {
		cfg.Policies = retention.DefaultPolicies()
	}

	return &cfg, nil
}
