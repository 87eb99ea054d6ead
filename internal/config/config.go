// Package config loads and validates the CouchbaseConfig that every other
// component in this module is built around. Loading and validation are kept
// together deliberately: a CouchbaseConfig is immutable for the lifetime of
// the process, so it must be correct by the time Load returns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CouchbaseConfig is the validated configuration consumed by the connection
// manager (C4) and the options builder (C3). It is created once at process
// start and never mutated afterward.
type CouchbaseConfig struct {
	ConnectionString string `mapstructure:"connection_string" validate:"required,couchbaseuri"`
	Username         string `mapstructure:"username" validate:"required"`
	Password         string `mapstructure:"password" validate:"required"`
	Bucket           string `mapstructure:"bucket" validate:"required"`
	Scope            string `mapstructure:"scope"`
	Collection       string `mapstructure:"collection"`
	TrustStorePath   string `mapstructure:"trust_store_path"`

	// Environment drives Validate's production checks: "production", like any
	// Capella host (detected from the connection string, not from this
	// field), requires TLS, a non-default password, and a non-local host.
	Environment string `mapstructure:"environment" validate:"omitempty,oneof=development staging production"`

	Timeouts         TimeoutsConfig         `mapstructure:"timeouts"`
	Compression      CompressionConfig      `mapstructure:"compression"`
	ThresholdLogging ThresholdLoggingConfig `mapstructure:"threshold_logging"`
	Features         FeaturesConfig         `mapstructure:"features"`
}

// TimeoutsConfig holds the per-service timeouts a CouchbaseConfig may override;
// zero values mean "use C3's built-in default for this service".
type TimeoutsConfig struct {
	Connect    time.Duration `mapstructure:"connect"`
	Bootstrap  time.Duration `mapstructure:"bootstrap"`
	Resolve    time.Duration `mapstructure:"resolve"`
	KV         time.Duration `mapstructure:"kv"`
	KVDurable  time.Duration `mapstructure:"kv_durable"`
	Query      time.Duration `mapstructure:"query"`
	Analytics  time.Duration `mapstructure:"analytics"`
	Search     time.Duration `mapstructure:"search"`
	View       time.Duration `mapstructure:"view"`
	Management time.Duration `mapstructure:"management"`
}

// CompressionConfig controls KV compression negotiation.
type CompressionConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	MinSize int     `mapstructure:"min_size"`
	MinRatio float64 `mapstructure:"min_ratio"`
}

// ThresholdLoggingConfig controls the driver's slow-operation logger.
type ThresholdLoggingConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	KVThreshold    time.Duration `mapstructure:"kv_threshold"`
	QueryThreshold time.Duration `mapstructure:"query_threshold"`
	Interval       time.Duration `mapstructure:"interval"`
}

// FeaturesConfig toggles optional behaviour that doesn't belong in timeouts
// or compression.
type FeaturesConfig struct {
	OrphanLogging    bool `mapstructure:"orphan_logging"`
	MutationTokens   bool `mapstructure:"mutation_tokens"`
	CleanupLostAttempts bool `mapstructure:"cleanup_lost_attempts"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("couchbaseuri", validateCouchbaseURI)
	return v
}

func validateCouchbaseURI(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return strings.HasPrefix(s, "couchbase://") || strings.HasPrefix(s, "couchbases://")
}

// IsProduction reports whether this config targets a production deployment,
// which includes any Capella (managed cloud) target regardless of the
// Environment field.
func (c *CouchbaseConfig) IsProduction() bool {
	return c.Environment == "production" || ParseConnectionString(c.ConnectionString).IsCapella
}

// Validate runs struct-tag validation plus the production invariant from
// spec invariant 7: production/Capella deployments must use couchbases://.
func (c *CouchbaseConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid couchbase config: %w", err)
	}

	meta := ParseConnectionString(c.ConnectionString)
	if c.IsProduction() {
		if !meta.IsTLS {
			return fmt.Errorf("invalid couchbase config: production/Capella deployments require couchbases://")
		}
		if c.Password == "password" {
			return fmt.Errorf("invalid couchbase config: password must not be the literal \"password\" in production")
		}
		for _, h := range meta.Hosts {
			bare := h
			if idx := strings.IndexByte(bare, ':'); idx >= 0 {
				bare = bare[:idx]
			}
			if bare == "localhost" || bare == "127.0.0.1" {
				return fmt.Errorf("invalid couchbase config: production/Capella deployments must not target localhost")
			}
		}
	}

	return nil
}

// EffectiveScope returns Scope or the driver default "_default".
func (c *CouchbaseConfig) EffectiveScope() string {
	if c.Scope == "" {
		return "_default"
	}
	return c.Scope
}

// EffectiveCollection returns Collection or the driver default "_default".
func (c *CouchbaseConfig) EffectiveCollection() string {
	if c.Collection == "" {
		return "_default"
	}
	return c.Collection
}

// LogConfig mirrors the ambient logging configuration the teacher's own
// config layer carries alongside its domain config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig is the top-level configuration for the CLI entrypoint: the
// CouchbaseConfig plus the ambient logging/metrics settings.
type AppConfig struct {
	Couchbase CouchbaseConfig `mapstructure:"couchbase"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   struct {
		Enabled   bool   `mapstructure:"enabled"`
		Namespace string `mapstructure:"namespace"`
	} `mapstructure:"metrics"`
}

// Load reads configuration from configPath (if non-empty) layered under
// environment variable overrides (COUCHBASE_*, LOG_*, METRICS_*), applies
// defaults, and validates the result.
func Load(configPath string) (*AppConfig, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg AppConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Couchbase.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("couchbase.scope", "_default")
	viper.SetDefault("couchbase.collection", "_default")
	viper.SetDefault("couchbase.environment", "development")

	viper.SetDefault("couchbase.timeouts.connect", "10s")
	viper.SetDefault("couchbase.timeouts.bootstrap", "20s")
	viper.SetDefault("couchbase.timeouts.resolve", "5s")
	viper.SetDefault("couchbase.timeouts.kv", "7.5s")
	viper.SetDefault("couchbase.timeouts.kv_durable", "15s")
	viper.SetDefault("couchbase.timeouts.query", "30s")
	viper.SetDefault("couchbase.timeouts.analytics", "60s")
	viper.SetDefault("couchbase.timeouts.search", "30s")
	viper.SetDefault("couchbase.timeouts.view", "30s")
	viper.SetDefault("couchbase.timeouts.management", "15s")

	viper.SetDefault("couchbase.compression.enabled", true)
	viper.SetDefault("couchbase.compression.min_size", 32)
	viper.SetDefault("couchbase.compression.min_ratio", 0.83)

	viper.SetDefault("couchbase.threshold_logging.enabled", true)
	viper.SetDefault("couchbase.threshold_logging.kv_threshold", "500ms")
	viper.SetDefault("couchbase.threshold_logging.query_threshold", "1s")
	viper.SetDefault("couchbase.threshold_logging.interval", "10s")

	viper.SetDefault("couchbase.features.orphan_logging", true)
	viper.SetDefault("couchbase.features.mutation_tokens", true)
	viper.SetDefault("couchbase.features.cleanup_lost_attempts", true)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.namespace", "couchbase")
}

// DumpEffective renders the effective, validated configuration as YAML for
// the `ping --dump-config` diagnostic (passwords are redacted).
func DumpEffective(cfg *AppConfig) (string, error) {
	redacted := *cfg
	redacted.Couchbase.Password = "***"

	out, err := yaml.Marshal(redacted)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(out), nil
}
