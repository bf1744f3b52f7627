// Package config defines the engine's nested configuration document
// and loads it with viper, matching the loader style evalaf uses for its own
// run configuration.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/antflydb/raqe/errs"
)

// QueryGeneration configures the Generator.
type QueryGeneration struct {
	AllowWrite        bool          `mapstructure:"allow_write"`
	MaxRetries        int           `mapstructure:"max_retries"`
	Temperature       float64       `mapstructure:"temperature"`
	Explain           bool          `mapstructure:"explain"`
	MaxComplexity     int           `mapstructure:"max_complexity"`
	DefaultRowCap     int           `mapstructure:"default_row_cap"`
}

// QueryExecution configures the Executor.
type QueryExecution struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	Limit        int           `mapstructure:"limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
	ReadOnly     bool          `mapstructure:"read_only"`
	Format       string        `mapstructure:"format"`
	IncludeStats bool          `mapstructure:"include_stats"`
}

// ResponseGeneration configures the Response Generator.
type ResponseGeneration struct {
	SampleRows     int    `mapstructure:"sample_rows"`
	Format         string `mapstructure:"format"`
	Style          string `mapstructure:"style"`
	IncludeDetails bool   `mapstructure:"include_details"`
}

// AutoSync holds the auto_sync section. NewEngine does not read it;
// Engine.AutoSyncHandler takes its async flag as an argument.
type AutoSync struct {
	Async        bool `mapstructure:"async"`
	CreateEnabled bool `mapstructure:"create_enabled"`
	UpdateEnabled bool `mapstructure:"update_enabled"`
	DeleteEnabled bool `mapstructure:"delete_enabled"`
}

// AutoDiscovery configures Entity Auto-Discovery.
type AutoDiscovery struct {
	MaxDepth       int           `mapstructure:"max_depth"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	ExcludedFields []string      `mapstructure:"excluded_fields"`
}

// Resilience configures retry and the rate limiter. NewEngine reads
// StoreRetryAttempts, RateLimitPerSec and RateLimitBurst; it does not read
// the Circuit* fields or NetworkRetryAttempts, and the circuit breakers use
// resilience's built-in defaults.
type Resilience struct {
	CircuitMaxFailures  int           `mapstructure:"circuit_max_failures"`
	CircuitResetTimeout time.Duration `mapstructure:"circuit_reset_timeout"`
	CircuitHalfOpenMax  int           `mapstructure:"circuit_half_open_max"`
	StoreRetryAttempts  int           `mapstructure:"store_retry_attempts"`
	NetworkRetryAttempts int          `mapstructure:"network_retry_attempts"`
	RateLimitPerSec     float64       `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst      int           `mapstructure:"rate_limit_burst"`
}

// Config is the one nested configuration document the engine consumes.
type Config struct {
	QueryGeneration     QueryGeneration     `mapstructure:"query_generation"`
	QueryExecution      QueryExecution      `mapstructure:"query_execution"`
	ResponseGeneration  ResponseGeneration  `mapstructure:"response_generation"`
	AutoSync            AutoSync            `mapstructure:"auto_sync"`
	AutoDiscovery       AutoDiscovery       `mapstructure:"auto_discovery"`
	Resilience          Resilience          `mapstructure:"resilience"`
}

// Default returns the Config populated with every built-in default, with
// no file I/O.
func Default() *Config {
	return &Config{
		QueryGeneration: QueryGeneration{
			AllowWrite:    false,
			MaxRetries:    3,
			Temperature:   0.1,
			Explain:       true,
			MaxComplexity: 100,
			DefaultRowCap: 100,
		},
		QueryExecution: QueryExecution{
			Timeout:      30 * time.Second,
			Limit:        100,
			MaxLimit:     1000,
			ReadOnly:     true,
			Format:       "table",
			IncludeStats: true,
		},
		ResponseGeneration: ResponseGeneration{
			SampleRows:     10,
			Format:         "text",
			Style:          "concise",
			IncludeDetails: false,
		},
		AutoSync: AutoSync{
			Async:         false,
			CreateEnabled: true,
			UpdateEnabled: true,
			DeleteEnabled: true,
		},
		AutoDiscovery: AutoDiscovery{
			MaxDepth: 5,
			CacheTTL: 0,
			ExcludedFields: []string{"password", "remember_token"},
		},
		Resilience: Resilience{
			CircuitMaxFailures:   5,
			CircuitResetTimeout:  30 * time.Second,
			CircuitHalfOpenMax:   3,
			StoreRetryAttempts:   3,
			NetworkRetryAttempts: 5,
			RateLimitPerSec:      0,
			RateLimitBurst:       1,
		},
	}
}

// Load reads a YAML/JSON/env configuration document from path, merged over
// Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("raqe")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errs.Wrap(errs.Configuration, "failed to read config file", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.Wrap(errs.Configuration, "failed to decode config document", err)
	}
	return cfg, nil
}
