package config

import (
	"time"

	"github.com/tripbundle/tripbundle/internal/ailink"
)

// Config is the complete application configuration. Values are layered as
// built-in defaults, then an optional config.yaml, then .env and environment
// variables, then flags and runtime overrides.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Planner PlannerConfig `mapstructure:"planner"`
	Search  SearchConfig  `mapstructure:"search"`
	AILink  ailink.Config `mapstructure:"ailink"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`

	RateLimits      map[string]int `mapstructure:"rate_limits"`
	RateLimitMargin float64        `mapstructure:"rate_limit_margin"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// PlannerConfig tunes the orchestration pipeline.
type PlannerConfig struct {
	MaxConcurrency     int           `mapstructure:"max_concurrency"`
	DestinationTimeout time.Duration `mapstructure:"destination_timeout"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxBundles         int           `mapstructure:"max_bundles"`
	MaxResultsPerQuery int           `mapstructure:"max_results_per_query"`
	MaxEvidence        int           `mapstructure:"max_evidence"`
	MaxInterestQueries int           `mapstructure:"max_interest_queries"`
	MinEvidence        int           `mapstructure:"min_evidence"`
	SnippetChars       int           `mapstructure:"snippet_chars"`

	// Role routes synthesis prompts through ailink.
	Role  string `mapstructure:"role"`
	Model string `mapstructure:"model"`
}

// SearchConfig configures the web search provider.
type SearchConfig struct {
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	SearchDepth string        `mapstructure:"search_depth"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects where provider rate-limit state lives.
type StoreConfig struct {
	// Driver is one of memory, libsql or redis.
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile: SIMPLE for the CLI, STRUCTURED for serve.
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}
