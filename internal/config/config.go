// ABOUTME: Configuration loading and parsing for nlweb-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete nlweb-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Ask       AskConfig       `yaml:"ask"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve with Tailscale-provisioned certs on :443
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds the provider catalog database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// AskConfig holds fan-out and ranking configuration
type AskConfig struct {
	PerProviderTimeout   time.Duration `yaml:"-"`
	OverallDeadline      time.Duration `yaml:"-"`
	ResponseCacheTTL     time.Duration `yaml:"-"`
	MaxFanoutWidth       int           `yaml:"max_fanout_width"`
	DegradedScorePenalty float64       `yaml:"degraded_score_penalty"`
	MaxWhoResults        int           `yaml:"max_who_results"`

	// Raw string values for YAML unmarshaling
	PerProviderTimeoutRaw string `yaml:"per_provider_timeout"`
	OverallDeadlineRaw    string `yaml:"overall_deadline"`
	ResponseCacheTTLRaw   string `yaml:"response_cache_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied when the corresponding field is absent from the file.
const (
	DefaultPerProviderTimeout   = 2 * time.Second
	DefaultOverallDeadline      = 10 * time.Second
	DefaultResponseCacheTTL     = 30 * time.Second
	DefaultMaxFanoutWidth       = 16
	DefaultDegradedScorePenalty = 0.5
	DefaultMaxWhoResults        = 10
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued tunables.
func (c *Config) applyDefaults() {
	if c.Ask.PerProviderTimeout == 0 {
		c.Ask.PerProviderTimeout = DefaultPerProviderTimeout
	}
	if c.Ask.OverallDeadline == 0 {
		c.Ask.OverallDeadline = DefaultOverallDeadline
	}
	if c.Ask.ResponseCacheTTL == 0 {
		c.Ask.ResponseCacheTTL = DefaultResponseCacheTTL
	}
	if c.Ask.MaxFanoutWidth == 0 {
		c.Ask.MaxFanoutWidth = DefaultMaxFanoutWidth
	}
	if c.Ask.DegradedScorePenalty == 0 {
		c.Ask.DegradedScorePenalty = DefaultDegradedScorePenalty
	}
	if c.Ask.MaxWhoResults == 0 {
		c.Ask.MaxWhoResults = DefaultMaxWhoResults
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// A listen address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Ask.PerProviderTimeout <= 0 {
		return fmt.Errorf("ask.per_provider_timeout must be positive")
	}
	if c.Ask.OverallDeadline <= 0 {
		return fmt.Errorf("ask.overall_deadline must be positive")
	}
	if c.Ask.OverallDeadline < c.Ask.PerProviderTimeout {
		return fmt.Errorf("ask.overall_deadline must not be shorter than ask.per_provider_timeout")
	}
	if c.Ask.MaxFanoutWidth < 1 {
		return fmt.Errorf("ask.max_fanout_width must be at least 1")
	}
	if c.Ask.DegradedScorePenalty <= 0 || c.Ask.DegradedScorePenalty > 1 {
		return fmt.Errorf("ask.degraded_score_penalty must be in (0, 1]")
	}
	if c.Ask.MaxWhoResults < 1 {
		return fmt.Errorf("ask.max_who_results must be at least 1")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Ask.PerProviderTimeoutRaw != "" {
		cfg.Ask.PerProviderTimeout, err = time.ParseDuration(cfg.Ask.PerProviderTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing per_provider_timeout %q: %w", cfg.Ask.PerProviderTimeoutRaw, err)
		}
	}

	if cfg.Ask.OverallDeadlineRaw != "" {
		cfg.Ask.OverallDeadline, err = time.ParseDuration(cfg.Ask.OverallDeadlineRaw)
		if err != nil {
			return fmt.Errorf("parsing overall_deadline %q: %w", cfg.Ask.OverallDeadlineRaw, err)
		}
	}

	if cfg.Ask.ResponseCacheTTLRaw != "" {
		cfg.Ask.ResponseCacheTTL, err = time.ParseDuration(cfg.Ask.ResponseCacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing response_cache_ttl %q: %w", cfg.Ask.ResponseCacheTTLRaw, err)
		}
	}

	return nil
}
