package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	LLM       LLMConfig         `yaml:"llm"`
	Agents    map[string]string `yaml:"agents"` // analyst initials -> full name
	Storage   StorageConfig     `yaml:"storage"`
	Jobs      JobsConfig        `yaml:"jobs"`
	Cache     CacheConfig       `yaml:"cache"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	Logging   LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains HTTP server settings for the API and web UI
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	APIKeys        []string      `yaml:"api_keys"`
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed (empty = allow all)
	TrustedProxies []string      `yaml:"trusted_proxies"`  // proxies whose X-Forwarded-For is honored
	MaxUploadBytes int64         `yaml:"max_upload_bytes"` // Default: 50 MiB
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Default: 1 MiB
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	DisableUI      bool          `yaml:"disable_ui"`
	TLS            TLSConfig     `yaml:"tls"`
}

// Keys returns every configured API key
func (s ServerConfig) Keys() []string {
	var keys []string
	if s.APIKey != "" {
		keys = append(keys, s.APIKey)
	}
	for _, k := range s.APIKeys {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// TLSConfig contains TLS certificate settings
type TLSConfig struct {
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig contains Let's Encrypt ACME settings
type ACMEConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Email         string   `yaml:"email"`
	Domains       []string `yaml:"domains"`
	CacheDir      string   `yaml:"cache_dir"`
	ChallengeAddr string   `yaml:"challenge_addr"` // HTTP-01 listener, default :80
}

// LLMConfig selects the model backend
type LLMConfig struct {
	Provider          string        `yaml:"provider"` // gemini or anthropic
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	BaseURL           string        `yaml:"base_url"`
	Temperature       *float64      `yaml:"temperature"`
	MaxOutputTokens   int           `yaml:"max_output_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Prompts           PromptsConfig `yaml:"prompts"`
}

// PromptsConfig points at files replacing the embedded system prompts
type PromptsConfig struct {
	Projects string `yaml:"projects"`
	Contacts string `yaml:"contacts"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path         string `yaml:"path"`
	HistoryLimit int    `yaml:"history_limit"` // batches kept, default 5
}

// JobsConfig contains extraction job processor settings
type JobsConfig struct {
	Workers         int           `yaml:"workers"`
	ProcessInterval time.Duration `yaml:"process_interval"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	MaxRetries      int           `yaml:"max_retries"`
	Timeout         time.Duration `yaml:"timeout"`
	Retention       time.Duration `yaml:"retention"` // Delete finished jobs older than this (0 = keep forever)
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// CacheConfig contains Redis response cache settings
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// RateLimitConfig contains run rate limiting settings
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// Global limits (for entire server)
	Global *LimitValues `yaml:"global,omitempty"`

	// Default limits per client IP
	DefaultIP *LimitValues `yaml:"default_ip,omitempty"`

	// Default limits per API key
	DefaultAPIKey *LimitValues `yaml:"default_api_key,omitempty"`

	// Per-API-key limits (overrides DefaultAPIKey)
	APIKeys map[string]*LimitValues `yaml:"api_keys,omitempty"`

	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LimitValues contains rate limit values
type LimitValues struct {
	RunsPerHour int `yaml:"runs_per_hour"`
	RunsPerDay  int `yaml:"runs_per_day"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// LoadEnv loads .env files into the process environment. Missing files
// are ignored and variables already set win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from a YAML file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 50 << 20
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = 1 << 20
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.TLS.ACME.CacheDir == "" {
		c.Server.TLS.ACME.CacheDir = "/var/lib/gridline/certs"
	}
	if c.Server.TLS.ACME.ChallengeAddr == "" {
		c.Server.TLS.ACME.ChallengeAddr = ":80"
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "gemini"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 5 * time.Minute
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = c.LLM.keyFromEnv()
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "data/gridline.db"
	}
	if c.Storage.HistoryLimit == 0 {
		c.Storage.HistoryLimit = 5
	}

	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = 2
	}
	if c.Jobs.ProcessInterval == 0 {
		c.Jobs.ProcessInterval = 2 * time.Second
	}
	if c.Jobs.RetryInterval == 0 {
		c.Jobs.RetryInterval = time.Minute
	}
	if c.Jobs.MaxRetries == 0 {
		c.Jobs.MaxRetries = 3
	}
	if c.Jobs.Timeout == 0 {
		c.Jobs.Timeout = 10 * time.Minute
	}
	if c.Jobs.Retention == 0 {
		c.Jobs.Retention = 7 * 24 * time.Hour
	}
	if c.Jobs.CleanupInterval == 0 {
		c.Jobs.CleanupInterval = time.Hour
	}

	if c.Cache.Addr == "" {
		c.Cache.Addr = "localhost:6379"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 24 * time.Hour
	}

	if c.RateLimit.FlushInterval == 0 {
		c.RateLimit.FlushInterval = 10 * time.Second
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// keyFromEnv reads the model API key from the environment. Gemini falls
// back to API_KEY.
func (l *LLMConfig) keyFromEnv() string {
	if l.APIKeyEnv != "" {
		return os.Getenv(l.APIKeyEnv)
	}
	switch l.Provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("API_KEY")
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini", "anthropic":
	default:
		return fmt.Errorf("invalid llm.provider: %s (must be gemini or anthropic)", c.LLM.Provider)
	}
	if c.LLM.Temperature != nil && (*c.LLM.Temperature < 0 || *c.LLM.Temperature > 2) {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.LLM.MaxOutputTokens < 0 || c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm limits must not be negative")
	}

	if c.Storage.HistoryLimit < 0 {
		return fmt.Errorf("storage.history_limit must not be negative")
	}
	if c.Jobs.Workers < 0 || c.Jobs.MaxRetries < 0 {
		return fmt.Errorf("jobs.workers and jobs.max_retries must not be negative")
	}
	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server.max_upload_bytes must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return c.validateTLS()
}

// validateTLS validates TLS configuration
func (c *Config) validateTLS() error {
	tls := c.Server.TLS
	hasCerts := tls.CertFile != "" || tls.KeyFile != ""
	hasACME := tls.ACME.Enabled

	if hasCerts && hasACME {
		return fmt.Errorf("cannot use both manual certificates and ACME")
	}

	if hasCerts {
		if tls.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when using manual certificates")
		}
		if tls.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when using manual certificates")
		}
	}

	if hasACME {
		if tls.ACME.Email == "" {
			return fmt.Errorf("server.tls.acme.email is required when ACME is enabled")
		}
		if len(tls.ACME.Domains) == 0 {
			return fmt.Errorf("server.tls.acme.domains must not be empty when ACME is enabled")
		}
	}

	return nil
}

// HasTLS returns true if TLS is configured
func (c *Config) HasTLS() bool {
	return (c.Server.TLS.CertFile != "" && c.Server.TLS.KeyFile != "") || c.Server.TLS.ACME.Enabled
}
