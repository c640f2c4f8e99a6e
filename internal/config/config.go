// Package config provides configuration loading and validation for the
// server and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults applied when neither the config file nor the environment set a value.
const (
	DefaultPort              = 8080
	DefaultProviderTimeout   = 90 * time.Second
	DefaultMaxConcurrentJobs = 4
	DefaultStaleJobAfter     = 30 * time.Minute
	DefaultMaxUploadBytes    = 10 << 20
	DefaultSERPQPS           = 2.0
	DefaultSERPConcurrency   = 3
	DefaultEnrichConcurrency = 4
)

// Duration is a time.Duration read from JSON as a string such as "90s".
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds everything the server and CLI need. It is loaded from an
// optional JSON file and then overlaid with environment variables.
type Config struct {
	// Storage
	DatabaseURL string `json:"database_url,omitempty"`

	// Providers
	GeminiAPIKey      string   `json:"gemini_api_key,omitempty"`
	SearchAPIKey      string   `json:"search_api_key,omitempty"`
	SearchEngineID    string   `json:"search_engine_id,omitempty"`
	ProviderTimeout   Duration `json:"provider_timeout,omitempty"`
	SERPQPS           float64  `json:"serp_qps,omitempty"`
	SERPConcurrency   int      `json:"serp_concurrency,omitempty"`
	EnrichConcurrency int      `json:"enrich_concurrency,omitempty"`
	UseBrowser        bool     `json:"use_browser,omitempty"` // Render SPA homepages with headless Chrome

	// Jobs and imports
	MaxConcurrentJobs int      `json:"max_concurrent_jobs,omitempty"`
	MaxUploadBytes    int64    `json:"max_upload_bytes,omitempty"`
	StaleJobAfter     Duration `json:"stale_job_after,omitempty"` // RUNNING jobs older than this are failed

	// Server
	Port    int  `json:"port,omitempty"`
	Verbose bool `json:"verbose,omitempty"`
}

// Default returns a Config with every default filled in.
func Default() Config {
	return Config{
		ProviderTimeout:   Duration(DefaultProviderTimeout),
		SERPQPS:           DefaultSERPQPS,
		SERPConcurrency:   DefaultSERPConcurrency,
		EnrichConcurrency: DefaultEnrichConcurrency,
		MaxConcurrentJobs: DefaultMaxConcurrentJobs,
		MaxUploadBytes:    DefaultMaxUploadBytes,
		StaleJobAfter:     Duration(DefaultStaleJobAfter),
		Port:              DefaultPort,
	}
}

// Load builds the effective configuration: defaults, then the JSON file at
// path (if any), then the environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fromFile, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = fromFile.MergeWithDefaults(cfg)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables that are set.
// A set but unparsable variable is an error rather than silently ignored.
func (c *Config) ApplyEnv() error {
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.SearchAPIKey, "SEARCH_API_KEY")
	setString(&c.SearchEngineID, "SEARCH_ENGINE_ID")

	if v := os.Getenv("PROVIDER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err)
		}
		c.ProviderTimeout = Duration(d)
	}
	if v := os.Getenv("STALE_JOB_AFTER"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid STALE_JOB_AFTER: %w", err)
		}
		c.StaleJobAfter = Duration(d)
	}
	if err := setInt(&c.MaxConcurrentJobs, "MAX_CONCURRENT_JOBS"); err != nil {
		return err
	}
	if err := setInt(&c.SERPConcurrency, "SERP_CONCURRENCY"); err != nil {
		return err
	}
	if err := setInt(&c.EnrichConcurrency, "ENRICH_CONCURRENCY"); err != nil {
		return err
	}
	if err := setInt(&c.Port, "PORT"); err != nil {
		return err
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	if v := os.Getenv("SERP_QPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid SERP_QPS: %w", err)
		}
		c.SERPQPS = f
	}
	if v := os.Getenv("USE_BROWSER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid USE_BROWSER: %w", err)
		}
		c.UseBrowser = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

// Validate checks that the configuration has valid values.
// Credentials are not required here; a provider without credentials is
// simply not configured.
func (c *Config) Validate() error {
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("config error: 'provider_timeout' must be positive")
	}
	if c.StaleJobAfter <= 0 {
		return fmt.Errorf("config error: 'stale_job_after' must be positive")
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("config error: 'max_concurrent_jobs' must be at least 1")
	}
	if c.MaxUploadBytes < 1 {
		return fmt.Errorf("config error: 'max_upload_bytes' must be positive")
	}
	if c.SERPQPS <= 0 {
		return fmt.Errorf("config error: 'serp_qps' must be positive")
	}
	if c.SERPConcurrency < 1 {
		return fmt.Errorf("config error: 'serp_concurrency' must be at least 1")
	}
	if c.EnrichConcurrency < 1 {
		return fmt.Errorf("config error: 'enrich_concurrency' must be at least 1")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 1 and 65535")
	}
	if (c.SearchAPIKey == "") != (c.SearchEngineID == "") {
		return fmt.Errorf("config error: 'search_api_key' and 'search_engine_id' must be set together")
	}
	return nil
}

// AgentConfigured reports whether the AI agent provider can be built.
func (c *Config) AgentConfigured() bool {
	return c.GeminiAPIKey != ""
}

// SERPConfigured reports whether the search provider can be built.
func (c *Config) SERPConfigured() bool {
	return c.SearchAPIKey != "" && c.SearchEngineID != ""
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
// This is used to apply built-in defaults under config file values.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.GeminiAPIKey == "" {
		result.GeminiAPIKey = defaults.GeminiAPIKey
	}
	if result.SearchAPIKey == "" {
		result.SearchAPIKey = defaults.SearchAPIKey
	}
	if result.SearchEngineID == "" {
		result.SearchEngineID = defaults.SearchEngineID
	}

	// Numeric fields: use default if zero
	if result.ProviderTimeout == 0 {
		result.ProviderTimeout = defaults.ProviderTimeout
	}
	if result.StaleJobAfter == 0 {
		result.StaleJobAfter = defaults.StaleJobAfter
	}
	if result.SERPQPS == 0 {
		result.SERPQPS = defaults.SERPQPS
	}
	if result.SERPConcurrency == 0 {
		result.SERPConcurrency = defaults.SERPConcurrency
	}
	if result.EnrichConcurrency == 0 {
		result.EnrichConcurrency = defaults.EnrichConcurrency
	}
	if result.MaxConcurrentJobs == 0 {
		result.MaxConcurrentJobs = defaults.MaxConcurrentJobs
	}
	if result.MaxUploadBytes == 0 {
		result.MaxUploadBytes = defaults.MaxUploadBytes
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (the environment and CLI flags always win for bools)

	return result
}
