package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Tier is one class of endpoints sharing a limit.
type Tier struct {
	Limit  int
	Window time.Duration
	Burst  int
}

// Default tiers. Autogen calls paid providers, imports parse uploads and
// write in bulk; everything else falls through to the default limit.
var (
	DefaultAutogenTier = Tier{Limit: 20, Window: time.Hour, Burst: 5}
	DefaultImportTier  = Tier{Limit: 60, Window: time.Minute, Burst: 10}
	DefaultWriteTier   = Tier{Limit: 100, Window: time.Minute, Burst: 10}
)

// LoadConfig builds the rate limit configuration from RATE_LIMIT_*
// environment variables. Unparsable values fall back to the defaults.
func LoadConfig() *Config {
	if !envOr("RATE_LIMIT_ENABLED", true, strconv.ParseBool) {
		return &Config{Enabled: false}
	}

	autogen := DefaultAutogenTier
	autogen.Limit = envOr("RATE_LIMIT_AUTOGEN_PER_HOUR", autogen.Limit, strconv.Atoi)
	imports := DefaultImportTier
	imports.Limit = envOr("RATE_LIMIT_IMPORTS_PER_MINUTE", imports.Limit, strconv.Atoi)

	return &Config{
		Enabled:         true,
		DefaultLimit:    envOr("RATE_LIMIT_DEFAULT_LIMIT", 1000, strconv.Atoi),
		DefaultWindow:   envOr("RATE_LIMIT_DEFAULT_WINDOW", time.Minute, time.ParseDuration),
		CleanupInterval: envOr("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute, time.ParseDuration),
		Whitelist:       parseIPList(os.Getenv("RATE_LIMIT_WHITELIST")),
		Blacklist:       parseIPList(os.Getenv("RATE_LIMIT_BLACKLIST")),
		EndpointConfigs: EndpointConfigs(autogen, imports, DefaultWriteTier),
	}
}

// DefaultEndpointConfigs returns the endpoint table with the default tiers.
func DefaultEndpointConfigs() []EndpointConfig {
	return EndpointConfigs(DefaultAutogenTier, DefaultImportTier, DefaultWriteTier)
}

// EndpointConfigs lays the tiers over the API routes. Paths ending in "/"
// match by prefix; a "*" segment matches any one segment. Reads use the
// default limit and /health is never limited.
func EndpointConfigs(autogen, imports, writes Tier) []EndpointConfig {
	return []EndpointConfig{
		autogen.endpoint("POST", "/autogen/jobs"),
		autogen.endpoint("POST", "/autogen/jobs/*/run"),
		autogen.endpoint("POST", "/pools/*/autogen"),

		imports.endpoint("POST", "/imports/preview"),
		imports.endpoint("POST", "/imports/commit"),

		writes.endpoint("POST", "/pools"),
		writes.endpoint("DELETE", "/pools/"),
	}
}

func (t Tier) endpoint(method, path string) EndpointConfig {
	return EndpointConfig{Path: path, Method: method, Limit: t.Limit, Window: t.Window, Burst: t.Burst}
}

// envOr parses the variable key with parse, or returns def when it is unset
// or invalid.
func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

// parseIPList parses a comma-separated list of client IPs into a set.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
