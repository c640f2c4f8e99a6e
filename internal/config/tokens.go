package config

import (
	"fmt"
	"os"
	"time"
)

// Token defaults.
const (
	DefaultTokenTTLHours = 24
	DefaultTokenLeeway   = 30 * time.Second
	minSecretLength      = 16
)

// TokenConfig configures the bearer tokens that carry a team_id. The CRM
// issues them upstream; the CLI mints its own for scripts.
type TokenConfig struct {
	Secret   string
	TTLHours int
	// Issuer and Audience are checked only when set.
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// LoadTokenConfig reads JWT_SECRET (required), JWT_EXPIRATION_HOURS,
// JWT_ISSUER, JWT_AUDIENCE and JWT_LEEWAY.
func LoadTokenConfig() (*TokenConfig, error) {
	cfg := &TokenConfig{
		Secret:   os.Getenv("JWT_SECRET"),
		TTLHours: DefaultTokenTTLHours,
		Leeway:   DefaultTokenLeeway,
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but not set")
	}
	setString(&cfg.Issuer, "JWT_ISSUER")
	setString(&cfg.Audience, "JWT_AUDIENCE")
	if err := setInt(&cfg.TTLHours, "JWT_EXPIRATION_HOURS"); err != nil {
		return nil, err
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_LEEWAY: %w", err)
		}
		cfg.Leeway = d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TTL is the lifetime of minted tokens.
func (c *TokenConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// Validate checks secret strength and the time settings.
func (c *TokenConfig) Validate() error {
	if len(c.Secret) < minSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minSecretLength)
	}
	if c.TTLHours < 1 {
		return fmt.Errorf("JWT_EXPIRATION_HOURS must be at least 1 hour, got: %d", c.TTLHours)
	}
	if c.Leeway < 0 {
		return fmt.Errorf("JWT_LEEWAY must not be negative")
	}
	return nil
}
