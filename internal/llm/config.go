// Package llm wraps the Gemini API behind a small client interface with
// model tiers, so the sourcing agent never names a concrete model.
package llm

// ModelTier represents the capability level a call needs.
type ModelTier string

const (
	// TierLite is for cheap normalization and classification calls.
	TierLite ModelTier = "lite"
	// TierStandard is for structured company discovery.
	TierStandard ModelTier = "standard"
	// TierAdvanced is for broad ICPs that need more reasoning.
	TierAdvanced ModelTier = "advanced"
)

// Config maps tiers to model names.
type Config struct {
	Models      map[ModelTier]string
	Temperature float32
}

// DefaultConfig returns the Gemini defaults.
func DefaultConfig() *Config {
	return &Config{
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Temperature: 0.2,
	}
}

// GetModel returns the model for tier, falling back to standard then lite.
func (c *Config) GetModel(tier ModelTier) string {
	for _, t := range []ModelTier{tier, TierStandard, TierLite} {
		if model, ok := c.Models[t]; ok && model != "" {
			return model
		}
	}
	return ""
}

// WithModel returns a copy of c with tier pointed at model.
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	next := &Config{Models: make(map[ModelTier]string, len(c.Models)+1), Temperature: c.Temperature}
	for k, v := range c.Models {
		next.Models[k] = v
	}
	next.Models[tier] = model
	return next
}
