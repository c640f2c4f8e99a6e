// Package types provides type definitions for structured data used throughout the lead pool ingestion system.
package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Bounds enforced server-side on every ICP, regardless of what the client UI allows.
const (
	MaxCompaniesLimit          = 100
	MaxContactsPerCompanyLimit = 25
)

// ProviderToggles selects which sourcing providers an autogen run may use.
type ProviderToggles struct {
	AgenticAI    bool `json:"agenticAI"`
	SERP         bool `json:"serp"`
	SERPFallback bool `json:"serpFallback"`
}

// Any reports whether at least one provider is enabled.
func (p ProviderToggles) Any() bool {
	return p.AgenticAI || p.SERP || p.SERPFallback
}

// Limits caps how much an autogen run may source.
type Limits struct {
	MaxCompanies          int `json:"maxCompanies" validate:"required,min=1,max=100"`
	MaxContactsPerCompany int `json:"maxContactsPerCompany" validate:"required,min=1,max=25"`
}

// ICPConfig is the Ideal Customer Profile targeting criteria for autonomous sourcing.
type ICPConfig struct {
	Industries      []string        `json:"industries,omitempty" validate:"max=20,dive,required,max=100"`
	CompanySizes    []string        `json:"companySizes,omitempty" validate:"max=10,dive,required,max=50"`
	Geographies     []string        `json:"geographies,omitempty" validate:"max=20,dive,required,max=100"`
	TechStack       []string        `json:"techStack,omitempty" validate:"max=30,dive,required,max=100"`
	JobTitles       []string        `json:"jobTitles,omitempty" validate:"max=20,dive,required,max=100"`
	ExcludedDomains []string        `json:"excludedDomains,omitempty" validate:"max=500,dive,required,max=253"`
	Notes           string          `json:"notes,omitempty" validate:"max=4000"`
	Providers       ProviderToggles `json:"providers"`
	Limits          Limits          `json:"limits"`
}

// Validate checks the ICP at the trust boundary. Limits are re-checked here even
// though the UI bounds them, since the payload is client supplied.
func (c *ICPConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return newFieldValidationError(err)
	}
	if !c.Providers.Any() {
		return &ValidationError{Field: "providers", Message: "at least one provider must be enabled"}
	}
	return nil
}

// Clean trims list entries and drops empties so downstream query building sees canonical values.
func (c *ICPConfig) Clean() {
	c.Industries = cleanList(c.Industries)
	c.CompanySizes = cleanList(c.CompanySizes)
	c.Geographies = cleanList(c.Geographies)
	c.TechStack = cleanList(c.TechStack)
	c.JobTitles = cleanList(c.JobTitles)
	c.ExcludedDomains = cleanList(c.ExcludedDomains)
	c.Notes = strings.TrimSpace(c.Notes)
}

func cleanList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.Join(strings.Fields(v), " ")
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}
	return out
}

// ValidationError indicates a request or payload failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// newFieldValidationError converts validator output into a ValidationError naming the first failing field.
func newFieldValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{
			Field:   fe.Namespace(),
			Message: fmt.Sprintf("failed '%s' constraint", fe.Tag()),
		}
	}
	return &ValidationError{Message: err.Error()}
}
