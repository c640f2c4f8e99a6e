// Package sourcing finds prospective companies and contacts for an Ideal
// Customer Profile. Providers share one contract so the orchestrator can
// combine and fall back between them.
package sourcing

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ledger1-ai/crm-official-sub000/internal/dedupe"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// Quota bounds one provider call.
type Quota struct {
	Companies          int
	ContactsPerCompany int
}

// QuotaFor derives the quota from the ICP limits.
func QuotaFor(icp types.ICPConfig) Quota {
	return Quota{Companies: icp.Limits.MaxCompanies, ContactsPerCompany: icp.Limits.MaxContactsPerCompany}
}

// SourcedCompany is one company with the contacts found for it. Records
// carry no dedupe keys; the orchestrator assigns them.
type SourcedCompany struct {
	Candidate types.CandidateRecord
	Contacts  []types.ContactRecord
	// Query is the search phrase that surfaced the company, if any.
	Query string
}

// Result is the output of one provider call.
type Result struct {
	Companies []SourcedCompany
	// Queries are the literal query strings the provider used.
	Queries []string
}

// CandidateCount returns the number of companies.
func (r *Result) CandidateCount() int {
	if r == nil {
		return 0
	}
	return len(r.Companies)
}

// ContactCount returns the number of contacts across companies.
func (r *Result) ContactCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, c := range r.Companies {
		n += len(c.Contacts)
	}
	return n
}

// Provider sources companies for an ICP. Implementations may return zero
// companies without error. On error the returned Result may still carry the
// queries that were attempted.
type Provider interface {
	Name() string
	FindCandidates(ctx context.Context, icp types.ICPConfig, quota Quota) (*Result, error)
}

// ProviderError wraps a failed provider call.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// excludedSet builds a lookup of normalized excluded domains.
func excludedSet(domains []string) map[string]bool {
	set := make(map[string]bool, len(domains))
	for _, d := range domains {
		if n := dedupe.NormalizeDomain(d); n != "" {
			set[n] = true
		}
	}
	return set
}

// IsExcluded reports whether domain is on the ICP's exclusion list.
func IsExcluded(icp types.ICPConfig, domain string) bool {
	n := dedupe.NormalizeDomain(domain)
	return n != "" && excludedSet(icp.ExcludedDomains)[n]
}

// finalize drops companies without a usable or allowed domain and repeats of
// the same domain, then applies the quota.
func finalize(companies []SourcedCompany, icp types.ICPConfig, quota Quota) []SourcedCompany {
	excluded := excludedSet(icp.ExcludedDomains)
	seen := make(map[string]bool, len(companies))
	out := make([]SourcedCompany, 0, min(len(companies), max(quota.Companies, 0)))
	for _, c := range companies {
		if quota.Companies > 0 && len(out) >= quota.Companies {
			break
		}
		domain := dedupe.NormalizeDomain(c.Candidate.Domain)
		if domain == "" {
			domain = dedupe.NormalizeDomain(c.Candidate.HomepageURL)
		}
		if domain == "" || excluded[domain] || seen[domain] {
			continue
		}
		seen[domain] = true
		c.Candidate.Domain = domain
		if c.Candidate.HomepageURL == "" {
			c.Candidate.HomepageURL = "https://" + domain
		}
		c.Contacts = capContacts(c.Contacts, quota.ContactsPerCompany)
		out = append(out, c)
	}
	return out
}

func capContacts(contacts []types.ContactRecord, limit int) []types.ContactRecord {
	out := make([]types.ContactRecord, 0, len(contacts))
	for _, c := range contacts {
		if limit > 0 && len(out) >= limit {
			break
		}
		c.FullName = strings.Join(strings.Fields(c.FullName), " ")
		c.Title = strings.Join(strings.Fields(c.Title), " ")
		c.Email = dedupe.NormalizeEmail(c.Email)
		if c.FullName == "" && c.Email == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func clampScore(v float64) *float64 {
	v = max(0, min(100, v))
	return &v
}
