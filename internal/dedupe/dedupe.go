// Package dedupe derives the stable identity keys used to match incoming lead
// records against each other and against records already stored in a pool.
//
// Every function here is pure: identical input always yields identical output,
// which is what lets a serialized preview be committed later in another process.
package dedupe

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// contactNamePrefix marks contact keys built from a name instead of an email.
const contactNamePrefix = "name:"

// NormalizeDomain reduces a domain, host or URL to its lower-cased registrable
// domain with scheme, "www.", port, path and trailing dot removed.
// It returns "" when nothing domain-like remains.
func NormalizeDomain(raw string) string {
	host := hostOf(raw)
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	if !strings.Contains(host, ".") {
		return ""
	}
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld1
	}
	return host
}

// hostOf extracts a lower-cased host from a bare domain or a URL.
func hostOf(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Hostname()
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	if strings.ContainsAny(host, " \t@") {
		return ""
	}
	return host
}

// CollapseWhitespace lower-cases s and collapses runs of whitespace into single spaces.
func CollapseWhitespace(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CandidateKey returns the identity key for a company. The domain is
// authoritative; the company name is used only when no domain resolves.
// The homepage URL is consulted as a domain source before falling back to name.
func CandidateKey(rec types.CandidateRecord) string {
	if d := NormalizeDomain(rec.Domain); d != "" {
		return d
	}
	if d := NormalizeDomain(rec.HomepageURL); d != "" {
		return d
	}
	return CollapseWhitespace(rec.CompanyName)
}

// ContactKey returns the identity key for a person. The email wins; without one,
// the key combines the name with the owning candidate's key so the same
// un-emailed name only collides within one company.
func ContactKey(rec types.ContactRecord) string {
	if e := NormalizeEmail(rec.Email); e != "" {
		return e
	}
	name := CollapseWhitespace(rec.FullName)
	if name == "" || rec.CandidateKey == "" {
		return ""
	}
	return contactNamePrefix + name + "|" + rec.CandidateKey
}

// AssignCandidateKey sets DedupeKey on rec and returns it.
func AssignCandidateKey(rec *types.CandidateRecord) string {
	rec.DedupeKey = CandidateKey(*rec)
	return rec.DedupeKey
}

// AssignContactKey sets DedupeKey on rec and returns it.
func AssignContactKey(rec *types.ContactRecord) string {
	rec.DedupeKey = ContactKey(*rec)
	return rec.DedupeKey
}
