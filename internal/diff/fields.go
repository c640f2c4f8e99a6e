package diff

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// field is a tracked attribute compared through its canonical string form.
type field[T any] struct {
	name string
	get  func(*T) string
	set  func(*T, string) error
}

var candidateFields = []field[types.CandidateRecord]{
	{
		name: "domain",
		get:  func(r *types.CandidateRecord) string { return r.Domain },
		set:  func(r *types.CandidateRecord, v string) error { r.Domain = v; return nil },
	},
	{
		name: "companyName",
		get:  func(r *types.CandidateRecord) string { return r.CompanyName },
		set:  func(r *types.CandidateRecord, v string) error { r.CompanyName = v; return nil },
	},
	{
		name: "homepageUrl",
		get:  func(r *types.CandidateRecord) string { return r.HomepageURL },
		set:  func(r *types.CandidateRecord, v string) error { r.HomepageURL = v; return nil },
	},
	{
		name: "description",
		get:  func(r *types.CandidateRecord) string { return r.Description },
		set:  func(r *types.CandidateRecord, v string) error { r.Description = v; return nil },
	},
	{
		name: "industry",
		get:  func(r *types.CandidateRecord) string { return r.Industry },
		set:  func(r *types.CandidateRecord, v string) error { r.Industry = v; return nil },
	},
	{
		name: "techStack",
		get:  func(r *types.CandidateRecord) string { return JoinTags(r.TechStack) },
		set:  func(r *types.CandidateRecord, v string) error { r.TechStack = SplitTags(v); return nil },
	},
	{
		name: "score",
		get:  func(r *types.CandidateRecord) string { return FormatScore(r.Score) },
		set: func(r *types.CandidateRecord, v string) error {
			if v == "" {
				r.Score = nil
				return nil
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid score %q: %w", v, err)
			}
			r.Score = &f
			return nil
		},
	},
}

var contactFields = []field[types.ContactRecord]{
	{
		name: "fullName",
		get:  func(r *types.ContactRecord) string { return r.FullName },
		set:  func(r *types.ContactRecord, v string) error { r.FullName = v; return nil },
	},
	{
		name: "title",
		get:  func(r *types.ContactRecord) string { return r.Title },
		set:  func(r *types.ContactRecord, v string) error { r.Title = v; return nil },
	},
	{
		name: "email",
		get:  func(r *types.ContactRecord) string { return r.Email },
		set:  func(r *types.ContactRecord, v string) error { r.Email = v; return nil },
	},
	{
		name: "phone",
		get:  func(r *types.ContactRecord) string { return r.Phone },
		set:  func(r *types.ContactRecord, v string) error { r.Phone = v; return nil },
	},
	{
		name: "profileUrl",
		get:  func(r *types.ContactRecord) string { return r.ProfileURL },
		set:  func(r *types.ContactRecord, v string) error { r.ProfileURL = v; return nil },
	},
	// Email-keyed contacts keep their key when their company changes.
	{
		name: "candidateKey",
		get:  func(r *types.ContactRecord) string { return r.CandidateKey },
		set:  func(r *types.ContactRecord, v string) error { r.CandidateKey = v; return nil },
	},
}

// CandidateFields lists the tracked candidate field names in diff order.
func CandidateFields() []string { return fieldNames(candidateFields) }

// ContactFields lists the tracked contact field names in diff order.
func ContactFields() []string { return fieldNames(contactFields) }

func fieldNames[T any](fields []field[T]) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

func lookup[T any](fields []field[T], name string) (field[T], bool) {
	for _, f := range fields {
		if f.name == name {
			return f, true
		}
	}
	return field[T]{}, false
}

// JoinTags renders a tag set canonically: case-insensitively de-duplicated,
// sorted, joined with ", ".
func JoinTags(tags []string) string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return strings.Join(out, ", ")
}

// SplitTags is the inverse of JoinTags.
func SplitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FormatScore renders a score with the shortest exact representation, "" for nil.
func FormatScore(score *float64) string {
	if score == nil {
		return ""
	}
	return strconv.FormatFloat(*score, 'f', -1, 64)
}
