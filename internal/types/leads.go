package types

import (
	"time"

	"github.com/google/uuid"
)

// Source providers recorded in candidate source metadata.
const (
	SourceImport    = "import"
	SourceAgenticAI = "agenticAI"
	SourceSERP      = "serp"
)

// SourceMeta records where a candidate came from.
type SourceMeta struct {
	Provider string `json:"provider,omitempty"`
	JobID    string `json:"jobId,omitempty"`
	Query    string `json:"query,omitempty"`
}

// CandidateRecord is a normalized prospective company.
type CandidateRecord struct {
	DedupeKey   string     `json:"dedupeKey"`
	Domain      string     `json:"domain,omitempty"`
	CompanyName string     `json:"companyName,omitempty"`
	HomepageURL string     `json:"homepageUrl,omitempty"`
	Description string     `json:"description,omitempty"`
	Industry    string     `json:"industry,omitempty"`
	TechStack   []string   `json:"techStack,omitempty"`
	Score       *float64   `json:"score,omitempty"`
	SourceMeta  SourceMeta `json:"sourceMeta,omitempty"`
}

// ContactRecord is a normalized person tied to a candidate through CandidateKey.
type ContactRecord struct {
	DedupeKey    string `json:"dedupeKey"`
	CandidateKey string `json:"candidateKey"`
	FullName     string `json:"fullName,omitempty"`
	Title        string `json:"title,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	ProfileURL   string `json:"profileUrl,omitempty"`
}

// StoredCandidate is a persisted candidate.
type StoredCandidate struct {
	ID     uuid.UUID `json:"id"`
	PoolID uuid.UUID `json:"poolId"`
	CandidateRecord
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StoredContact is a persisted contact.
type StoredContact struct {
	ID          uuid.UUID `json:"id"`
	PoolID      uuid.UUID `json:"poolId"`
	CandidateID uuid.UUID `json:"candidateId"`
	ContactRecord
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Pool is a named collection of candidates and contacts owned by a team.
type Pool struct {
	ID          uuid.UUID  `json:"id"`
	TeamID      uuid.UUID  `json:"teamId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ICP         *ICPConfig `json:"icp,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// PoolSummary is the read-only listing view of a pool.
type PoolSummary struct {
	Pool
	CandidatesCount int         `json:"candidatesCount"`
	ContactsCount   int         `json:"contactsCount"`
	LatestJob       *JobSummary `json:"latestJob,omitempty"`
}

// FieldChange is a single before/after value pair for a tracked field.
type FieldChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Changes maps tracked field names to their before/after values.
type Changes map[string]FieldChange

// CandidateEntry is a candidate in a preview or commit payload.
type CandidateEntry struct {
	CandidateRecord
	ExistingID *uuid.UUID `json:"existingId,omitempty"`
	Changes    Changes    `json:"changes,omitempty"`
}

// ContactEntry is a contact in a preview or commit payload.
type ContactEntry struct {
	ContactRecord
	ExistingID *uuid.UUID `json:"existingId,omitempty"`
	Changes    Changes    `json:"changes,omitempty"`
}

// EntrySet groups candidate and contact entries.
type EntrySet struct {
	Candidates []CandidateEntry `json:"candidates"`
	Contacts   []ContactEntry   `json:"contacts"`
}

// Empty reports whether the set has no entries.
func (s EntrySet) Empty() bool {
	return len(s.Candidates) == 0 && len(s.Contacts) == 0
}

// KindCounts counts something per entity kind.
type KindCounts struct {
	Candidate int `json:"candidate"`
	Contact   int `json:"contact"`
}

// Counts counts created/updated rows per entity kind.
type Counts struct {
	Candidates int `json:"candidates"`
	Contacts   int `json:"contacts"`
}
