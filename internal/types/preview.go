package types

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// PoolMode tells whether a preview targets an existing pool or one to be created.
type PoolMode string

const (
	PoolModeNew      PoolMode = "new"
	PoolModeExisting PoolMode = "existing"
)

// ColumnMapping reports which input columns were recognized.
type ColumnMapping struct {
	UsedColumns     []string `json:"usedColumns"`
	UnmappedColumns []string `json:"unmappedColumns"`
}

// CorruptRow is an input row rejected by validation. Index is zero-based over data rows.
type CorruptRow struct {
	Index  int      `json:"index"`
	Errors []string `json:"errors"`
}

// PreviewStats summarizes a preview.
type PreviewStats struct {
	TotalRows       int        `json:"totalRows"`
	ValidCandidates int        `json:"validCandidates"`
	ValidContacts   int        `json:"validContacts"`
	CorruptRows     int        `json:"corruptRows"`
	Duplicates      KindCounts `json:"duplicates"`
	Creates         KindCounts `json:"creates"`
	Updates         KindCounts `json:"updates"`
}

// Preview is the non-mutating result of an import dry run.
type Preview struct {
	PoolID      *uuid.UUID    `json:"poolId,omitempty"`
	PoolName    string        `json:"poolName"`
	PoolMode    PoolMode      `json:"poolMode"`
	Mapping     ColumnMapping `json:"mapping"`
	Stats       PreviewStats  `json:"stats"`
	Creates     EntrySet      `json:"creates"`
	Updates     EntrySet      `json:"updates"`
	CorruptRows []CorruptRow  `json:"corruptRows"`
}

// NewPool describes a pool to be created by a commit or an autogen job.
type NewPool struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description,omitempty" validate:"max=2000"`
}

// PreviewTarget selects the pool a preview diffs against.
type PreviewTarget struct {
	PoolID  *uuid.UUID
	NewPool *NewPool
}

// Validate requires exactly one of PoolID and NewPool.
func (t PreviewTarget) Validate() error {
	return validateTarget(t.PoolID, t.NewPool)
}

// CommitRequest applies the creates/updates previously returned by a preview.
type CommitRequest struct {
	PoolID  *uuid.UUID `json:"poolId,omitempty"`
	NewPool *NewPool   `json:"newPool,omitempty"`
	Creates EntrySet   `json:"creates"`
	Updates EntrySet   `json:"updates"`
	// Force skips stale detection and applies update changes over the live values.
	Force bool `json:"force,omitempty"`
}

// Validate checks the commit payload shape.
func (r *CommitRequest) Validate() error {
	if err := validateTarget(r.PoolID, r.NewPool); err != nil {
		return err
	}
	if r.Creates.Empty() && r.Updates.Empty() {
		return &ValidationError{Field: "creates", Message: "commit has no creates or updates"}
	}
	return nil
}

func validateTarget(poolID *uuid.UUID, newPool *NewPool) error {
	switch {
	case poolID != nil && newPool != nil:
		return &ValidationError{Field: "poolId", Message: "poolId and newPool are mutually exclusive"}
	case poolID == nil && newPool == nil:
		return &ValidationError{Field: "poolId", Message: "either poolId or newPool is required"}
	case poolID != nil && *poolID == uuid.Nil:
		return &ValidationError{Field: "poolId", Message: "invalid pool id"}
	case newPool != nil:
		newPool.Name = strings.TrimSpace(newPool.Name)
		newPool.Description = strings.TrimSpace(newPool.Description)
		if err := validator.New().Struct(newPool); err != nil {
			return newFieldValidationError(err)
		}
	}
	return nil
}

// RecordIssue reports a single record that a commit did not apply.
type RecordIssue struct {
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Record kinds used in RecordIssue.
const (
	KindCandidate = "candidate"
	KindContact   = "contact"
)

// Stale reasons.
const (
	StaleChanged = "changed"
	StaleDeleted = "deleted"
)

// CommitResult reports what a commit wrote.
type CommitResult struct {
	PoolID    uuid.UUID     `json:"poolId"`
	Created   Counts        `json:"created"`
	Updated   Counts        `json:"updated"`
	Unchanged Counts        `json:"unchanged"`
	Stale     []RecordIssue `json:"stale,omitempty"`
	Errors    []RecordIssue `json:"errors,omitempty"`
}
