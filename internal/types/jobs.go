package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an autogen job.
type JobStatus string

const (
	JobQueued  JobStatus = "QUEUED"
	JobRunning JobStatus = "RUNNING"
	JobSuccess JobStatus = "SUCCESS"
	JobFailed  JobStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobSuccess, JobFailed:
		return true
	}
	return false
}

// jobTransitions lists every legal edge of the job state machine.
var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:  {JobRunning},
	JobRunning: {JobSuccess, JobFailed},
}

// CanTransitionTo reports whether from -> to is a legal edge.
func (s JobStatus) CanTransitionTo(to JobStatus) bool {
	for _, next := range jobTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError is returned for an illegal job state change.
type TransitionError struct {
	JobID uuid.UUID
	From  JobStatus
	To    JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal job transition %s -> %s for job %s", e.From, e.To, e.JobID)
}

// ProviderCounters are the per-provider tallies of one run.
type ProviderCounters struct {
	Invoked    bool   `json:"invoked"`
	Candidates int    `json:"candidates"`
	Contacts   int    `json:"contacts"`
	Error      string `json:"error,omitempty"`
}

// JobCounters are persisted on the job when it finishes.
type JobCounters struct {
	Providers map[string]ProviderCounters `json:"providers"`
	Created   Counts                      `json:"created"`
	Updated   Counts                      `json:"updated"`
	Unchanged Counts                      `json:"unchanged"`
	Errors    int                         `json:"errors"`
}

// AutogenJob is a persisted autonomous sourcing run for a pool.
type AutogenJob struct {
	ID             uuid.UUID    `json:"id"`
	PoolID         uuid.UUID    `json:"poolId"`
	Status         JobStatus    `json:"status"`
	ICP            ICPConfig    `json:"icp"`
	QueryTemplates []string     `json:"queryTemplates"`
	Counters       *JobCounters `json:"counters,omitempty"`
	Error          string       `json:"error,omitempty"`
	Warnings       []string     `json:"warnings,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	StartedAt      *time.Time   `json:"startedAt,omitempty"`
	FinishedAt     *time.Time   `json:"finishedAt,omitempty"`
}

// Summary returns the listing view of the job.
func (j *AutogenJob) Summary() *JobSummary {
	return &JobSummary{
		ID:             j.ID,
		Status:         j.Status,
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
		Counters:       j.Counters,
		QueryTemplates: j.QueryTemplates,
	}
}

// JobSummary is the "latestJob" view exposed on pool listings.
type JobSummary struct {
	ID             uuid.UUID    `json:"id"`
	Status         JobStatus    `json:"status"`
	StartedAt      *time.Time   `json:"startedAt,omitempty"`
	FinishedAt     *time.Time   `json:"finishedAt,omitempty"`
	Counters       *JobCounters `json:"counters,omitempty"`
	QueryTemplates []string     `json:"queryTemplates,omitempty"`
}

// JobResult is what an orchestrator run produces before it is persisted.
type JobResult struct {
	Status         JobStatus
	QueryTemplates []string
	Counters       JobCounters
	Error          string
	Warnings       []string
}

// CreateJobRequest creates a pool and a QUEUED autogen job for it.
type CreateJobRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description,omitempty" validate:"max=2000"`
	ICP         ICPConfig       `json:"icp" validate:"-"`
	Providers   ProviderToggles `json:"providers"`
	Limits      Limits          `json:"limits"`
}

// Validate checks the request and folds the top-level providers/limits into the ICP.
func (r *CreateJobRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	if err := validator.New().Struct(r); err != nil {
		return newFieldValidationError(err)
	}
	r.ICP.Providers = r.Providers
	r.ICP.Limits = r.Limits
	r.ICP.Clean()
	return r.ICP.Validate()
}

// CreatePoolRequest creates an empty pool, optionally with an ICP.
type CreatePoolRequest struct {
	Name        string     `json:"name" validate:"required,max=200"`
	Description string     `json:"description,omitempty" validate:"max=2000"`
	ICP         *ICPConfig `json:"icp,omitempty" validate:"-"`
}

// Validate checks the request.
func (r *CreatePoolRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	if err := validator.New().Struct(r); err != nil {
		return newFieldValidationError(err)
	}
	if r.ICP != nil {
		r.ICP.Clean()
		return r.ICP.Validate()
	}
	return nil
}
