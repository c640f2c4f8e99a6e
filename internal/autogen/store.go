// Package autogen runs autonomous sourcing jobs: it drives a job through
// QUEUED, RUNNING and a terminal state, calls the sourcing providers under
// the fallback policy, and commits what they find into the job's pool.
package autogen

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// JobStore persists autogen jobs. Implementations enforce at most one
// QUEUED or RUNNING job per pool.
type JobStore interface {
	// CreatePoolWithJob creates a pool carrying icp and a QUEUED job for it.
	CreatePoolWithJob(ctx context.Context, teamID uuid.UUID, p types.NewPool, icp types.ICPConfig) (*types.Pool, *types.AutogenJob, error)
	// EnqueueJob returns a ConflictError while the pool has an active job.
	EnqueueJob(ctx context.Context, teamID, poolID uuid.UUID, icp types.ICPConfig) (*types.AutogenJob, error)
	// GetJob returns nil, nil when the job does not exist for teamID.
	GetJob(ctx context.Context, teamID, jobID uuid.UUID) (*types.AutogenJob, error)
	// StartJob moves QUEUED to RUNNING and reports false if the job was not QUEUED.
	StartJob(ctx context.Context, jobID uuid.UUID) (bool, error)
	// FinishJob moves RUNNING to res.Status.
	FinishJob(ctx context.Context, jobID uuid.UUID, res types.JobResult) error
	// FailStaleJobs moves RUNNING jobs started before cutoff to FAILED with
	// message and returns how many it moved.
	FailStaleJobs(ctx context.Context, cutoff time.Time, message string) (int, error)
}
