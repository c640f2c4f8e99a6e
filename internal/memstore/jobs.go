package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// ---- Autogen Job Methods ----

// CreatePoolWithJob creates a pool carrying icp and a QUEUED job for it.
func (s *Store) CreatePoolWithJob(_ context.Context, teamID uuid.UUID, p types.NewPool, icp types.ICPConfig) (*types.Pool, *types.AutogenJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool := s.insertPool(teamID, p, &icp)
	job := s.insertJob(pool.ID, icp)
	return &pool, &job, nil
}

// EnqueueJob adds a QUEUED job to an existing pool. It fails with a
// ConflictError while another job of the pool is QUEUED or RUNNING.
func (s *Store) EnqueueJob(_ context.Context, teamID, poolID uuid.UUID, icp types.ICPConfig) (*types.AutogenJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[poolID]
	if !ok || pool.TeamID != teamID {
		return nil, &types.NotFoundError{Resource: "pool", ID: poolID}
	}
	for _, j := range s.jobs {
		if j.PoolID == poolID && !j.Status.Terminal() {
			return nil, &types.ConflictError{Resource: "pool", ID: poolID, Message: "an autogen job is already active (" + j.ID.String() + ")"}
		}
	}
	job := s.insertJob(poolID, icp)
	return &job, nil
}

func (s *Store) insertJob(poolID uuid.UUID, icp types.ICPConfig) types.AutogenJob {
	row := &jobRow{
		seq: s.next(),
		AutogenJob: types.AutogenJob{
			ID:             uuid.New(),
			PoolID:         poolID,
			Status:         types.JobQueued,
			ICP:            cloneICPValue(icp),
			QueryTemplates: []string{},
			CreatedAt:      s.now(),
		},
	}
	s.jobs[row.ID] = row
	return cloneJob(row.AutogenJob)
}

// GetJob returns the job, or nil when it does not exist for teamID.
func (s *Store) GetJob(_ context.Context, teamID, jobID uuid.UUID) (*types.AutogenJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	if pool, ok := s.pools[row.PoolID]; !ok || pool.TeamID != teamID {
		return nil, nil
	}
	job := cloneJob(row.AutogenJob)
	return &job, nil
}

// ListJobs returns a pool's jobs, newest first.
func (s *Store) ListJobs(_ context.Context, poolID uuid.UUID) ([]types.AutogenJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]*jobRow, 0)
	for _, j := range s.jobs {
		if j.PoolID == poolID {
			rows = append(rows, j)
		}
	}
	slices.SortFunc(rows, func(a, b *jobRow) int { return int(b.seq - a.seq) })
	out := make([]types.AutogenJob, 0, len(rows))
	for _, r := range rows {
		out = append(out, cloneJob(r.AutogenJob))
	}
	return out, nil
}

// StartJob moves a QUEUED job to RUNNING. It reports false when the job was
// not QUEUED, which makes repeated triggers harmless.
func (s *Store) StartJob(_ context.Context, jobID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return false, &types.NotFoundError{Resource: "job", ID: jobID}
	}
	if row.Status != types.JobQueued {
		return false, nil
	}
	now := s.now()
	row.Status = types.JobRunning
	row.StartedAt = &now
	return true, nil
}

// FinishJob moves a RUNNING job to its terminal status and stores the result.
func (s *Store) FinishJob(_ context.Context, jobID uuid.UUID, res types.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return &types.NotFoundError{Resource: "job", ID: jobID}
	}
	if !row.Status.CanTransitionTo(res.Status) {
		return &types.TransitionError{JobID: jobID, From: row.Status, To: res.Status}
	}
	now := s.now()
	counters := res.Counters
	row.Status = res.Status
	row.QueryTemplates = slices.Clone(res.QueryTemplates)
	row.Counters = &counters
	row.Error = res.Error
	row.Warnings = slices.Clone(res.Warnings)
	row.FinishedAt = &now
	return nil
}

// FailStaleJobs moves RUNNING jobs started before cutoff to FAILED.
func (s *Store) FailStaleJobs(_ context.Context, cutoff time.Time, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.jobs {
		if row.Status != types.JobRunning || row.StartedAt == nil || !row.StartedAt.Before(cutoff) {
			continue
		}
		now := s.now()
		row.Status = types.JobFailed
		row.Error = message
		row.FinishedAt = &now
		n++
	}
	return n, nil
}

func cloneJob(j types.AutogenJob) types.AutogenJob {
	j.ICP = cloneICPValue(j.ICP)
	j.QueryTemplates = slices.Clone(j.QueryTemplates)
	if j.QueryTemplates == nil {
		j.QueryTemplates = []string{}
	}
	j.Warnings = slices.Clone(j.Warnings)
	if j.Counters != nil {
		c := *j.Counters
		c.Providers = make(map[string]types.ProviderCounters, len(j.Counters.Providers))
		for k, v := range j.Counters.Providers {
			c.Providers[k] = v
		}
		j.Counters = &c
	}
	return j
}
