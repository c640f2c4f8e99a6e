package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// ---- Autogen Job Methods ----

const jobColumns = `j.id, j.pool_id, j.status, j.icp, j.query_templates, j.counters, j.error,
	j.warnings, j.created_at, j.started_at, j.finished_at`

// CreatePoolWithJob creates a pool carrying icp and a QUEUED job for it in
// one transaction.
func (db *DB) CreatePoolWithJob(ctx context.Context, teamID uuid.UUID, p types.NewPool, icp types.ICPConfig) (*types.Pool, *types.AutogenJob, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pool, err := createPool(ctx, tx, teamID, p, &icp)
	if err != nil {
		return nil, nil, err
	}
	job, err := insertJob(ctx, tx, pool.ID, icp)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return pool, job, nil
}

// EnqueueJob adds a QUEUED job to an existing pool. It fails with a
// ConflictError while another job of the pool is QUEUED or RUNNING; the
// partial unique index backs this up against concurrent enqueues.
func (db *DB) EnqueueJob(ctx context.Context, teamID, poolID uuid.UUID, icp types.ICPConfig) (*types.AutogenJob, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var owned bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lead_pools WHERE id = $1 AND team_id = $2)`,
		poolID, teamID,
	).Scan(&owned)
	if err != nil {
		return nil, fmt.Errorf("failed to check pool: %w", err)
	}
	if !owned {
		return nil, &types.NotFoundError{Resource: "pool", ID: poolID}
	}

	var activeID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM autogen_jobs WHERE pool_id = $1 AND status IN ('QUEUED', 'RUNNING') LIMIT 1`,
		poolID,
	).Scan(&activeID)
	switch {
	case err == nil:
		return nil, activeJobConflict(poolID, activeID.String())
	case err != pgx.ErrNoRows:
		return nil, fmt.Errorf("failed to check active job: %w", err)
	}

	job, err := insertJob(ctx, tx, poolID, icp)
	if err != nil {
		if uniqueViolationOn(err, activeJobIndex) {
			return nil, activeJobConflict(poolID, "concurrent enqueue")
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		if uniqueViolationOn(err, activeJobIndex) {
			return nil, activeJobConflict(poolID, "concurrent enqueue")
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return job, nil
}

func activeJobConflict(poolID uuid.UUID, detail string) error {
	return &types.ConflictError{Resource: "pool", ID: poolID, Message: "an autogen job is already active (" + detail + ")"}
}

func insertJob(ctx context.Context, q querier, poolID uuid.UUID, icp types.ICPConfig) (*types.AutogenJob, error) {
	icpJSON, err := json.Marshal(icp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal icp: %w", err)
	}
	row := q.QueryRow(ctx,
		`INSERT INTO autogen_jobs AS j (pool_id, status, icp)
		 VALUES ($1, 'QUEUED', $2)
		 RETURNING `+jobColumns,
		poolID, icpJSON,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// GetJob returns the job, or nil when it does not exist for teamID.
func (db *DB) GetJob(ctx context.Context, teamID, jobID uuid.UUID) (*types.AutogenJob, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+`
		 FROM autogen_jobs j
		 JOIN lead_pools p ON p.id = j.pool_id
		 WHERE j.id = $1 AND p.team_id = $2`,
		jobID, teamID,
	)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns a pool's jobs, newest first.
func (db *DB) ListJobs(ctx context.Context, poolID uuid.UUID) ([]types.AutogenJob, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM autogen_jobs j
		 WHERE j.pool_id = $1
		 ORDER BY j.created_at DESC, j.id`,
		poolID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return collectJobs(rows)
}

// StartJob moves a QUEUED job to RUNNING with a conditional update. It
// reports false when the job was not QUEUED.
func (db *DB) StartJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE autogen_jobs SET status = 'RUNNING', started_at = clock_timestamp()
		 WHERE id = $1 AND status = 'QUEUED'`,
		jobID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to start job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM autogen_jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check job: %w", err)
	}
	if !exists {
		return false, &types.NotFoundError{Resource: "job", ID: jobID}
	}
	return false, nil
}

// FinishJob moves a RUNNING job to its terminal status and stores the result.
func (db *DB) FinishJob(ctx context.Context, jobID uuid.UUID, res types.JobResult) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status types.JobStatus
	err = tx.QueryRow(ctx, `SELECT status FROM autogen_jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return &types.NotFoundError{Resource: "job", ID: jobID}
		}
		return fmt.Errorf("failed to load job: %w", err)
	}
	if !status.CanTransitionTo(res.Status) {
		return &types.TransitionError{JobID: jobID, From: status, To: res.Status}
	}

	queries := res.QueryTemplates
	if queries == nil {
		queries = []string{}
	}
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	queriesJSON, err := json.Marshal(queries)
	if err != nil {
		return fmt.Errorf("failed to marshal query templates: %w", err)
	}
	countersJSON, err := json.Marshal(res.Counters)
	if err != nil {
		return fmt.Errorf("failed to marshal counters: %w", err)
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE autogen_jobs SET
		     status = $2, query_templates = $3, counters = $4, error = $5, warnings = $6,
		     finished_at = clock_timestamp()
		 WHERE id = $1`,
		jobID, string(res.Status), queriesJSON, countersJSON, res.Error, warningsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FailStaleJobs moves RUNNING jobs started before cutoff to FAILED, freeing
// their pools for new jobs.
func (db *DB) FailStaleJobs(ctx context.Context, cutoff time.Time, message string) (int, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE autogen_jobs SET status = 'FAILED', error = $2, finished_at = clock_timestamp()
		 WHERE status = 'RUNNING' AND started_at < $1`,
		cutoff, message,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func collectJobs(rows pgx.Rows) ([]types.AutogenJob, error) {
	defer rows.Close()
	out := make([]types.AutogenJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (*types.AutogenJob, error) {
	var j types.AutogenJob
	var status string
	var icp, queries, counters, warnings []byte
	err := row.Scan(&j.ID, &j.PoolID, &status, &icp, &queries, &counters, &j.Error,
		&warnings, &j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	j.Status = types.JobStatus(status)
	if err := json.Unmarshal(icp, &j.ICP); err != nil {
		return nil, fmt.Errorf("failed to decode job icp: %w", err)
	}
	if err := json.Unmarshal(queries, &j.QueryTemplates); err != nil {
		return nil, fmt.Errorf("failed to decode query templates: %w", err)
	}
	if j.QueryTemplates == nil {
		j.QueryTemplates = []string{}
	}
	if j.Counters, err = unmarshalIfSet[types.JobCounters](counters); err != nil {
		return nil, fmt.Errorf("failed to decode counters: %w", err)
	}
	if err := json.Unmarshal(warnings, &j.Warnings); err != nil {
		return nil, fmt.Errorf("failed to decode warnings: %w", err)
	}
	if len(j.Warnings) == 0 {
		j.Warnings = nil
	}
	return &j, nil
}
