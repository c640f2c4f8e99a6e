package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// ---- Pool Methods ----

const poolColumns = `p.id, p.team_id, p.name, p.description, p.icp, p.created_at, p.updated_at`

// CreatePool inserts a new pool owned by teamID.
func (db *DB) CreatePool(ctx context.Context, teamID uuid.UUID, p types.NewPool, icp *types.ICPConfig) (*types.Pool, error) {
	return createPool(ctx, db.pool, teamID, p, icp)
}

// ResolvePool returns the team's oldest pool named p.Name, creating it when
// there is none. created reports whether it was inserted. The lookup and the
// insert hold a transaction-scoped advisory lock on (team, name), so two
// commits naming the same new pool end up in one pool.
func (db *DB) ResolvePool(ctx context.Context, teamID uuid.UUID, p types.NewPool) (*types.Pool, bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text || '/' || $2))`, teamID, p.Name); err != nil {
		return nil, false, fmt.Errorf("failed to lock pool name: %w", err)
	}

	row := tx.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM lead_pools p
		 WHERE p.team_id = $1 AND p.name = $2
		 ORDER BY p.created_at, p.id
		 LIMIT 1`,
		teamID, p.Name,
	)
	pool, err := scanPool(row)
	switch {
	case err == nil:
		return pool, false, nil
	case err != pgx.ErrNoRows:
		return nil, false, fmt.Errorf("failed to find pool: %w", err)
	}

	pool, err = createPool(ctx, tx, teamID, p, nil)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return pool, true, nil
}

func createPool(ctx context.Context, q querier, teamID uuid.UUID, p types.NewPool, icp *types.ICPConfig) (*types.Pool, error) {
	icpJSON, err := jsonOrNull(icp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal icp: %w", err)
	}
	row := q.QueryRow(ctx,
		`INSERT INTO lead_pools AS p (team_id, name, description, icp)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+poolColumns,
		teamID, p.Name, p.Description, icpJSON,
	)
	pool, err := scanPool(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return pool, nil
}

// GetPool returns the pool, or nil when it does not exist for teamID.
func (db *DB) GetPool(ctx context.Context, teamID, poolID uuid.UUID) (*types.Pool, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM lead_pools p WHERE p.id = $1 AND p.team_id = $2`,
		poolID, teamID,
	)
	pool, err := scanPool(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}
	return pool, nil
}

// GetPoolSummary returns the pool with its counts and latest job, or nil.
func (db *DB) GetPoolSummary(ctx context.Context, teamID, poolID uuid.UUID) (*types.PoolSummary, error) {
	summaries, err := db.summaries(ctx, `p.team_id = $1 AND p.id = $2`, teamID, poolID)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, nil
	}
	return &summaries[0], nil
}

// ListPools returns the team's pools, newest first.
func (db *DB) ListPools(ctx context.Context, teamID uuid.UUID) ([]types.PoolSummary, error) {
	return db.summaries(ctx, `p.team_id = $1`, teamID)
}

func (db *DB) summaries(ctx context.Context, where string, args ...any) ([]types.PoolSummary, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+poolColumns+`,
		        (SELECT COUNT(*) FROM lead_candidates c WHERE c.pool_id = p.id),
		        (SELECT COUNT(*) FROM lead_contacts t WHERE t.pool_id = p.id)
		 FROM lead_pools p
		 WHERE `+where+`
		 ORDER BY p.created_at DESC, p.id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	out := make([]types.PoolSummary, 0)
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var s types.PoolSummary
		var icp []byte
		if err := rows.Scan(&s.ID, &s.TeamID, &s.Name, &s.Description, &icp, &s.CreatedAt, &s.UpdatedAt,
			&s.CandidatesCount, &s.ContactsCount); err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		if s.ICP, err = unmarshalIfSet[types.ICPConfig](icp); err != nil {
			return nil, fmt.Errorf("failed to decode pool icp: %w", err)
		}
		index[s.ID] = len(out)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(out))
	for _, s := range out {
		ids = append(ids, s.ID)
	}
	latest, err := db.latestJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, job := range latest {
		out[index[job.PoolID]].LatestJob = job.Summary()
	}
	return out, nil
}

// latestJobs returns the newest job of each listed pool.
func (db *DB) latestJobs(ctx context.Context, poolIDs []uuid.UUID) ([]types.AutogenJob, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT ON (j.pool_id) `+jobColumns+`
		 FROM autogen_jobs j
		 WHERE j.pool_id = ANY($1)
		 ORDER BY j.pool_id, j.created_at DESC`,
		poolIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest jobs: %w", err)
	}
	return collectJobs(rows)
}

// DeletePool removes the pool; candidates, contacts and jobs cascade. It
// reports false when the pool does not exist for teamID.
func (db *DB) DeletePool(ctx context.Context, teamID, poolID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM lead_pools WHERE id = $1 AND team_id = $2`,
		poolID, teamID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete pool: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanPool(row pgx.Row) (*types.Pool, error) {
	var p types.Pool
	var icp []byte
	if err := row.Scan(&p.ID, &p.TeamID, &p.Name, &p.Description, &icp, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	decoded, err := unmarshalIfSet[types.ICPConfig](icp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pool icp: %w", err)
	}
	p.ICP = decoded
	return &p, nil
}
