package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Ledger1-ai/crm-official-sub000/internal/importer"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// ---- Candidate and Contact Methods ----

const candidateColumns = `id, pool_id, dedupe_key, domain, company_name, homepage_url, description,
	industry, tech_stack, score, source_meta, created_at, updated_at`

const contactColumns = `id, pool_id, candidate_id, dedupe_key, candidate_key, full_name, title,
	email, phone, profile_url, created_at, updated_at`

// FindCandidatesByKeys implements importer.Lookup.
func (db *DB) FindCandidatesByKeys(ctx context.Context, poolID uuid.UUID, keys []string) (map[string]types.StoredCandidate, error) {
	return findCandidates(ctx, db.pool, poolID, keys)
}

// FindContactsByKeys implements importer.Lookup.
func (db *DB) FindContactsByKeys(ctx context.Context, poolID uuid.UUID, keys []string) (map[string]types.StoredContact, error) {
	return findContacts(ctx, db.pool, poolID, keys)
}

// ListCandidates pages through a pool's candidates in insertion order. A zero
// limit returns everything after offset.
func (db *DB) ListCandidates(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]types.StoredCandidate, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM lead_candidates
		 WHERE pool_id = $1
		 ORDER BY created_at, id
		 LIMIT $2 OFFSET $3`,
		poolID, limitArg(limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	out := make([]types.StoredCandidate, 0)
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListContacts pages through a pool's contacts in insertion order.
func (db *DB) ListContacts(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]types.StoredContact, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+contactColumns+` FROM lead_contacts
		 WHERE pool_id = $1
		 ORDER BY created_at, id
		 LIMIT $2 OFFSET $3`,
		poolID, limitArg(limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	out := make([]types.StoredContact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// LockPool runs fn in one transaction that holds the pool's advisory lock, so
// commits against the same pool are serialized. The transaction commits only
// when fn returns nil.
func (db *DB) LockPool(ctx context.Context, poolID uuid.UUID, fn func(importer.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, poolID); err != nil {
		return fmt.Errorf("failed to lock pool: %w", err)
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lead_pools WHERE id = $1)`, poolID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check pool: %w", err)
	}
	if !exists {
		return &types.NotFoundError{Resource: "pool", ID: poolID}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx implements importer.Tx on a pgx transaction. Savepoints are nested
// pgx transactions.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindCandidatesByKeys(ctx context.Context, poolID uuid.UUID, keys []string) (map[string]types.StoredCandidate, error) {
	return findCandidates(ctx, t.tx, poolID, keys)
}

func (t *pgTx) FindContactsByKeys(ctx context.Context, poolID uuid.UUID, keys []string) (map[string]types.StoredContact, error) {
	return findContacts(ctx, t.tx, poolID, keys)
}

func (t *pgTx) InsertCandidate(ctx context.Context, poolID uuid.UUID, rec types.CandidateRecord) (uuid.UUID, error) {
	meta, err := json.Marshal(rec.SourceMeta)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal source meta: %w", err)
	}
	var id uuid.UUID
	err = t.tx.QueryRow(ctx,
		`INSERT INTO lead_candidates (pool_id, dedupe_key, domain, company_name, homepage_url,
		     description, industry, tech_stack, score, source_meta)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, '{}'::text[]), $9, $10)
		 RETURNING id`,
		poolID, rec.DedupeKey, rec.Domain, rec.CompanyName, rec.HomepageURL,
		rec.Description, rec.Industry, rec.TechStack, rec.Score, meta,
	).Scan(&id)
	if err != nil {
		if uniqueViolationOn(err, "") {
			return uuid.Nil, fmt.Errorf("duplicate candidate key %q in pool %s", rec.DedupeKey, poolID)
		}
		return uuid.Nil, fmt.Errorf("failed to insert candidate: %w", err)
	}
	return id, nil
}

// UpdateCandidate rewrites every field except the dedupe key.
func (t *pgTx) UpdateCandidate(ctx context.Context, id uuid.UUID, rec types.CandidateRecord) error {
	meta, err := json.Marshal(rec.SourceMeta)
	if err != nil {
		return fmt.Errorf("failed to marshal source meta: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE lead_candidates SET
		     domain = $2, company_name = $3, homepage_url = $4, description = $5,
		     industry = $6, tech_stack = COALESCE($7, '{}'::text[]), score = $8,
		     source_meta = $9, updated_at = clock_timestamp()
		 WHERE id = $1`,
		id, rec.Domain, rec.CompanyName, rec.HomepageURL, rec.Description,
		rec.Industry, rec.TechStack, rec.Score, meta,
	)
	if err != nil {
		return fmt.Errorf("failed to update candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("candidate %s not found", id)
	}
	return nil
}

func (t *pgTx) InsertContact(ctx context.Context, poolID, candidateID uuid.UUID, rec types.ContactRecord) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx,
		`INSERT INTO lead_contacts (pool_id, candidate_id, candidate_key, dedupe_key,
		     full_name, title, email, phone, profile_url)
		 SELECT $1, c.id, $3, $4, $5, $6, $7, $8, $9
		 FROM lead_candidates c
		 WHERE c.id = $2 AND c.pool_id = $1
		 RETURNING id`,
		poolID, candidateID, rec.CandidateKey, rec.DedupeKey,
		rec.FullName, rec.Title, rec.Email, rec.Phone, rec.ProfileURL,
	).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, fmt.Errorf("candidate %s not found in pool %s", candidateID, poolID)
		}
		if uniqueViolationOn(err, "") {
			return uuid.Nil, fmt.Errorf("duplicate contact key %q in pool %s", rec.DedupeKey, poolID)
		}
		return uuid.Nil, fmt.Errorf("failed to insert contact: %w", err)
	}
	return id, nil
}

// UpdateContact rewrites the contact's fields and owner; its dedupe key
// stays fixed.
func (t *pgTx) UpdateContact(ctx context.Context, id, candidateID uuid.UUID, rec types.ContactRecord) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE lead_contacts SET
		     full_name = $2, title = $3, email = $4, phone = $5, profile_url = $6,
		     candidate_id = $7, candidate_key = $8,
		     updated_at = clock_timestamp()
		 WHERE id = $1`,
		id, rec.FullName, rec.Title, rec.Email, rec.Phone, rec.ProfileURL,
		candidateID, rec.CandidateKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contact %s not found", id)
	}
	return nil
}

func (t *pgTx) Savepoint(ctx context.Context, fn func(importer.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(&pgTx{tx: sp}); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func findCandidates(ctx context.Context, q querier, poolID uuid.UUID, keys []string) (map[string]types.StoredCandidate, error) {
	out := make(map[string]types.StoredCandidate)
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx,
		`SELECT `+candidateColumns+` FROM lead_candidates
		 WHERE pool_id = $1 AND dedupe_key = ANY($2)`,
		poolID, keys,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out[c.DedupeKey] = *c
	}
	return out, rows.Err()
}

func findContacts(ctx context.Context, q querier, poolID uuid.UUID, keys []string) (map[string]types.StoredContact, error) {
	out := make(map[string]types.StoredContact)
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx,
		`SELECT `+contactColumns+` FROM lead_contacts
		 WHERE pool_id = $1 AND dedupe_key = ANY($2)`,
		poolID, keys,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find contacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out[c.DedupeKey] = *c
	}
	return out, rows.Err()
}

func scanCandidate(row pgx.Row) (*types.StoredCandidate, error) {
	var c types.StoredCandidate
	var meta []byte
	err := row.Scan(&c.ID, &c.PoolID, &c.DedupeKey, &c.Domain, &c.CompanyName, &c.HomepageURL,
		&c.Description, &c.Industry, &c.TechStack, &c.Score, &meta, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan candidate: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.SourceMeta); err != nil {
			return nil, fmt.Errorf("failed to decode source meta: %w", err)
		}
	}
	if len(c.TechStack) == 0 {
		c.TechStack = nil
	}
	return &c, nil
}

func scanContact(row pgx.Row) (*types.StoredContact, error) {
	var c types.StoredContact
	err := row.Scan(&c.ID, &c.PoolID, &c.CandidateID, &c.DedupeKey, &c.CandidateKey, &c.FullName,
		&c.Title, &c.Email, &c.Phone, &c.ProfileURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}
	return &c, nil
}
