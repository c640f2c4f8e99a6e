// Package memstore is an in-memory implementation of the pool, record and job
// stores. It backs unit tests and CLI dry runs that must not touch PostgreSQL.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ledger1-ai/crm-official-sub000/internal/importer"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// Store holds every entity in maps guarded by one mutex. Pool locks are
// separate so that a commit holding a pool lock does not block readers.
type Store struct {
	mu         sync.Mutex
	seq        int64
	pools      map[uuid.UUID]*poolRow
	candidates map[uuid.UUID]*candidateRow
	contacts   map[uuid.UUID]*contactRow
	jobs       map[uuid.UUID]*jobRow

	lockMu    sync.Mutex
	poolLocks map[uuid.UUID]*sync.Mutex

	// FailWrite, when set, is consulted before every record write and can
	// inject per-record failures.
	FailWrite func(kind, key string) error

	now func() time.Time
}

type poolRow struct {
	seq int64
	types.Pool
}

type candidateRow struct {
	seq int64
	types.StoredCandidate
}

type contactRow struct {
	seq int64
	types.StoredContact
}

type jobRow struct {
	seq int64
	types.AutogenJob
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		pools:      make(map[uuid.UUID]*poolRow),
		candidates: make(map[uuid.UUID]*candidateRow),
		contacts:   make(map[uuid.UUID]*contactRow),
		jobs:       make(map[uuid.UUID]*jobRow),
		poolLocks:  make(map[uuid.UUID]*sync.Mutex),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) next() int64 {
	s.seq++
	return s.seq
}

// ---- Pool Methods ----

// CreatePool inserts a new pool.
func (s *Store) CreatePool(_ context.Context, teamID uuid.UUID, p types.NewPool, icp *types.ICPConfig) (*types.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool := s.insertPool(teamID, p, icp)
	return &pool, nil
}

// ResolvePool returns the team's oldest pool named p.Name, creating it when
// there is none.
func (s *Store) ResolvePool(_ context.Context, teamID uuid.UUID, p types.NewPool) (*types.Pool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *poolRow
	for _, row := range s.pools {
		if row.TeamID == teamID && row.Name == p.Name && (found == nil || row.seq < found.seq) {
			found = row
		}
	}
	if found != nil {
		pool := found.Pool
		pool.ICP = cloneICP(found.ICP)
		return &pool, false, nil
	}
	pool := s.insertPool(teamID, p, nil)
	return &pool, true, nil
}

func (s *Store) insertPool(teamID uuid.UUID, p types.NewPool, icp *types.ICPConfig) types.Pool {
	now := s.now()
	row := &poolRow{
		seq: s.next(),
		Pool: types.Pool{
			ID:          uuid.New(),
			TeamID:      teamID,
			Name:        p.Name,
			Description: p.Description,
			ICP:         cloneICP(icp),
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	s.pools[row.ID] = row
	return row.Pool
}

// GetPool returns the pool, or nil when it does not exist for teamID.
func (s *Store) GetPool(_ context.Context, teamID, poolID uuid.UUID) (*types.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pools[poolID]
	if !ok || row.TeamID != teamID {
		return nil, nil
	}
	pool := row.Pool
	pool.ICP = cloneICP(row.ICP)
	return &pool, nil
}

// GetPoolSummary returns the pool with its counts and latest job.
func (s *Store) GetPoolSummary(_ context.Context, teamID, poolID uuid.UUID) (*types.PoolSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pools[poolID]
	if !ok || row.TeamID != teamID {
		return nil, nil
	}
	summary := s.summarize(row)
	return &summary, nil
}

// ListPools returns the team's pools, newest first.
func (s *Store) ListPools(_ context.Context, teamID uuid.UUID) ([]types.PoolSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]*poolRow, 0)
	for _, row := range s.pools {
		if row.TeamID == teamID {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b *poolRow) int { return int(b.seq - a.seq) })

	out := make([]types.PoolSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.summarize(row))
	}
	return out, nil
}

func (s *Store) summarize(row *poolRow) types.PoolSummary {
	summary := types.PoolSummary{Pool: row.Pool}
	summary.ICP = cloneICP(row.ICP)
	for _, c := range s.candidates {
		if c.PoolID == row.ID {
			summary.CandidatesCount++
		}
	}
	for _, c := range s.contacts {
		if c.PoolID == row.ID {
			summary.ContactsCount++
		}
	}
	var latest *jobRow
	for _, j := range s.jobs {
		if j.PoolID == row.ID && (latest == nil || j.seq > latest.seq) {
			latest = j
		}
	}
	if latest != nil {
		job := cloneJob(latest.AutogenJob)
		summary.LatestJob = job.Summary()
	}
	return summary
}

// DeletePool removes the pool with its records and jobs.
func (s *Store) DeletePool(_ context.Context, teamID, poolID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pools[poolID]
	if !ok || row.TeamID != teamID {
		return false, nil
	}
	delete(s.pools, poolID)
	for id, c := range s.candidates {
		if c.PoolID == poolID {
			delete(s.candidates, id)
		}
	}
	for id, c := range s.contacts {
		if c.PoolID == poolID {
			delete(s.contacts, id)
		}
	}
	for id, j := range s.jobs {
		if j.PoolID == poolID {
			delete(s.jobs, id)
		}
	}
	return true, nil
}

// ---- Record Methods ----

// ListCandidates pages through a pool's candidates in insertion order.
func (s *Store) ListCandidates(_ context.Context, poolID uuid.UUID, limit, offset int) ([]types.StoredCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]*candidateRow, 0)
	for _, c := range s.candidates {
		if c.PoolID == poolID {
			rows = append(rows, c)
		}
	}
	slices.SortFunc(rows, func(a, b *candidateRow) int { return int(a.seq - b.seq) })
	rows = page(rows, limit, offset)
	out := make([]types.StoredCandidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, cloneCandidate(r.StoredCandidate))
	}
	return out, nil
}

// ListContacts pages through a pool's contacts in insertion order.
func (s *Store) ListContacts(_ context.Context, poolID uuid.UUID, limit, offset int) ([]types.StoredContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]*contactRow, 0)
	for _, c := range s.contacts {
		if c.PoolID == poolID {
			rows = append(rows, c)
		}
	}
	slices.SortFunc(rows, func(a, b *contactRow) int { return int(a.seq - b.seq) })
	rows = page(rows, limit, offset)
	out := make([]types.StoredContact, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.StoredContact)
	}
	return out, nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return rows[:0]
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// FindCandidatesByKeys implements importer.Lookup.
func (s *Store) FindCandidatesByKeys(_ context.Context, poolID uuid.UUID, keys []string) (map[string]types.StoredCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findCandidates(s.candidates, poolID, keys), nil
}

// FindContactsByKeys implements importer.Lookup.
func (s *Store) FindContactsByKeys(_ context.Context, poolID uuid.UUID, keys []string) (map[string]types.StoredContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findContacts(s.contacts, poolID, keys), nil
}

func findCandidates(rows map[uuid.UUID]*candidateRow, poolID uuid.UUID, keys []string) map[string]types.StoredCandidate {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := make(map[string]types.StoredCandidate)
	for _, c := range rows {
		if c.PoolID == poolID && want[c.DedupeKey] {
			out[c.DedupeKey] = cloneCandidate(c.StoredCandidate)
		}
	}
	return out
}

func findContacts(rows map[uuid.UUID]*contactRow, poolID uuid.UUID, keys []string) map[string]types.StoredContact {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := make(map[string]types.StoredContact)
	for _, c := range rows {
		if c.PoolID == poolID && want[c.DedupeKey] {
			out[c.DedupeKey] = c.StoredContact
		}
	}
	return out
}

// LockPool runs fn against a staged copy of the pool's records and publishes
// the copy only when fn succeeds. Only rows of poolID are staged, so commits
// to other pools proceed in parallel and are never overwritten.
func (s *Store) LockPool(ctx context.Context, poolID uuid.UUID, fn func(importer.Tx) error) error {
	lock := s.poolLock(poolID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	if _, ok := s.pools[poolID]; !ok {
		s.mu.Unlock()
		return &types.NotFoundError{Resource: "pool", ID: poolID}
	}
	tx := &memTx{store: s, state: s.snapshot(poolID)}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publish(tx.state)
}

// publish replaces the pool's rows with the staged ones. Rows inserted by the
// transaction get their sequence numbers here, in insertion order.
func (s *Store) publish(st *txState) error {
	if _, ok := s.pools[st.poolID]; !ok {
		return &types.NotFoundError{Resource: "pool", ID: st.poolID}
	}
	for _, id := range st.inserted {
		if c, ok := st.candidates[id]; ok {
			c.seq = s.next()
		} else if c, ok := st.contacts[id]; ok {
			c.seq = s.next()
		}
	}
	for id, c := range s.candidates {
		if c.PoolID == st.poolID {
			delete(s.candidates, id)
		}
	}
	for id, c := range s.contacts {
		if c.PoolID == st.poolID {
			delete(s.contacts, id)
		}
	}
	for id, c := range st.candidates {
		s.candidates[id] = c
	}
	for id, c := range st.contacts {
		s.contacts[id] = c
	}
	return nil
}

func (s *Store) poolLock(poolID uuid.UUID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.poolLocks[poolID]
	if !ok {
		l = &sync.Mutex{}
		s.poolLocks[poolID] = l
	}
	return l
}

// txState is the staged copy of one pool's records.
type txState struct {
	poolID     uuid.UUID
	candidates map[uuid.UUID]*candidateRow
	contacts   map[uuid.UUID]*contactRow
	inserted   []uuid.UUID
}

func (s *Store) snapshot(poolID uuid.UUID) *txState {
	st := &txState{
		poolID:     poolID,
		candidates: make(map[uuid.UUID]*candidateRow),
		contacts:   make(map[uuid.UUID]*contactRow),
	}
	for id, c := range s.candidates {
		if c.PoolID == poolID {
			st.candidates[id] = c
		}
	}
	for id, c := range s.contacts {
		if c.PoolID == poolID {
			st.contacts[id] = c
		}
	}
	return st.clone()
}

func (st *txState) clone() *txState {
	out := &txState{
		poolID:     st.poolID,
		candidates: make(map[uuid.UUID]*candidateRow, len(st.candidates)),
		contacts:   make(map[uuid.UUID]*contactRow, len(st.contacts)),
		inserted:   slices.Clone(st.inserted),
	}
	for id, c := range st.candidates {
		cp := *c
		cp.StoredCandidate = cloneCandidate(c.StoredCandidate)
		out.candidates[id] = &cp
	}
	for id, c := range st.contacts {
		cp := *c
		out.contacts[id] = &cp
	}
	return out
}

// memTx implements importer.Tx over a staged copy.
type memTx struct {
	store *Store
	state *txState
}

func (tx *memTx) FindCandidatesByKeys(_ context.Context, poolID uuid.UUID, keys []string) (map[string]types.StoredCandidate, error) {
	return findCandidates(tx.state.candidates, poolID, keys), nil
}

func (tx *memTx) FindContactsByKeys(_ context.Context, poolID uuid.UUID, keys []string) (map[string]types.StoredContact, error) {
	return findContacts(tx.state.contacts, poolID, keys), nil
}

func (tx *memTx) check(kind, key string) error {
	if tx.store.FailWrite != nil {
		return tx.store.FailWrite(kind, key)
	}
	return nil
}

func (tx *memTx) InsertCandidate(_ context.Context, poolID uuid.UUID, rec types.CandidateRecord) (uuid.UUID, error) {
	if err := tx.check(types.KindCandidate, rec.DedupeKey); err != nil {
		return uuid.Nil, err
	}
	for _, c := range tx.state.candidates {
		if c.PoolID == poolID && c.DedupeKey == rec.DedupeKey {
			return uuid.Nil, fmt.Errorf("duplicate candidate key %q in pool %s", rec.DedupeKey, poolID)
		}
	}
	now := tx.store.now()
	row := &candidateRow{
		StoredCandidate: types.StoredCandidate{
			ID:              uuid.New(),
			PoolID:          poolID,
			CandidateRecord: rec,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}
	row.TechStack = slices.Clone(rec.TechStack)
	tx.state.candidates[row.ID] = row
	tx.state.inserted = append(tx.state.inserted, row.ID)
	return row.ID, nil
}

func (tx *memTx) UpdateCandidate(_ context.Context, id uuid.UUID, rec types.CandidateRecord) error {
	if err := tx.check(types.KindCandidate, rec.DedupeKey); err != nil {
		return err
	}
	row, ok := tx.state.candidates[id]
	if !ok {
		return fmt.Errorf("candidate %s not found", id)
	}
	key := row.DedupeKey
	row.CandidateRecord = rec
	row.DedupeKey = key
	row.TechStack = slices.Clone(rec.TechStack)
	row.UpdatedAt = tx.store.now()
	return nil
}

func (tx *memTx) InsertContact(_ context.Context, poolID, candidateID uuid.UUID, rec types.ContactRecord) (uuid.UUID, error) {
	if err := tx.check(types.KindContact, rec.DedupeKey); err != nil {
		return uuid.Nil, err
	}
	if owner, ok := tx.state.candidates[candidateID]; !ok || owner.PoolID != poolID {
		return uuid.Nil, fmt.Errorf("candidate %s not found in pool %s", candidateID, poolID)
	}
	for _, c := range tx.state.contacts {
		if c.PoolID == poolID && c.DedupeKey == rec.DedupeKey {
			return uuid.Nil, fmt.Errorf("duplicate contact key %q in pool %s", rec.DedupeKey, poolID)
		}
	}
	now := tx.store.now()
	row := &contactRow{
		StoredContact: types.StoredContact{
			ID:            uuid.New(),
			PoolID:        poolID,
			CandidateID:   candidateID,
			ContactRecord: rec,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
	tx.state.contacts[row.ID] = row
	tx.state.inserted = append(tx.state.inserted, row.ID)
	return row.ID, nil
}

func (tx *memTx) UpdateContact(_ context.Context, id, candidateID uuid.UUID, rec types.ContactRecord) error {
	if err := tx.check(types.KindContact, rec.DedupeKey); err != nil {
		return err
	}
	row, ok := tx.state.contacts[id]
	if !ok {
		return fmt.Errorf("contact %s not found", id)
	}
	if owner, ok := tx.state.candidates[candidateID]; !ok || owner.PoolID != row.PoolID {
		return fmt.Errorf("candidate %s not found in pool %s", candidateID, row.PoolID)
	}
	key := row.DedupeKey
	row.ContactRecord = rec
	row.DedupeKey = key
	row.CandidateID = candidateID
	row.UpdatedAt = tx.store.now()
	return nil
}

func (tx *memTx) Savepoint(_ context.Context, fn func(importer.Tx) error) error {
	child := &memTx{store: tx.store, state: tx.state.clone()}
	if err := fn(child); err != nil {
		return err
	}
	tx.state = child.state
	return nil
}

func cloneICP(icp *types.ICPConfig) *types.ICPConfig {
	if icp == nil {
		return nil
	}
	cp := cloneICPValue(*icp)
	return &cp
}

func cloneICPValue(icp types.ICPConfig) types.ICPConfig {
	icp.Industries = slices.Clone(icp.Industries)
	icp.CompanySizes = slices.Clone(icp.CompanySizes)
	icp.Geographies = slices.Clone(icp.Geographies)
	icp.TechStack = slices.Clone(icp.TechStack)
	icp.JobTitles = slices.Clone(icp.JobTitles)
	icp.ExcludedDomains = slices.Clone(icp.ExcludedDomains)
	return icp
}

func cloneCandidate(c types.StoredCandidate) types.StoredCandidate {
	c.TechStack = slices.Clone(c.TechStack)
	if c.Score != nil {
		v := *c.Score
		c.Score = &v
	}
	return c
}
