package importer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ledger1-ai/crm-official-sub000/internal/dedupe"
	"github.com/Ledger1-ai/crm-official-sub000/internal/diff"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// Committer applies previewed creates and updates to a pool.
type Committer struct {
	store  Store
	logger *zap.Logger
}

// NewCommitter creates a Committer. A nil logger disables logging.
func NewCommitter(store Store, logger *zap.Logger) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{store: store, logger: logger}
}

// Commit validates req, resolves or creates the target pool, then applies
// the entries. A new pool is created before any record is written so that a
// failed write leaves an empty pool rather than a dangling reference. A
// newPool whose name the team already uses resolves to that pool, which makes
// a retried commit a no-op.
func (c *Committer) Commit(ctx context.Context, teamID uuid.UUID, req *types.CommitRequest) (*types.CommitResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var poolID uuid.UUID
	if req.PoolID != nil {
		pool, err := c.store.GetPool(ctx, teamID, *req.PoolID)
		if err != nil {
			return nil, fmt.Errorf("failed to load pool: %w", err)
		}
		if pool == nil {
			return nil, &types.NotFoundError{Resource: "pool", ID: *req.PoolID}
		}
		poolID = pool.ID
	} else {
		pool, created, err := c.store.ResolvePool(ctx, teamID, *req.NewPool)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool: %w", err)
		}
		if created {
			c.logger.Info("created pool for import", zap.String("pool_id", pool.ID.String()), zap.String("name", pool.Name))
		} else {
			c.logger.Info("new pool name already in use, importing into it",
				zap.String("pool_id", pool.ID.String()), zap.String("name", pool.Name))
		}
		poolID = pool.ID
	}

	return c.Apply(ctx, poolID, req.Creates, req.Updates, req.Force)
}

// Apply writes creates and updates into an existing pool under the pool lock.
// Candidates are written before contacts. Record-level failures are reported
// in the result; only failures of the transaction itself are returned as errors.
func (c *Committer) Apply(ctx context.Context, poolID uuid.UUID, creates, updates types.EntrySet, force bool) (*types.CommitResult, error) {
	result := &types.CommitResult{
		PoolID: poolID,
		Stale:  []types.RecordIssue{},
		Errors: []types.RecordIssue{},
	}

	err := c.store.LockPool(ctx, poolID, func(tx Tx) error {
		w := &writer{tx: tx, poolID: poolID, force: force, result: result}
		if err := w.candidates(ctx, creates.Candidates, updates.Candidates); err != nil {
			return err
		}
		return w.contacts(ctx, creates.Contacts, updates.Contacts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit to pool %s: %w", poolID, err)
	}

	c.logger.Info("commit applied",
		zap.String("pool_id", poolID.String()),
		zap.Int("created_candidates", result.Created.Candidates),
		zap.Int("created_contacts", result.Created.Contacts),
		zap.Int("updated_candidates", result.Updated.Candidates),
		zap.Int("updated_contacts", result.Updated.Contacts),
		zap.Int("stale", len(result.Stale)),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// writer carries the state of one commit transaction.
type writer struct {
	tx     Tx
	poolID uuid.UUID
	force  bool
	result *types.CommitResult

	liveCandidates map[string]types.StoredCandidate
	liveContacts   map[string]types.StoredContact
}

func (w *writer) fail(key, kind, format string, args ...any) {
	w.result.Errors = append(w.result.Errors, types.RecordIssue{Key: key, Kind: kind, Message: fmt.Sprintf(format, args...)})
}

func (w *writer) stale(key, kind, reason string) {
	w.result.Stale = append(w.result.Stale, types.RecordIssue{Key: key, Kind: kind, Reason: reason})
}

func (w *writer) candidates(ctx context.Context, creates, updates []types.CandidateEntry) error {
	keys := make([]string, 0, len(creates)+len(updates))
	for _, e := range creates {
		keys = append(keys, e.DedupeKey)
	}
	for _, e := range updates {
		keys = append(keys, e.DedupeKey)
	}

	live, err := w.tx.FindCandidatesByKeys(ctx, w.poolID, keys)
	if err != nil {
		return fmt.Errorf("failed to load live candidates: %w", err)
	}
	if live == nil {
		live = make(map[string]types.StoredCandidate)
	}
	w.liveCandidates = live

	for _, e := range creates {
		if !w.validCandidateKey(e.CandidateRecord) {
			continue
		}
		if cur, ok := w.liveCandidates[e.DedupeKey]; ok {
			// Already present, typically from a retried commit: upsert by key.
			w.updateCandidate(ctx, cur, diff.CandidateChanges(cur.CandidateRecord, e.CandidateRecord))
			continue
		}
		w.insertCandidate(ctx, e.CandidateRecord)
	}

	for _, e := range updates {
		if !w.validCandidateKey(e.CandidateRecord) {
			continue
		}
		cur, ok := w.liveCandidates[e.DedupeKey]
		if !ok || (e.ExistingID != nil && *e.ExistingID != cur.ID) {
			w.stale(e.DedupeKey, types.KindCandidate, types.StaleDeleted)
			continue
		}
		outcome, err := diff.CheckCandidate(cur.CandidateRecord, e.Changes)
		if err != nil {
			w.fail(e.DedupeKey, types.KindCandidate, "%v", err)
			continue
		}
		if outcome == diff.Stale && !w.force {
			w.stale(e.DedupeKey, types.KindCandidate, types.StaleChanged)
			continue
		}
		w.updateCandidate(ctx, cur, e.Changes)
	}
	return nil
}

func (w *writer) validCandidateKey(rec types.CandidateRecord) bool {
	key := dedupe.CandidateKey(rec)
	if key == "" || key != rec.DedupeKey {
		w.fail(rec.DedupeKey, types.KindCandidate, "dedupe key %q does not match record (expected %q)", rec.DedupeKey, key)
		return false
	}
	return true
}

func (w *writer) insertCandidate(ctx context.Context, rec types.CandidateRecord) {
	var id uuid.UUID
	err := w.tx.Savepoint(ctx, func(tx Tx) error {
		var err error
		id, err = tx.InsertCandidate(ctx, w.poolID, rec)
		return err
	})
	if err != nil {
		w.fail(rec.DedupeKey, types.KindCandidate, "insert failed: %v", err)
		return
	}
	w.liveCandidates[rec.DedupeKey] = types.StoredCandidate{ID: id, PoolID: w.poolID, CandidateRecord: rec}
	w.result.Created.Candidates++
}

func (w *writer) updateCandidate(ctx context.Context, cur types.StoredCandidate, ch types.Changes) {
	next := cur.CandidateRecord
	if err := diff.ApplyCandidate(&next, ch); err != nil {
		w.fail(cur.DedupeKey, types.KindCandidate, "%v", err)
		return
	}
	if len(diff.CandidateChanges(cur.CandidateRecord, next)) == 0 {
		w.result.Unchanged.Candidates++
		return
	}
	err := w.tx.Savepoint(ctx, func(tx Tx) error {
		return tx.UpdateCandidate(ctx, cur.ID, next)
	})
	if err != nil {
		w.fail(cur.DedupeKey, types.KindCandidate, "update failed: %v", err)
		return
	}
	cur.CandidateRecord = next
	w.liveCandidates[cur.DedupeKey] = cur
	w.result.Updated.Candidates++
}

func (w *writer) contacts(ctx context.Context, creates, updates []types.ContactEntry) error {
	keys := make([]string, 0, len(creates)+len(updates))
	var ownerKeys []string
	for _, set := range [][]types.ContactEntry{creates, updates} {
		for _, e := range set {
			keys = append(keys, e.DedupeKey)
			if _, ok := w.liveCandidates[e.CandidateKey]; !ok {
				ownerKeys = append(ownerKeys, e.CandidateKey)
			}
		}
	}

	// Owners that were not part of this commit may already be stored.
	if len(ownerKeys) > 0 {
		owners, err := w.tx.FindCandidatesByKeys(ctx, w.poolID, ownerKeys)
		if err != nil {
			return fmt.Errorf("failed to load contact owners: %w", err)
		}
		for k, v := range owners {
			w.liveCandidates[k] = v
		}
	}

	live, err := w.tx.FindContactsByKeys(ctx, w.poolID, keys)
	if err != nil {
		return fmt.Errorf("failed to load live contacts: %w", err)
	}
	if live == nil {
		live = make(map[string]types.StoredContact)
	}
	w.liveContacts = live

	for _, e := range creates {
		owner, ok := w.contactOwner(e.ContactRecord)
		if !ok {
			continue
		}
		if cur, ok := w.liveContacts[e.DedupeKey]; ok {
			w.updateContact(ctx, cur, diff.ContactChanges(cur.ContactRecord, e.ContactRecord))
			continue
		}
		w.insertContact(ctx, owner, e.ContactRecord)
	}

	for _, e := range updates {
		if _, ok := w.contactOwner(e.ContactRecord); !ok {
			continue
		}
		cur, ok := w.liveContacts[e.DedupeKey]
		if !ok || (e.ExistingID != nil && *e.ExistingID != cur.ID) {
			w.stale(e.DedupeKey, types.KindContact, types.StaleDeleted)
			continue
		}
		outcome, err := diff.CheckContact(cur.ContactRecord, e.Changes)
		if err != nil {
			w.fail(e.DedupeKey, types.KindContact, "%v", err)
			continue
		}
		if outcome == diff.Stale && !w.force {
			w.stale(e.DedupeKey, types.KindContact, types.StaleChanged)
			continue
		}
		w.updateContact(ctx, cur, e.Changes)
	}
	return nil
}

// contactOwner re-checks the contact's key and resolves its candidate.
func (w *writer) contactOwner(rec types.ContactRecord) (types.StoredCandidate, bool) {
	key := dedupe.ContactKey(rec)
	if key == "" || key != rec.DedupeKey {
		w.fail(rec.DedupeKey, types.KindContact, "dedupe key %q does not match record (expected %q)", rec.DedupeKey, key)
		return types.StoredCandidate{}, false
	}
	owner, ok := w.liveCandidates[rec.CandidateKey]
	if !ok {
		w.fail(rec.DedupeKey, types.KindContact, "candidate %q not found in pool or commit", rec.CandidateKey)
		return types.StoredCandidate{}, false
	}
	return owner, true
}

func (w *writer) insertContact(ctx context.Context, owner types.StoredCandidate, rec types.ContactRecord) {
	var id uuid.UUID
	err := w.tx.Savepoint(ctx, func(tx Tx) error {
		var err error
		id, err = tx.InsertContact(ctx, w.poolID, owner.ID, rec)
		return err
	})
	if err != nil {
		w.fail(rec.DedupeKey, types.KindContact, "insert failed: %v", err)
		return
	}
	w.liveContacts[rec.DedupeKey] = types.StoredContact{ID: id, PoolID: w.poolID, CandidateID: owner.ID, ContactRecord: rec}
	w.result.Created.Contacts++
}

func (w *writer) updateContact(ctx context.Context, cur types.StoredContact, ch types.Changes) {
	next := cur.ContactRecord
	if err := diff.ApplyContact(&next, ch); err != nil {
		w.fail(cur.DedupeKey, types.KindContact, "%v", err)
		return
	}
	if len(diff.ContactChanges(cur.ContactRecord, next)) == 0 {
		w.result.Unchanged.Contacts++
		return
	}
	ownerID := cur.CandidateID
	if next.CandidateKey != cur.CandidateKey {
		owner, ok := w.liveCandidates[next.CandidateKey]
		if !ok {
			w.fail(cur.DedupeKey, types.KindContact, "candidate %q not found in pool or commit", next.CandidateKey)
			return
		}
		ownerID = owner.ID
	}
	err := w.tx.Savepoint(ctx, func(tx Tx) error {
		return tx.UpdateContact(ctx, cur.ID, ownerID, next)
	})
	if err != nil {
		w.fail(cur.DedupeKey, types.KindContact, "update failed: %v", err)
		return
	}
	cur.CandidateID = ownerID
	cur.ContactRecord = next
	w.liveContacts[cur.DedupeKey] = cur
	w.result.Updated.Contacts++
}
