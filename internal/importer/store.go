// Package importer builds import previews and commits previewed changes to a
// lead pool. It is storage agnostic: internal/db and internal/memstore both
// implement Store.
package importer

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// Lookup finds stored records of one pool by dedupe key. Keys with no stored
// record are absent from the returned maps.
type Lookup interface {
	FindCandidatesByKeys(ctx context.Context, poolID uuid.UUID, keys []string) (map[string]types.StoredCandidate, error)
	FindContactsByKeys(ctx context.Context, poolID uuid.UUID, keys []string) (map[string]types.StoredContact, error)
}

// Reader is the read side used by previews. GetPool returns nil, nil when the
// pool does not exist or belongs to another team.
type Reader interface {
	Lookup
	GetPool(ctx context.Context, teamID, poolID uuid.UUID) (*types.Pool, error)
}

// Tx is a pool-scoped write transaction.
type Tx interface {
	Lookup
	InsertCandidate(ctx context.Context, poolID uuid.UUID, rec types.CandidateRecord) (uuid.UUID, error)
	UpdateCandidate(ctx context.Context, id uuid.UUID, rec types.CandidateRecord) error
	InsertContact(ctx context.Context, poolID, candidateID uuid.UUID, rec types.ContactRecord) (uuid.UUID, error)
	UpdateContact(ctx context.Context, id, candidateID uuid.UUID, rec types.ContactRecord) error
	// Savepoint runs fn so that its writes are discarded if it fails while
	// the surrounding transaction continues.
	Savepoint(ctx context.Context, fn func(Tx) error) error
}

// Store is everything a commit needs.
type Store interface {
	Reader
	CreatePool(ctx context.Context, teamID uuid.UUID, p types.NewPool, icp *types.ICPConfig) (*types.Pool, error)
	// ResolvePool returns the team's pool named p.Name, creating it when none
	// exists, so that replaying a new-pool commit lands in the same pool.
	ResolvePool(ctx context.Context, teamID uuid.UUID, p types.NewPool) (pool *types.Pool, created bool, err error)
	// LockPool runs fn in one transaction holding an exclusive per-pool lock,
	// so concurrent commits against the same pool are serialized.
	LockPool(ctx context.Context, poolID uuid.UUID, fn func(Tx) error) error
}
