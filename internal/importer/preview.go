package importer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Ledger1-ai/crm-official-sub000/internal/diff"
	"github.com/Ledger1-ai/crm-official-sub000/internal/normalize"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// Plan is a merged and classified batch, shared by file imports and autogen runs.
type Plan struct {
	Candidates []types.CandidateRecord
	Contacts   []types.ContactRecord
	// Collapsed counts records folded into an earlier record with the same key.
	Collapsed types.KindCounts
	diff.Result
}

// Duplicates is the preview "duplicates" figure: records that produce no write,
// either because they collapsed within the batch or match a stored record exactly.
func (p *Plan) Duplicates() types.KindCounts {
	return types.KindCounts{
		Candidate: p.Collapsed.Candidate + p.Unchanged.Candidate,
		Contact:   p.Collapsed.Contact + p.Unchanged.Contact,
	}
}

// BuildPlan merges the batch and classifies it against poolID. A nil poolID
// means the pool does not exist yet, so everything is a create.
func BuildPlan(ctx context.Context, lookup Lookup, poolID *uuid.UUID, candidates []types.CandidateRecord, contacts []types.ContactRecord) (*Plan, error) {
	mergedCandidates, candDupes, err := diff.MergeCandidates(candidates)
	if err != nil {
		return nil, err
	}
	mergedContacts, contactDupes, err := diff.MergeContacts(contacts)
	if err != nil {
		return nil, err
	}

	storedCandidates := map[string]types.StoredCandidate{}
	storedContacts := map[string]types.StoredContact{}
	if poolID != nil {
		storedCandidates, err = lookup.FindCandidatesByKeys(ctx, *poolID, candidateKeys(mergedCandidates))
		if err != nil {
			return nil, fmt.Errorf("failed to load existing candidates: %w", err)
		}
		storedContacts, err = lookup.FindContactsByKeys(ctx, *poolID, contactKeys(mergedContacts))
		if err != nil {
			return nil, fmt.Errorf("failed to load existing contacts: %w", err)
		}
	}

	return &Plan{
		Candidates: mergedCandidates,
		Contacts:   mergedContacts,
		Collapsed:  types.KindCounts{Candidate: candDupes, Contact: contactDupes},
		Result:     diff.Classify(mergedCandidates, mergedContacts, storedCandidates, storedContacts),
	}, nil
}

// Previewer computes non-mutating import previews.
type Previewer struct {
	store Reader
}

// NewPreviewer creates a Previewer reading from store.
func NewPreviewer(store Reader) *Previewer {
	return &Previewer{store: store}
}

// PreviewFile parses an uploaded file and previews it against target.
func (p *Previewer) PreviewFile(ctx context.Context, teamID uuid.UUID, target types.PreviewTarget, filename string, data []byte) (*types.Preview, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	table, err := normalize.Parse(filename, data)
	if err != nil {
		return nil, &types.ValidationError{Field: "file", Message: err.Error()}
	}
	return p.Preview(ctx, teamID, target, normalize.New(table))
}

// Preview diffs a normalized dataset against target. It never writes, so
// identical input against identical storage yields an identical preview.
func (p *Previewer) Preview(ctx context.Context, teamID uuid.UUID, target types.PreviewTarget, ds *normalize.Dataset) (*types.Preview, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	preview := &types.Preview{
		Mapping:     ds.Mapping(),
		CorruptRows: []types.CorruptRow{},
	}

	if target.PoolID != nil {
		pool, err := p.store.GetPool(ctx, teamID, *target.PoolID)
		if err != nil {
			return nil, fmt.Errorf("failed to load pool: %w", err)
		}
		if pool == nil {
			return nil, &types.NotFoundError{Resource: "pool", ID: *target.PoolID}
		}
		preview.PoolID = &pool.ID
		preview.PoolName = pool.Name
		preview.PoolMode = types.PoolModeExisting
	} else {
		preview.PoolName = target.NewPool.Name
		preview.PoolMode = types.PoolModeNew
	}

	var candidates []types.CandidateRecord
	var contacts []types.ContactRecord
	for row := range ds.Rows() {
		preview.Stats.TotalRows++
		if row.Corrupt() {
			preview.CorruptRows = append(preview.CorruptRows, types.CorruptRow{Index: row.Index, Errors: row.Errors})
			continue
		}
		if row.Candidate != nil {
			candidates = append(candidates, *row.Candidate)
		}
		if row.Contact != nil {
			contacts = append(contacts, *row.Contact)
		}
	}

	plan, err := BuildPlan(ctx, p.store, preview.PoolID, candidates, contacts)
	if err != nil {
		return nil, err
	}

	preview.Creates = plan.Creates
	preview.Updates = plan.Updates
	preview.Stats.ValidCandidates = len(candidates)
	preview.Stats.ValidContacts = len(contacts)
	preview.Stats.CorruptRows = len(preview.CorruptRows)
	preview.Stats.Duplicates = plan.Duplicates()
	preview.Stats.Creates = types.KindCounts{Candidate: len(plan.Creates.Candidates), Contact: len(plan.Creates.Contacts)}
	preview.Stats.Updates = types.KindCounts{Candidate: len(plan.Updates.Candidates), Contact: len(plan.Updates.Contacts)}

	return preview, nil
}

func candidateKeys(recs []types.CandidateRecord) []string {
	keys := make([]string, 0, len(recs))
	for _, r := range recs {
		keys = append(keys, r.DedupeKey)
	}
	return keys
}

func contactKeys(recs []types.ContactRecord) []string {
	keys := make([]string, 0, len(recs))
	for _, r := range recs {
		keys = append(keys, r.DedupeKey)
	}
	return keys
}
