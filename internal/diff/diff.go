// Package diff classifies incoming lead records against a pool's stored
// records and computes field-level changes.
//
// A field only counts as changed when the incoming value is non-empty and
// differs from the stored one. Empty input never clears stored data.
package diff

import (
	"fmt"

	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// Outcome is the commit-time verdict for one update entry.
type Outcome int

const (
	// Apply means at least one change still has to be written.
	Apply Outcome = iota
	// Noop means the live record already carries every target value.
	Noop
	// Stale means a live value matches neither side of its change.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Apply:
		return "apply"
	case Noop:
		return "noop"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// UnknownFieldError is returned for a change naming an untracked field.
type UnknownFieldError struct {
	Kind  string
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown %s field %q", e.Kind, e.Field)
}

// Result is the classification of one batch.
type Result struct {
	Creates   types.EntrySet
	Updates   types.EntrySet
	Unchanged types.KindCounts
}

// MergeCandidates collapses records sharing a dedupe key. Records keep the
// position of their first occurrence; later non-empty fields override earlier
// ones. The second return value is the number of records folded away.
func MergeCandidates(recs []types.CandidateRecord) ([]types.CandidateRecord, int, error) {
	return merge(recs, candidateFields, types.KindCandidate,
		func(r *types.CandidateRecord) string { return r.DedupeKey },
		func(dst, src *types.CandidateRecord) {
			if dst.SourceMeta.Provider == "" {
				dst.SourceMeta = src.SourceMeta
			}
		})
}

// MergeContacts is MergeCandidates for contacts. A later non-empty candidate
// key re-homes the contact.
func MergeContacts(recs []types.ContactRecord) ([]types.ContactRecord, int, error) {
	return merge(recs, contactFields, types.KindContact,
		func(r *types.ContactRecord) string { return r.DedupeKey }, nil)
}

func merge[T any](recs []T, fields []field[T], kind string, key func(*T) string, extra func(dst, src *T)) ([]T, int, error) {
	out := make([]T, 0, len(recs))
	index := make(map[string]int, len(recs))
	dupes := 0

	for i := range recs {
		rec := recs[i]
		k := key(&rec)
		pos, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, rec)
			continue
		}
		dupes++
		dst := &out[pos]
		for _, f := range fields {
			if v := f.get(&rec); v != "" {
				if err := f.set(dst, v); err != nil {
					return nil, 0, fmt.Errorf("failed to merge %s %q field %s: %w", kind, k, f.name, err)
				}
			}
		}
		if extra != nil {
			extra(dst, &rec)
		}
	}
	return out, dupes, nil
}

// CandidateChanges returns the changes incoming would make to existing.
func CandidateChanges(existing, incoming types.CandidateRecord) types.Changes {
	return changes(candidateFields, &existing, &incoming)
}

// ContactChanges returns the changes incoming would make to existing.
func ContactChanges(existing, incoming types.ContactRecord) types.Changes {
	return changes(contactFields, &existing, &incoming)
}

func changes[T any](fields []field[T], existing, incoming *T) types.Changes {
	var out types.Changes
	for _, f := range fields {
		to := f.get(incoming)
		if to == "" {
			continue
		}
		from := f.get(existing)
		if from == to {
			continue
		}
		if out == nil {
			out = make(types.Changes)
		}
		out[f.name] = types.FieldChange{From: from, To: to}
	}
	return out
}

// Classify sorts merged records into creates, updates and unchanged against
// the stored records of a pool, both keyed by dedupe key.
func Classify(
	candidates []types.CandidateRecord,
	contacts []types.ContactRecord,
	storedCandidates map[string]types.StoredCandidate,
	storedContacts map[string]types.StoredContact,
) Result {
	res := Result{
		Creates: types.EntrySet{Candidates: []types.CandidateEntry{}, Contacts: []types.ContactEntry{}},
		Updates: types.EntrySet{Candidates: []types.CandidateEntry{}, Contacts: []types.ContactEntry{}},
	}

	for _, rec := range candidates {
		stored, ok := storedCandidates[rec.DedupeKey]
		if !ok {
			res.Creates.Candidates = append(res.Creates.Candidates, types.CandidateEntry{CandidateRecord: rec})
			continue
		}
		ch := CandidateChanges(stored.CandidateRecord, rec)
		if len(ch) == 0 {
			res.Unchanged.Candidate++
			continue
		}
		id := stored.ID
		res.Updates.Candidates = append(res.Updates.Candidates, types.CandidateEntry{
			CandidateRecord: rec,
			ExistingID:      &id,
			Changes:         ch,
		})
	}

	for _, rec := range contacts {
		stored, ok := storedContacts[rec.DedupeKey]
		if !ok {
			res.Creates.Contacts = append(res.Creates.Contacts, types.ContactEntry{ContactRecord: rec})
			continue
		}
		ch := ContactChanges(stored.ContactRecord, rec)
		if len(ch) == 0 {
			res.Unchanged.Contact++
			continue
		}
		id := stored.ID
		res.Updates.Contacts = append(res.Updates.Contacts, types.ContactEntry{
			ContactRecord: rec,
			ExistingID:    &id,
			Changes:       ch,
		})
	}

	return res
}

// CheckCandidate decides whether changes can still be applied to live.
func CheckCandidate(live types.CandidateRecord, ch types.Changes) (Outcome, error) {
	return check(candidateFields, types.KindCandidate, &live, ch)
}

// CheckContact decides whether changes can still be applied to live.
func CheckContact(live types.ContactRecord, ch types.Changes) (Outcome, error) {
	return check(contactFields, types.KindContact, &live, ch)
}

func check[T any](fields []field[T], kind string, live *T, ch types.Changes) (Outcome, error) {
	if err := knownFields(fields, kind, ch); err != nil {
		return Stale, err
	}
	outcome := Noop
	for _, f := range fields {
		c, ok := ch[f.name]
		if !ok || c.To == "" {
			continue
		}
		switch f.get(live) {
		case c.To:
		case c.From:
			outcome = Apply
		default:
			return Stale, nil
		}
	}
	return outcome, nil
}

func knownFields[T any](fields []field[T], kind string, ch types.Changes) error {
	for name := range ch {
		if _, ok := lookup(fields, name); !ok {
			return &UnknownFieldError{Kind: kind, Field: name}
		}
	}
	return nil
}

// ApplyCandidate writes the non-empty target values of ch onto rec.
func ApplyCandidate(rec *types.CandidateRecord, ch types.Changes) error {
	return apply(candidateFields, types.KindCandidate, rec, ch)
}

// ApplyContact writes the non-empty target values of ch onto rec.
func ApplyContact(rec *types.ContactRecord, ch types.Changes) error {
	return apply(contactFields, types.KindContact, rec, ch)
}

func apply[T any](fields []field[T], kind string, rec *T, ch types.Changes) error {
	if err := knownFields(fields, kind, ch); err != nil {
		return err
	}
	for _, f := range fields {
		c, ok := ch[f.name]
		if !ok || c.To == "" {
			continue
		}
		if err := f.set(rec, c.To); err != nil {
			return fmt.Errorf("failed to apply %s.%s: %w", kind, f.name, err)
		}
	}
	return nil
}
