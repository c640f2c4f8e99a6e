package types

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewTarget_Validate(t *testing.T) {
	id := uuid.New()
	nilID := uuid.Nil
	tests := []struct {
		name      string
		target    PreviewTarget
		wantField string
	}{
		{"existing pool", PreviewTarget{PoolID: &id}, ""},
		{"new pool", PreviewTarget{NewPool: &NewPool{Name: "Leads"}}, ""},
		{"both", PreviewTarget{PoolID: &id, NewPool: &NewPool{Name: "Leads"}}, "poolId"},
		{"neither", PreviewTarget{}, "poolId"},
		{"nil uuid", PreviewTarget{PoolID: &nilID}, "poolId"},
		{"blank name", PreviewTarget{NewPool: &NewPool{Name: "  "}}, "Name"},
		{"long name", PreviewTarget{NewPool: &NewPool{Name: strings.Repeat("a", 201)}}, "Name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Field, tt.wantField)
		})
	}
}

func TestCommitRequest_Validate(t *testing.T) {
	id := uuid.New()
	creates := EntrySet{Candidates: []CandidateEntry{{CandidateRecord: CandidateRecord{DedupeKey: "acme.com"}}}}

	req := &CommitRequest{PoolID: &id, Creates: creates}
	assert.NoError(t, req.Validate())

	req = &CommitRequest{PoolID: &id}
	var ve *ValidationError
	require.ErrorAs(t, req.Validate(), &ve)
	assert.Equal(t, "creates", ve.Field)

	req = &CommitRequest{NewPool: &NewPool{Name: " Trimmed "}, Updates: EntrySet{Contacts: []ContactEntry{{}}}}
	require.NoError(t, req.Validate())
	assert.Equal(t, "Trimmed", req.NewPool.Name)
}

func TestEntrySet_Empty(t *testing.T) {
	assert.True(t, EntrySet{}.Empty())
	assert.False(t, EntrySet{Contacts: []ContactEntry{{}}}.Empty())
}
