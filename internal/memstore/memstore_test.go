package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ledger1-ai/crm-official-sub000/internal/importer"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

func newPool(t *testing.T, s *Store, teamID uuid.UUID) *types.Pool {
	t.Helper()
	pool, err := s.CreatePool(context.Background(), teamID, types.NewPool{Name: "Q3 targets"}, nil)
	require.NoError(t, err)
	return pool
}

func TestGetPool_TeamScoped(t *testing.T) {
	s := New()
	team := uuid.New()
	pool := newPool(t, s, team)

	got, err := s.GetPool(context.Background(), team, pool.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Q3 targets", got.Name)

	other, err := s.GetPool(context.Background(), uuid.New(), pool.ID)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestLockPool_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	pool := newPool(t, s, uuid.New())

	boom := errors.New("boom")
	err := s.LockPool(ctx, pool.ID, func(tx importer.Tx) error {
		_, err := tx.InsertCandidate(ctx, pool.ID, types.CandidateRecord{DedupeKey: "acme.com", Domain: "acme.com"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	found, err := s.FindCandidatesByKeys(ctx, pool.ID, []string{"acme.com"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSavepoint_DiscardsOnlyFailedWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	pool := newPool(t, s, uuid.New())

	err := s.LockPool(ctx, pool.ID, func(tx importer.Tx) error {
		require.NoError(t, tx.Savepoint(ctx, func(sp importer.Tx) error {
			_, err := sp.InsertCandidate(ctx, pool.ID, types.CandidateRecord{DedupeKey: "acme.com"})
			return err
		}))
		err := tx.Savepoint(ctx, func(sp importer.Tx) error {
			if _, err := sp.InsertCandidate(ctx, pool.ID, types.CandidateRecord{DedupeKey: "globex.com"}); err != nil {
				return err
			}
			return errors.New("late failure")
		})
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)

	found, err := s.FindCandidatesByKeys(ctx, pool.ID, []string{"acme.com", "globex.com"})
	require.NoError(t, err)
	assert.Contains(t, found, "acme.com")
	assert.NotContains(t, found, "globex.com")
}

func TestInsertCandidate_RejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	pool := newPool(t, s, uuid.New())

	err := s.LockPool(ctx, pool.ID, func(tx importer.Tx) error {
		if _, err := tx.InsertCandidate(ctx, pool.ID, types.CandidateRecord{DedupeKey: "acme.com"}); err != nil {
			return err
		}
		_, err := tx.InsertCandidate(ctx, pool.ID, types.CandidateRecord{DedupeKey: "acme.com"})
		return err
	})
	assert.Error(t, err)
}

func TestLockPool_UnknownPool(t *testing.T) {
	s := New()
	err := s.LockPool(context.Background(), uuid.New(), func(importer.Tx) error { return nil })
	var nf *types.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestDeletePool_Cascades(t *testing.T) {
	ctx := context.Background()
	s := New()
	team := uuid.New()
	pool := newPool(t, s, team)
	require.NoError(t, s.LockPool(ctx, pool.ID, func(tx importer.Tx) error {
		id, err := tx.InsertCandidate(ctx, pool.ID, types.CandidateRecord{DedupeKey: "acme.com"})
		if err != nil {
			return err
		}
		_, err = tx.InsertContact(ctx, pool.ID, id, types.ContactRecord{DedupeKey: "jane@acme.com", CandidateKey: "acme.com"})
		return err
	}))

	summary, err := s.GetPoolSummary(ctx, team, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CandidatesCount)
	assert.Equal(t, 1, summary.ContactsCount)

	ok, err := s.DeletePool(ctx, team, pool.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	contacts, err := s.ListContacts(ctx, pool.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, contacts)
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	team := uuid.New()
	icp := types.ICPConfig{
		Industries: []string{"Fintech"},
		Providers:  types.ProviderToggles{SERP: true},
		Limits:     types.Limits{MaxCompanies: 5, MaxContactsPerCompany: 1},
	}

	pool, job, err := s.CreatePoolWithJob(ctx, team, types.NewPool{Name: "Auto"}, icp)
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, job.Status)
	require.NotNil(t, pool.ICP)

	_, err = s.EnqueueJob(ctx, team, pool.ID, icp)
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)

	started, err := s.StartJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, started)

	started, err = s.StartJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, started)

	err = s.FinishJob(ctx, job.ID, types.JobResult{Status: types.JobSuccess, QueryTemplates: []string{"fintech companies"}})
	require.NoError(t, err)

	err = s.FinishJob(ctx, job.ID, types.JobResult{Status: types.JobFailed})
	var te *types.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, types.JobSuccess, te.From)

	got, err := s.GetJob(ctx, team, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobSuccess, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, []string{"fintech companies"}, got.QueryTemplates)

	// terminal jobs no longer block a new run
	next, err := s.EnqueueJob(ctx, team, pool.ID, icp)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, next.ID)

	jobs, err := s.ListJobs(ctx, pool.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, next.ID, jobs[0].ID)

	summary, err := s.GetPoolSummary(ctx, team, pool.ID)
	require.NoError(t, err)
	require.NotNil(t, summary.LatestJob)
	assert.Equal(t, next.ID, summary.LatestJob.ID)
}

func TestGetJob_OtherTeam(t *testing.T) {
	ctx := context.Background()
	s := New()
	icp := types.ICPConfig{Providers: types.ProviderToggles{SERP: true}, Limits: types.Limits{MaxCompanies: 1, MaxContactsPerCompany: 1}}
	_, job, err := s.CreatePoolWithJob(ctx, uuid.New(), types.NewPool{Name: "Auto"}, icp)
	require.NoError(t, err)

	got, err := s.GetJob(ctx, uuid.New(), job.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func insertCandidates(ctx context.Context, poolID uuid.UUID, n int) func(importer.Tx) error {
	return func(tx importer.Tx) error {
		for i := 0; i < n; i++ {
			key := fmt.Sprintf("company%d.com", i)
			if _, err := tx.InsertCandidate(ctx, poolID, types.CandidateRecord{DedupeKey: key, Domain: key}); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestLockPool_ParallelPoolsKeepTheirWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.FailWrite = func(string, string) error {
		time.Sleep(50 * time.Microsecond)
		return nil
	}
	team := uuid.New()

	for round := 0; round < 10; round++ {
		a, b := newPool(t, s, team), newPool(t, s, team)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, pool := range []*types.Pool{a, b} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.LockPool(ctx, pool.ID, insertCandidates(ctx, pool.ID, 25))
			}()
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		for _, pool := range []*types.Pool{a, b} {
			rows, err := s.ListCandidates(ctx, pool.ID, 0, 0)
			require.NoError(t, err)
			assert.Len(t, rows, 25, "round %d pool %s", round, pool.ID)
		}
	}
}

func TestLockPool_SamePoolIsSerialized(t *testing.T) {
	ctx := context.Background()
	s := New()
	pool := newPool(t, s, uuid.New())

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.LockPool(ctx, pool.ID, func(tx importer.Tx) error {
				found, err := tx.FindCandidatesByKeys(ctx, pool.ID, []string{"acme.com"})
				if err != nil || len(found) > 0 {
					return err
				}
				time.Sleep(time.Millisecond)
				_, err = tx.InsertCandidate(ctx, pool.ID, types.CandidateRecord{DedupeKey: "acme.com", Domain: "acme.com"})
				return err
			})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	rows, err := s.ListCandidates(ctx, pool.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestLockPool_InsertionOrderAcrossCommits(t *testing.T) {
	ctx := context.Background()
	s := New()
	pool := newPool(t, s, uuid.New())

	for _, key := range []string{"b.com", "a.com", "c.com"} {
		err := s.LockPool(ctx, pool.ID, func(tx importer.Tx) error {
			_, err := tx.InsertCandidate(ctx, pool.ID, types.CandidateRecord{DedupeKey: key, Domain: key})
			return err
		})
		require.NoError(t, err)
	}

	rows, err := s.ListCandidates(ctx, pool.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"b.com", "a.com", "c.com"}, []string{rows[0].DedupeKey, rows[1].DedupeKey, rows[2].DedupeKey})
}

func TestLockPool_PoolDeletedDuringCommit(t *testing.T) {
	ctx := context.Background()
	s := New()
	team := uuid.New()
	pool := newPool(t, s, team)

	err := s.LockPool(ctx, pool.ID, func(tx importer.Tx) error {
		if _, err := tx.InsertCandidate(ctx, pool.ID, types.CandidateRecord{DedupeKey: "acme.com", Domain: "acme.com"}); err != nil {
			return err
		}
		deleted, err := s.DeletePool(ctx, team, pool.ID)
		require.True(t, deleted)
		return err
	})
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf)

	found, err := s.FindCandidatesByKeys(ctx, pool.ID, []string{"acme.com"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestResolvePool(t *testing.T) {
	ctx := context.Background()
	s := New()
	team := uuid.New()

	first, created, err := s.ResolvePool(ctx, team, types.NewPool{Name: "Imported"})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.ResolvePool(ctx, team, types.NewPool{Name: "Imported"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	other, created, err := s.ResolvePool(ctx, uuid.New(), types.NewPool{Name: "Imported"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestFailStaleJobs(t *testing.T) {
	ctx := context.Background()
	s := New()
	team := uuid.New()
	icp := types.ICPConfig{Industries: []string{"Fintech"}, Providers: types.ProviderToggles{SERP: true}}

	_, queued, err := s.CreatePoolWithJob(ctx, team, types.NewPool{Name: "Queued"}, icp)
	require.NoError(t, err)
	_, running, err := s.CreatePoolWithJob(ctx, team, types.NewPool{Name: "Running"}, icp)
	require.NoError(t, err)
	_, err = s.StartJob(ctx, running.ID)
	require.NoError(t, err)

	n, err := s.FailStaleJobs(ctx, time.Now().Add(-time.Hour), "stranded")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.FailStaleJobs(ctx, time.Now().Add(time.Second), "stranded")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetJob(ctx, team, running.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, got.Status)
	assert.Equal(t, "stranded", got.Error)
	assert.NotNil(t, got.FinishedAt)

	got, err = s.GetJob(ctx, team, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, got.Status)

	// A late result from the lost runner is rejected.
	var transition *types.TransitionError
	err = s.FinishJob(ctx, running.ID, types.JobResult{Status: types.JobSuccess})
	require.ErrorAs(t, err, &transition)
}
