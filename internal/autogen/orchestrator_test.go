package autogen_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ledger1-ai/crm-official-sub000/internal/autogen"
	"github.com/Ledger1-ai/crm-official-sub000/internal/memstore"
	"github.com/Ledger1-ai/crm-official-sub000/internal/sourcing"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

type fakeProvider struct {
	name  string
	res   *sourcing.Result
	err   error
	block chan struct{}
	calls atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) FindCandidates(ctx context.Context, _ types.ICPConfig, _ sourcing.Quota) (*sourcing.Result, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return &sourcing.Result{Queries: []string{f.name + " query"}}, ctx.Err()
		}
	}
	return f.res, f.err
}

func company(domain, name string, contacts ...string) sourcing.SourcedCompany {
	c := sourcing.SourcedCompany{
		Candidate: types.CandidateRecord{Domain: domain, CompanyName: name, SourceMeta: types.SourceMeta{Provider: "test"}},
		Query:     "q:" + domain,
	}
	for _, email := range contacts {
		c.Contacts = append(c.Contacts, types.ContactRecord{Email: email, FullName: email})
	}
	return c
}

func found(queries []string, companies ...sourcing.SourcedCompany) *sourcing.Result {
	return &sourcing.Result{Companies: companies, Queries: queries}
}

type harness struct {
	store *memstore.Store
	orch  *autogen.Orchestrator
	agent *fakeProvider
	serp  *fakeProvider
	team  uuid.UUID
}

func newHarness(agent, serp *fakeProvider, opts autogen.Options) *harness {
	s := memstore.New()
	var a, p sourcing.Provider
	if agent != nil {
		a = agent
	}
	if serp != nil {
		p = serp
	}
	return &harness{
		store: s,
		orch:  autogen.New(s, s, a, p, opts),
		agent: agent,
		serp:  serp,
		team:  uuid.New(),
	}
}

func (h *harness) create(t *testing.T, toggles types.ProviderToggles) *types.AutogenJob {
	t.Helper()
	job, err := h.orch.CreateJob(context.Background(), h.team, &types.CreateJobRequest{
		Name:      "Fintech DACH",
		ICP:       types.ICPConfig{Industries: []string{"Fintech"}, JobTitles: []string{"CTO"}},
		Providers: toggles,
		Limits:    types.Limits{MaxCompanies: 3, MaxContactsPerCompany: 1},
	})
	require.NoError(t, err)
	require.Equal(t, types.JobQueued, job.Status)
	return job
}

func TestShouldInvokeSERP(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name       string
		toggles    types.ProviderToggles
		attempted  bool
		candidates int
		err        error
		want       bool
	}{
		{"no serp toggles", types.ProviderToggles{AgenticAI: true}, true, 0, boom, false},
		{"agent disabled, serp on", types.ProviderToggles{SERP: true}, false, 0, nil, true},
		{"agent disabled, fallback only", types.ProviderToggles{SERPFallback: true}, false, 0, nil, true},
		{"agent found some", types.ProviderToggles{AgenticAI: true, SERPFallback: true}, true, 3, nil, false},
		{"agent found none", types.ProviderToggles{AgenticAI: true, SERPFallback: true}, true, 0, nil, true},
		{"agent failed", types.ProviderToggles{AgenticAI: true, SERPFallback: true}, true, 0, boom, true},
		{"agent failed, fallback off", types.ProviderToggles{AgenticAI: true, SERP: true}, true, 0, boom, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, autogen.ShouldInvokeSERP(tt.toggles, tt.attempted, tt.candidates, tt.err))
		})
	}
}

func TestExecute_AgentResultsSkipSERP(t *testing.T) {
	agent := &fakeProvider{name: types.SourceAgenticAI, res: found([]string{"agent icp"},
		company("acme.com", "Acme", "jane@acme.com", "bob@acme.com"),
		company("globex.com", "Globex"),
	)}
	serp := &fakeProvider{name: types.SourceSERP, res: found(nil)}
	h := newHarness(agent, serp, autogen.Options{})
	job := h.create(t, types.ProviderToggles{AgenticAI: true, SERPFallback: true})

	done, err := h.orch.Execute(context.Background(), h.team, job.ID)
	require.NoError(t, err)

	assert.Equal(t, types.JobSuccess, done.Status)
	assert.EqualValues(t, 1, agent.calls.Load())
	assert.EqualValues(t, 0, serp.calls.Load())
	assert.Equal(t, []string{"agent icp"}, done.QueryTemplates)
	require.NotNil(t, done.Counters)
	assert.Equal(t, types.ProviderCounters{Invoked: true, Candidates: 2, Contacts: 2}, done.Counters.Providers[types.SourceAgenticAI])
	assert.NotContains(t, done.Counters.Providers, types.SourceSERP)
	// one contact per company
	assert.Equal(t, types.Counts{Candidates: 2, Contacts: 1}, done.Counters.Created)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)

	cands, err := h.store.ListCandidates(context.Background(), job.PoolID, 0, 0)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, job.ID.String(), cands[0].SourceMeta.JobID)
	assert.Equal(t, "q:acme.com", cands[0].SourceMeta.Query)
}

func TestExecute_EmptyAgentFallsBackToSERP(t *testing.T) {
	agent := &fakeProvider{name: types.SourceAgenticAI, res: found([]string{"agent icp"})}
	serp := &fakeProvider{name: types.SourceSERP, res: found([]string{"Fintech companies CTO"}, company("hooli.com", "Hooli"))}
	h := newHarness(agent, serp, autogen.Options{})
	job := h.create(t, types.ProviderToggles{AgenticAI: true, SERPFallback: true})

	done, err := h.orch.Execute(context.Background(), h.team, job.ID)
	require.NoError(t, err)

	assert.Equal(t, types.JobSuccess, done.Status)
	assert.EqualValues(t, 1, serp.calls.Load())
	assert.Equal(t, []string{"agent icp", "Fintech companies CTO"}, done.QueryTemplates)
	assert.Equal(t, 0, done.Counters.Providers[types.SourceAgenticAI].Candidates)
	assert.Equal(t, 1, done.Counters.Providers[types.SourceSERP].Candidates)
	assert.Equal(t, 1, done.Counters.Created.Candidates)
}

func TestExecute_ZeroResultsIsSuccess(t *testing.T) {
	agent := &fakeProvider{name: types.SourceAgenticAI, res: found(nil)}
	h := newHarness(agent, nil, autogen.Options{})
	job := h.create(t, types.ProviderToggles{AgenticAI: true})

	done, err := h.orch.Execute(context.Background(), h.team, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobSuccess, done.Status)
	assert.Equal(t, types.Counts{}, done.Counters.Created)
}

func TestExecute_AgentFailureRecoveredBySERP(t *testing.T) {
	agent := &fakeProvider{name: types.SourceAgenticAI, err: errors.New("model overloaded")}
	serp := &fakeProvider{name: types.SourceSERP, res: found(nil, company("hooli.com", "Hooli"))}
	h := newHarness(agent, serp, autogen.Options{})
	job := h.create(t, types.ProviderToggles{AgenticAI: true, SERPFallback: true})

	done, err := h.orch.Execute(context.Background(), h.team, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobSuccess, done.Status)
	require.NotEmpty(t, done.Warnings)
	assert.Contains(t, done.Warnings[0], "model overloaded")
	assert.Contains(t, done.Counters.Providers[types.SourceAgenticAI].Error, "model overloaded")
	assert.True(t, done.Counters.Providers[types.SourceAgenticAI].Invoked)
}

func TestExecute_FailsWhenNoProviderSucceeds(t *testing.T) {
	tests := []struct {
		name    string
		agent   *fakeProvider
		serp    *fakeProvider
		toggles types.ProviderToggles
	}{
		{
			name:    "agent fails without fallback",
			agent:   &fakeProvider{name: types.SourceAgenticAI, err: errors.New("boom")},
			toggles: types.ProviderToggles{AgenticAI: true},
		},
		{
			name:    "both fail",
			agent:   &fakeProvider{name: types.SourceAgenticAI, err: errors.New("boom")},
			serp:    &fakeProvider{name: types.SourceSERP, err: errors.New("quota")},
			toggles: types.ProviderToggles{AgenticAI: true, SERPFallback: true},
		},
		{
			name:    "fallback not configured",
			agent:   &fakeProvider{name: types.SourceAgenticAI, err: errors.New("boom")},
			toggles: types.ProviderToggles{AgenticAI: true, SERPFallback: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.agent, tt.serp, autogen.Options{})
			job := h.create(t, tt.toggles)

			done, err := h.orch.Execute(context.Background(), h.team, job.ID)
			require.NoError(t, err)
			assert.Equal(t, types.JobFailed, done.Status)
			assert.Contains(t, done.Error, "no provider succeeded")
			assert.NotNil(t, done.FinishedAt)
		})
	}
}

func TestExecute_ProviderTimeoutTriggersFallback(t *testing.T) {
	agent := &fakeProvider{name: types.SourceAgenticAI, block: make(chan struct{})}
	serp := &fakeProvider{name: types.SourceSERP, res: found(nil, company("hooli.com", "Hooli"))}
	h := newHarness(agent, serp, autogen.Options{ProviderTimeout: 20 * time.Millisecond})
	job := h.create(t, types.ProviderToggles{AgenticAI: true, SERPFallback: true})

	done, err := h.orch.Execute(context.Background(), h.team, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobSuccess, done.Status)
	assert.Contains(t, done.Counters.Providers[types.SourceAgenticAI].Error, context.DeadlineExceeded.Error())
	assert.Contains(t, done.QueryTemplates, types.SourceAgenticAI+" query")
}

func TestExecute_SERPOnly(t *testing.T) {
	serp := &fakeProvider{name: types.SourceSERP, res: found([]string{"q"}, company("hooli.com", "Hooli"))}
	h := newHarness(nil, serp, autogen.Options{})
	job := h.create(t, types.ProviderToggles{SERP: true})

	done, err := h.orch.Execute(context.Background(), h.team, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobSuccess, done.Status)
	assert.NotContains(t, done.Counters.Providers, types.SourceAgenticAI)
}

func TestExecute_EnforcesLimitsAndExclusions(t *testing.T) {
	agent := &fakeProvider{name: types.SourceAgenticAI, res: found(nil,
		company("a.com", "A"), company("b.com", "B"), company("excluded.com", "X"),
		company("c.com", "C"), company("d.com", "D"),
	)}
	h := newHarness(agent, nil, autogen.Options{})
	job, err := h.orch.CreateJob(context.Background(), h.team, &types.CreateJobRequest{
		Name:      "Capped",
		ICP:       types.ICPConfig{Industries: []string{"Fintech"}, ExcludedDomains: []string{"excluded.com"}},
		Providers: types.ProviderToggles{AgenticAI: true},
		Limits:    types.Limits{MaxCompanies: 3, MaxContactsPerCompany: 1},
	})
	require.NoError(t, err)

	done, err := h.orch.Execute(context.Background(), h.team, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, done.Counters.Created.Candidates)

	stored, err := h.store.FindCandidatesByKeys(context.Background(), job.PoolID, []string{"a.com", "b.com", "c.com", "d.com", "excluded.com"})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.NotContains(t, stored, "excluded.com")
	assert.NotContains(t, stored, "d.com")
}

func TestExecute_RerunIsNoopForExistingRecords(t *testing.T) {
	agent := &fakeProvider{name: types.SourceAgenticAI, res: found(nil, company("acme.com", "Acme", "jane@acme.com"))}
	h := newHarness(agent, nil, autogen.Options{})
	first := h.create(t, types.ProviderToggles{AgenticAI: true})
	_, err := h.orch.Execute(context.Background(), h.team, first.ID)
	require.NoError(t, err)

	second, err := h.orch.Enqueue(context.Background(), h.team, first.PoolID, nil)
	require.NoError(t, err)
	done, err := h.orch.Execute(context.Background(), h.team, second.ID)
	require.NoError(t, err)

	assert.Equal(t, types.JobSuccess, done.Status)
	assert.Equal(t, types.Counts{}, done.Counters.Created)
	assert.Equal(t, types.Counts{Candidates: 1, Contacts: 1}, done.Counters.Unchanged)
}

func TestRun_IsIdempotent(t *testing.T) {
	agent := &fakeProvider{name: types.SourceAgenticAI, res: found(nil, company("acme.com", "Acme"))}
	h := newHarness(agent, nil, autogen.Options{})
	job := h.create(t, types.ProviderToggles{AgenticAI: true})

	first, err := h.orch.Run(context.Background(), h.team, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, first.Status)
	h.orch.Wait()

	again, err := h.orch.Run(context.Background(), h.team, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobSuccess, again.Status)
	h.orch.Wait()
	assert.EqualValues(t, 1, agent.calls.Load())
}

func TestRun_SecondRunWhileRunningDoesNotDoubleStart(t *testing.T) {
	agent := &fakeProvider{name: types.SourceAgenticAI, block: make(chan struct{}), res: found(nil)}
	h := newHarness(agent, nil, autogen.Options{})
	job := h.create(t, types.ProviderToggles{AgenticAI: true})

	_, err := h.orch.Run(context.Background(), h.team, job.ID)
	require.NoError(t, err)

	again, err := h.orch.Run(context.Background(), h.team, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, again.Status)

	_, err = h.orch.Enqueue(context.Background(), h.team, job.PoolID, nil)
	var conflict *types.ConflictError
	assert.ErrorAs(t, err, &conflict)

	close(agent.block)
	h.orch.Wait()
	assert.EqualValues(t, 1, agent.calls.Load())
}

func TestRun_BusyWhenSlotsExhausted(t *testing.T) {
	agent := &fakeProvider{name: types.SourceAgenticAI, block: make(chan struct{}), res: found(nil)}
	h := newHarness(agent, nil, autogen.Options{MaxConcurrentJobs: 1})
	first := h.create(t, types.ProviderToggles{AgenticAI: true})
	second := h.create(t, types.ProviderToggles{AgenticAI: true})

	_, err := h.orch.Run(context.Background(), h.team, first.ID)
	require.NoError(t, err)

	_, err = h.orch.Run(context.Background(), h.team, second.ID)
	assert.ErrorIs(t, err, autogen.ErrBusy)

	close(agent.block)
	h.orch.Wait()

	got, err := h.store.GetJob(context.Background(), h.team, second.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, got.Status)
}

func TestRun_UnknownJob(t *testing.T) {
	h := newHarness(nil, nil, autogen.Options{})
	_, err := h.orch.Run(context.Background(), h.team, uuid.New())
	var nf *types.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestCreateJob_Validation(t *testing.T) {
	h := newHarness(nil, nil, autogen.Options{})
	tests := []struct {
		name string
		req  types.CreateJobRequest
	}{
		{"missing name", types.CreateJobRequest{Providers: types.ProviderToggles{SERP: true}, Limits: types.Limits{MaxCompanies: 1, MaxContactsPerCompany: 1}}},
		{"no providers", types.CreateJobRequest{Name: "x", Limits: types.Limits{MaxCompanies: 1, MaxContactsPerCompany: 1}}},
		{"limit too high", types.CreateJobRequest{Name: "x", Providers: types.ProviderToggles{SERP: true}, Limits: types.Limits{MaxCompanies: 1000, MaxContactsPerCompany: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.CreateJob(context.Background(), h.team, &tt.req)
			var ve *types.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestEnqueue_RequiresICP(t *testing.T) {
	h := newHarness(nil, nil, autogen.Options{})
	pool, err := h.store.CreatePool(context.Background(), h.team, types.NewPool{Name: "Manual"}, nil)
	require.NoError(t, err)

	_, err = h.orch.Enqueue(context.Background(), h.team, pool.ID, nil)
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)

	icp := &types.ICPConfig{Industries: []string{"Retail"}, Providers: types.ProviderToggles{SERP: true}, Limits: types.Limits{MaxCompanies: 5, MaxContactsPerCompany: 2}}
	job, err := h.orch.Enqueue(context.Background(), h.team, pool.ID, icp)
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, job.Status)
	assert.Equal(t, []string{"Retail"}, job.ICP.Industries)
}

// flakyJobs fails the first failures calls to FinishJob.
type flakyJobs struct {
	*memstore.Store
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyJobs) FinishJob(ctx context.Context, jobID uuid.UUID, res types.JobResult) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset by peer")
	}
	return f.Store.FinishJob(ctx, jobID, res)
}

func newFlakyHarness(failures int32, agent *fakeProvider, opts autogen.Options) (*harness, *flakyJobs) {
	s := memstore.New()
	jobs := &flakyJobs{Store: s}
	jobs.failures.Store(failures)
	opts.FinishRetryDelay = time.Millisecond
	return &harness{
		store: s,
		orch:  autogen.New(jobs, s, agent, nil, opts),
		agent: agent,
		team:  uuid.New(),
	}, jobs
}

func TestRun_RetriesSavingTheResult(t *testing.T) {
	agent := &fakeProvider{name: types.SourceAgenticAI, res: found(nil, company("acme.com", "Acme"))}
	h, jobs := newFlakyHarness(2, agent, autogen.Options{})
	job := h.create(t, types.ProviderToggles{AgenticAI: true})

	_, err := h.orch.Run(context.Background(), h.team, job.ID)
	require.NoError(t, err)
	h.orch.Wait()

	done, err := h.store.GetJob(context.Background(), h.team, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobSuccess, done.Status)
	assert.EqualValues(t, 3, jobs.calls.Load())
}

func TestRun_GivesUpSavingAfterRepeatedFailures(t *testing.T) {
	agent := &fakeProvider{name: types.SourceAgenticAI, res: found(nil)}
	h, jobs := newFlakyHarness(100, agent, autogen.Options{})
	job := h.create(t, types.ProviderToggles{AgenticAI: true})

	_, err := h.orch.Run(context.Background(), h.team, job.ID)
	require.NoError(t, err)
	h.orch.Wait()

	stuck, err := h.store.GetJob(context.Background(), h.team, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, stuck.Status)
	assert.EqualValues(t, 5, jobs.calls.Load())
}

func TestEnqueue_RecoversStrandedJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil, nil, autogen.Options{ProviderTimeout: time.Millisecond, StaleJobAfter: time.Millisecond})
	job := h.create(t, types.ProviderToggles{AgenticAI: true})

	// Started by a runner that never reports back.
	started, err := h.store.StartJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, started)

	_, err = h.orch.Enqueue(ctx, h.team, job.PoolID, nil)
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)

	time.Sleep(20 * time.Millisecond)

	next, err := h.orch.Enqueue(ctx, h.team, job.PoolID, nil)
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, next.Status)

	old, err := h.store.GetJob(ctx, h.team, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, old.Status)
	assert.Contains(t, old.Error, "did not finish")
	assert.NotNil(t, old.FinishedAt)
}

func TestRecoverStale_LeavesRecentAndQueuedJobs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil, nil, autogen.Options{})
	queued := h.create(t, types.ProviderToggles{AgenticAI: true})
	running := h.create(t, types.ProviderToggles{AgenticAI: true})
	_, err := h.store.StartJob(ctx, running.ID)
	require.NoError(t, err)

	n, err := h.orch.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for id, want := range map[uuid.UUID]types.JobStatus{queued.ID: types.JobQueued, running.ID: types.JobRunning} {
		got, err := h.store.GetJob(ctx, h.team, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}
}
