package autogen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Ledger1-ai/crm-official-sub000/internal/dedupe"
	"github.com/Ledger1-ai/crm-official-sub000/internal/importer"
	"github.com/Ledger1-ai/crm-official-sub000/internal/sourcing"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// Defaults for Options.
const (
	DefaultProviderTimeout   = 90 * time.Second
	DefaultMaxConcurrentJobs = 4
	DefaultStaleJobAfter     = 30 * time.Minute
	DefaultFinishRetryDelay  = 200 * time.Millisecond

	finishAttempts = 5
)

// staleJobMessage is the error recorded on RUNNING jobs that outlived StaleJobAfter.
const staleJobMessage = "job did not finish: its runner stopped or could not save the result"

var (
	// ErrBusy is returned by Run when every job slot is taken.
	ErrBusy = errors.New("all autogen job slots are busy, retry later")
	// ErrProviderUnavailable marks an enabled provider that is not configured.
	ErrProviderUnavailable = errors.New("provider is not configured")
)

// Options configures an Orchestrator.
type Options struct {
	// ProviderTimeout bounds each provider call; a timeout counts as a failure.
	ProviderTimeout time.Duration
	// MaxConcurrentJobs bounds jobs running in this process.
	MaxConcurrentJobs int64
	// StaleJobAfter is the age at which a RUNNING job is presumed abandoned.
	// It is raised to at least three provider timeouts.
	StaleJobAfter time.Duration
	// FinishRetryDelay is the first backoff step when saving a result fails.
	FinishRetryDelay time.Duration
	Logger           *zap.Logger
}

// Orchestrator creates and runs autogen jobs.
type Orchestrator struct {
	jobs      JobStore
	pools     importer.Store
	committer *importer.Committer
	agent     sourcing.Provider
	serp      sourcing.Provider
	timeout   time.Duration
	staleAge  time.Duration
	retry     time.Duration
	slots     *semaphore.Weighted
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// New creates an Orchestrator. agent and serp may be nil when the provider
// is not configured; jobs that enable it then record it as failed.
func New(jobs JobStore, pools importer.Store, agent, serp sourcing.Provider, opts Options) *Orchestrator {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if opts.StaleJobAfter <= 0 {
		opts.StaleJobAfter = DefaultStaleJobAfter
	}
	opts.StaleJobAfter = max(opts.StaleJobAfter, 3*opts.ProviderTimeout)
	if opts.FinishRetryDelay <= 0 {
		opts.FinishRetryDelay = DefaultFinishRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		jobs:      jobs,
		pools:     pools,
		committer: importer.NewCommitter(pools, opts.Logger),
		agent:     agent,
		serp:      serp,
		timeout:   opts.ProviderTimeout,
		staleAge:  opts.StaleJobAfter,
		retry:     opts.FinishRetryDelay,
		slots:     semaphore.NewWeighted(opts.MaxConcurrentJobs),
		logger:    opts.Logger,
	}
}

// CreateJob creates a pool and a QUEUED job for it. The job does not start
// until Run is called.
func (o *Orchestrator) CreateJob(ctx context.Context, teamID uuid.UUID, req *types.CreateJobRequest) (*types.AutogenJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pool, job, err := o.jobs.CreatePoolWithJob(ctx, teamID, types.NewPool{Name: req.Name, Description: req.Description}, req.ICP)
	if err != nil {
		return nil, fmt.Errorf("failed to create autogen job: %w", err)
	}
	o.logger.Info("autogen job queued", zap.String("job_id", job.ID.String()), zap.String("pool_id", pool.ID.String()))
	return job, nil
}

// Enqueue adds a QUEUED job to an existing pool, using icp or, when nil, the
// ICP stored on the pool.
func (o *Orchestrator) Enqueue(ctx context.Context, teamID, poolID uuid.UUID, icp *types.ICPConfig) (*types.AutogenJob, error) {
	if icp == nil {
		pool, err := o.pools.GetPool(ctx, teamID, poolID)
		if err != nil {
			return nil, fmt.Errorf("failed to load pool: %w", err)
		}
		if pool == nil {
			return nil, &types.NotFoundError{Resource: "pool", ID: poolID}
		}
		if pool.ICP == nil {
			return nil, &types.ValidationError{Field: "icp", Message: "pool has no stored ICP and none was given"}
		}
		icp = pool.ICP
	}
	cfg := *icp
	cfg.Clean()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// A job stranded in RUNNING would otherwise block the pool for good.
	if _, err := o.RecoverStale(ctx); err != nil {
		return nil, err
	}
	job, err := o.jobs.EnqueueJob(ctx, teamID, poolID, cfg)
	if err != nil {
		return nil, err
	}
	o.logger.Info("autogen job queued", zap.String("job_id", job.ID.String()), zap.String("pool_id", poolID.String()))
	return job, nil
}

// Run moves a QUEUED job to RUNNING and processes it in the background. For
// a job that is already RUNNING or terminal it returns the current state.
func (o *Orchestrator) Run(ctx context.Context, teamID, jobID uuid.UUID) (*types.AutogenJob, error) {
	job, started, err := o.start(ctx, teamID, jobID)
	if err != nil || !started {
		return job, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.slots.Release(1)
		o.process(context.WithoutCancel(ctx), job)
	}()
	return job, nil
}

// Execute is Run without the background goroutine: it returns once the job
// reached a terminal state.
func (o *Orchestrator) Execute(ctx context.Context, teamID, jobID uuid.UUID) (*types.AutogenJob, error) {
	job, started, err := o.start(ctx, teamID, jobID)
	if err != nil || !started {
		return job, err
	}
	o.process(ctx, job)
	o.slots.Release(1)
	return o.reload(ctx, teamID, jobID)
}

// Job returns the current state of a job owned by teamID.
func (o *Orchestrator) Job(ctx context.Context, teamID, jobID uuid.UUID) (*types.AutogenJob, error) {
	return o.reload(ctx, teamID, jobID)
}

// RecoverStale fails RUNNING jobs older than StaleJobAfter. Such jobs
// belong to a process that died or could not save the result.
func (o *Orchestrator) RecoverStale(ctx context.Context) (int, error) {
	n, err := o.jobs.FailStaleJobs(ctx, time.Now().Add(-o.staleAge), staleJobMessage)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	if n > 0 {
		o.logger.Warn("failed stale autogen jobs", zap.Int("count", n), zap.Duration("older_than", o.staleAge))
	}
	return n, nil
}

// Wait blocks until background runs have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// start claims a slot and performs QUEUED -> RUNNING. started is false when
// the job was not QUEUED; the slot is then not held.
func (o *Orchestrator) start(ctx context.Context, teamID, jobID uuid.UUID) (*types.AutogenJob, bool, error) {
	job, err := o.reload(ctx, teamID, jobID)
	if err != nil {
		return nil, false, err
	}
	if job.Status != types.JobQueued {
		return job, false, nil
	}

	if !o.slots.TryAcquire(1) {
		return nil, false, ErrBusy
	}
	ok, err := o.jobs.StartJob(ctx, jobID)
	if err != nil || !ok {
		o.slots.Release(1)
		if err != nil {
			return nil, false, fmt.Errorf("failed to start job: %w", err)
		}
		job, err = o.reload(ctx, teamID, jobID)
		return job, false, err
	}

	job, err = o.reload(ctx, teamID, jobID)
	if err != nil {
		o.slots.Release(1)
		return nil, false, err
	}
	o.logger.Info("autogen job running", zap.String("job_id", jobID.String()), zap.String("pool_id", job.PoolID.String()))
	return job, true, nil
}

func (o *Orchestrator) reload(ctx context.Context, teamID, jobID uuid.UUID) (*types.AutogenJob, error) {
	job, err := o.jobs.GetJob(ctx, teamID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return nil, &types.NotFoundError{Resource: "job", ID: jobID}
	}
	return job, nil
}

// process runs a RUNNING job to completion and persists the outcome.
func (o *Orchestrator) process(ctx context.Context, job *types.AutogenJob) {
	res := o.execute(ctx, job)
	log := o.logger.With(zap.String("job_id", job.ID.String()), zap.String("pool_id", job.PoolID.String()))
	if err := o.finish(context.WithoutCancel(ctx), job.ID, res); err != nil {
		log.Error("failed to persist job result", zap.String("status", string(res.Status)), zap.Error(err))
		return
	}
	if res.Status == types.JobFailed {
		log.Warn("autogen job failed", zap.String("error", res.Error))
		return
	}
	log.Info("autogen job succeeded",
		zap.Int("created_candidates", res.Counters.Created.Candidates),
		zap.Int("created_contacts", res.Counters.Created.Contacts),
		zap.Int("updated_candidates", res.Counters.Updated.Candidates),
		zap.Int("warnings", len(res.Warnings)),
	)
}

// finish saves the result, retrying with exponential backoff. A job that
// is no longer RUNNING or no longer exists is not retried.
func (o *Orchestrator) finish(ctx context.Context, jobID uuid.UUID, res types.JobResult) error {
	var err error
	for attempt := 0; attempt < finishAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(1<<uint(attempt-1)) * o.retry)
		}
		if err = o.jobs.FinishJob(ctx, jobID, res); err == nil {
			return nil
		}
		var (
			transition *types.TransitionError
			notFound   *types.NotFoundError
		)
		if errors.As(err, &transition) || errors.As(err, &notFound) {
			return err
		}
		o.logger.Warn("saving job result failed, retrying",
			zap.String("job_id", jobID.String()), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("gave up after %d attempts: %w", finishAttempts, err)
}

// execute performs the provider calls and the commit. It never returns an
// error; failures end up in the JobResult.
func (o *Orchestrator) execute(ctx context.Context, job *types.AutogenJob) types.JobResult {
	r := newRun(job)
	icp := job.ICP
	if err := icp.Validate(); err != nil {
		return r.fail("invalid ICP: %v", err)
	}
	quota := sourcing.QuotaFor(icp)

	var outputs []*sourcing.Result
	agentAttempted := icp.Providers.AgenticAI
	agentCount := 0
	var agentErr error
	if agentAttempted {
		res, err := o.invoke(ctx, r, o.agent, types.SourceAgenticAI, icp, quota)
		agentErr = err
		if err == nil {
			agentCount = res.CandidateCount()
			outputs = append(outputs, res)
		}
	}

	if ShouldInvokeSERP(icp.Providers, agentAttempted, agentCount, agentErr) {
		if res, err := o.invoke(ctx, r, o.serp, types.SourceSERP, icp, quota); err == nil {
			outputs = append(outputs, res)
		}
	}

	if len(outputs) == 0 {
		return r.fail("no provider succeeded: %s", strings.Join(r.providerErrors, "; "))
	}

	candidates, contacts := r.collect(outputs, icp, quota)
	plan, err := importer.BuildPlan(ctx, o.pools, &job.PoolID, candidates, contacts)
	if err != nil {
		return r.fail("commit failed: %v", err)
	}
	r.counters.Unchanged = types.Counts{Candidates: plan.Unchanged.Candidate, Contacts: plan.Unchanged.Contact}

	if plan.Creates.Empty() && plan.Updates.Empty() {
		return r.succeed()
	}
	commit, err := o.committer.Apply(ctx, job.PoolID, plan.Creates, plan.Updates, false)
	if err != nil {
		return r.fail("commit failed: %v", err)
	}
	r.counters.Created = commit.Created
	r.counters.Updated = commit.Updated
	r.counters.Unchanged.Candidates += commit.Unchanged.Candidates
	r.counters.Unchanged.Contacts += commit.Unchanged.Contacts
	r.counters.Errors = len(commit.Errors)
	if n := len(commit.Stale); n > 0 {
		r.warn("%d records changed during the run and were skipped", n)
	}
	if n := len(commit.Errors); n > 0 {
		r.warn("%d records could not be written", n)
	}
	return r.succeed()
}

// invoke calls one provider under the per-call timeout and records its counters.
func (o *Orchestrator) invoke(ctx context.Context, r *run, p sourcing.Provider, name string, icp types.ICPConfig, quota sourcing.Quota) (*sourcing.Result, error) {
	log := o.logger.With(zap.String("job_id", r.jobID.String()), zap.String("provider", name))
	if p == nil {
		err := &sourcing.ProviderError{Provider: name, Err: ErrProviderUnavailable}
		r.providerFailed(name, types.ProviderCounters{}, err)
		log.Warn("provider unavailable")
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, o.timeout)
	started := time.Now()
	res, err := p.FindCandidates(pctx, icp, quota)
	cancel()

	counters := types.ProviderCounters{Invoked: true}
	if res != nil {
		r.queries = append(r.queries, res.Queries...)
	}
	if err != nil {
		var pe *sourcing.ProviderError
		if !errors.As(err, &pe) {
			err = &sourcing.ProviderError{Provider: name, Err: err}
		}
		r.providerFailed(name, counters, err)
		log.Warn("provider failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return nil, err
	}

	if res == nil {
		res = &sourcing.Result{}
	}
	counters.Candidates = res.CandidateCount()
	counters.Contacts = res.ContactCount()
	r.counters.Providers[name] = counters
	log.Info("provider finished",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("candidates", counters.Candidates),
		zap.Int("contacts", counters.Contacts),
	)
	return res, nil
}

// run accumulates the state of one job execution.
type run struct {
	jobID          uuid.UUID
	counters       types.JobCounters
	queries        []string
	warnings       []string
	providerErrors []string
}

func newRun(job *types.AutogenJob) *run {
	return &run{
		jobID:    job.ID,
		counters: types.JobCounters{Providers: make(map[string]types.ProviderCounters)},
		queries:  []string{},
	}
}

func (r *run) warn(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

func (r *run) providerFailed(name string, c types.ProviderCounters, err error) {
	c.Error = err.Error()
	r.counters.Providers[name] = c
	r.providerErrors = append(r.providerErrors, err.Error())
	r.warn("%v", err)
}

func (r *run) fail(format string, args ...any) types.JobResult {
	return types.JobResult{
		Status:         types.JobFailed,
		QueryTemplates: r.queries,
		Counters:       r.counters,
		Error:          fmt.Sprintf(format, args...),
		Warnings:       r.warnings,
	}
}

func (r *run) succeed() types.JobResult {
	return types.JobResult{
		Status:         types.JobSuccess,
		QueryTemplates: r.queries,
		Counters:       r.counters,
		Warnings:       r.warnings,
	}
}

// collect keys provider output with the dedupe engine, tags it with the job
// and enforces the ICP exclusions and limits across providers.
func (r *run) collect(outputs []*sourcing.Result, icp types.ICPConfig, quota sourcing.Quota) ([]types.CandidateRecord, []types.ContactRecord) {
	var candidates []types.CandidateRecord
	var contacts []types.ContactRecord
	kept := make(map[string]bool)
	contactKeys := make(map[string]map[string]bool)

	for _, out := range outputs {
		for _, company := range out.Companies {
			cand := company.Candidate
			if sourcing.IsExcluded(icp, cand.Domain) {
				continue
			}
			key := dedupe.AssignCandidateKey(&cand)
			if key == "" {
				continue
			}
			if !kept[key] {
				if quota.Companies > 0 && len(kept) >= quota.Companies {
					continue
				}
				kept[key] = true
				contactKeys[key] = make(map[string]bool)
			}
			cand.SourceMeta.JobID = r.jobID.String()
			if cand.SourceMeta.Query == "" {
				cand.SourceMeta.Query = company.Query
			}
			candidates = append(candidates, cand)

			for _, ct := range company.Contacts {
				ct.CandidateKey = key
				ckey := dedupe.AssignContactKey(&ct)
				if ckey == "" {
					continue
				}
				seen := contactKeys[key]
				if !seen[ckey] && quota.ContactsPerCompany > 0 && len(seen) >= quota.ContactsPerCompany {
					continue
				}
				seen[ckey] = true
				contacts = append(contacts, ct)
			}
		}
	}
	return candidates, contacts
}
