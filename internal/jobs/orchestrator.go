package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/jonathan/conciliation-filer/internal/feed"
	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
	"github.com/jonathan/conciliation-filer/internal/portal"
	"github.com/jonathan/conciliation-filer/internal/proxy"
	"github.com/jonathan/conciliation-filer/internal/types"
)

// Resolver is the part of *jurisdiction.Resolver the orchestrator needs.
type Resolver interface {
	Resolve(ctx context.Context, q jurisdiction.Query) (*jurisdiction.Decision, error)
	Deadline(terminated time.Time, tt types.TerminationType) jurisdiction.Deadline
	AdvanceBusinessDays(ctx context.Context, start time.Time, n int) (time.Time, error)
}

// ProxyPool is the part of *proxy.Pool the orchestrator needs.
type ProxyPool interface {
	Acquire(ctx context.Context, stateCode string) (proxy.Identity, error)
	Release(id proxy.Identity, used bool)
}

// Config tunes job execution.
type Config struct {
	MaxConcurrentJobs       int           `mapstructure:"max_concurrent_jobs"`
	ProxyRetries            int           `mapstructure:"proxy_retries"`
	SubmitRetries           int           `mapstructure:"submit_retries"`
	BackoffBase             time.Duration `mapstructure:"backoff_base"`
	HearingLeadBusinessDays int           `mapstructure:"hearing_lead_business_days"`
	JobTimeout              time.Duration `mapstructure:"job_timeout"`
	SubmitTimeout           time.Duration `mapstructure:"submit_timeout"`
}

// DefaultConfig returns the execution defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:       8,
		ProxyRetries:            3,
		SubmitRetries:           2,
		BackoffBase:             2 * time.Second,
		HearingLeadBusinessDays: 10,
		JobTimeout:              15 * time.Minute,
		SubmitTimeout:           3 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = d.MaxConcurrentJobs
	}
	if c.ProxyRetries < 0 {
		c.ProxyRetries = d.ProxyRetries
	}
	if c.SubmitRetries < 0 {
		c.SubmitRetries = d.SubmitRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.HearingLeadBusinessDays < 0 {
		c.HearingLeadBusinessDays = d.HearingLeadBusinessDays
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Feed and Logger are optional.
type Deps struct {
	Store    Store
	Cases    CaseSource
	Access   AccessGate
	Resolver Resolver
	Pool     ProxyPool
	Gateway  portal.Gateway
	Feed     feed.Publisher
	Logger   logrus.FieldLogger
}

// Orchestrator owns the lifecycle of filing jobs.
type Orchestrator struct {
	store    Store
	cases    CaseSource
	access   AccessGate
	resolver Resolver
	pool     ProxyPool
	gateway  portal.Gateway
	feed     feed.Publisher
	log      logrus.FieldLogger
	cfg      Config
	now      func() time.Time

	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	baseCtx  context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	inflight map[string]*flight
}

// flight tracks the execution goroutine of one job. rerun is set when the job
// is scheduled again while that goroutine is still winding down.
type flight struct {
	rerun bool
}

// New creates an orchestrator. Executions run on a background context that
// Close cancels.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("jobs: store is required")
	case deps.Cases == nil:
		return nil, errors.New("jobs: case source is required")
	case deps.Access == nil:
		return nil, errors.New("jobs: access gate is required")
	case deps.Resolver == nil:
		return nil, errors.New("jobs: resolver is required")
	case deps.Pool == nil:
		return nil, errors.New("jobs: proxy pool is required")
	case deps.Gateway == nil:
		return nil, errors.New("jobs: portal gateway is required")
	}
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		store:    deps.Store,
		cases:    deps.Cases,
		access:   deps.Access,
		resolver: deps.Resolver,
		pool:     deps.Pool,
		gateway:  portal.Safe(deps.Gateway),
		feed:     deps.Feed,
		log:      deps.Logger,
		cfg:      cfg,
		now:      time.Now,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		inflight: make(map[string]*flight),
	}
	if o.feed == nil {
		o.feed = feed.Nop{}
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	o.baseCtx, o.stop = context.WithCancel(context.Background())
	return o, nil
}

// CreateRequest is the input of Create.
type CreateRequest struct {
	CaseID            string         `json:"case_id"`
	RequesterID       string         `json:"-"`
	PreferredModality types.Modality `json:"preferred_modality,omitempty"`
	SkipValidation    bool           `json:"skip_validation,omitempty"`
}

// Create registers a pending job for the case and schedules its execution.
// It returns as soon as the job is stored.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*types.Job, error) {
	if !req.PreferredModality.Valid() {
		return nil, &types.CaseValidationError{
			CaseID: req.CaseID,
			Fields: []types.FieldError{{Field: "preferred_modality", Reason: "must be in_person or remote"}},
		}
	}
	c, err := o.cases.GetCase(ctx, req.CaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case %s: %w", req.CaseID, err)
	}
	if c == nil {
		return nil, ErrCaseNotFound
	}
	if err := c.ValidateForCreation(); err != nil {
		return nil, err
	}

	now := o.now()
	job := &types.Job{
		ID:          uuid.NewString(),
		CaseID:      c.ID,
		RequesterID: req.RequesterID,
		Status:      types.JobPending,
		CurrentStep: types.StepQueued,
		Progress:    0,
		Modality:    req.PreferredModality,
		SkipChecks:  req.SkipValidation,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	o.publishJob(ctx, job)
	o.appendLog(ctx, job, types.SeverityInfo, "filing job created")
	o.schedule(job.ID)
	return job, nil
}

// schedule starts a background execution. When one is already in flight for
// the job it is asked to run the job once more before exiting, so a Resume
// racing the end of a paused run is never lost.
func (o *Orchestrator) schedule(jobID string) {
	o.mu.Lock()
	if f, ok := o.inflight[jobID]; ok {
		f.rerun = true
		o.mu.Unlock()
		return
	}
	o.inflight[jobID] = &flight{}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		for {
			if err := o.sem.Acquire(o.baseCtx, 1); err != nil {
				o.land(jobID, true)
				return
			}
			o.run(o.baseCtx, jobID)
			o.sem.Release(1)
			if !o.land(jobID, false) {
				return
			}
		}
	}()
}

// land clears the job's in-flight entry unless a rerun was requested and
// not abandoned, in which case it consumes the request and reports true.
func (o *Orchestrator) land(jobID string, abandon bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	f := o.inflight[jobID]
	if f != nil && f.rerun && !abandon {
		f.rerun = false
		return true
	}
	delete(o.inflight, jobID)
	return false
}

// Cancel stops a pending or running job owned by requesterID. The running
// execution notices at its next checkpoint.
func (o *Orchestrator) Cancel(ctx context.Context, jobID, requesterID string) (*types.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.RequesterID != requesterID {
		return nil, ErrForbidden
	}
	now := o.now()
	job, err = o.store.UpdateJob(ctx, jobID, func(j *types.Job) error {
		if !j.Status.Active() {
			return ErrNotCancellable
		}
		j.Status = types.JobCancelled
		j.CurrentStep = types.StepCancelledByUser
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.publishJob(ctx, job)
	o.appendLog(ctx, job, types.SeverityWarning, "job cancelled by requester")
	return job, nil
}

// Resume re-runs a job paused on a CAPTCHA once someone has dealt with it.
func (o *Orchestrator) Resume(ctx context.Context, jobID, requesterID string) (*types.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.RequesterID != requesterID {
		return nil, ErrForbidden
	}
	job, err = o.store.UpdateJob(ctx, jobID, func(j *types.Job) error {
		if !j.AwaitingIntervention() {
			return ErrNotResumable
		}
		j.CurrentStep = types.StepQueued
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.publishJob(ctx, job)
	o.appendLog(ctx, job, types.SeverityInfo, "job resumed after manual intervention")
	o.schedule(job.ID)
	return job, nil
}

// JobView is a job with its most recent log entries, newest first.
type JobView struct {
	Job  *types.Job       `json:"job"`
	Logs []types.LogEntry `json:"logs"`
}

// DefaultLogLimit is how many log entries Get returns when none is asked for.
const DefaultLogLimit = 20

// Get returns a job to its owner or to an administrator.
func (o *Orchestrator) Get(ctx context.Context, jobID, requesterID string, logLimit int) (*JobView, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := o.authorizeRead(ctx, job, requesterID); err != nil {
		return nil, err
	}
	if logLimit <= 0 {
		logLimit = DefaultLogLimit
	}
	logs, err := o.store.RecentLogs(ctx, jobID, logLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load logs of job %s: %w", jobID, err)
	}
	return &JobView{Job: job, Logs: logs}, nil
}

// Authorize checks that requesterID may read jobID.
func (o *Orchestrator) Authorize(ctx context.Context, jobID, requesterID string) (*types.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := o.authorizeRead(ctx, job, requesterID); err != nil {
		return nil, err
	}
	return job, nil
}

func (o *Orchestrator) authorizeRead(ctx context.Context, job *types.Job, requesterID string) error {
	if job.RequesterID == requesterID {
		return nil
	}
	r, err := o.access.Requester(ctx, requesterID)
	if err != nil {
		return fmt.Errorf("failed to load requester %s: %w", requesterID, err)
	}
	if !r.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// ListQuery is the input of List.
type ListQuery struct {
	RequesterID string
	Status      types.JobStatus
	CaseID      string
	Limit       int
}

// ListResult holds a page of jobs and the requester's per-status totals.
type ListResult struct {
	Jobs   []types.Job             `json:"jobs"`
	Counts map[types.JobStatus]int `json:"counts"`
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// List returns the requester's jobs newest first.
func (o *Orchestrator) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, fmt.Errorf("invalid status filter %q", q.Status)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	jobs, err := o.store.ListJobs(ctx, ListFilter{
		RequesterID: q.RequesterID,
		Status:      q.Status,
		CaseID:      q.CaseID,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	counts, err := o.store.CountByStatus(ctx, q.RequesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	for _, s := range types.AllJobStatuses() {
		if _, ok := counts[s]; !ok {
			counts[s] = 0
		}
	}
	return &ListResult{Jobs: jobs, Counts: counts}, nil
}

// Recover reconciles jobs left behind by a previous process: running jobs
// are failed as interrupted and queued pending jobs are scheduled again.
func (o *Orchestrator) Recover(ctx context.Context) error {
	for _, status := range []types.JobStatus{types.JobRunning, types.JobPending} {
		jobs, err := o.store.ListJobs(ctx, ListFilter{Status: status})
		if err != nil {
			return fmt.Errorf("failed to list %s jobs: %w", status, err)
		}
		for i := range jobs {
			job := &jobs[i]
			switch {
			case job.Status == types.JobRunning:
				o.fail(ctx, job.ID, types.ErrCodeInternal, "execution interrupted by a restart", true)
			case job.CurrentStep == types.StepQueued:
				o.schedule(job.ID)
			}
		}
	}
	return nil
}

// Wait blocks until every scheduled execution has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops executions that have not started yet and waits for the rest.
func (o *Orchestrator) Close() {
	o.stop()
	o.wg.Wait()
}

func (o *Orchestrator) publishJob(ctx context.Context, job *types.Job) {
	o.feed.Publish(ctx, feed.Event{
		Type:        feed.EventJob,
		JobID:       job.ID,
		RequesterID: job.RequesterID,
		Job:         job,
		At:          o.now(),
	})
}

// appendLog writes a job log entry and mirrors it to the process log.
func (o *Orchestrator) appendLog(ctx context.Context, job *types.Job, sev types.Severity, msg string) {
	ctx = context.WithoutCancel(ctx)
	entry := o.log.WithFields(logrus.Fields{"job_id": job.ID, "case_id": job.CaseID})
	switch sev {
	case types.SeverityWarning:
		entry.Warn(msg)
	case types.SeverityError:
		entry.Error(msg)
	default:
		entry.Info(msg)
	}
	le, err := o.store.AppendLog(ctx, job.ID, sev, msg)
	if err != nil {
		entry.WithError(err).Error("failed to append job log")
		return
	}
	o.feed.Publish(ctx, feed.Event{
		Type:        feed.EventLog,
		JobID:       job.ID,
		RequesterID: job.RequesterID,
		Log:         &le,
		At:          le.CreatedAt,
	})
}
