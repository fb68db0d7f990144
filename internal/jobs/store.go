// Package jobs runs filing jobs: one background execution per job, moving it
// through validation, jurisdiction, proxy acquisition and portal submission.
package jobs

import (
	"context"
	"errors"

	"github.com/jonathan/conciliation-filer/internal/types"
)

var (
	// ErrActiveJob is returned when the case already has a pending or running job.
	ErrActiveJob = errors.New("case already has an active filing job")
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrCaseNotFound is returned when the case to file does not exist.
	ErrCaseNotFound = errors.New("case not found")
	// ErrForbidden is returned when the requester may not act on the job.
	ErrForbidden = errors.New("requester not permitted to access this job")
	// ErrNotCancellable is returned when cancelling a job in a terminal state.
	ErrNotCancellable = errors.New("job is not pending or running")
	// ErrNotResumable is returned when resuming a job that is not waiting on a CAPTCHA.
	ErrNotResumable = errors.New("job is not awaiting intervention")
)

// ListFilter selects jobs for List.
type ListFilter struct {
	RequesterID string
	Status      types.JobStatus
	CaseID      string
	Limit       int
}

// Store persists jobs and their logs.
type Store interface {
	// CreateJob inserts job. It fails with ErrActiveJob when another job of the
	// same case is pending or running; check and insert are one atomic step.
	CreateJob(ctx context.Context, job *types.Job) error
	// GetJob returns ErrJobNotFound for unknown IDs.
	GetJob(ctx context.Context, id string) (*types.Job, error)
	// UpdateJob applies fn to the current record and stores the result
	// atomically. When fn returns an error nothing is written. Progress never
	// decreases across an update.
	UpdateJob(ctx context.Context, id string, fn func(*types.Job) error) (*types.Job, error)
	// ListJobs returns jobs newest first.
	ListJobs(ctx context.Context, f ListFilter) ([]types.Job, error)
	// CountByStatus aggregates a requester's jobs per status.
	CountByStatus(ctx context.Context, requesterID string) (map[types.JobStatus]int, error)
	// AppendLog adds an entry with the next sequence number.
	AppendLog(ctx context.Context, jobID string, severity types.Severity, message string) (types.LogEntry, error)
	// RecentLogs returns the latest limit entries, newest first.
	RecentLogs(ctx context.Context, jobID string, limit int) ([]types.LogEntry, error)
}

// CaseSource loads case data. GetCase returns nil, nil for unknown cases.
type CaseSource interface {
	GetCase(ctx context.Context, id string) (*types.Case, error)
}

// AccessGate reports who a requester is. Requester returns nil, nil for unknown IDs.
type AccessGate interface {
	Requester(ctx context.Context, id string) (*types.Requester, error)
}
