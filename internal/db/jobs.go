package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jonathan/conciliation-filer/internal/jobs"
	"github.com/jonathan/conciliation-filer/internal/types"
)

const activeJobIndex = "filing_jobs_one_active_per_case"

const jobColumns = `id, case_id, requester_id, status, current_step, progress, modality,
	skip_validation, attempts, error, result, created_at, started_at, completed_at, updated_at`

// JobStore implements jobs.Store on PostgreSQL. The one-active-job rule is
// enforced by a partial unique index.
type JobStore struct {
	db *DB
}

// NewJobStore creates a job store.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

var _ jobs.Store = (*JobStore)(nil)

func scanJob(row pgx.Row) (*types.Job, error) {
	var j types.Job
	var errJSON, resultJSON []byte
	if err := row.Scan(&j.ID, &j.CaseID, &j.RequesterID, &j.Status, &j.CurrentStep, &j.Progress,
		&j.Modality, &j.SkipChecks, &j.Attempts, &errJSON, &resultJSON,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if errJSON != nil {
		j.Error = &types.JobError{}
		if err := json.Unmarshal(errJSON, j.Error); err != nil {
			return nil, fmt.Errorf("failed to decode error of job %s: %w", j.ID, err)
		}
	}
	if resultJSON != nil {
		j.Result = &types.FilingResult{}
		if err := json.Unmarshal(resultJSON, j.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

func encodeOutcome(j *types.Job) (errJSON, resultJSON []byte, err error) {
	if j.Error != nil {
		if errJSON, err = json.Marshal(j.Error); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal job error: %w", err)
		}
	}
	if j.Result != nil {
		if resultJSON, err = json.Marshal(j.Result); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal job result: %w", err)
		}
	}
	return errJSON, resultJSON, nil
}

// CreateJob inserts a job, mapping a second active job of the case to jobs.ErrActiveJob.
func (s *JobStore) CreateJob(ctx context.Context, job *types.Job) error {
	errJSON, resultJSON, err := encodeOutcome(job)
	if err != nil {
		return err
	}
	_, err = s.db.pool.Exec(ctx,
		`INSERT INTO filing_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.CaseID, job.RequesterID, job.Status, job.CurrentStep, job.Progress, job.Modality,
		job.SkipChecks, job.Attempts, errJSON, resultJSON,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt,
	)
	if isUniqueViolation(err, activeJobIndex) {
		return jobs.ErrActiveJob
	}
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *JobStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	job, err := scanJob(s.db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM filing_jobs WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, jobs.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// UpdateJob locks the row, applies fn and writes the result in one transaction.
func (s *JobStore) UpdateJob(ctx context.Context, id string, fn func(*types.Job) error) (*types.Job, error) {
	var out *types.Job
	err := pgx.BeginFunc(ctx, s.db.pool, func(tx pgx.Tx) error {
		cur, err := scanJob(tx.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM filing_jobs WHERE id = $1 FOR UPDATE`, id))
		if isNoRows(err) {
			return jobs.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock job: %w", err)
		}

		next := *cur
		if err := fn(&next); err != nil {
			return err
		}
		next.ID, next.CaseID, next.CreatedAt = cur.ID, cur.CaseID, cur.CreatedAt
		next.Progress = max(next.Progress, cur.Progress)

		errJSON, resultJSON, err := encodeOutcome(&next)
		if err != nil {
			return err
		}
		out, err = scanJob(tx.QueryRow(ctx,
			`UPDATE filing_jobs
			 SET requester_id = $2, status = $3, current_step = $4, progress = $5, modality = $6,
			     skip_validation = $7, attempts = $8, error = $9, result = $10,
			     started_at = $11, completed_at = $12, updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+jobColumns,
			id, next.RequesterID, next.Status, next.CurrentStep, next.Progress, next.Modality,
			next.SkipChecks, next.Attempts, errJSON, resultJSON, next.StartedAt, next.CompletedAt,
		))
		if isUniqueViolation(err, activeJobIndex) {
			return jobs.ErrActiveJob
		}
		if err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListJobs retrieves jobs newest first, optionally filtered.
func (s *JobStore) ListJobs(ctx context.Context, f jobs.ListFilter) ([]types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM filing_jobs WHERE TRUE`
	args := []any{}
	argPos := 1

	if f.RequesterID != "" {
		query += fmt.Sprintf(" AND requester_id = $%d", argPos)
		args = append(args, f.RequesterID)
		argPos++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, f.Status)
		argPos++
	}
	if f.CaseID != "" {
		query += fmt.Sprintf(" AND case_id = $%d", argPos)
		args = append(args, f.CaseID)
		argPos++
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, f.Limit)
	}

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]types.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return out, nil
}

// CountByStatus aggregates jobs per status; an empty requesterID counts all.
func (s *JobStore) CountByStatus(ctx context.Context, requesterID string) (map[types.JobStatus]int, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM filing_jobs
		 WHERE $1 = '' OR requester_id = $1
		 GROUP BY status`,
		requesterID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int)
	for rows.Next() {
		var status types.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// AppendLog inserts a log entry; the BIGSERIAL key gives the total order.
func (s *JobStore) AppendLog(ctx context.Context, jobID string, severity types.Severity, message string) (types.LogEntry, error) {
	entry := types.LogEntry{JobID: jobID, Severity: severity, Message: message}
	err := s.db.pool.QueryRow(ctx,
		`INSERT INTO job_logs (job_id, severity, message)
		 VALUES ($1, $2, $3)
		 RETURNING seq, created_at`,
		jobID, severity, message,
	).Scan(&entry.Seq, &entry.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return types.LogEntry{}, jobs.ErrJobNotFound
	}
	if err != nil {
		return types.LogEntry{}, fmt.Errorf("failed to append job log: %w", err)
	}
	return entry, nil
}

// RecentLogs returns up to limit entries newest first; limit <= 0 returns all.
func (s *JobStore) RecentLogs(ctx context.Context, jobID string, limit int) ([]types.LogEntry, error) {
	query := `SELECT seq, job_id, severity, message, created_at
	          FROM job_logs WHERE job_id = $1 ORDER BY seq DESC`
	args := []any{jobID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job logs: %w", err)
	}
	defer rows.Close()

	out := make([]types.LogEntry, 0)
	for rows.Next() {
		var e types.LogEntry
		if err := rows.Scan(&e.Seq, &e.JobID, &e.Severity, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
