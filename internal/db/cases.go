package db

import (
	"context"
	"fmt"

	"github.com/jonathan/conciliation-filer/internal/jobs"
	"github.com/jonathan/conciliation-filer/internal/types"
)

// CaseRepository reads worker cases. Cases are written by the surrounding
// application; SaveCase exists for seeding and tests.
type CaseRepository struct {
	db *DB
}

// NewCaseRepository creates a case repository.
func NewCaseRepository(db *DB) *CaseRepository {
	return &CaseRepository{db: db}
}

var _ jobs.CaseSource = (*CaseRepository)(nil)

// GetCase retrieves a case by ID, nil when it does not exist.
func (r *CaseRepository) GetCase(ctx context.Context, id string) (*types.Case, error) {
	var c types.Case
	err := r.db.pool.QueryRow(ctx,
		`SELECT id, employer_name, employer_state, COALESCE(employer_address, ''), employer_industry,
		        worker_user_id, worker_name, COALESCE(worker_curp, ''), COALESCE(worker_email, ''),
		        COALESCE(worker_phone, ''), lawyer_id, employment_start, termination_date,
		        COALESCE(termination_type, ''), daily_salary::float8
		 FROM cases WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.EmployerName, &c.EmployerState, &c.EmployerAddress, &c.EmployerIndustry,
		&c.WorkerUserID, &c.WorkerName, &c.WorkerCURP, &c.WorkerEmail,
		&c.WorkerPhone, &c.LawyerID, &c.EmploymentStart, &c.TerminationDate,
		&c.TerminationType, &c.DailySalary)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return &c, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SaveCase inserts or replaces a case.
func (r *CaseRepository) SaveCase(ctx context.Context, c *types.Case) error {
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO cases (id, employer_name, employer_state, employer_address, employer_industry,
		                    worker_user_id, worker_name, worker_curp, worker_email, worker_phone,
		                    lawyer_id, employment_start, termination_date, termination_type, daily_salary)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (id) DO UPDATE SET
		     employer_name = EXCLUDED.employer_name, employer_state = EXCLUDED.employer_state,
		     employer_address = EXCLUDED.employer_address, employer_industry = EXCLUDED.employer_industry,
		     worker_user_id = EXCLUDED.worker_user_id, worker_name = EXCLUDED.worker_name,
		     worker_curp = EXCLUDED.worker_curp, worker_email = EXCLUDED.worker_email,
		     worker_phone = EXCLUDED.worker_phone, lawyer_id = EXCLUDED.lawyer_id,
		     employment_start = EXCLUDED.employment_start, termination_date = EXCLUDED.termination_date,
		     termination_type = EXCLUDED.termination_type, daily_salary = EXCLUDED.daily_salary`,
		c.ID, c.EmployerName, c.EmployerState, nullIfEmpty(c.EmployerAddress), c.EmployerIndustry,
		c.WorkerUserID, c.WorkerName, nullIfEmpty(c.WorkerCURP), nullIfEmpty(c.WorkerEmail), nullIfEmpty(c.WorkerPhone),
		c.LawyerID, c.EmploymentStart, c.TerminationDate, nullIfEmpty(string(c.TerminationType)), c.DailySalary,
	)
	if err != nil {
		return fmt.Errorf("failed to save case %s: %w", c.ID, err)
	}
	return nil
}

// AccessRepository reads requesters' roles and filing allowances.
type AccessRepository struct {
	db *DB
}

// NewAccessRepository creates an access repository.
func NewAccessRepository(db *DB) *AccessRepository {
	return &AccessRepository{db: db}
}

var _ jobs.AccessGate = (*AccessRepository)(nil)

// Requester retrieves a requester by ID, nil when unknown.
func (r *AccessRepository) Requester(ctx context.Context, id string) (*types.Requester, error) {
	var req types.Requester
	err := r.db.pool.QueryRow(ctx,
		`SELECT id, role, credits_remaining, rate_limited FROM requesters WHERE id = $1`,
		id,
	).Scan(&req.ID, &req.Role, &req.CreditsRemaining, &req.RateLimited)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get requester: %w", err)
	}
	return &req, nil
}

// SaveRequester inserts or replaces a requester.
func (r *AccessRepository) SaveRequester(ctx context.Context, req *types.Requester) error {
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO requesters (id, role, credits_remaining, rate_limited)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET role = $2, credits_remaining = $3, rate_limited = $4`,
		req.ID, req.Role, req.CreditsRemaining, req.RateLimited,
	)
	if err != nil {
		return fmt.Errorf("failed to save requester %s: %w", req.ID, err)
	}
	return nil
}
