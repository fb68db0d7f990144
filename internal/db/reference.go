package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
)

// ReferenceRepository serves the jurisdiction reference tables. Each call
// reads the current rows, so an import is visible to the next resolution.
type ReferenceRepository struct {
	db *DB
}

// NewReferenceRepository creates a reference repository.
func NewReferenceRepository(db *DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

var _ jurisdiction.Reference = (*ReferenceRepository)(nil)

// Industries lists the federal industry catalog.
func (r *ReferenceRepository) Industries(ctx context.Context) ([]jurisdiction.Industry, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT code, name, active FROM federal_industries ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list industries: %w", err)
	}
	defer rows.Close()

	var out []jurisdiction.Industry
	for rows.Next() {
		var ind jurisdiction.Industry
		if err := rows.Scan(&ind.Code, &ind.Name, &ind.Active); err != nil {
			return nil, fmt.Errorf("failed to scan industry: %w", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// Authority returns the authority for the competence and state, nil when none is configured.
func (r *ReferenceRepository) Authority(ctx context.Context, competence jurisdiction.Competence, stateCode string) (*jurisdiction.Authority, error) {
	var a jurisdiction.Authority
	err := r.db.pool.QueryRow(ctx,
		`SELECT id, competence, state_code, name, address, phone, email, submission_url,
		        operating_hours, portal_kind
		 FROM authorities WHERE competence = $1 AND state_code = $2`,
		competence, stateCode,
	).Scan(&a.ID, &a.Competence, &a.StateCode, &a.Name, &a.Address, &a.Phone, &a.Email,
		&a.SubmissionURL, &a.OperatingHours, &a.PortalKind)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authority: %w", err)
	}
	return &a, nil
}

// NonWorkingDays lists declared holidays between from and to inclusive.
func (r *ReferenceRepository) NonWorkingDays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT day FROM non_working_days WHERE day BETWEEN $1::date AND $2::date ORDER BY day`,
		from.Format(time.DateOnly), to.Format(time.DateOnly),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list non-working days: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan non-working day: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Version returns the version of the imported seed, "" when nothing was imported.
func (r *ReferenceRepository) Version(ctx context.Context) (string, error) {
	var v string
	err := r.db.pool.QueryRow(ctx, `SELECT value FROM reference_meta WHERE key = 'version'`).Scan(&v)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get reference version: %w", err)
	}
	return v, nil
}

// Import replaces every reference table with the contents of seed in one transaction.
func (r *ReferenceRepository) Import(ctx context.Context, seed *jurisdiction.Seed) error {
	return pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		for _, table := range []string{"federal_industries", "authorities", "non_working_days"} {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		batch := &pgx.Batch{}
		for _, ind := range seed.Industries {
			batch.Queue(`INSERT INTO federal_industries (code, name, active) VALUES ($1, $2, $3)`,
				ind.Code, ind.Name, ind.Active)
		}
		for _, a := range seed.Authorities {
			batch.Queue(
				`INSERT INTO authorities (id, competence, state_code, name, address, phone, email,
				                          submission_url, operating_hours, portal_kind)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				a.ID, a.Competence, a.StateCode, a.Name, a.Address, a.Phone, a.Email,
				a.SubmissionURL, a.OperatingHours, a.PortalKind)
		}
		for _, h := range seed.NonWorkingDays {
			batch.Queue(`INSERT INTO non_working_days (day, description) VALUES ($1::date, $2)`,
				h.Date, h.Description)
		}
		batch.Queue(
			`INSERT INTO reference_meta (key, value) VALUES ('version', $1)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			seed.Version)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to import reference data: %w", err)
		}
		return nil
	})
}
