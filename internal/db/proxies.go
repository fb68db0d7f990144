package db

import (
	"context"
	"fmt"

	"github.com/jonathan/conciliation-filer/internal/proxy"
)

// ProxyRepository stores the static part of proxy identities. Usage counters
// live in the pool and reset daily.
type ProxyRepository struct {
	db *DB
}

// NewProxyRepository creates a proxy repository.
func NewProxyRepository(db *DB) *ProxyRepository {
	return &ProxyRepository{db: db}
}

// ListIdentities lists every identity, active or not.
func (r *ProxyRepository) ListIdentities(ctx context.Context) ([]proxy.Identity, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT id, region, state_affinity, provider, endpoint, daily_quota, active
		 FROM proxy_identities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list proxy identities: %w", err)
	}
	defer rows.Close()

	var out []proxy.Identity
	for rows.Next() {
		var id proxy.Identity
		if err := rows.Scan(&id.ID, &id.Region, &id.StateAffinity, &id.Provider, &id.Endpoint,
			&id.DailyQuota, &id.Active); err != nil {
			return nil, fmt.Errorf("failed to scan proxy identity: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SaveIdentity inserts or replaces an identity.
func (r *ProxyRepository) SaveIdentity(ctx context.Context, id proxy.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO proxy_identities (id, region, state_affinity, provider, endpoint, daily_quota, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET region = $2, state_affinity = $3, provider = $4,
		     endpoint = $5, daily_quota = $6, active = $7`,
		id.ID, id.Region, id.StateAffinity, id.Provider, id.Endpoint, id.DailyQuota, id.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save proxy identity %s: %w", id.ID, err)
	}
	return nil
}
