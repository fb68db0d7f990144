// Package proxy manages the pool of egress identities portal sessions are routed
// through, with per-identity daily quotas, request pacing and header rotation.
package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrUnavailable is returned by Acquire when every identity is inactive or at quota.
// Callers may retry after a backoff.
var ErrUnavailable = errors.New("no proxy identity available")

// Identity is an egress identity. UsesToday never exceeds DailyQuota.
type Identity struct {
	ID            string    `json:"id" mapstructure:"id"`
	Region        string    `json:"region" mapstructure:"region"`
	StateAffinity string    `json:"state_affinity,omitempty" mapstructure:"state_affinity"`
	Provider      string    `json:"provider,omitempty" mapstructure:"provider"`
	Endpoint      string    `json:"-" mapstructure:"endpoint"`
	DailyQuota    int       `json:"daily_quota" mapstructure:"daily_quota"`
	UsesToday     int       `json:"uses_today" mapstructure:"-"`
	LastUsed      time.Time `json:"last_used,omitempty" mapstructure:"-"`
	Active        bool      `json:"active" mapstructure:"active"`
}

// Available reports whether the identity can take another session today.
func (i *Identity) Available() bool {
	return i.Active && i.UsesToday < i.DailyQuota
}

// ProxyURL parses the endpoint. An empty endpoint means a direct connection.
func (i *Identity) ProxyURL() (*url.URL, error) {
	if i.Endpoint == "" {
		return nil, nil
	}
	u, err := url.Parse(i.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proxy endpoint for %s: %w", i.ID, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("proxy endpoint for %s must be an absolute URL", i.ID)
	}
	return u, nil
}

// Validate checks the static part of an identity.
func (i *Identity) Validate() error {
	if i.ID == "" {
		return errors.New("proxy identity id is required")
	}
	if i.DailyQuota < 0 {
		return fmt.Errorf("proxy identity %s: daily_quota must be non-negative", i.ID)
	}
	if _, err := i.ProxyURL(); err != nil {
		return err
	}
	return nil
}
