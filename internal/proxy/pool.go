package proxy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config configures a Pool.
type Config struct {
	// RequestsPerMinute caps portal requests per identity. Zero disables the limiter.
	RequestsPerMinute float64  `mapstructure:"requests_per_minute"`
	Burst             int      `mapstructure:"burst"`
	Pacing            Pacing   `mapstructure:"pacing"`
	UserAgents        []string `mapstructure:"user_agents"`
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 6,
		Burst:             2,
		Pacing:            DefaultPacing(),
	}
}

type member struct {
	Identity
	limiter *rate.Limiter
}

// Pool hands out identities. Quota counters are the only state shared between
// concurrent filings, and every read-modify-write of them happens under mu.
type Pool struct {
	mu         sync.Mutex
	members    []*member
	byID       map[string]*member
	cfg        Config
	pacing     Pacing
	userAgents []string
	now        func() time.Time
	log        logrus.FieldLogger
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides the time source used for LastUsed.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithLogger sets the pool logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Pool) { p.log = log }
}

// NewPool creates a pool over ids.
func NewPool(cfg Config, ids []Identity, opts ...Option) (*Pool, error) {
	p := &Pool{
		cfg:        cfg,
		pacing:     cfg.Pacing,
		userAgents: cfg.UserAgents,
		now:        time.Now,
		log:        logrus.StandardLogger(),
	}
	if len(p.userAgents) == 0 {
		p.userAgents = defaultUserAgents
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Load(ids); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) newLimiter() *rate.Limiter {
	if p.cfg.RequestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := p.cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(p.cfg.RequestsPerMinute/60), burst)
}

// Load replaces the identity set. Counters and limiters of identities that stay
// in the set are kept.
func (p *Pool) Load(ids []Identity) error {
	seen := make(map[string]bool, len(ids))
	for i := range ids {
		if err := ids[i].Validate(); err != nil {
			return err
		}
		if seen[ids[i].ID] {
			return fmt.Errorf("duplicate proxy identity %s", ids[i].ID)
		}
		seen[ids[i].ID] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	members := make([]*member, 0, len(ids))
	byID := make(map[string]*member, len(ids))
	for _, id := range ids {
		m := &member{Identity: id}
		if old, ok := p.byID[id.ID]; ok {
			m.UsesToday = min(old.UsesToday, id.DailyQuota)
			m.LastUsed = old.LastUsed
			m.limiter = old.limiter
		} else {
			m.UsesToday = min(max(id.UsesToday, 0), id.DailyQuota)
			m.limiter = p.newLimiter()
		}
		members = append(members, m)
		byID[id.ID] = m
	}
	p.members = members
	p.byID = byID
	return nil
}

// Acquire selects an identity for a session in stateCode and counts one use
// against its quota. Identities with matching state affinity are preferred,
// least recently used first. It returns ErrUnavailable when nothing is under quota.
func (p *Pool) Acquire(ctx context.Context, stateCode string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var affine, other []*member
	for _, m := range p.members {
		if !m.Available() {
			continue
		}
		if stateCode != "" && m.StateAffinity == stateCode {
			affine = append(affine, m)
		} else {
			other = append(other, m)
		}
	}
	pick := leastRecentlyUsed(affine)
	if pick == nil {
		pick = leastRecentlyUsed(other)
	}
	if pick == nil {
		p.log.WithField("state", stateCode).Warn("proxy pool exhausted")
		return Identity{}, ErrUnavailable
	}

	pick.UsesToday++
	pick.LastUsed = p.now()
	p.log.WithFields(logrus.Fields{
		"proxy_id":   pick.ID,
		"state":      stateCode,
		"uses_today": pick.UsesToday,
	}).Debug("proxy identity acquired")
	return pick.Identity, nil
}

func leastRecentlyUsed(ms []*member) *member {
	var best *member
	for _, m := range ms {
		if best == nil || m.LastUsed.Before(best.LastUsed) {
			best = m
		}
	}
	return best
}

// Release returns an identity after a session. When used is false the quota
// unit taken by Acquire is refunded.
func (p *Pool) Release(id Identity, used bool) {
	if used {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.byID[id.ID]; ok && m.UsesToday > 0 {
		m.UsesToday--
	}
}

// ResetDaily zeroes every counter.
func (p *Pool) ResetDaily() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.members {
		m.UsesToday = 0
	}
	p.log.WithField("identities", len(p.members)).Info("proxy daily counters reset")
}

// Wait blocks until the identity may issue its next portal request.
func (p *Pool) Wait(ctx context.Context, id Identity) error {
	p.mu.Lock()
	m, ok := p.byID[id.ID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown proxy identity %s", id.ID)
	}
	return m.limiter.Wait(ctx)
}

// Snapshot returns a copy of every identity, ordered by ID.
func (p *Pool) Snapshot() []Identity {
	p.mu.Lock()
	out := make([]Identity, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, m.Identity)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats summarizes the pool for health reporting.
type Stats struct {
	Identities int `json:"identities"`
	Active     int `json:"active"`
	Available  int `json:"available"`
	UsesToday  int `json:"uses_today"`
}

// Stats computes a summary of the current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Identities: len(p.members)}
	for _, m := range p.members {
		if m.Active {
			s.Active++
		}
		if m.Available() {
			s.Available++
		}
		s.UsesToday += m.UsesToday
	}
	return s
}
