package jurisdiction

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/jonathan/conciliation-filer/internal/types"
)

// DefaultLocation is the civil time zone deadlines are counted in.
const DefaultLocation = "America/Mexico_City"

// Resolver decides competence and computes deadlines. It holds no
// per-call state: every Resolve reads the reference afresh.
type Resolver struct {
	ref    Reference
	policy PrescriptionPolicy
	loc    *time.Location
	now    func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLocation overrides the civil time zone.
func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) { r.loc = loc }
}

// WithPolicy overrides the prescription policy.
func WithPolicy(p PrescriptionPolicy) Option {
	return func(r *Resolver) { r.policy = p }
}

// NewResolver creates a resolver over ref.
func NewResolver(ref Reference, opts ...Option) *Resolver {
	r := &Resolver{
		ref:    ref,
		policy: DefaultPrescriptionPolicy,
		now:    time.Now,
	}
	if loc, err := time.LoadLocation(DefaultLocation); err == nil {
		r.loc = loc
	} else {
		r.loc = time.UTC
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reference returns the reference data the resolver reads.
func (r *Resolver) Reference() Reference {
	return r.ref
}

// Today returns the current civil date in the resolver's time zone.
func (r *Resolver) Today() time.Time {
	return civilDate(r.now().In(r.loc))
}

// Resolve returns the competent authority for q. An active federal industry
// match yields federal competence, anything else local.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Decision, error) {
	state, ok := LookupState(q.State)
	if !ok {
		return nil, &UnknownStateError{Input: q.State}
	}

	dec := &Decision{Competence: Local, State: state}
	if q.IndustryCode != "" {
		catalog, err := r.ref.Industries(ctx)
		if err != nil {
			return nil, &ReferenceError{Message: "failed to load industries", Cause: err}
		}
		if ind := findIndustry(catalog, q.IndustryCode); ind != nil {
			dec.Competence = Federal
			dec.Industry = ind
		}
	}

	auth, err := r.ref.Authority(ctx, dec.Competence, state.Code)
	if err != nil {
		return nil, &ReferenceError{Message: fmt.Sprintf("failed to load %s authority for %s", dec.Competence, state.Code), Cause: err}
	}
	if auth == nil {
		return nil, &NoAuthorityError{Competence: dec.Competence, StateCode: state.Code}
	}
	dec.Authority = *auth

	if q.TerminationDate != nil {
		dl := ComputeDeadline(r.policy, *q.TerminationDate, q.TerminationType, r.Today())
		dec.Deadline = &dl
	}
	return dec, nil
}

// Deadline computes the prescription deadline alone.
func (r *Resolver) Deadline(terminated time.Time, tt types.TerminationType) Deadline {
	return ComputeDeadline(r.policy, terminated, tt, r.Today())
}

// AdvanceBusinessDays advances n business days from the civil date of start
// in the resolver's time zone.
func (r *Resolver) AdvanceBusinessDays(ctx context.Context, start time.Time, n int) (time.Time, error) {
	return AdvanceBusinessDays(ctx, r.ref, start.In(r.loc), n)
}
