package jurisdiction

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonathan/conciliation-filer/internal/schemas"
)

//go:embed reference/seed.json
var defaultSeed []byte

//go:embed reference/seed.schema.json
var seedSchema []byte

// Reference is the read side of the reference data: the federal industry
// catalog, the authority directory and the non-working-day calendar.
type Reference interface {
	Industries(ctx context.Context) ([]Industry, error)
	// Authority returns nil, nil when no authority is configured.
	Authority(ctx context.Context, competence Competence, stateCode string) (*Authority, error)
	// NonWorkingDays returns the declared holidays in [from, to], as civil dates.
	NonWorkingDays(ctx context.Context, from, to time.Time) ([]time.Time, error)
}

// Holiday is a declared non-working day.
type Holiday struct {
	Date        string `json:"date"`
	Description string `json:"description,omitempty"`
}

// Seed is the on-disk shape of the reference data.
type Seed struct {
	Version        string      `json:"version"`
	Industries     []Industry  `json:"industries"`
	Authorities    []Authority `json:"authorities"`
	NonWorkingDays []Holiday   `json:"non_working_days"`
}

// SeedSchema returns the JSON schema reference files are validated against.
func SeedSchema() []byte {
	return seedSchema
}

// ParseSeed validates data against the seed schema and decodes it.
func ParseSeed(data []byte, source string) (*Seed, error) {
	if err := schemas.ValidateBytes(seedSchema, data, source); err != nil {
		return nil, err
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, &ReferenceError{Message: "failed to decode " + source, Cause: err}
	}
	for _, h := range seed.NonWorkingDays {
		if _, err := time.Parse(time.DateOnly, h.Date); err != nil {
			return nil, &ReferenceError{Message: fmt.Sprintf("invalid non-working day %q", h.Date), Cause: err}
		}
	}
	for _, a := range seed.Authorities {
		if _, ok := LookupState(a.StateCode); !ok {
			return nil, &ReferenceError{Message: fmt.Sprintf("authority %s has unknown state %q", a.ID, a.StateCode)}
		}
	}
	return &seed, nil
}

// DefaultSeed returns the reference data compiled into the binary.
func DefaultSeed() (*Seed, error) {
	return ParseSeed(defaultSeed, "embedded seed.json")
}

// LoadSeedFile reads and validates a reference file.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := schemas.ValidateFile(seedSchema, path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(data, path)
}

type authorityKey struct {
	competence Competence
	state      string
}

// StaticReference serves reference data from memory. Replace swaps the whole
// data set atomically so resolutions never see a half-loaded table.
type StaticReference struct {
	mu          sync.RWMutex
	version     string
	industries  []Industry
	authorities map[authorityKey]Authority
	holidays    []time.Time
}

// NewStaticReference builds a reference from a decoded seed.
func NewStaticReference(seed *Seed) *StaticReference {
	r := &StaticReference{}
	r.Replace(seed)
	return r
}

// NewDefaultReference builds a reference from the embedded seed.
func NewDefaultReference() (*StaticReference, error) {
	seed, err := DefaultSeed()
	if err != nil {
		return nil, err
	}
	return NewStaticReference(seed), nil
}

// Replace swaps in a new data set.
func (r *StaticReference) Replace(seed *Seed) {
	authorities := make(map[authorityKey]Authority, len(seed.Authorities))
	for _, a := range seed.Authorities {
		authorities[authorityKey{a.Competence, a.StateCode}] = a
	}
	holidays := make([]time.Time, 0, len(seed.NonWorkingDays))
	for _, h := range seed.NonWorkingDays {
		d, err := time.Parse(time.DateOnly, h.Date)
		if err != nil {
			continue
		}
		holidays = append(holidays, d)
	}
	sort.Slice(holidays, func(i, j int) bool { return holidays[i].Before(holidays[j]) })
	industries := append([]Industry(nil), seed.Industries...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = seed.Version
	r.industries = industries
	r.authorities = authorities
	r.holidays = holidays
}

// Version reports the version string of the loaded data set.
func (r *StaticReference) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

func (r *StaticReference) Industries(_ context.Context) ([]Industry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Industry(nil), r.industries...), nil
}

func (r *StaticReference) Authority(_ context.Context, competence Competence, stateCode string) (*Authority, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.authorities[authorityKey{competence, stateCode}]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *StaticReference) NonWorkingDays(_ context.Context, from, to time.Time) ([]time.Time, error) {
	lo, hi := civilDate(from), civilDate(to)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []time.Time
	for _, d := range r.holidays {
		if d.Before(lo) {
			continue
		}
		if d.After(hi) {
			break
		}
		out = append(out, d)
	}
	return out, nil
}
