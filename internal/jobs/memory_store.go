package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonathan/conciliation-filer/internal/types"
)

// MemoryStore keeps jobs in process memory. It is the store of tests and of
// runs without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*types.Job
	active map[string]string // case ID -> active job ID
	logs   map[string][]types.LogEntry
	seq    int64
	now    func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*types.Job),
		active: make(map[string]string),
		logs:   make(map[string][]types.LogEntry),
		now:    time.Now,
	}
}

func cloneJob(j *types.Job) *types.Job {
	c := *j
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return &c
}

func (s *MemoryStore) CreateJob(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.active[job.CaseID]; ok {
		if cur, ok := s.jobs[id]; ok && cur.Status.Active() {
			return ErrActiveJob
		}
	}
	s.jobs[job.ID] = cloneJob(job)
	if job.Status.Active() {
		s.active[job.CaseID] = job.ID
	}
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, id string, fn func(*types.Job) error) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	next := cloneJob(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID, next.CaseID, next.CreatedAt = cur.ID, cur.CaseID, cur.CreatedAt
	next.Progress = max(next.Progress, cur.Progress)
	next.UpdatedAt = s.now()
	s.jobs[id] = next
	if !next.Status.Active() && s.active[next.CaseID] == id {
		delete(s.active, next.CaseID)
	}
	return cloneJob(next), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, f ListFilter) ([]types.Job, error) {
	s.mu.RLock()
	out := make([]types.Job, 0)
	for _, j := range s.jobs {
		if f.RequesterID != "" && j.RequesterID != f.RequesterID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.CaseID != "" && j.CaseID != f.CaseID {
			continue
		}
		out = append(out, *cloneJob(j))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID > out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, requesterID string) (map[types.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[types.JobStatus]int)
	for _, j := range s.jobs {
		if requesterID == "" || j.RequesterID == requesterID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) AppendLog(_ context.Context, jobID string, severity types.Severity, message string) (types.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return types.LogEntry{}, ErrJobNotFound
	}
	s.seq++
	entry := types.LogEntry{
		Seq:       s.seq,
		JobID:     jobID,
		Severity:  severity,
		Message:   message,
		CreatedAt: s.now(),
	}
	s.logs[jobID] = append(s.logs[jobID], entry)
	return entry, nil
}

func (s *MemoryStore) RecentLogs(_ context.Context, jobID string, limit int) ([]types.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.logs[jobID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]types.LogEntry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// MemoryCases is an in-memory CaseSource.
type MemoryCases struct {
	mu    sync.RWMutex
	cases map[string]types.Case
}

// NewMemoryCases creates a source holding cases.
func NewMemoryCases(cases ...types.Case) *MemoryCases {
	m := &MemoryCases{cases: make(map[string]types.Case)}
	for _, c := range cases {
		m.Put(c)
	}
	return m
}

// Put adds or replaces a case.
func (m *MemoryCases) Put(c types.Case) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[c.ID] = c
}

func (m *MemoryCases) GetCase(_ context.Context, id string) (*types.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// MemoryAccess is an in-memory AccessGate.
type MemoryAccess struct {
	mu         sync.RWMutex
	requesters map[string]types.Requester
}

// NewMemoryAccess creates a gate knowing requesters.
func NewMemoryAccess(requesters ...types.Requester) *MemoryAccess {
	m := &MemoryAccess{requesters: make(map[string]types.Requester)}
	for _, r := range requesters {
		m.Put(r)
	}
	return m
}

// Put adds or replaces a requester.
func (m *MemoryAccess) Put(r types.Requester) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requesters[r.ID] = r
}

func (m *MemoryAccess) Requester(_ context.Context, id string) (*types.Requester, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requesters[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}
