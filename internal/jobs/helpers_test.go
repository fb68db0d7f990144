package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonathan/conciliation-filer/internal/feed"
	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
	"github.com/jonathan/conciliation-filer/internal/logger"
	"github.com/jonathan/conciliation-filer/internal/portal"
	"github.com/jonathan/conciliation-filer/internal/proxy"
	"github.com/jonathan/conciliation-filer/internal/types"
)

const (
	workerID = "u-worker"
	adminID  = "u-admin"
	otherID  = "u-other"
)

var today = time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	d := today.AddDate(0, 0, -n)
	return &d
}

func ptr[T any](v T) *T { return &v }

func jaliscoCase(id string) types.Case {
	start := today.AddDate(-3, 0, 0)
	return types.Case{
		ID:              id,
		EmployerName:    "Muebles Tapatíos SA de CV",
		EmployerState:   "Jalisco",
		EmployerAddress: "Av. Vallarta 1234, Guadalajara",
		WorkerUserID:    workerID,
		WorkerName:      "José Hernández",
		WorkerEmail:     "jose@example.com",
		EmploymentStart: &start,
		TerminationDate: daysAgo(10),
		TerminationType: types.TerminationDismissal,
		DailySalary:     380,
	}
}

// recorder keeps every feed event. onEvent, when set, sees each event after
// it is recorded, on the publishing goroutine.
type recorder struct {
	mu      sync.Mutex
	events  []feed.Event
	onEvent func(feed.Event)
}

func (r *recorder) Publish(_ context.Context, ev feed.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.onEvent
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recorder) setOnEvent(fn func(feed.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvent = fn
}

func (r *recorder) progressOf(jobID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, ev := range r.events {
		if ev.Type == feed.EventJob && ev.JobID == jobID {
			out = append(out, ev.Job.Progress)
		}
	}
	return out
}

// scripted is a gateway replaying outcomes in order; the last one repeats.
type scripted struct {
	mu       sync.Mutex
	outcomes []portal.Result
	subs     []portal.Submission
	// entered is signalled and release awaited on every call when set.
	entered chan struct{}
	release chan struct{}
}

func (g *scripted) Submit(_ context.Context, sub portal.Submission) portal.Result {
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, sub)
	i := min(len(g.subs)-1, len(g.outcomes)-1)
	return g.outcomes[i]
}

func (g *scripted) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

func (g *scripted) last() portal.Submission {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.subs[len(g.subs)-1]
}

func success(folio string) portal.Result {
	return portal.Result{Outcome: portal.OutcomeSuccess, Folio: folio, PortalURL: "https://portal.example/ok"}
}

type harness struct {
	o      *Orchestrator
	store  *MemoryStore
	cases  *MemoryCases
	access *MemoryAccess
	pool   *proxy.Pool
	feed   *recorder
	gw     *scripted
}

func newHarness(t *testing.T, gw *scripted, identities []proxy.Identity, tune ...func(*Config)) *harness {
	t.Helper()
	ref, err := jurisdiction.NewDefaultReference()
	require.NoError(t, err)
	resolver := jurisdiction.NewResolver(ref, jurisdiction.WithClock(func() time.Time {
		return today.Add(12 * time.Hour)
	}))

	if identities == nil {
		identities = []proxy.Identity{
			{ID: "px-jal", StateAffinity: "JAL", DailyQuota: 10, Active: true},
			{ID: "px-any", DailyQuota: 10, Active: true},
		}
	}
	pcfg := proxy.DefaultConfig()
	pcfg.RequestsPerMinute = 0
	pool, err := proxy.NewPool(pcfg, identities, proxy.WithLogger(logger.Nop()))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.JobTimeout = 10 * time.Second
	for _, fn := range tune {
		fn(&cfg)
	}

	h := &harness{
		store:  NewMemoryStore(),
		cases:  NewMemoryCases(),
		access: NewMemoryAccess(
			types.Requester{ID: workerID, Role: types.RoleWorker, CreditsRemaining: 3},
			types.Requester{ID: adminID, Role: types.RoleAdmin},
			types.Requester{ID: otherID, Role: types.RoleWorker, CreditsRemaining: 3},
		),
		pool: pool,
		feed: &recorder{},
		gw:   gw,
	}
	h.o, err = New(Deps{
		Store:    h.store,
		Cases:    h.cases,
		Access:   h.access,
		Resolver: resolver,
		Pool:     pool,
		Gateway:  gw,
		Feed:     h.feed,
		Logger:   logger.Nop(),
	}, cfg)
	require.NoError(t, err)
	t.Cleanup(h.o.Close)
	return h
}

func (h *harness) create(t *testing.T, c types.Case) *types.Job {
	t.Helper()
	h.cases.Put(c)
	job, err := h.o.Create(context.Background(), CreateRequest{CaseID: c.ID, RequesterID: workerID})
	require.NoError(t, err)
	return job
}

// await polls the store until cond holds for the job.
func (h *harness) await(t *testing.T, jobID string, cond func(*types.Job) bool) *types.Job {
	t.Helper()
	var job *types.Job
	require.Eventually(t, func() bool {
		j, err := h.store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return cond(j)
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func (h *harness) awaitStatus(t *testing.T, jobID string, status types.JobStatus) *types.Job {
	t.Helper()
	return h.await(t, jobID, func(j *types.Job) bool { return j.Status == status })
}

func (h *harness) logs(t *testing.T, jobID string) []types.LogEntry {
	t.Helper()
	logs, err := h.store.RecentLogs(context.Background(), jobID, 0)
	require.NoError(t, err)
	return logs
}

func countSeverity(logs []types.LogEntry, sev types.Severity) int {
	n := 0
	for _, l := range logs {
		if l.Severity == sev {
			n++
		}
	}
	return n
}

func (h *harness) usesToday() int {
	total := 0
	for _, id := range h.pool.Snapshot() {
		total += id.UsesToday
	}
	return total
}
