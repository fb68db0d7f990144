package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/conciliation-filer/internal/config"
	"github.com/jonathan/conciliation-filer/internal/feed"
	"github.com/jonathan/conciliation-filer/internal/jobs"
	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
	"github.com/jonathan/conciliation-filer/internal/logger"
	"github.com/jonathan/conciliation-filer/internal/portal"
	"github.com/jonathan/conciliation-filer/internal/proxy"
	"github.com/jonathan/conciliation-filer/internal/types"
)

const (
	workerID = "u-worker"
	otherID  = "u-other"
)

// gate is a gateway that holds every submission until released.
type gate struct {
	release chan struct{}
	entered chan struct{}
}

func newGate() *gate {
	return &gate{release: make(chan struct{}), entered: make(chan struct{}, 8)}
}

func (g *gate) Submit(ctx context.Context, sub portal.Submission) portal.Result {
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return portal.Unreachable("interrupted: %v", ctx.Err())
	}
	return portal.Result{Outcome: portal.OutcomeSuccess, Folio: "CCL-JAL-0001", PortalURL: sub.Decision.Authority.SubmissionURL}
}

type testServer struct {
	srv    *Server
	orch   *jobs.Orchestrator
	cases  *jobs.MemoryCases
	broker *feed.Broker
	tokens *JWTService
}

func newTestServer(t *testing.T, gw portal.Gateway, tune ...func(*config.ServerConfig)) *testServer {
	t.Helper()
	ref, err := jurisdiction.NewDefaultReference()
	require.NoError(t, err)
	resolver := jurisdiction.NewResolver(ref)

	pcfg := proxy.DefaultConfig()
	pcfg.RequestsPerMinute = 0
	pool, err := proxy.NewPool(pcfg, []proxy.Identity{{ID: "px-1", DailyQuota: 50, Active: true}}, proxy.WithLogger(logger.Nop()))
	require.NoError(t, err)

	broker := feed.NewBroker()
	cases := jobs.NewMemoryCases()
	jcfg := jobs.DefaultConfig()
	jcfg.BackoffBase = time.Millisecond
	orch, err := jobs.New(jobs.Deps{
		Store: jobs.NewMemoryStore(),
		Cases: cases,
		Access: jobs.NewMemoryAccess(
			types.Requester{ID: workerID, Role: types.RoleWorker, CreditsRemaining: 5},
			types.Requester{ID: otherID, Role: types.RoleWorker, CreditsRemaining: 5},
		),
		Resolver: resolver,
		Pool:     pool,
		Gateway:  gw,
		Feed:     broker,
		Logger:   logger.Nop(),
	}, jcfg)
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	cfg := config.ServerConfig{
		CORSOrigins: []string{"*"},
		JWT:         config.JWTConfig{Secret: testSecret, ExpirationHours: 1},
		RateLimit:   config.RateLimitConfig{Enabled: false},
	}
	for _, fn := range tune {
		fn(&cfg)
	}
	tokens := NewJWTService(&cfg.JWT)
	srv, err := New(cfg, Deps{
		Orchestrator: orch,
		Resolver:     resolver,
		Broker:       broker,
		Pool:         pool,
		Tokens:       tokens.AsTokenValidator(),
		Logger:       logger.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(srv.rateLimiter.Stop)

	return &testServer{srv: srv, orch: orch, cases: cases, broker: broker, tokens: tokens}
}

func (ts *testServer) putCase(id string) {
	terminated := time.Now().AddDate(0, 0, -10)
	start := terminated.AddDate(-2, 0, 0)
	ts.cases.Put(types.Case{
		ID:              id,
		EmployerName:    "Muebles Tapatíos SA de CV",
		EmployerState:   "Jalisco",
		WorkerUserID:    workerID,
		WorkerName:      "José Hernández",
		WorkerEmail:     "jose@example.com",
		EmploymentStart: &start,
		TerminationDate: &terminated,
		TerminationType: types.TerminationDismissal,
		DailySalary:     380,
	})
}

func (ts *testServer) do(t *testing.T, method, path, requesterID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if requesterID != "" {
		token, err := ts.tokens.GenerateToken(requesterID, types.RoleWorker)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func successGateway() portal.Gateway {
	return portal.GatewayFunc(func(_ context.Context, sub portal.Submission) portal.Result {
		return portal.Result{Outcome: portal.OutcomeSuccess, Folio: "CCL-JAL-0042", PortalURL: sub.Decision.Authority.SubmissionURL}
	})
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(config.ServerConfig{}, Deps{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, successGateway())

	w := ts.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "proxy_pool")

	ts.srv.ready = func(context.Context) error { return errors.New("database unreachable") }
	w = ts.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode[map[string]any](t, w)["status"])
}

func TestRoutes_RequireAuth(t *testing.T) {
	ts := newTestServer(t, successGateway())
	for _, route := range [][2]string{
		{http.MethodPost, "/jobs"},
		{http.MethodGet, "/jobs"},
		{http.MethodGet, "/jobs/abc"},
		{http.MethodPost, "/jobs/abc/cancel"},
		{http.MethodGet, "/jobs/abc/events"},
		{http.MethodGet, "/jurisdiction?state=JAL"},
	} {
		w := ts.do(t, route[0], route[1], "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, route)
	}
}

func TestCreateAndGetJob(t *testing.T) {
	ts := newTestServer(t, successGateway())
	ts.putCase("case-1")

	w := ts.do(t, http.MethodPost, "/jobs", workerID, `{"case_id": "case-1", "preferred_modality": "remote"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	created := decode[createJobResponse](t, w)
	require.NotEmpty(t, created.JobID)
	assert.Equal(t, types.JobPending, created.Status)
	assert.Equal(t, "/jobs/"+created.JobID, w.Header().Get("Location"))

	ts.orch.Wait()

	w = ts.do(t, http.MethodGet, "/jobs/"+created.JobID+"?logs=2", workerID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[jobs.JobView](t, w)
	assert.Equal(t, types.JobCompleted, view.Job.Status)
	assert.Equal(t, 100, view.Job.Progress)
	require.NotNil(t, view.Job.Result)
	assert.Equal(t, "CCL-JAL-0042", view.Job.Result.Folio)
	assert.Equal(t, types.ModalityRemote, view.Job.Modality)
	assert.Len(t, view.Logs, 2)

	w = ts.do(t, http.MethodGet, "/jobs/"+created.JobID, otherID, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodGet, "/jobs/does-not-exist", workerID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/jobs/"+created.JobID+"?logs=-1", workerID, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateJob_Errors(t *testing.T) {
	g := newGate()
	ts := newTestServer(t, g)
	ts.putCase("case-1")
	defer close(g.release)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"empty body", "", http.StatusBadRequest, ""},
		{"malformed", `{"case_id":`, http.StatusBadRequest, ""},
		{"unknown field", `{"case_id": "case-1", "priority": "high"}`, http.StatusBadRequest, ""},
		{"missing case", `{"preferred_modality": "remote"}`, http.StatusBadRequest, ""},
		{"bad modality", `{"case_id": "case-1", "preferred_modality": "carrier pigeon"}`, http.StatusBadRequest, types.ErrCodeValidation},
		{"unknown case", `{"case_id": "case-404"}`, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/jobs", workerID, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[errorBody](t, w).Code)
			}
		})
	}

	w := ts.do(t, http.MethodPost, "/jobs", workerID, `{"case_id": "case-1"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	w = ts.do(t, http.MethodPost, "/jobs", workerID, `{"case_id": "case-1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "active_job_exists", decode[errorBody](t, w).Code)
}

func TestCancelAndResume(t *testing.T) {
	g := newGate()
	ts := newTestServer(t, g)
	ts.putCase("case-1")

	w := ts.do(t, http.MethodPost, "/jobs", workerID, `{"case_id": "case-1"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode[createJobResponse](t, w).JobID
	<-g.entered

	w = ts.do(t, http.MethodPost, "/jobs/"+jobID+"/resume", workerID, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/jobs/"+jobID+"/cancel", otherID, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/jobs/"+jobID+"/cancel", workerID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, types.JobCancelled, decode[types.Job](t, w).Status)

	w = ts.do(t, http.MethodPost, "/jobs/"+jobID+"/cancel", workerID, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/jobs/nope/cancel", workerID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	close(g.release)
	ts.orch.Wait()
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t, successGateway())
	ts.putCase("case-1")
	ts.putCase("case-2")

	for _, id := range []string{"case-1", "case-2"} {
		w := ts.do(t, http.MethodPost, "/jobs", workerID, `{"case_id": "`+id+`"}`)
		require.Equal(t, http.StatusAccepted, w.Code)
	}
	ts.orch.Wait()

	w := ts.do(t, http.MethodGet, "/jobs?status=completed", workerID, "")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[jobs.ListResult](t, w)
	assert.Len(t, res.Jobs, 2)
	assert.Equal(t, 2, res.Counts[types.JobCompleted])
	assert.Equal(t, 0, res.Counts[types.JobFailed])

	w = ts.do(t, http.MethodGet, "/jobs?case_id=case-2&limit=1", workerID, "")
	res = decode[jobs.ListResult](t, w)
	require.Len(t, res.Jobs, 1)
	assert.Equal(t, "case-2", res.Jobs[0].CaseID)

	w = ts.do(t, http.MethodGet, "/jobs", otherID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"jobs":[]`)

	w = ts.do(t, http.MethodGet, "/jobs?status=exploded", workerID, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(t, http.MethodGet, "/jobs?limit=many", workerID, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolve(t *testing.T) {
	ts := newTestServer(t, successGateway())

	w := ts.do(t, http.MethodGet, "/jurisdiction?state=Jalisco&termination_date="+time.Now().AddDate(0, 0, -50).Format(time.DateOnly), workerID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	dec := decode[jurisdiction.Decision](t, w)
	assert.Equal(t, jurisdiction.Local, dec.Competence)
	assert.Equal(t, "JAL", dec.StateCode())
	require.NotNil(t, dec.Deadline)
	assert.True(t, dec.Deadline.Urgent)

	w = ts.do(t, http.MethodGet, "/jurisdiction?state=Nuevo+Le%C3%B3n&industry=automotriz", workerID, "")
	require.Equal(t, http.StatusOK, w.Code)
	dec = decode[jurisdiction.Decision](t, w)
	assert.Equal(t, jurisdiction.Federal, dec.Competence)
	assert.Equal(t, "cfcrl-nle", dec.Authority.ID)
	assert.Nil(t, dec.Deadline)

	w = ts.do(t, http.MethodGet, "/jurisdiction?state=Atlantis", workerID, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ErrCodeUnknownState, decode[errorBody](t, w).Code)

	for _, q := range []string{"", "state=JAL&termination_date=14/10/2026", "state=JAL&termination_type=quit"} {
		w = ts.do(t, http.MethodGet, "/jurisdiction?"+q, workerID, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, successGateway(), func(c *config.ServerConfig) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, DefaultLimit: 2, DefaultWindow: time.Hour}
	})

	for i := 0; i < 2; i++ {
		w := ts.do(t, http.MethodGet, "/jobs", workerID, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}
	w := ts.do(t, http.MethodGet, "/jobs", workerID, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Buckets are per requester.
	w = ts.do(t, http.MethodGet, "/jobs", otherID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Health is never limited.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "", "").Code)
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, successGateway(), func(c *config.ServerConfig) {
		c.CORSOrigins = []string{"https://app.example.mx"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://app.example.mx")
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.mx", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

// sseEvent is one parsed event of a stream.
type sseEvent struct {
	name string
	data string
}

func readEvents(sc *bufio.Scanner, out chan<- sseEvent) {
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.name != "":
			out <- ev
			ev = sseEvent{}
		}
	}
	close(out)
}

func TestJobEvents_StreamsUntilTerminal(t *testing.T) {
	g := newGate()
	ts := newTestServer(t, g)
	ts.putCase("case-1")
	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	w := ts.do(t, http.MethodPost, "/jobs", workerID, `{"case_id": "case-1"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode[createJobResponse](t, w).JobID
	<-g.entered

	token, err := ts.tokens.GenerateToken(workerID, types.RoleWorker)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, httpSrv.URL+"/jobs/"+jobID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sseEvent, 64)
	go readEvents(bufio.NewScanner(resp.Body), events)

	first := <-events
	assert.Equal(t, "job", first.name)
	assert.Contains(t, first.data, `"status":"running"`)

	require.Eventually(t, func() bool { return ts.broker.Subscribers(jobID) == 1 }, time.Second, 5*time.Millisecond)
	close(g.release)

	var rest []sseEvent
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-events:
			if !ok {
				done = true
				continue
			}
			rest = append(rest, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
	require.GreaterOrEqual(t, len(rest), 2)
	final, last := rest[len(rest)-2], rest[len(rest)-1]
	assert.Equal(t, "job", final.name)
	assert.Contains(t, final.data, `"folio":"CCL-JAL-0001"`)
	assert.Equal(t, "complete", last.name)
	assert.Contains(t, last.data, `"status":"completed"`)
	assert.Eventually(t, func() bool { return ts.broker.Subscribers(jobID) == 0 }, time.Second, 5*time.Millisecond)
}

func TestJobEvents_TerminalJobClosesImmediately(t *testing.T) {
	ts := newTestServer(t, successGateway())
	ts.putCase("case-1")
	w := ts.do(t, http.MethodPost, "/jobs", workerID, `{"case_id": "case-1"}`)
	jobID := decode[createJobResponse](t, w).JobID
	ts.orch.Wait()

	w = ts.do(t, http.MethodGet, "/jobs/"+jobID+"/events", workerID, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "event: job\n")
	assert.Contains(t, body, "event: complete\n")

	w = ts.do(t, http.MethodGet, "/jobs/"+jobID+"/events", otherID, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// fixedSource streams events from a channel the test controls.
type fixedSource struct {
	ch     chan feed.Event
	err    error
	opened []string
	closed bool
}

func (f *fixedSource) Open(_ context.Context, jobID string) (<-chan feed.Event, func(), error) {
	f.opened = append(f.opened, jobID)
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.ch, func() { f.closed = true }, nil
}

func (ts *testServer) withEvents(t *testing.T, src feed.Source) *Server {
	t.Helper()
	srv, err := New(ts.srv.cfg, Deps{
		Orchestrator: ts.orch,
		Resolver:     ts.srv.resolver,
		Broker:       ts.broker,
		Events:       src,
		Tokens:       ts.tokens.AsTokenValidator(),
		Logger:       logger.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(srv.rateLimiter.Stop)
	return srv
}

func TestJobEvents_ReadsConfiguredSource(t *testing.T) {
	g := newGate()
	ts := newTestServer(t, g)
	ts.putCase("case-1")
	w := ts.do(t, http.MethodPost, "/jobs", workerID, `{"case_id": "case-1"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode[createJobResponse](t, w).JobID
	<-g.entered

	// an event only the configured source carries, as published by another process
	src := &fixedSource{ch: make(chan feed.Event, 1)}
	src.ch <- feed.Event{Type: feed.EventJob, JobID: jobID, Job: &types.Job{
		ID:     jobID,
		Status: types.JobCompleted,
		Result: &types.FilingResult{Folio: "CCL-JAL-REMOTE"},
	}}
	ts.srv = ts.withEvents(t, src)

	w = ts.do(t, http.MethodGet, "/jobs/"+jobID+"/events", workerID, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"folio":"CCL-JAL-REMOTE"`)
	assert.Contains(t, body, "event: complete\n")
	assert.Equal(t, []string{jobID}, src.opened)
	assert.True(t, src.closed)
	assert.Equal(t, 0, ts.broker.Subscribers(jobID))

	close(g.release)
}

func TestJobEvents_SourceUnavailable(t *testing.T) {
	ts := newTestServer(t, successGateway())
	ts.srv = ts.withEvents(t, &fixedSource{err: errors.New("redis: connection refused")})

	w := ts.do(t, http.MethodGet, "/jobs/abc/events", workerID, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
