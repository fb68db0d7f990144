package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/conciliation-filer/internal/jobs"
	"github.com/jonathan/conciliation-filer/internal/server/middleware"
	"github.com/jonathan/conciliation-filer/internal/types"
)

const maxBodyBytes = 64 << 10

// createJobResponse is the body of a 202 from POST /jobs.
type createJobResponse struct {
	JobID  string          `json:"job_id"`
	Status types.JobStatus `json:"status"`
}

// requester returns the authenticated requester or writes a 401.
func (s *Server) requester(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := middleware.GetRequesterID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return "", false
	}
	return id, true
}

// handleCreateJob handles POST /jobs.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.requester(w, r)
	if !ok {
		return
	}

	var req jobs.CreateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is empty")
		}
		s.coreError(w, r, &ErrValidation{Field: "body", Message: err.Error()})
		return
	}
	req.CaseID = strings.TrimSpace(req.CaseID)
	if req.CaseID == "" {
		s.coreError(w, r, &ErrValidation{Field: "case_id", Message: "is required"})
		return
	}
	req.RequesterID = requesterID

	job, err := s.orch.Create(r.Context(), req)
	if err != nil {
		s.coreError(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+job.ID)
	s.jsonResponse(w, http.StatusAccepted, createJobResponse{JobID: job.ID, Status: job.Status})
}

// handleGetJob handles GET /jobs/{id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.requester(w, r)
	if !ok {
		return
	}
	logs, err := intQuery(r, "logs", 0)
	if err != nil {
		s.coreError(w, r, err)
		return
	}
	view, err := s.orch.Get(r.Context(), r.PathValue("id"), requesterID, logs)
	if err != nil {
		s.coreError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

// handleCancelJob handles POST /jobs/{id}/cancel.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.requester(w, r)
	if !ok {
		return
	}
	job, err := s.orch.Cancel(r.Context(), r.PathValue("id"), requesterID)
	if err != nil {
		s.coreError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

// handleResumeJob handles POST /jobs/{id}/resume.
func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.requester(w, r)
	if !ok {
		return
	}
	job, err := s.orch.Resume(r.Context(), r.PathValue("id"), requesterID)
	if err != nil {
		s.coreError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, job)
}

// handleListJobs handles GET /jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.requester(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	status := types.JobStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		s.coreError(w, r, &ErrValidation{Field: "status", Message: "unknown status " + strconv.Quote(string(status))})
		return
	}
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		s.coreError(w, r, err)
		return
	}

	res, err := s.orch.List(r.Context(), jobs.ListQuery{
		RequesterID: requesterID,
		Status:      status,
		CaseID:      q.Get("case_id"),
		Limit:       limit,
	})
	if err != nil {
		s.coreError(w, r, err)
		return
	}
	if res.Jobs == nil {
		res.Jobs = []types.Job{}
	}
	s.jsonResponse(w, http.StatusOK, res)
}

// handleJobEvents handles GET /jobs/{id}/events: the job's current snapshot,
// then every change until the job reaches a terminal state.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.requester(w, r)
	if !ok {
		return
	}
	if s.events == nil {
		s.errorResponse(w, http.StatusNotImplemented, "event stream not available")
		return
	}
	jobID := r.PathValue("id")

	// Subscribe before reading the snapshot so no change falls in between.
	events, unsubscribe, err := s.events.Open(r.Context(), jobID)
	if err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("failed to open event stream")
		s.errorResponse(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}
	defer unsubscribe()

	job, err := s.orch.Authorize(r.Context(), jobID, requesterID)
	if err != nil {
		s.coreError(w, r, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := sse.WriteJob(job); err != nil {
		return
	}
	if job.Status.Terminal() {
		sse.WriteComplete(job.ID, job.Status)
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := sse.WriteComment("ping"); err != nil {
				return
			}
		case ev, open := <-events:
			if !open {
				sse.WriteError("event stream closed")
				return
			}
			if err := sse.WriteFeedEvent(ev); err != nil {
				return
			}
			if ev.Terminal() {
				sse.WriteComplete(ev.JobID, ev.Job.Status)
				return
			}
		}
	}
}

// intQuery parses a non-negative integer query parameter.
func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &ErrValidation{Field: name, Message: "must be a non-negative integer"}
	}
	return n, nil
}
