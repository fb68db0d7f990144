package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
	"github.com/jonathan/conciliation-filer/internal/types"
)

// handleResolve handles GET /jurisdiction, a preview of which authority a
// case would be filed with and how much of its prescription window is left.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := jurisdiction.Query{
		State:           strings.TrimSpace(q.Get("state")),
		IndustryCode:    strings.TrimSpace(q.Get("industry")),
		TerminationType: types.TerminationType(q.Get("termination_type")),
	}
	if query.State == "" {
		s.coreError(w, r, &ErrValidation{Field: "state", Message: "is required"})
		return
	}
	if query.TerminationType == "" {
		query.TerminationType = types.TerminationDismissal
	} else if !query.TerminationType.Valid() {
		s.coreError(w, r, &ErrValidation{Field: "termination_type", Message: "unknown termination type"})
		return
	}
	if raw := q.Get("termination_date"); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			s.coreError(w, r, &ErrValidation{Field: "termination_date", Message: "must be YYYY-MM-DD"})
			return
		}
		query.TerminationDate = &d
	}

	dec, err := s.resolver.Resolve(r.Context(), query)
	if err != nil {
		s.coreError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, dec)
}
