package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/conciliation-filer/internal/jobs"
	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
	"github.com/jonathan/conciliation-filer/internal/types"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "limit", Message: "must be a positive integer"}
	assert.Equal(t, "validation error: limit - must be a positive integer", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"ErrValidation", &ErrValidation{Field: "case_id", Message: "required"}, http.StatusBadRequest},
		{"CaseValidationError", &types.CaseValidationError{CaseID: "c1"}, http.StatusBadRequest},
		{"UnknownStateError", &jurisdiction.UnknownStateError{Input: "Atlantis"}, http.StatusBadRequest},
		{"ErrForbidden", jobs.ErrForbidden, http.StatusForbidden},
		{"ErrJobNotFound", jobs.ErrJobNotFound, http.StatusNotFound},
		{"wrapped ErrCaseNotFound", fmt.Errorf("failed to create job: %w", jobs.ErrCaseNotFound), http.StatusNotFound},
		{"ErrActiveJob", jobs.ErrActiveJob, http.StatusConflict},
		{"ErrNotCancellable", jobs.ErrNotCancellable, http.StatusConflict},
		{"ErrNotResumable", jobs.ErrNotResumable, http.StatusConflict},
		{"NoAuthorityError", &jurisdiction.NoAuthorityError{Competence: jurisdiction.Federal, StateCode: "ZAC"}, http.StatusUnprocessableEntity},
		{"ReferenceError", &jurisdiction.ReferenceError{Message: "down"}, http.StatusServiceUnavailable},
		{"Unknown error", assert.AnError, http.StatusInternalServerError},
		{"Nil error", nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}

func TestNewErrorBody(t *testing.T) {
	caseErr := &types.CaseValidationError{
		CaseID: "c1",
		Fields: []types.FieldError{{Field: "employer_state", Reason: "required"}},
	}
	body := newErrorBody(caseErr, HTTPStatus(caseErr))
	assert.Equal(t, types.ErrCodeValidation, body.Code)
	assert.Equal(t, caseErr.Fields, body.Fields)

	body = newErrorBody(jobs.ErrActiveJob, http.StatusConflict)
	assert.Equal(t, "active_job_exists", body.Code)
	assert.Equal(t, jobs.ErrActiveJob.Error(), body.Error)

	body = newErrorBody(fmt.Errorf("pool: connection reset by peer"), http.StatusInternalServerError)
	assert.NotContains(t, body.Error, "connection reset")
	assert.Equal(t, types.ErrCodeInternal, body.Code)
}
