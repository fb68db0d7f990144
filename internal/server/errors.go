// Package server exposes the filing core over an HTTP JSON API.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/conciliation-filer/internal/jobs"
	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
	"github.com/jonathan/conciliation-filer/internal/types"
)

// ErrValidation indicates request validation failure.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the HTTP status code for an error returned by the core.
func HTTPStatus(err error) int {
	var (
		validation *ErrValidation
		caseErr    *types.CaseValidationError
		unknown    *jurisdiction.UnknownStateError
		noAuth     *jurisdiction.NoAuthorityError
		refErr     *jurisdiction.ReferenceError
	)
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.As(err, &validation), errors.As(err, &caseErr), errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, jobs.ErrCaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrActiveJob), errors.Is(err, jobs.ErrNotCancellable), errors.Is(err, jobs.ErrNotResumable):
		return http.StatusConflict
	case errors.As(err, &noAuth):
		return http.StatusUnprocessableEntity
	case errors.As(err, &refErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string             `json:"error"`
	Code   string             `json:"code,omitempty"`
	Fields []types.FieldError `json:"fields,omitempty"`
}

// newErrorBody describes err for a client. Internal errors are not echoed.
func newErrorBody(err error, status int) errorBody {
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		return errorBody{Error: http.StatusText(status), Code: types.ErrCodeInternal}
	}
	body := errorBody{Error: err.Error()}
	var (
		caseErr *types.CaseValidationError
		unknown *jurisdiction.UnknownStateError
		noAuth  *jurisdiction.NoAuthorityError
	)
	switch {
	case errors.As(err, &caseErr):
		body.Code = types.ErrCodeValidation
		body.Fields = caseErr.Fields
	case errors.As(err, &unknown):
		body.Code = types.ErrCodeUnknownState
	case errors.As(err, &noAuth):
		body.Code = types.ErrCodeNoAuthority
	case errors.Is(err, jobs.ErrActiveJob):
		body.Code = "active_job_exists"
	}
	return body
}
