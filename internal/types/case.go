// Package types provides the value objects shared by the filing core: cases, jobs, log entries and results.
package types

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// TerminationType is how the employment relationship ended.
type TerminationType string

const (
	TerminationDismissal               TerminationType = "dismissal"
	TerminationConstructiveResignation TerminationType = "constructive_resignation"
	TerminationEmployerRescission      TerminationType = "employer_rescission"
)

// Valid reports whether t is one of the known termination types.
func (t TerminationType) Valid() bool {
	switch t {
	case TerminationDismissal, TerminationConstructiveResignation, TerminationEmployerRescission:
		return true
	}
	return false
}

// Case is the worker's case record as provided by the surrounding application.
// The core reads it but never writes it.
type Case struct {
	ID               string          `json:"id" validate:"required"`
	EmployerName     string          `json:"employer_name" validate:"required"`
	EmployerState    string          `json:"employer_state" validate:"required"`
	EmployerAddress  string          `json:"employer_address,omitempty"`
	EmployerIndustry *string         `json:"employer_industry,omitempty"`
	WorkerUserID     string          `json:"worker_user_id" validate:"required"`
	WorkerName       string          `json:"worker_name" validate:"required"`
	WorkerCURP       string          `json:"worker_curp,omitempty" validate:"omitempty,len=18,alphanum"`
	WorkerEmail      string          `json:"worker_email,omitempty" validate:"omitempty,email"`
	WorkerPhone      string          `json:"worker_phone,omitempty"`
	LawyerID         *string         `json:"lawyer_id,omitempty"`
	EmploymentStart  *time.Time      `json:"employment_start,omitempty"`
	TerminationDate  *time.Time      `json:"termination_date" validate:"required"`
	TerminationType  TerminationType `json:"termination_type" validate:"required,termination_type"`
	DailySalary      float64         `json:"daily_salary" validate:"gte=0"`
}

// Industry returns the employer industry code, or "" when unset.
func (c *Case) Industry() string {
	if c.EmployerIndustry == nil {
		return ""
	}
	return strings.TrimSpace(*c.EmployerIndustry)
}

// FieldError names one case field that failed validation.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// CaseValidationError reports every field that prevents a case from being filed.
type CaseValidationError struct {
	CaseID string
	Fields []FieldError
}

func (e *CaseValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return fmt.Sprintf("case %s is not valid for filing: %s", e.CaseID, strings.Join(parts, "; "))
}

// Has reports whether field failed validation.
func (e *CaseValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

var caseValidator = newCaseValidator()

func newCaseValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("termination_type", func(fl validator.FieldLevel) bool {
		return TerminationType(fl.Field().String()).Valid()
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateForCreation checks the fields that must exist before a job can be created:
// the termination type and termination date.
func (c *Case) ValidateForCreation() error {
	var fields []FieldError
	if c.TerminationDate == nil || c.TerminationDate.IsZero() {
		fields = append(fields, FieldError{Field: "termination_date", Reason: "required"})
	}
	if c.TerminationType == "" {
		fields = append(fields, FieldError{Field: "termination_type", Reason: "required"})
	} else if !c.TerminationType.Valid() {
		fields = append(fields, FieldError{Field: "termination_type", Reason: "unknown value " + string(c.TerminationType)})
	}
	if len(fields) > 0 {
		return &CaseValidationError{CaseID: c.ID, Fields: fields}
	}
	return nil
}

// Validate runs the full struct validation. When strict is set, the contact and
// salary fields the portals ask for are also required.
func (c *Case) Validate(strict bool) error {
	var fields []FieldError
	if err := caseValidator.Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("failed to validate case %s: %w", c.ID, err)
		}
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Reason: fe.Tag()})
		}
	}
	if strict {
		if c.WorkerEmail == "" && c.WorkerPhone == "" {
			fields = append(fields, FieldError{Field: "worker_contact", Reason: "email or phone required"})
		}
		if c.DailySalary <= 0 {
			fields = append(fields, FieldError{Field: "daily_salary", Reason: "must be positive"})
		}
		if c.EmploymentStart == nil {
			fields = append(fields, FieldError{Field: "employment_start", Reason: "required"})
		}
	}
	if c.EmploymentStart != nil && c.TerminationDate != nil && c.TerminationDate.Before(*c.EmploymentStart) {
		fields = append(fields, FieldError{Field: "termination_date", Reason: "before employment_start"})
	}
	if len(fields) == 0 {
		return nil
	}
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return &CaseValidationError{CaseID: c.ID, Fields: fields}
}
