package types

import (
	"time"
)

// JobStatus is the lifecycle state of a filing job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Active reports whether the status counts against the one-job-per-case limit.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobRunning
}

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	return s.Active() || s.Terminal()
}

// AllJobStatuses lists every status in lifecycle order.
func AllJobStatuses() []JobStatus {
	return []JobStatus{JobPending, JobRunning, JobCompleted, JobFailed, JobCancelled}
}

// Step labels recorded in Job.CurrentStep.
const (
	StepQueued          = "queued"
	StepValidating      = "validating"
	StepResolving       = "resolving_jurisdiction"
	StepAcquiringProxy  = "acquiring_proxy"
	StepSubmitting      = "submitting"
	StepCaptchaPending  = "captcha_pending"
	StepCompleted       = "completed"
	StepFailed          = "failed"
	StepCancelledByUser = "cancelled_by_user"
)

// Modality is how the worker prefers to attend the conciliation hearing.
type Modality string

const (
	ModalityInPerson Modality = "in_person"
	ModalityRemote   Modality = "remote"
)

// Valid reports whether m is empty or a known modality.
func (m Modality) Valid() bool {
	return m == "" || m == ModalityInPerson || m == ModalityRemote
}

// Error codes stored in JobError.Code.
const (
	ErrCodeValidation          = "validation_error"
	ErrCodePrescriptionExpired = "prescription_expired"
	ErrCodeUnknownState        = "unknown_state"
	ErrCodeNoAuthority         = "no_authority_configured"
	ErrCodeProxyExhausted      = "proxy_exhausted"
	ErrCodePortalRejected      = "portal_rejected"
	ErrCodePortalUnreachable   = "portal_unreachable"
	ErrCodeInternal            = "internal_error"
)

// JobError is the structured failure reason of a job.
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// FilingResult is what the authority returned for an accepted filing.
type FilingResult struct {
	Folio            string     `json:"folio"`
	HearingDate      *time.Time `json:"hearing_date,omitempty"`
	HearingTime      string     `json:"hearing_time,omitempty"`
	HearingProposed  bool       `json:"hearing_proposed,omitempty"`
	AuthorityName    string     `json:"authority_name"`
	AuthorityAddress string     `json:"authority_address,omitempty"`
	PortalURL        string     `json:"portal_url,omitempty"`
	ReceiptURL       string     `json:"receipt_url,omitempty"`
}

// Job is one filing attempt for a case.
type Job struct {
	ID          string        `json:"id"`
	CaseID      string        `json:"case_id"`
	RequesterID string        `json:"requester_id"`
	Status      JobStatus     `json:"status"`
	CurrentStep string        `json:"current_step"`
	Progress    int           `json:"progress"`
	Modality    Modality      `json:"modality,omitempty"`
	SkipChecks  bool          `json:"skip_validation,omitempty"`
	Attempts    int           `json:"attempts"`
	Error       *JobError     `json:"error,omitempty"`
	Result      *FilingResult `json:"result,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// AwaitingIntervention reports whether the job is paused on a CAPTCHA.
func (j *Job) AwaitingIntervention() bool {
	return j.Status == JobPending && j.CurrentStep == StepCaptchaPending
}

// Severity of a log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEntry is one append-only line of a job's history.
type LogEntry struct {
	Seq       int64     `json:"seq"`
	JobID     string    `json:"job_id"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
