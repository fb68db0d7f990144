// Package jurisdiction decides which conciliation authority is competent for a case
// and computes its prescription deadline.
package jurisdiction

import (
	"time"

	"github.com/jonathan/conciliation-filer/internal/types"
)

// Competence is the authority tier with jurisdiction over a case.
type Competence string

const (
	Federal Competence = "federal"
	Local   Competence = "local"
)

// PortalKind tells the gateway router how an authority's portal is driven.
type PortalKind string

const (
	PortalHTTP    PortalKind = "http"
	PortalBrowser PortalKind = "browser"
)

// Industry is a federal-jurisdiction industry entry (Art. 527 LFT).
type Industry struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Authority is the reference record of a conciliation center.
type Authority struct {
	ID             string     `json:"id"`
	Competence     Competence `json:"competence"`
	StateCode      string     `json:"state_code"`
	Name           string     `json:"name"`
	Address        string     `json:"address"`
	Phone          string     `json:"phone,omitempty"`
	Email          string     `json:"email,omitempty"`
	SubmissionURL  string     `json:"submission_url"`
	OperatingHours string     `json:"operating_hours"`
	PortalKind     PortalKind `json:"portal_kind"`
}

// Query is the input of a resolution. TerminationDate is optional; without it
// the decision carries no deadline.
type Query struct {
	State           string
	IndustryCode    string
	TerminationDate *time.Time
	TerminationType types.TerminationType
}

// Deadline is the prescription window of a case.
type Deadline struct {
	Date          time.Time `json:"date"`
	Days          int       `json:"days"`
	RemainingDays int       `json:"remaining_days"`
	Urgent        bool      `json:"urgent"`
	Expired       bool      `json:"expired"`
}

// Decision is the outcome of a resolution. It is computed fresh on every call.
type Decision struct {
	Competence Competence `json:"competence"`
	State      State      `json:"state"`
	Industry   *Industry  `json:"industry,omitempty"`
	Authority  Authority  `json:"authority"`
	Deadline   *Deadline  `json:"deadline,omitempty"`
}

// StateCode is shorthand for d.State.Code.
func (d *Decision) StateCode() string {
	return d.State.Code
}
