// Package portal submits filings to conciliation-authority portals.
//
// A Gateway never returns an error: every failure is folded into a Result
// whose Outcome tells the caller what happened.
package portal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
	"github.com/jonathan/conciliation-filer/internal/proxy"
	"github.com/jonathan/conciliation-filer/internal/types"
)

// Outcome tags a Result.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeCaptchaBlocked Outcome = "captcha_blocked"
	OutcomeRejected       Outcome = "rejected"
	OutcomeUnreachable    Outcome = "unreachable"
)

// Submission is everything a gateway needs to file one case.
type Submission struct {
	Decision *jurisdiction.Decision
	Identity proxy.Identity
	Case     *types.Case
	Modality types.Modality
}

// Result is the outcome of a submission. Only the fields relevant to Outcome are set.
type Result struct {
	Outcome     Outcome    `json:"outcome"`
	Folio       string     `json:"folio,omitempty"`
	HearingDate *time.Time `json:"hearing_date,omitempty"`
	HearingTime string     `json:"hearing_time,omitempty"`
	PortalURL   string     `json:"portal_url,omitempty"`
	ReceiptURL  string     `json:"receipt_url,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Gateway submits a filing to the authority named in the submission's decision.
type Gateway interface {
	Submit(ctx context.Context, sub Submission) Result
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, sub Submission) Result

func (f GatewayFunc) Submit(ctx context.Context, sub Submission) Result {
	return f(ctx, sub)
}

// Pacer supplies human-behavior timing and headers. *proxy.Pool implements it.
type Pacer interface {
	InterActionDelay() time.Duration
	TypingDelay() time.Duration
	UserAgent() string
	Headers() http.Header
	Wait(ctx context.Context, id proxy.Identity) error
}

// CaptchaBlocked builds a captcha result.
func CaptchaBlocked(portalURL string) Result {
	return Result{Outcome: OutcomeCaptchaBlocked, PortalURL: portalURL, Reason: "portal presented a CAPTCHA challenge"}
}

// Rejected builds a rejection result.
func Rejected(reason string) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason}
}

// Unreachable builds a transport-failure result.
func Unreachable(format string, args ...any) Result {
	return Result{Outcome: OutcomeUnreachable, Reason: fmt.Sprintf(format, args...)}
}
