package portal

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
)

// Simulated files nothing. It answers every submission with a plausible
// folio and no hearing date, for local runs and demos.
type Simulated struct {
	// CaptchaStates lists state codes whose portals always answer with a CAPTCHA.
	CaptchaStates []string
	Now           func() time.Time
}

// Submit implements Gateway.
func (s *Simulated) Submit(ctx context.Context, sub Submission) Result {
	if err := ctx.Err(); err != nil {
		return Unreachable("interrupted: %v", err)
	}
	state := sub.Decision.StateCode()
	for _, c := range s.CaptchaStates {
		if strings.EqualFold(c, state) {
			return CaptchaBlocked(sub.Decision.Authority.SubmissionURL)
		}
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	prefix := "CCL"
	if sub.Decision.Competence == jurisdiction.Federal {
		prefix = "CFCRL"
	}
	return Result{
		Outcome:   OutcomeSuccess,
		Folio:     fmt.Sprintf("%s-%s-%s-%06d", prefix, state, now().Format("20060102"), rand.IntN(1_000_000)),
		PortalURL: sub.Decision.Authority.SubmissionURL,
	}
}
