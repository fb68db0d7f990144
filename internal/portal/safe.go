package portal

import "context"

type safeGateway struct {
	next Gateway
}

// Safe wraps g so that a panic or an untagged result becomes Unreachable. A
// success carrying no folio is Rejected since the filing may have gone through.
func Safe(g Gateway) Gateway {
	if s, ok := g.(*safeGateway); ok {
		return s
	}
	return &safeGateway{next: g}
}

func (s *safeGateway) Submit(ctx context.Context, sub Submission) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Unreachable("gateway panic: %v", r)
		}
	}()
	if sub.Decision == nil || sub.Case == nil {
		return Rejected("incomplete submission")
	}
	res = s.next.Submit(ctx, sub)
	switch res.Outcome {
	case OutcomeSuccess:
		if res.Folio == "" {
			return Rejected("portal reported success without a folio")
		}
	case OutcomeCaptchaBlocked, OutcomeRejected, OutcomeUnreachable:
	default:
		return Unreachable("gateway returned unknown outcome %q", res.Outcome)
	}
	return res
}
