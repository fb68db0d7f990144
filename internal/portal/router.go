package portal

import (
	"context"

	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
)

// Router dispatches a submission on the authority's portal kind. Browser
// portals fall back to HTTP when no browser gateway is configured.
type Router struct {
	HTTP    Gateway
	Browser Gateway
}

// Submit implements Gateway.
func (r *Router) Submit(ctx context.Context, sub Submission) Result {
	g := r.HTTP
	if sub.Decision != nil && sub.Decision.Authority.PortalKind == jurisdiction.PortalBrowser && r.Browser != nil {
		g = r.Browser
	}
	if g == nil {
		return Unreachable("no gateway configured")
	}
	return g.Submit(ctx, sub)
}
