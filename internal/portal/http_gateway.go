package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jonathan/conciliation-filer/internal/proxy"
)

// DefaultTimeout bounds a single portal request.
const DefaultTimeout = 45 * time.Second

// maxPageBytes caps how much of a confirmation page is read.
const maxPageBytes = 4 << 20

// HTTPGateway posts the filing form straight to the authority's submission
// endpoint through the identity's proxy.
type HTTPGateway struct {
	pacer     Pacer
	selectors Selectors
	timeout   time.Duration
	log       logrus.FieldLogger
	// base is cloned per identity so each session gets its own proxy setting.
	base *http.Transport
}

// HTTPOptions configures an HTTPGateway.
type HTTPOptions struct {
	Timeout   time.Duration
	Selectors Selectors
	Logger    logrus.FieldLogger
	// Transport is the template transport; nil uses http.DefaultTransport.
	Transport *http.Transport
}

// NewHTTPGateway creates a gateway driven by pacer.
func NewHTTPGateway(pacer Pacer, opts HTTPOptions) *HTTPGateway {
	g := &HTTPGateway{
		pacer:     pacer,
		selectors: opts.Selectors,
		timeout:   opts.Timeout,
		log:       opts.Logger,
		base:      opts.Transport,
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.log == nil {
		g.log = logrus.StandardLogger()
	}
	if g.base == nil {
		g.base = http.DefaultTransport.(*http.Transport)
	}
	return g
}

func (g *HTTPGateway) client(id proxy.Identity) (*http.Client, error) {
	tr := g.base.Clone()
	proxyURL, err := id.ProxyURL()
	if err != nil {
		return nil, err
	}
	if proxyURL != nil {
		tr.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Transport: tr, Timeout: g.timeout}, nil
}

// Submit implements Gateway.
func (g *HTTPGateway) Submit(ctx context.Context, sub Submission) Result {
	endpoint := sub.Decision.Authority.SubmissionURL
	log := g.log.WithFields(logrus.Fields{
		"authority": sub.Decision.Authority.ID,
		"proxy_id":  sub.Identity.ID,
	})

	client, err := g.client(sub.Identity)
	if err != nil {
		return Unreachable("proxy configuration: %v", err)
	}
	// each submission gets its own transport; drop its pooled connections on exit
	defer client.CloseIdleConnections()
	if err := g.pacer.Wait(ctx, sub.Identity); err != nil {
		return Unreachable("rate limiter: %v", err)
	}
	if err := proxy.Sleep(ctx, g.pacer.InterActionDelay()); err != nil {
		return Unreachable("interrupted: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(FormValues(sub).Encode()))
	if err != nil {
		return Rejected(fmt.Sprintf("invalid submission endpoint %q", endpoint))
	}
	req.Header = g.pacer.Headers()
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		log.WithError(err).Warn("portal request failed")
		return Unreachable("portal request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil && !errors.Is(err, io.EOF) {
		return Unreachable("failed to read portal response: %v", err)
	}

	pageURL := endpoint
	if resp.Request != nil && resp.Request.URL != nil {
		pageURL = resp.Request.URL.String()
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return Unreachable("portal returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		res := ParseConfirmation(string(body), pageURL, g.selectors)
		if res.Outcome == OutcomeCaptchaBlocked || (res.Outcome == OutcomeRejected && res.Reason != unrecognizedPage) {
			return res
		}
		return Rejected(fmt.Sprintf("portal returned HTTP %d", resp.StatusCode))
	}

	res := ParseConfirmation(string(body), pageURL, g.selectors)
	log.WithField("outcome", res.Outcome).Info("portal submission finished")
	return res
}
