package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/conciliation-filer/internal/proxy"
)

// BrowserForm maps form field keys to CSS selectors on a portal page.
type BrowserForm struct {
	Fields map[string]string `mapstructure:"fields"`
	Submit string            `mapstructure:"submit"`
	// Ready is waited for before the form is filled.
	Ready string `mapstructure:"ready"`
	// Done is waited for after submitting; defaults to "body".
	Done string `mapstructure:"done"`
}

// DefaultBrowserForm selects inputs by name attribute.
func DefaultBrowserForm() BrowserForm {
	fields := make(map[string]string, len(FormOrder))
	for _, key := range FormOrder {
		fields[key] = fmt.Sprintf(`[name="%s"]`, key)
	}
	return BrowserForm{
		Fields: fields,
		Submit: `button[type="submit"], input[type="submit"]`,
		Ready:  "form",
		Done:   "body",
	}
}

// BrowserGateway drives a headless Chrome session through the identity's proxy,
// filling the portal form at human pace.
type BrowserGateway struct {
	pacer     Pacer
	form      BrowserForm
	selectors Selectors
	timeout   time.Duration
	log       logrus.FieldLogger
	// settle is waited after navigation for client-side rendering.
	settle  time.Duration
	headful bool
}

// BrowserOptions configures a BrowserGateway.
type BrowserOptions struct {
	Timeout   time.Duration
	Form      BrowserForm
	Selectors Selectors
	Logger    logrus.FieldLogger
	Settle    time.Duration
	// Headful shows the browser window, for debugging selectors.
	Headful bool
}

// NewBrowserGateway creates a browser gateway. Requires Chrome or Chromium on the host.
func NewBrowserGateway(pacer Pacer, opts BrowserOptions) *BrowserGateway {
	g := &BrowserGateway{
		pacer:     pacer,
		form:      opts.Form,
		selectors: opts.Selectors,
		timeout:   opts.Timeout,
		log:       opts.Logger,
		settle:    opts.Settle,
		headful:   opts.Headful,
	}
	if g.timeout <= 0 {
		g.timeout = 2 * DefaultTimeout
	}
	if g.log == nil {
		g.log = logrus.StandardLogger()
	}
	if len(g.form.Fields) == 0 {
		g.form.Fields = DefaultBrowserForm().Fields
	}
	if g.form.Submit == "" {
		g.form.Submit = DefaultBrowserForm().Submit
	}
	if g.form.Done == "" {
		g.form.Done = "body"
	}
	if g.settle <= 0 {
		g.settle = 2 * time.Second
	}
	return g
}

func (g *BrowserGateway) allocatorOptions(id proxy.Identity) ([]chromedp.ExecAllocatorOption, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !g.headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("lang", "es-MX"),
		chromedp.UserAgent(g.pacer.UserAgent()),
	)
	proxyURL, err := id.ProxyURL()
	if err != nil {
		return nil, err
	}
	if proxyURL != nil {
		opts = append(opts, chromedp.ProxyServer(proxyURL.Scheme+"://"+proxyURL.Host))
	}
	return opts, nil
}

// fillActions types every non-empty form value one key at a time.
func (g *BrowserGateway) fillActions(sub Submission) []chromedp.Action {
	values := FormValues(sub)
	var actions []chromedp.Action
	for _, key := range FormOrder {
		sel, ok := g.form.Fields[key]
		val := values.Get(key)
		if !ok || sel == "" || val == "" {
			continue
		}
		actions = append(actions,
			chromedp.Sleep(g.pacer.InterActionDelay()),
			chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
		)
		for _, r := range val {
			actions = append(actions,
				chromedp.SendKeys(sel, string(r), chromedp.ByQuery),
				chromedp.Sleep(g.pacer.TypingDelay()),
			)
		}
	}
	return actions
}

// Submit implements Gateway.
func (g *BrowserGateway) Submit(ctx context.Context, sub Submission) Result {
	endpoint := sub.Decision.Authority.SubmissionURL
	log := g.log.WithFields(logrus.Fields{
		"authority": sub.Decision.Authority.ID,
		"proxy_id":  sub.Identity.ID,
	})

	opts, err := g.allocatorOptions(sub.Identity)
	if err != nil {
		return Unreachable("proxy configuration: %v", err)
	}
	if err := g.pacer.Wait(ctx, sub.Identity); err != nil {
		return Unreachable("rate limiter: %v", err)
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	browserCtx, cancel = context.WithTimeout(browserCtx, g.timeout)
	defer cancel()

	// The form page itself may already be a CAPTCHA wall.
	var landing string
	steps := []chromedp.Action{
		chromedp.Navigate(endpoint),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(g.settle),
		chromedp.OuterHTML("html", &landing, chromedp.ByQuery),
	}
	if err := chromedp.Run(browserCtx, steps...); err != nil {
		log.WithError(err).Warn("portal navigation failed")
		return Unreachable("browser navigation failed: %v", err)
	}
	if res := ParseConfirmation(landing, endpoint, g.selectors); res.Outcome == OutcomeCaptchaBlocked {
		return res
	}

	var html, location string
	actions := []chromedp.Action{}
	if g.form.Ready != "" {
		actions = append(actions, chromedp.WaitVisible(g.form.Ready, chromedp.ByQuery))
	}
	actions = append(actions, g.fillActions(sub)...)
	actions = append(actions,
		chromedp.Sleep(g.pacer.InterActionDelay()),
		chromedp.Click(g.form.Submit, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.WaitReady(g.form.Done, chromedp.ByQuery),
		chromedp.Sleep(g.settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(browserCtx, actions...); err != nil {
		log.WithError(err).Warn("portal form submission failed")
		return Unreachable("browser submission failed: %v", err)
	}
	if location == "" {
		location = endpoint
	}

	res := ParseConfirmation(html, location, g.selectors)
	log.WithField("outcome", res.Outcome).Info("portal submission finished")
	return res
}
