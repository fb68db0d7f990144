package proxy

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"
)

// Range is a closed duration interval samples are drawn from.
type Range struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// sample draws uniformly from [Min, Max]. A degenerate range returns Min.
func (r Range) sample() time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rand.N(r.Max-r.Min+1)
}

// Pacing holds the human-behavior timing parameters.
type Pacing struct {
	InterAction Range `mapstructure:"inter_action"`
	Typing      Range `mapstructure:"typing"`
}

// DefaultPacing is what an unhurried person at a keyboard looks like.
func DefaultPacing() Pacing {
	return Pacing{
		InterAction: Range{Min: 800 * time.Millisecond, Max: 2500 * time.Millisecond},
		Typing:      Range{Min: 60 * time.Millisecond, Max: 180 * time.Millisecond},
	}
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

var acceptLanguages = []string{
	"es-MX,es;q=0.9",
	"es-MX,es;q=0.9,en;q=0.8",
	"es-MX,es-419;q=0.9,es;q=0.8",
	"es,es-MX;q=0.9,en-US;q=0.7",
}

// InterActionDelay returns a fresh pause to wait between two page actions.
func (p *Pool) InterActionDelay() time.Duration {
	return p.pacing.InterAction.sample()
}

// TypingDelay returns a fresh per-keystroke delay.
func (p *Pool) TypingDelay() time.Duration {
	return p.pacing.Typing.sample()
}

// UserAgent picks one entry of the rotation list.
func (p *Pool) UserAgent() string {
	return p.userAgents[rand.IntN(len(p.userAgents))]
}

// Headers returns a newly randomized set of browser-like request headers.
func (p *Pool) Headers() http.Header {
	h := http.Header{}
	h.Set("User-Agent", p.UserAgent())
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", acceptLanguages[rand.IntN(len(acceptLanguages))])
	if rand.IntN(2) == 0 {
		h.Set("DNT", "1")
	}
	return h
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
