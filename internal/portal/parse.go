package portal

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Selectors tell ParseConfirmation where a portal puts each piece of the
// confirmation page. Empty fields fall back to DefaultSelectors.
type Selectors struct {
	Captcha     string `mapstructure:"captcha"`
	Rejection   string `mapstructure:"rejection"`
	Folio       string `mapstructure:"folio"`
	HearingDate string `mapstructure:"hearing_date"`
	HearingTime string `mapstructure:"hearing_time"`
	Receipt     string `mapstructure:"receipt"`
}

// DefaultSelectors covers the markup the federal and most state portals share.
func DefaultSelectors() Selectors {
	return Selectors{
		Captcha:     `.g-recaptcha, iframe[src*="recaptcha"], .h-captcha, iframe[src*="hcaptcha"], #captcha, [data-sitekey]`,
		Rejection:   `.alert-danger, .error-solicitud, [data-rejection]`,
		Folio:       `[data-folio], #folio, .folio`,
		HearingDate: `[data-hearing-date], #fecha-audiencia, .fecha-audiencia`,
		HearingTime: `[data-hearing-time], #hora-audiencia, .hora-audiencia`,
		Receipt:     `a.acuse, a[href*="acuse"]`,
	}
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if s.Captcha == "" {
		s.Captcha = d.Captcha
	}
	if s.Rejection == "" {
		s.Rejection = d.Rejection
	}
	if s.Folio == "" {
		s.Folio = d.Folio
	}
	if s.HearingDate == "" {
		s.HearingDate = d.HearingDate
	}
	if s.HearingTime == "" {
		s.HearingTime = d.HearingTime
	}
	if s.Receipt == "" {
		s.Receipt = d.Receipt
	}
	return s
}

const unrecognizedPage = "unrecognized confirmation page"

var (
	folioPattern = regexp.MustCompile(`(?i:folio)\s*(?i:no\.?|n[úu]mero)?\s*[:#]?\s*([A-Z0-9][A-Z0-9/-]{5,})`)
	timePattern  = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	datePatterns = []struct {
		re     *regexp.Regexp
		layout string
	}{
		{regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), "2006-01-02"},
		{regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\b`), "02/01/2006"},
	}
)

// ParseConfirmation classifies the page a portal returned after a submission.
// CAPTCHA markers win over everything else; a page with neither a rejection
// banner nor a folio is treated as a rejection so it is never resubmitted blindly.
func ParseConfirmation(html, pageURL string, sel Selectors) Result {
	sel = sel.withDefaults()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Unreachable("failed to parse confirmation page: %v", err)
	}

	if doc.Find(sel.Captcha).Length() > 0 {
		return CaptchaBlocked(pageURL)
	}

	if banner := doc.Find(sel.Rejection).First(); banner.Length() > 0 {
		reason := squash(banner.Text())
		if v, ok := banner.Attr("data-rejection"); ok && v != "" {
			reason = v
		}
		if reason == "" {
			reason = "portal rejected the filing"
		}
		return Rejected(reason)
	}

	folio := textOrAttr(doc.Find(sel.Folio).First(), "data-folio")
	if m := matchFolio(folio); m != "" {
		folio = m
	}
	if folio == "" {
		folio = matchFolio(doc.Text())
	}
	if folio == "" {
		return Rejected(unrecognizedPage)
	}

	res := Result{Outcome: OutcomeSuccess, Folio: folio, PortalURL: pageURL}
	if raw := textOrAttr(doc.Find(sel.HearingDate).First(), "data-hearing-date"); raw != "" {
		if d, ok := parseDate(raw); ok {
			res.HearingDate = &d
		}
	}
	if raw := textOrAttr(doc.Find(sel.HearingTime).First(), "data-hearing-time"); raw != "" {
		if m := timePattern.FindStringSubmatch(raw); m != nil {
			res.HearingTime = twoDigits(m[1]) + ":" + m[2]
		}
	}
	if href, ok := doc.Find(sel.Receipt).First().Attr("href"); ok {
		res.ReceiptURL = resolveURL(pageURL, href)
	}
	return res
}

func matchFolio(text string) string {
	for _, m := range folioPattern.FindAllStringSubmatch(text, -1) {
		if strings.ContainsAny(m[1], "0123456789") {
			return m[1]
		}
	}
	return ""
}

func textOrAttr(s *goquery.Selection, attr string) string {
	if s.Length() == 0 {
		return ""
	}
	if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return squash(s.Text())
}

func parseDate(raw string) (time.Time, bool) {
	for _, p := range datePatterns {
		if m := p.re.FindString(raw); m != "" {
			if d, err := time.Parse(p.layout, m); err == nil {
				return d, true
			}
		}
	}
	return time.Time{}, false
}

func twoDigits(h string) string {
	if len(h) == 1 {
		return "0" + h
	}
	return h
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolveURL(base, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" {
		return ref.String()
	}
	return b.ResolveReference(ref).String()
}
