package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/jonathan/conciliation-filer/internal/config"
)

// EndpointConfig allows Limit requests per Window on one route, with a bucket
// of Burst tokens (Limit when 0). A Path ending in "/" matches every path below
// it and all of those share one bucket per client.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int
	Window time.Duration
	Burst  int
}

// FromConfig builds a limiter configuration from the server settings.
func FromConfig(cfg config.RateLimitConfig) *Config {
	if !cfg.Enabled {
		return &Config{Enabled: false}
	}
	return &Config{
		Enabled:         true,
		DefaultLimit:    cfg.DefaultLimit,
		DefaultWindow:   cfg.DefaultWindow,
		CleanupInterval: cfg.CleanupInterval,
		Whitelist:       toSet(cfg.Whitelist),
		Blacklist:       toSet(cfg.Blacklist),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the limits of the write routes. Reads fall
// back to the default limit and /health is never limited.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Each filing consumes a credit and a portal slot.
		{Path: "/jobs", Method: http.MethodPost, Limit: 20, Window: time.Hour, Burst: 5},
		// Cancel and resume.
		{Path: "/jobs/", Method: http.MethodPost, Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/jurisdiction", Method: http.MethodGet, Limit: 120, Window: time.Minute, Burst: 30},
	}
}

func toSet(list []string) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, v := range list {
		if v = strings.TrimSpace(v); v != "" {
			out[v] = true
		}
	}
	return out
}
