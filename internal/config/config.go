// Package config loads the service configuration from an optional file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonathan/conciliation-filer/internal/jobs"
	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
	"github.com/jonathan/conciliation-filer/internal/logger"
	"github.com/jonathan/conciliation-filer/internal/portal"
	"github.com/jonathan/conciliation-filer/internal/proxy"
)

// EnvPrefix prefixes every environment override, e.g. CONCILIADOR_SERVER_PORT.
const EnvPrefix = "CONCILIADOR"

// Portal modes.
const (
	PortalModeRouter    = "router"
	PortalModeHTTP      = "http"
	PortalModeBrowser   = "browser"
	PortalModeSimulated = "simulated"
)

// Config is the whole service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       logger.Config   `mapstructure:"log"`
	Jobs      jobs.Config     `mapstructure:"jobs"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Portal    PortalConfig    `mapstructure:"portal"`
	Reference ReferenceConfig `mapstructure:"reference"`
	// Location is the civil time zone deadlines and quota resets follow.
	Location string `mapstructure:"location"`
}

type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string        `mapstructure:"cors_origins"`
	JWT             JWTConfig       `mapstructure:"jwt"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds API calls per requester.
type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DefaultLimit    int           `mapstructure:"default_limit"`
	DefaultWindow   time.Duration `mapstructure:"default_window"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Whitelist       []string      `mapstructure:"whitelist"`
	Blacklist       []string      `mapstructure:"blacklist"`
}

type DatabaseConfig struct {
	// URL is empty for in-memory operation.
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	// URL enables mirroring of the change feed when set.
	URL           string `mapstructure:"url"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type ProxyConfig struct {
	proxy.Config `mapstructure:",squash"`
	// Identities seed the pool when no database is configured.
	Identities []proxy.Identity `mapstructure:"identities"`
}

type PortalConfig struct {
	Mode          string             `mapstructure:"mode"`
	Timeout       time.Duration      `mapstructure:"timeout"`
	Headless      bool               `mapstructure:"headless"`
	Selectors     portal.Selectors   `mapstructure:"selectors"`
	Form          portal.BrowserForm `mapstructure:"form"`
	CaptchaStates []string           `mapstructure:"captcha_states"`
}

type ReferenceConfig struct {
	// File replaces the embedded seed when set.
	File string `mapstructure:"file"`
}

// Load reads configuration from configPath, or from config.yaml in ./configs
// or the working directory when configPath is empty. A missing default file
// is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bare names shared with the rest of the deployment. An explicit binding
	// replaces the automatic one, so the prefixed name is listed first.
	for key, bare := range map[string]string{
		"database.url":                "DATABASE_URL",
		"redis.url":                   "REDIS_URL",
		"server.jwt.secret":           "JWT_SECRET",
		"server.jwt.expiration_hours": "JWT_EXPIRATION_HOURS",
		"server.port":                 "PORT",
	} {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, bare); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", bare, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	logDefaults := logger.DefaultConfig()
	jobDefaults := jobs.DefaultConfig()
	proxyDefaults := proxy.DefaultConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.jwt.expiration_hours", 24)
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.default_limit", 600)
	v.SetDefault("server.rate_limit.default_window", time.Minute)
	v.SetDefault("server.rate_limit.cleanup_interval", 5*time.Minute)

	v.SetDefault("redis.channel_prefix", "conciliador:jobs:")

	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.format", logDefaults.Format)
	v.SetDefault("log.max_size_mb", logDefaults.MaxSizeMB)
	v.SetDefault("log.max_backups", logDefaults.MaxBackups)
	v.SetDefault("log.max_age_days", logDefaults.MaxAgeDays)
	v.SetDefault("log.compress", logDefaults.Compress)

	v.SetDefault("jobs.max_concurrent_jobs", jobDefaults.MaxConcurrentJobs)
	v.SetDefault("jobs.proxy_retries", jobDefaults.ProxyRetries)
	v.SetDefault("jobs.submit_retries", jobDefaults.SubmitRetries)
	v.SetDefault("jobs.backoff_base", jobDefaults.BackoffBase)
	v.SetDefault("jobs.hearing_lead_business_days", jobDefaults.HearingLeadBusinessDays)
	v.SetDefault("jobs.job_timeout", jobDefaults.JobTimeout)
	v.SetDefault("jobs.submit_timeout", jobDefaults.SubmitTimeout)

	v.SetDefault("proxy.requests_per_minute", proxyDefaults.RequestsPerMinute)
	v.SetDefault("proxy.burst", proxyDefaults.Burst)
	v.SetDefault("proxy.pacing.inter_action.min", proxyDefaults.Pacing.InterAction.Min)
	v.SetDefault("proxy.pacing.inter_action.max", proxyDefaults.Pacing.InterAction.Max)
	v.SetDefault("proxy.pacing.typing.min", proxyDefaults.Pacing.Typing.Min)
	v.SetDefault("proxy.pacing.typing.max", proxyDefaults.Pacing.Typing.Max)

	v.SetDefault("portal.mode", PortalModeRouter)
	v.SetDefault("portal.timeout", portal.DefaultTimeout)
	v.SetDefault("portal.headless", true)

	v.SetDefault("location", jurisdiction.DefaultLocation)
}

// Validate checks the values a running service depends on.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config error: server.port %d is out of range", c.Server.Port)
	}
	switch c.Portal.Mode {
	case PortalModeRouter, PortalModeHTTP, PortalModeBrowser, PortalModeSimulated:
	default:
		return fmt.Errorf("config error: unknown portal.mode %q", c.Portal.Mode)
	}
	if c.Jobs.MaxConcurrentJobs < 0 {
		return fmt.Errorf("config error: jobs.max_concurrent_jobs must be non-negative")
	}
	if c.Proxy.RequestsPerMinute < 0 {
		return fmt.Errorf("config error: proxy.requests_per_minute must be non-negative")
	}
	for _, r := range []struct {
		name string
		rng  proxy.Range
	}{
		{"proxy.pacing.inter_action", c.Proxy.Pacing.InterAction},
		{"proxy.pacing.typing", c.Proxy.Pacing.Typing},
	} {
		if r.rng.Min < 0 || r.rng.Max < r.rng.Min {
			return fmt.Errorf("config error: %s must satisfy 0 <= min <= max", r.name)
		}
	}
	seen := make(map[string]bool, len(c.Proxy.Identities))
	for i := range c.Proxy.Identities {
		id := &c.Proxy.Identities[i]
		if err := id.Validate(); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if seen[id.ID] {
			return fmt.Errorf("config error: duplicate proxy identity %s", id.ID)
		}
		seen[id.ID] = true
	}
	if _, err := time.LoadLocation(c.Location); err != nil {
		return fmt.Errorf("config error: invalid location %q: %w", c.Location, err)
	}
	return nil
}

// TimeLocation returns the configured civil time zone.
func (c *Config) TimeLocation() *time.Location {
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}
