package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/conciliation-filer/internal/config"
	"github.com/jonathan/conciliation-filer/internal/db"
	"github.com/jonathan/conciliation-filer/internal/feed"
	"github.com/jonathan/conciliation-filer/internal/jobs"
	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
	"github.com/jonathan/conciliation-filer/internal/portal"
	"github.com/jonathan/conciliation-filer/internal/proxy"
	"github.com/jonathan/conciliation-filer/internal/server"
)

// app holds the wired service.
type app struct {
	cfg      *config.Config
	log      logrus.FieldLogger
	database *db.DB
	redis    *redis.Client
	broker   *feed.Broker
	resolver *jurisdiction.Resolver
	pool     *proxy.Pool
	orch     *jobs.Orchestrator
	server   *server.Server
}

// buildApp wires every component. Without a database URL it runs on
// in-memory stores seeded from the configuration.
func buildApp(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, broker: feed.NewBroker()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var (
		store      jobs.Store
		cases      jobs.CaseSource
		access     jobs.AccessGate
		ref        jurisdiction.Reference
		identities = cfg.Proxy.Identities
	)
	if cfg.Database.URL != "" {
		a.database, err = db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		applied, err := a.database.Migrate(ctx)
		if err != nil {
			return nil, err
		}
		if len(applied) > 0 {
			log.WithField("migrations", applied).Info("database migrated")
		}
		store = db.NewJobStore(a.database)
		cases = db.NewCaseRepository(a.database)
		access = db.NewAccessRepository(a.database)

		refRepo := db.NewReferenceRepository(a.database)
		if err := ensureReference(ctx, refRepo, cfg.Reference.File, log); err != nil {
			return nil, err
		}
		ref = refRepo

		proxies := db.NewProxyRepository(a.database)
		for _, id := range identities {
			if err := proxies.SaveIdentity(ctx, id); err != nil {
				return nil, err
			}
		}
		if identities, err = proxies.ListIdentities(ctx); err != nil {
			return nil, err
		}
	} else {
		log.Warn("no database configured, jobs are kept in memory")
		store = jobs.NewMemoryStore()
		cases = jobs.NewMemoryCases()
		access = jobs.NewMemoryAccess()
		seed, err := loadSeed(cfg.Reference.File)
		if err != nil {
			return nil, err
		}
		ref = jurisdiction.NewStaticReference(seed)
	}

	a.resolver = jurisdiction.NewResolver(ref, jurisdiction.WithLocation(cfg.TimeLocation()))

	a.pool, err = proxy.NewPool(cfg.Proxy.Config, identities, proxy.WithLogger(log.WithField("component", "proxy")))
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy pool: %w", err)
	}
	if len(identities) == 0 {
		log.Warn("proxy pool is empty, every filing will fail with proxy_exhausted")
	}

	var publisher feed.Publisher = a.broker
	var events feed.Source = a.broker
	if cfg.Redis.URL != "" {
		a.redis, err = feed.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		mirror := feed.NewRedisPublisher(a.redis, cfg.Redis.ChannelPrefix, log.WithField("component", "feed"))
		publisher = feed.Multi{a.broker, mirror}
		events = mirror
	}

	gateway, err := buildGateway(cfg.Portal, a.pool, log.WithField("component", "portal"))
	if err != nil {
		return nil, err
	}

	a.orch, err = jobs.New(jobs.Deps{
		Store:    store,
		Cases:    cases,
		Access:   access,
		Resolver: a.resolver,
		Pool:     a.pool,
		Gateway:  gateway,
		Feed:     publisher,
		Logger:   log.WithField("component", "jobs"),
	}, cfg.Jobs)
	if err != nil {
		return nil, err
	}

	jwtCfg := cfg.Server.JWT
	if err := jwtCfg.Normalize(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	a.server, err = server.New(cfg.Server, server.Deps{
		Orchestrator: a.orch,
		Resolver:     a.resolver,
		Broker:       a.broker,
		Events:       events,
		Pool:         a.pool,
		Tokens:       server.NewJWTService(&jwtCfg).AsTokenValidator(),
		Ready:        a.ready,
		Logger:       log.WithField("component", "http"),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ready pings the backing services.
func (a *app) ready(ctx context.Context) error {
	var errs []error
	if a.database != nil {
		errs = append(errs, a.database.Ping(ctx))
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Ping(ctx).Err())
	}
	return errors.Join(errs...)
}

func (a *app) close() {
	if a.orch != nil {
		a.orch.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.database != nil {
		a.database.Close()
	}
}

func loadSeed(path string) (*jurisdiction.Seed, error) {
	if path == "" {
		return jurisdiction.DefaultSeed()
	}
	return jurisdiction.LoadSeedFile(path)
}

// ensureReference imports the seed when the database holds no reference data yet.
func ensureReference(ctx context.Context, repo *db.ReferenceRepository, file string, log logrus.FieldLogger) error {
	version, err := repo.Version(ctx)
	if err != nil {
		return err
	}
	if version != "" && file == "" {
		return nil
	}
	seed, err := loadSeed(file)
	if err != nil {
		return err
	}
	if version == seed.Version {
		return nil
	}
	if err := repo.Import(ctx, seed); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"from": version, "to": seed.Version}).Info("reference data imported")
	return nil
}

// buildGateway returns the portal gateway for the configured mode.
func buildGateway(cfg config.PortalConfig, pool *proxy.Pool, log logrus.FieldLogger) (portal.Gateway, error) {
	httpGateway := func() portal.Gateway {
		return portal.NewHTTPGateway(pool, portal.HTTPOptions{
			Timeout:   cfg.Timeout,
			Selectors: cfg.Selectors,
			Logger:    log,
		})
	}
	browserGateway := func() portal.Gateway {
		return portal.NewBrowserGateway(pool, portal.BrowserOptions{
			Timeout:   cfg.Timeout,
			Form:      cfg.Form,
			Selectors: cfg.Selectors,
			Logger:    log,
			Headful:   !cfg.Headless,
		})
	}

	switch cfg.Mode {
	case config.PortalModeSimulated:
		log.Warn("portal mode is simulated, nothing is filed")
		return &portal.Simulated{CaptchaStates: cfg.CaptchaStates}, nil
	case config.PortalModeHTTP:
		return httpGateway(), nil
	case config.PortalModeBrowser:
		return browserGateway(), nil
	case config.PortalModeRouter, "":
		return &portal.Router{HTTP: httpGateway(), Browser: browserGateway()}, nil
	default:
		return nil, fmt.Errorf("unknown portal mode %q", cfg.Mode)
	}
}
