package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/IshaanNene/templatescout/internal/assets"
	"github.com/IshaanNene/templatescout/internal/browserpool"
	"github.com/IshaanNene/templatescout/internal/capture"
	"github.com/IshaanNene/templatescout/internal/catalog"
	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/connector"
	"github.com/IshaanNene/templatescout/internal/discovery"
	"github.com/IshaanNene/templatescout/internal/engine"
	"github.com/IshaanNene/templatescout/internal/events"
	"github.com/IshaanNene/templatescout/internal/observability"
	"github.com/IshaanNene/templatescout/internal/pipeline"
	"github.com/IshaanNene/templatescout/internal/registry"
	"github.com/IshaanNene/templatescout/internal/store"
)

// app holds everything a command needs to drive sessions.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *events.Bus
	logs     *events.LogRing
	store    store.Store
	sink     *catalog.MultiSink
	pool     *browserpool.Pool
	planner  *discovery.Planner
	registry *registry.Registry
	metrics  *observability.Metrics
	redis    *redis.Client
}

// newApp loads configuration and wires the orchestrator. The caller must
// call close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{
		cfg:  cfg,
		bus:  events.NewBus(),
		logs: events.NewLogRing(cfg.Events.LogRingSize),
	}
	a.logger = setupLogger(cfg.Logging, a.logs, a.bus)

	if err := a.wire(ctx); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	st, err := store.Open(ctx, cfg.Database, logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	a.store = st

	var templates store.TemplateStore
	if cfg.Database.DSN != "" {
		templates = st
	}
	a.sink, err = catalog.New(ctx, cfg.Catalog, templates, logger)
	if err != nil {
		return fmt.Errorf("create catalog: %w", err)
	}

	screenshots, err := assets.New(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create asset store: %w", err)
	}
	var archive assets.Store
	if cfg.Screenshot.ArchiveHTML {
		archive = screenshots
	}

	var discoverer discovery.Discoverer
	if cfg.Discovery.SitemapURL != "" {
		d, err := discovery.NewSitemapDiscoverer(cfg.Discovery, logger)
		if err != nil {
			return fmt.Errorf("create discoverer: %w", err)
		}
		discoverer = d
	}
	a.planner = discovery.NewPlanner(discoverer, a.sink)

	if cfg.Metrics.Enabled {
		a.metrics = observability.NewMetrics(logger)
	}

	if cfg.Events.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Events.Redis.Addr,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
		})
	}

	perf := cfg.Performance
	a.pool = browserpool.New(
		browserpool.NewRodLauncher(cfg.Browser, logger),
		perf.BrowserInstances, perf.PagesPerBrowser,
		browserpool.WithLogger(logger),
		browserpool.WithMaxLaunchFailures(cfg.Browser.MaxLaunchFailures),
	)

	processor := engine.NewTemplateProcessor(
		connector.New(cfg.Selectors, logger),
		capture.New(screenshots, cfg.Screenshot.ExcludeSelectors, logger),
		pipeline.NewSink(pipeline.Default(logger), a.sink),
		archive,
		logger,
	)

	// Queues share the browser pool and state store; each runs its own
	// session.
	a.registry = registry.New(func(queue string) (*engine.Engine, error) {
		opts := []engine.Option{
			engine.WithIDGenerator(func() string { return uuid.NewString() }),
		}
		if a.metrics != nil {
			opts = append(opts, engine.WithRecorder(a.metrics))
		}
		return engine.New(a.pool, processor, a.store, a.bus, perf, logger.With("queue", queue), opts...), nil
	}, logger)

	return nil
}

// close interrupts live sessions and releases every resource.
func (a *app) close(ctx context.Context) {
	var errs []error
	if a.registry != nil {
		errs = append(errs, a.registry.Close(ctx))
	}
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
}
