// Package server builds the application graph from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/giftlists/internal/aggregator"
	"github.com/JakeFAU/giftlists/internal/api"
	"github.com/JakeFAU/giftlists/internal/clock/system"
	"github.com/JakeFAU/giftlists/internal/config"
	collyfetcher "github.com/JakeFAU/giftlists/internal/fetcher/colly"
	"github.com/JakeFAU/giftlists/internal/giftlist"
	"github.com/JakeFAU/giftlists/internal/hash/sha256"
	"github.com/JakeFAU/giftlists/internal/httpcache"
	cachememory "github.com/JakeFAU/giftlists/internal/httpcache/memory"
	cachepostgres "github.com/JakeFAU/giftlists/internal/httpcache/postgres"
	cachesqlite "github.com/JakeFAU/giftlists/internal/httpcache/sqlite"
	"github.com/JakeFAU/giftlists/internal/id/uuid"
	"github.com/JakeFAU/giftlists/internal/logging"
	"github.com/JakeFAU/giftlists/internal/metrics"
	"github.com/JakeFAU/giftlists/internal/output"
	"github.com/JakeFAU/giftlists/internal/pipeline"
	"github.com/JakeFAU/giftlists/internal/policy/ratelimit"
)

const readyProbeKey = "giftlists:readyz"

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     httpcache.Store
	pipeline  *pipeline.Pipeline
	apiServer *api.Server
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger creates the application's dependencies around an existing logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("base_url", cfg.Scraper.BaseURL),
		zap.Int("owners", len(cfg.Registry)),
	)

	store, err := newStore(ctx, cfg.Cache, cfg.CacheRetention())
	if err != nil {
		return nil, err
	}
	app.store = store

	if err := app.buildPipeline(); err != nil {
		_ = store.Close()
		return nil, err
	}

	app.apiServer, err = api.NewServer(app.pipeline, uuid.New(), api.Config{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout(),
	}, logger, app.cacheReady)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("api server init failed: %w", err)
	}
	return app, nil
}

func (a *App) buildPipeline() error {
	cfg := a.cfg
	throttled, err := ratelimit.NewTransport(collyfetcher.NewHTTPTransport(), ratelimit.New(ratelimit.Config{
		RPS:   cfg.Scraper.RatePerSecond,
		Burst: cfg.Scraper.Burst,
	}))
	if err != nil {
		return fmt.Errorf("rate limiter init failed: %w", err)
	}
	transport, err := httpcache.NewTransport(throttled, a.store, httpcache.Config{
		TTL:            cfg.CacheTTL(),
		AllowableCodes: cfg.Cache.AllowableCodes,
		Clock:          system.New(),
		Hasher:         sha256.New(),
		StaleIfError:   cfg.Cache.StaleIfError,
		MaxStale:       cfg.CacheMaxStale(),
	}, a.logger.Named("httpcache"))
	if err != nil {
		return fmt.Errorf("cache transport init failed: %w", err)
	}
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, transport, a.logger)
	if err != nil {
		return fmt.Errorf("fetcher init failed: %w", err)
	}
	parser, err := giftlist.NewParser(cfg.Scraper.BaseURL)
	if err != nil {
		return fmt.Errorf("parser init failed: %w", err)
	}
	agg, err := aggregator.New(aggregator.Config{
		BaseURL: cfg.Scraper.BaseURL,
		Workers: cfg.Scraper.Workers,
	}, fetcher, parser, a.logger)
	if err != nil {
		return fmt.Errorf("aggregator init failed: %w", err)
	}
	writer, err := output.NewWriter(cfg.Output.Path, a.logger)
	if err != nil {
		return fmt.Errorf("output writer init failed: %w", err)
	}
	a.pipeline, err = pipeline.New(cfg.Registry, agg, writer, a.logger)
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}
	a.logger.Info("pipeline ready",
		zap.Int("workers", cfg.Scraper.Workers),
		zap.Float64("rate_per_second", cfg.Scraper.RatePerSecond),
		zap.Duration("fetch_timeout", cfg.FetchTimeout()),
		zap.Duration("cache_ttl", cfg.CacheTTL()),
		zap.Bool("stale_if_error", cfg.Cache.StaleIfError),
		zap.String("output", cfg.Output.Path),
	)
	return nil
}

func newStore(ctx context.Context, cfg config.CacheConfig, retention time.Duration) (httpcache.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		store, err := cachememory.New(cfg.MaxEntries, retention)
		if err != nil {
			return nil, fmt.Errorf("memory cache init failed: %w", err)
		}
		return store, nil
	case config.BackendSQLite:
		store, err := cachesqlite.Open(ctx, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("sqlite cache init failed: %w", err)
		}
		return store, nil
	case config.BackendPostgres:
		store, err := cachepostgres.New(ctx, cachepostgres.Config{
			DSN:   cfg.DSN,
			Table: cfg.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres cache init failed: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func (a *App) cacheReady(ctx context.Context) error {
	if _, _, err := a.store.Get(ctx, readyProbeKey); err != nil {
		return fmt.Errorf("cache store unavailable: %w", err)
	}
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Scrape runs the pipeline once.
func (a *App) Scrape(ctx context.Context) (giftlist.Document, error) {
	doc, err := a.pipeline.Run(ctx)
	if err != nil {
		return giftlist.Document{}, fmt.Errorf("scrape: %w", err)
	}
	return doc, nil
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close releases the cache store and flushes the logger.
func (a *App) Close(_ context.Context) error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("cache store close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
