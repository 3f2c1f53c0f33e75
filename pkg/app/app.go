// Package app wires configuration into a running research service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mikeboe/deep-research/pkg/catalog"
	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/server"
	"github.com/mikeboe/deep-research/pkg/store"
	"github.com/mikeboe/deep-research/pkg/worker"
)

// ShutdownTimeout bounds the graceful stop of the HTTP server and workers.
const ShutdownTimeout = 30 * time.Second

type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   store.Store
	Pool    *worker.Pool
	Service *server.Service
	Handler *server.Handler
}

// New opens the store and builds the pipeline around it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	st, err := store.Open(ctx, cfg.StoreOptions(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
	}

	searcher, err := search.New(cfg.SearchConfig())
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	engine := research.NewEngine(st, clients.NewRouter(cfg.ClientsConfig(logger)), searcher)
	engine.Logger = logger
	engine.LLMTimeout = cfg.LLMTimeout
	engine.ReportTimeout = cfg.ReportTimeout

	pool := worker.New(cfg.MaxConcurrentJobs, logger)
	svc := server.NewService(st, engine, pool, logger, server.Defaults{
		Model:        cfg.DefaultModel,
		MaxSearches:  cfg.DefaultMaxSearches,
		PollInterval: cfg.StreamPollInterval,
	})

	logger.Info("service ready",
		"store", cfg.StoreDriver,
		"search_provider", searcher.Name(),
		"default_model", cfg.DefaultModel,
		"max_concurrent_jobs", cfg.MaxConcurrentJobs,
	)
	return &App{
		Config:  cfg,
		Logger:  logger,
		Store:   st,
		Pool:    pool,
		Service: svc,
		Handler: server.NewHandler(svc, catalog.Default(), version),
	}, nil
}

// Router returns the HTTP engine for the service.
func (a *App) Router() *gin.Engine {
	return server.NewRouter(a.Handler, a.Logger)
}

// Close stops the workers, letting running jobs record their outcome, and
// closes the store.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.Pool.Shutdown(ctx), a.Store.Close())
}

// Serve runs the HTTP server until ctx is cancelled, then stops it
// gracefully. Open update streams end when ctx ends.
func (a *App) Serve(ctx context.Context) error {
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// Run builds the service, serves it until ctx is cancelled and releases
// everything it opened.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) error {
	a, err := New(ctx, cfg, logger, version)
	if err != nil {
		return err
	}
	serveErr := a.Serve(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	return serveErr
}
