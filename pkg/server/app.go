package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"StockAlert/internal/eventbus"
	"StockAlert/internal/usecase"
	"StockAlert/pkg/config"
	xhttp "StockAlert/pkg/http"
	applogger "StockAlert/pkg/logger"
	"StockAlert/pkg/queue"
	"StockAlert/pkg/worker"
)

// App encapsulates the entire application lifecycle. Components that the
// configured mode does not run are nil.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	bus        *eventbus.Bus
	workers    *worker.Registry
	sweeper    *usecase.ExpirySweeper
	jobs       *queue.RedisQueue
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	bus *eventbus.Bus,
	workers *worker.Registry,
	sweeper *usecase.ExpirySweeper,
	jobs *queue.RedisQueue,
	httpServer *xhttp.Server,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		workers:    workers,
		sweeper:    sweeper,
		jobs:       jobs,
		httpServer: httpServer,
	}
}

// Run starts everything the mode asks for and blocks until ctx ends, a
// signal arrives or the HTTP listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		a.shutdown()
		return err
	}
	a.log.Info("stockalert started",
		applogger.Bool("api", a.httpServer != nil),
		applogger.Int("workers", len(a.workers.Health())))

	var runErr error
	var httpErrs <-chan error
	if a.httpServer != nil {
		httpErrs = a.httpServer.Errors()
	}
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-httpErrs:
		a.log.Error("http server failed", applogger.Error(err))
		runErr = err
	}

	a.shutdown()
	return runErr
}

func (a *App) start(ctx context.Context) error {
	// the bus listens first so relayed lifecycle events reach the workers
	if err := a.bus.StartListening(ctx); err != nil {
		return fmt.Errorf("eventbus: %w", err)
	}
	if a.jobs != nil {
		if err := a.jobs.Start(ctx); err != nil {
			return fmt.Errorf("retry queue: %w", err)
		}
	}
	if err := a.workers.StartAll(ctx); err != nil {
		return fmt.Errorf("workers: %w", err)
	}
	if a.sweeper != nil {
		if err := a.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("sweeper: %w", err)
		}
	}
	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		a.log.Info("http server listening", applogger.Int("port", a.cfg.Server.Port))
	}
	return nil
}

// shutdown stops components in reverse start order within the configured
// shutdown timeout.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.log.Info("shutting down...")

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if a.sweeper != nil {
		if err := a.sweeper.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sweeper: %w", err))
		}
	}
	if err := a.workers.StopAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("workers: %w", err))
	}
	if a.jobs != nil {
		if err := a.jobs.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("retry queue: %w", err))
		}
	}
	if err := a.bus.StopListening(ctx); err != nil {
		errs = append(errs, fmt.Errorf("eventbus: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown completed with errors", applogger.Error(err))
		return
	}
	a.log.Info("shutdown complete")
}
