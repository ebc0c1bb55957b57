package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"stitchsentry/internal/api"
	"stitchsentry/internal/config"
	"stitchsentry/internal/events"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/pipeline"
	"stitchsentry/internal/stage"
	"stitchsentry/internal/store"
)

const shutdownGrace = 10 * time.Second

// Daemon owns the background services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	manager   *pipeline.Manager
	server    *api.Server
	publisher events.Publisher

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status reports daemon runtime information.
type Status struct {
	Running      bool
	DatabasePath string
	LockFilePath string
	APIBind      string
	Stages       []stage.Health
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, manager *pipeline.Manager, server *api.Server, publisher events.Publisher) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil || manager == nil {
		return nil, errors.New("daemon requires config, store, logger, and pipeline manager")
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     st,
		manager:   manager,
		server:    server,
		publisher: publisher,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the pipeline workers and the
// HTTP API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another stitchsentry daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}

	if d.server != nil {
		serveErrs, err := d.server.Start()
		if err != nil {
			d.manager.Stop()
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("start api server: %w", err)
		}
		go d.watchServer(runCtx, serveErrs)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) watchServer(ctx context.Context, serveErrs <-chan error) {
	select {
	case err, ok := <-serveErrs:
		if ok && err != nil {
			d.logger.Error("api server terminated", logging.Error(err))
		}
	case <-ctx.Done():
	}
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Warn("api server shutdown", logging.Error(err))
		}
		cancel()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close releases all resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.publisher != nil {
		d.publisher.Close()
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status including per-stage health.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		APIBind:      d.cfg.Paths.APIBind,
		Stages:       d.manager.Health(ctx),
	}
}
