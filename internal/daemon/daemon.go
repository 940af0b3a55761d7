package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"kiln/internal/config"
	"kiln/internal/logging"
	"kiln/internal/requests"
	"kiln/internal/scheduler"
)

// Daemon ties the scheduler, request store, and HTTP API together and
// enforces single-instance execution through a lock file.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *requests.Store
	sched  *scheduler.Manager

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Overview     scheduler.Overview
	DBPath       string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *requests.Store, sched *scheduler.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || sched == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, scheduler, and logger")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "kilnd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		sched:    sched,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock, recovers interrupted requests, and
// launches the scheduler and HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another kiln daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	// Requests stuck processing from a previous run lost their jobs; they go
	// back to pending so this run re-dispatches them.
	reset, err := d.store.ResetStuckProcessing(runCtx)
	if err != nil {
		d.releaseOnStartFailure()
		return fmt.Errorf("reset interrupted requests: %w", err)
	}
	if reset > 0 {
		d.logger.Info("interrupted requests returned to the queue", slog.Int64("count", reset))
	}

	if err := d.sched.Start(runCtx); err != nil {
		d.releaseOnStartFailure()
		return fmt.Errorf("start scheduler: %w", err)
	}

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.sched.Stop()
			d.releaseOnStartFailure()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("kiln daemon started", slog.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) releaseOnStartFailure() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	_ = d.lock.Unlock()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.sched.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("kiln daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the address the HTTP API is bound to, or an empty string
// when the API is disabled or not started. With a ":0" bind this is the
// resolved port.
func (d *Daemon) APIAddr() string {
	if d.api == nil || d.api.listener == nil {
		return ""
	}
	return d.api.listener.Addr().String()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	overview, err := d.sched.Overview(ctx)
	if err != nil {
		d.logger.Warn("status overview failed", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Overview:     overview,
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
