package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kiln/internal/comfy"
	"kiln/internal/config"
	"kiln/internal/logging"
	"kiln/internal/poll"
	"kiln/internal/pods"
	"kiln/internal/requests"
	"kiln/internal/services"
	"kiln/internal/workflows"
)

// PodService is the slice of the pod lifecycle manager the scheduler needs.
// pods.Manager satisfies it; tests substitute stubs.
type PodService interface {
	FindAvailable(workflow string) (pods.View, bool)
	CountActive(workflow string) int
	CreateForWorkflow(ctx context.Context, workflow string) (pods.View, error)
	Assign(podID, requestID string) error
	ReleaseSlot(podID, requestID string)
	Resume(ctx context.Context, podID string) error
	ConnectionInfo(ctx context.Context, podID string) (pods.ConnectionInfo, error)
	SweepTimeouts(ctx context.Context)
	Snapshot() []pods.View
}

// Backend is one pod's generation service. comfy.Client satisfies it.
type Backend interface {
	Submit(ctx context.Context, graph json.RawMessage, clientID string) (string, error)
	JobStatus(ctx context.Context, jobID string) (comfy.JobStatus, error)
}

// BackendFactory builds a Backend for a pod's resolved address.
type BackendFactory func(address string) Backend

// Manager accepts generation requests, matches them to pod capacity on a
// periodic tick, dispatches compiled jobs to backends, and records terminal
// state. It owns the pending-request store exclusively.
type Manager struct {
	cfg        *config.Config
	store      *requests.Store
	pods       PodService
	newBackend BackendFactory
	logger     *slog.Logger

	tickInterval time.Duration
	errorRetry   time.Duration
	jobPoll      poll.Config

	nudge chan struct{}

	// tickMu serializes scheduling ticks; an overlapping tick no-ops
	// instead of queueing behind the running one.
	tickMu sync.Mutex

	// creatingMu guards the per-kind pod-creation in-flight flags so two
	// ticks cannot both decide to create a pod for the same kind.
	creatingMu sync.Mutex
	creating   map[string]bool

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a scheduler.
func New(cfg *config.Config, store *requests.Store, podSvc PodService, factory BackendFactory, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		store:        store,
		pods:         podSvc,
		newBackend:   factory,
		logger:       logging.WithComponent(logger, "scheduler"),
		tickInterval: cfg.TickInterval(),
		errorRetry:   time.Duration(cfg.Scheduler.ErrorRetrySeconds) * time.Second,
		jobPoll: poll.Config{
			Attempts: cfg.Backend.PollAttempts,
			Interval: time.Duration(cfg.Backend.PollIntervalSeconds) * time.Second,
		},
		nudge:    make(chan struct{}, 1),
		creating: make(map[string]bool),
	}
}

// Enqueue validates and persists a generation request, then nudges the
// scheduling loop without blocking the caller. The request id is returned
// for status polling.
func (m *Manager) Enqueue(ctx context.Context, workflow string, params json.RawMessage) (string, error) {
	kind, ok := workflows.ParseKind(workflow)
	if !ok {
		return "", services.Wrap(services.ErrUnknownWorkflow, "scheduler", "enqueue", fmt.Sprintf("workflow kind %q is not supported", workflow), nil)
	}
	if _, ok := m.cfg.ResolveWorkflow(string(kind)); !ok {
		return "", services.Wrap(services.ErrUnknownWorkflow, "scheduler", "enqueue", fmt.Sprintf("workflow kind %q is not configured", kind), nil)
	}

	decoded, err := workflows.DecodeParams(kind, params)
	if err != nil {
		return "", err
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "scheduler", "enqueue", "encode parameters", err)
	}

	req, err := m.store.New(ctx, string(kind), string(canonical))
	if err != nil {
		return "", fmt.Errorf("persist request: %w", err)
	}

	m.logger.Info("request enqueued",
		logging.String(logging.FieldRequestID, req.ID),
		logging.String(logging.FieldWorkflow, req.Workflow),
		logging.String(logging.FieldEventType, "request_enqueued"),
	)
	m.Nudge()
	return req.ID, nil
}

// Status returns the current view of a request, or nil when the id is
// unknown.
func (m *Manager) Status(ctx context.Context, id string) (*requests.Request, error) {
	return m.store.GetByID(ctx, id)
}

// Nudge wakes the scheduling loop without waiting for the next interval.
// It never blocks.
func (m *Manager) Nudge() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

// Start launches the scheduling loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Stop terminates the scheduling loop and waits for in-flight monitors.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.runCtx = nil
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// monitorContext returns the context job monitors run under. A monitor must
// outlive the scheduling pass that spawned it, so the pass context is never
// used directly: its errgroup cancels it as soon as the pass's submissions
// finish. The run loop's context keeps shutdown cancellation intact.
func (m *Manager) monitorContext(pass context.Context) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.WithoutCancel(pass)
}

// Running reports whether the scheduling loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.nudge:
		}
		if _, err := m.pass(ctx); err != nil {
			// A store-level failure poisons every kind; back off instead of
			// hammering the database at the tick interval.
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.errorRetry):
			}
		}
	}
}
