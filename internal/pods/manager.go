package pods

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"kiln/internal/cloud"
	"kiln/internal/config"
	"kiln/internal/logging"
	"kiln/internal/services"
)

// Manager owns the set of provisioned pods, their state transitions, and
// their timeout deadlines. It is the only component that talks to the cloud
// provider. The scheduler decides when pods are created; the manager never
// creates one on its own.
type Manager struct {
	cfg    *config.Config
	cloud  cloud.Client
	logger *slog.Logger

	backendCheck func(ctx context.Context, baseURL string) error
	now          func() time.Time

	mu   sync.Mutex
	pods map[string]*activePod
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithBackendCheck installs an application-level readiness probe run against
// a pod's backend address before the pod is marked running. Without it,
// cloud-reported status alone decides readiness.
func WithBackendCheck(check func(ctx context.Context, baseURL string) error) Option {
	return func(m *Manager) {
		m.backendCheck = check
	}
}

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager constructs a pod lifecycle manager.
func NewManager(cfg *config.Config, client cloud.Client, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		cloud:  client,
		logger: logging.WithComponent(logger, "pods"),
		now:    time.Now,
		pods:   make(map[string]*activePod),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindAvailable returns a pod of the given kind with spare capacity. Running
// pods are preferred; a paused pod is returned (for the caller to resume)
// when no running pod has room. The boolean reports whether one was found.
func (m *Manager) FindAvailable(workflow string) (View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var paused *activePod
	for _, pod := range m.sortedLocked() {
		if pod.workflow != workflow || len(pod.inflight) >= pod.capacity {
			continue
		}
		switch pod.status {
		case StatusRunning:
			return pod.snapshot(), true
		case StatusPaused:
			if paused == nil {
				paused = pod
			}
		}
	}
	if paused != nil {
		return paused.snapshot(), true
	}
	return View{}, false
}

// CountActive returns the number of non-terminated pods for a workflow kind.
// Provisioning pods count toward the cap so concurrent creation decisions
// see them.
func (m *Manager) CountActive(workflow string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, pod := range m.pods {
		if pod.workflow == workflow && pod.status != StatusTerminated {
			count++
		}
	}
	return count
}

// Assign reserves an in-flight slot on a pod for a request and refreshes the
// pod's idle deadline. The pod must be running.
func (m *Manager) Assign(podID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pod, ok := m.pods[podID]
	if !ok {
		return services.Wrap(services.ErrCloudProvider, "pods", "assign", fmt.Sprintf("pod %s is not tracked", podID), nil)
	}
	if pod.status != StatusRunning {
		return services.Wrap(services.ErrCloudProvider, "pods", "assign", fmt.Sprintf("pod %s is %s, not running", podID, pod.status), nil)
	}
	if len(pod.inflight) >= pod.capacity {
		return services.Wrap(services.ErrCloudProvider, "pods", "assign", fmt.Sprintf("pod %s is at capacity (%d)", podID, pod.capacity), nil)
	}

	pod.inflight[requestID] = struct{}{}
	m.touchLocked(pod)
	return nil
}

// ReleaseSlot vacates a request's in-flight slot. The idle countdown restarts
// from the moment the last work finished.
func (m *Manager) ReleaseSlot(podID, requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pod, ok := m.pods[podID]
	if !ok {
		return
	}
	delete(pod.inflight, requestID)
	m.touchLocked(pod)
}

// Resume transitions a paused pod back to running before new work is
// assigned to it.
func (m *Manager) Resume(ctx context.Context, podID string) error {
	m.mu.Lock()
	pod, ok := m.pods[podID]
	if !ok {
		m.mu.Unlock()
		return services.Wrap(services.ErrCloudProvider, "pods", "resume", fmt.Sprintf("pod %s is not tracked", podID), nil)
	}
	if pod.status == StatusRunning {
		m.mu.Unlock()
		return nil
	}
	if pod.status != StatusPaused {
		status := pod.status
		m.mu.Unlock()
		return services.Wrap(services.ErrCloudProvider, "pods", "resume", fmt.Sprintf("pod %s is %s, not paused", podID, status), nil)
	}
	m.mu.Unlock()

	if err := m.cloud.StartPod(ctx, podID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pod, ok := m.pods[podID]; ok {
		pod.status = StatusRunning
		pod.pausedAt = nil
		pod.terminateDeadline = time.Time{}
		m.touchLocked(pod)
	}
	m.logger.Info("pod resumed",
		logging.String(logging.FieldPodID, podID),
		logging.String(logging.FieldEventType, "pod_resumed"),
	)
	return nil
}

// Snapshot returns read-only views of all tracked pods, oldest first.
func (m *Manager) Snapshot() []View {
	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]View, 0, len(m.pods))
	for _, pod := range m.sortedLocked() {
		views = append(views, pod.snapshot())
	}
	return views
}

// touchLocked records activity on a pod and recomputes its idle deadline.
// Caller holds m.mu.
func (m *Manager) touchLocked(pod *activePod) {
	now := m.now()
	pod.lastUsedAt = now
	wf, ok := m.cfg.ResolveWorkflow(pod.workflow)
	if !ok {
		return
	}
	pod.pauseDeadline = now.Add(time.Duration(wf.PauseTimeoutSeconds) * time.Second)
}

// sortedLocked returns pods ordered by creation time for deterministic
// iteration. Caller holds m.mu.
func (m *Manager) sortedLocked() []*activePod {
	pods := make([]*activePod, 0, len(m.pods))
	for _, pod := range m.pods {
		pods = append(pods, pod)
	}
	sort.Slice(pods, func(i, j int) bool {
		if pods[i].createdAt.Equal(pods[j].createdAt) {
			return pods[i].id < pods[j].id
		}
		return pods[i].createdAt.Before(pods[j].createdAt)
	})
	return pods
}
