package pods

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kiln/internal/cloud"
	"kiln/internal/config"
	"kiln/internal/logging"
	"kiln/internal/poll"
	"kiln/internal/services"
)

// CreateForWorkflow provisions a new pod for a workflow kind and blocks
// until it is ready to serve. GPU types are tried in priority order with a
// bounded number of attempts each; the first successful creation wins. On
// failure the last error is returned and nothing remains tracked.
func (m *Manager) CreateForWorkflow(ctx context.Context, workflow string) (View, error) {
	wf, ok := m.cfg.ResolveWorkflow(workflow)
	if !ok {
		return View{}, services.Wrap(services.ErrConfiguration, "pods", "create", fmt.Sprintf("workflow %q is not configured", workflow), nil)
	}

	created, err := m.provisionPod(ctx, workflow, wf)
	if err != nil {
		return View{}, err
	}

	m.register(created, workflow, wf)

	info, err := m.WaitReady(ctx, created.ID)
	if err != nil {
		m.abandon(ctx, created.ID)
		return View{}, services.Wrap(services.ErrProvisioning, "pods", "create", fmt.Sprintf("pod %s never became ready", created.ID), err)
	}

	if m.backendCheck != nil {
		if err := m.backendCheck(ctx, info.Address); err != nil {
			m.abandon(ctx, created.ID)
			return View{}, services.Wrap(services.ErrProvisioning, "pods", "create", fmt.Sprintf("backend on pod %s failed health check", created.ID), err)
		}
	}

	m.mu.Lock()
	pod, ok := m.pods[created.ID]
	if !ok {
		m.mu.Unlock()
		return View{}, services.Wrap(services.ErrProvisioning, "pods", "create", fmt.Sprintf("pod %s disappeared during readiness wait", created.ID), nil)
	}
	pod.status = StatusRunning
	pod.address = info.Address
	m.touchLocked(pod)
	view := pod.snapshot()
	m.mu.Unlock()

	m.logger.Info("pod ready",
		logging.String(logging.FieldPodID, view.ID),
		logging.String(logging.FieldWorkflow, workflow),
		logging.String("address", view.Address),
		logging.String(logging.FieldEventType, "pod_ready"),
	)
	return view, nil
}

// provisionPod walks the GPU priority list issuing create calls.
func (m *Manager) provisionPod(ctx context.Context, workflow string, wf config.Workflow) (*cloud.Pod, error) {
	gpuTypes := m.cfg.GPUPriority()
	if len(gpuTypes) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "pods", "create", "gpu priority list is empty", nil)
	}

	spec := m.buildSpec(workflow, wf)
	retryDelay := time.Duration(m.cfg.Cloud.CreateRetrySeconds) * time.Second
	attempts := m.cfg.Cloud.CreateAttempts

	var lastErr error
	for _, gpuType := range gpuTypes {
		spec.GPUTypeID = gpuType
		for attempt := 1; attempt <= attempts; attempt++ {
			created, err := m.cloud.CreatePod(ctx, spec)
			if err == nil {
				m.logger.Info("pod created",
					logging.String(logging.FieldPodID, created.ID),
					logging.String(logging.FieldWorkflow, workflow),
					logging.String("gpu_type", gpuType),
					logging.String(logging.FieldEventType, "pod_created"),
				)
				return created, nil
			}
			lastErr = err
			m.logger.Warn("pod creation attempt failed",
				logging.String(logging.FieldWorkflow, workflow),
				logging.String("gpu_type", gpuType),
				logging.Int("attempt", attempt),
				logging.Error(err),
				logging.String(logging.FieldEventType, "pod_create_failed"),
				logging.String(logging.FieldErrorHint, "check gpu availability and cloud credentials"),
			)
			if attempt == attempts {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return nil, services.Wrap(services.ErrProvisioning, "pods", "create", fmt.Sprintf("all %d gpu types exhausted for workflow %q", len(gpuTypes), workflow), lastErr)
}

func (m *Manager) buildSpec(workflow string, wf config.Workflow) cloud.CreatePodSpec {
	spec := cloud.CreatePodSpec{
		Name:            fmt.Sprintf("kiln-%s-%s", workflow, uuid.NewString()[:8]),
		GPUCount:        1,
		TemplateID:      wf.TemplateID,
		Ports:           []string{"22/tcp"},
		CloudType:       strings.ToUpper(m.cfg.Cloud.Tier),
		ContainerDiskGB: 40,
	}
	if wf.VolumeID != "" {
		spec.VolumeID = wf.VolumeID
		spec.VolumeMountPath = "/workspace"
	}
	// The backend service port must be reachable even if the template does
	// not expose it.
	backendPort := fmt.Sprintf("%d/http", m.cfg.Backend.Port)
	if !containsPort(spec.Ports, backendPort) {
		spec.Ports = append(spec.Ports, backendPort)
	}
	return spec
}

// register tracks a freshly created pod as provisioning so capacity counts
// include it while the readiness wait runs.
func (m *Manager) register(created *cloud.Pod, workflow string, wf config.Workflow) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pods[created.ID] = &activePod{
		id:         created.ID,
		workflow:   workflow,
		status:     StatusProvisioning,
		createdAt:  now,
		lastUsedAt: now,
		capacity:   wf.MaxRequestsPerPod,
		inflight:   make(map[string]struct{}),
		cloudPod:   created,
	}
}

// abandon untracks a pod that failed to become ready and tears down the
// cloud instance best-effort.
func (m *Manager) abandon(ctx context.Context, podID string) {
	m.mu.Lock()
	delete(m.pods, podID)
	m.mu.Unlock()

	if err := m.cloud.TerminatePod(ctx, podID); err != nil {
		m.logger.Warn("cleanup of unready pod failed",
			logging.String(logging.FieldPodID, podID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "pod_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "terminate the pod manually in the provider console"),
		)
	}
}

// WaitReady polls the cloud provider until the pod reports RUNNING with a
// reachable address and the backend port exposed, sustained over consecutive
// checks to avoid trusting a freshly started pod too early.
func (m *Manager) WaitReady(ctx context.Context, podID string) (ConnectionInfo, error) {
	var (
		info    ConnectionInfo
		lastErr error
	)

	cfg := poll.Config{
		Attempts: m.cfg.Cloud.ReadyAttempts,
		Interval: time.Duration(m.cfg.Cloud.ReadyIntervalSeconds) * time.Second,
	}
	err := poll.UntilSustained(ctx, cfg, m.cfg.Cloud.ReadyConfirmations, func(ctx context.Context) (bool, error) {
		pod, err := m.cloud.PodByID(ctx, podID)
		if err != nil {
			// Transient status failures keep polling; the attempt bound
			// still applies.
			lastErr = err
			return false, nil
		}
		resolved, ok := m.resolveAddress(pod)
		if !ok {
			return false, nil
		}
		info = resolved
		m.mu.Lock()
		if tracked, ok := m.pods[podID]; ok {
			tracked.cloudPod = pod
		}
		m.mu.Unlock()
		return true, nil
	})
	if err != nil {
		if lastErr != nil {
			return ConnectionInfo{}, fmt.Errorf("%w (last status error: %v)", err, lastErr)
		}
		return ConnectionInfo{}, err
	}
	info.Ready = true
	return info, nil
}

// resolveAddress derives the externally reachable backend address from a
// provider pod record. It reports false while the pod is not serving yet.
func (m *Manager) resolveAddress(pod *cloud.Pod) (ConnectionInfo, bool) {
	if pod == nil || !pod.IsRunning() {
		return ConnectionInfo{}, false
	}
	port := m.cfg.Backend.Port
	if !pod.PortExposed(port) {
		return ConnectionInfo{}, false
	}
	if m.cfg.Cloud.ProxyDomain != "" {
		return ConnectionInfo{
			Address: cloud.ProxyURL(m.cfg.Cloud.ProxyDomain, pod.ID, port),
			Port:    port,
		}, true
	}
	public, ok := pod.PublicPortFor(port)
	if !ok || pod.PublicIP == "" {
		return ConnectionInfo{}, false
	}
	return ConnectionInfo{
		Address: fmt.Sprintf("http://%s:%d", pod.PublicIP, public),
		Port:    public,
	}, true
}

func containsPort(ports []string, port string) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}
