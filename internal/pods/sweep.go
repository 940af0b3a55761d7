package pods

import (
	"context"
	"time"

	"kiln/internal/logging"
	"kiln/internal/services"
)

// SweepTimeouts pauses running pods that sat idle past their pause deadline
// and terminates paused pods past their terminate deadline. Cloud calls are
// made outside the manager lock so a slow provider cannot stall unrelated
// state transitions; all provider errors here are best-effort and logged.
func (m *Manager) SweepTimeouts(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	var toPause, toTerminate []string
	for _, pod := range m.pods {
		switch pod.status {
		case StatusRunning:
			if len(pod.inflight) == 0 && now.After(pod.pauseDeadline) {
				toPause = append(toPause, pod.id)
			}
		case StatusPaused:
			if now.After(pod.terminateDeadline) {
				toTerminate = append(toTerminate, pod.id)
			}
		}
	}
	m.mu.Unlock()

	for _, podID := range toPause {
		m.Pause(ctx, podID)
	}
	for _, podID := range toTerminate {
		m.Release(ctx, podID)
	}
}

// Pause stops a pod's cloud instance to save cost while keeping it tracked
// for a later resume. Provider failures are logged, not propagated: the pod
// is marked paused regardless so the terminate deadline starts counting.
func (m *Manager) Pause(ctx context.Context, podID string) {
	m.mu.Lock()
	pod, ok := m.pods[podID]
	if !ok || pod.status != StatusRunning || len(pod.inflight) > 0 {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.cloud.StopPod(ctx, podID); err != nil {
		m.logger.Warn("pod pause call failed",
			logging.String(logging.FieldPodID, podID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "pod_pause_failed"),
			logging.String(logging.FieldErrorHint, "the pod keeps accruing cost until stopped"),
		)
	}

	now := m.now()
	m.mu.Lock()
	pod, ok = m.pods[podID]
	if !ok || pod.status != StatusRunning || len(pod.inflight) > 0 {
		// Work was assigned while the stop call was in flight; the pod stays
		// running and the next idle sweep reconsiders it.
		m.mu.Unlock()
		return
	}
	wf, _ := m.cfg.ResolveWorkflow(pod.workflow)
	pod.status = StatusPaused
	pod.pausedAt = &now
	pod.terminateDeadline = now.Add(time.Duration(wf.TerminateTimeoutSeconds) * time.Second)
	m.mu.Unlock()

	m.logger.Info("pod paused",
		logging.String(logging.FieldPodID, podID),
		logging.String(logging.FieldEventType, "pod_paused"),
	)
}

// Release terminates a pod's cloud instance and removes it from the active
// set. If the instance is not in an active cloud-side state the terminate is
// attempted anyway and failures are logged as best-effort.
func (m *Manager) Release(ctx context.Context, podID string) {
	if current, err := m.cloud.PodByID(ctx, podID); err != nil {
		m.logger.Warn("pod status lookup before terminate failed",
			logging.String(logging.FieldPodID, podID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "pod_terminate_lookup_failed"),
		)
	} else if !current.IsRunning() && current.Status != "" {
		m.logger.Debug("terminating pod that is not active cloud-side",
			logging.String(logging.FieldPodID, podID),
			logging.String("cloud_status", current.Status),
		)
	}

	if err := m.cloud.TerminatePod(ctx, podID); err != nil {
		m.logger.Warn("pod terminate call failed",
			logging.String(logging.FieldPodID, podID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "pod_terminate_failed"),
			logging.String(logging.FieldErrorHint, "terminate the pod manually in the provider console"),
		)
	}

	m.mu.Lock()
	if pod, ok := m.pods[podID]; ok {
		pod.status = StatusTerminated
		delete(m.pods, podID)
	}
	m.mu.Unlock()

	m.logger.Info("pod terminated",
		logging.String(logging.FieldPodID, podID),
		logging.String(logging.FieldEventType, "pod_terminated"),
	)
}

// ConnectionInfo resolves the reachable backend address for a tracked pod.
// A pod already known running answers from cached state without re-polling
// the provider.
func (m *Manager) ConnectionInfo(ctx context.Context, podID string) (ConnectionInfo, error) {
	m.mu.Lock()
	pod, ok := m.pods[podID]
	if ok && pod.status == StatusRunning && pod.address != "" {
		info := ConnectionInfo{Address: pod.address, Port: m.cfg.Backend.Port, Ready: true}
		m.mu.Unlock()
		return info, nil
	}
	m.mu.Unlock()

	if !ok {
		return ConnectionInfo{}, services.Wrap(services.ErrCloudProvider, "pods", "connection info", "pod "+podID+" is not tracked", nil)
	}

	current, err := m.cloud.PodByID(ctx, podID)
	if err != nil {
		return ConnectionInfo{}, err
	}
	info, ready := m.resolveAddress(current)
	if !ready {
		return ConnectionInfo{Ready: false}, nil
	}
	info.Ready = true

	m.mu.Lock()
	if pod, ok := m.pods[podID]; ok {
		pod.address = info.Address
		pod.cloudPod = current
	}
	m.mu.Unlock()
	return info, nil
}
