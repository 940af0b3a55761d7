package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"

	"kiln/internal/logging"
	"kiln/internal/pods"
	"kiln/internal/requests"
	"kiln/internal/workflows"
)

// Tick runs one scheduling pass: for every workflow kind with pending
// requests, match requests to pod capacity, creating or resuming pods as
// needed, then sweep idle pods. If a pass is already in flight this call
// returns false immediately instead of stacking behind it.
func (m *Manager) Tick(ctx context.Context) bool {
	ran, _ := m.pass(ctx)
	return ran
}

// pass is Tick plus the store-level error, which the run loop uses to back
// off. Per-kind failures stay contained to their kind and are only logged.
func (m *Manager) pass(ctx context.Context) (bool, error) {
	if !m.tickMu.TryLock() {
		return false, nil
	}
	defer m.tickMu.Unlock()

	kinds, err := m.store.PendingWorkflows(ctx)
	if err != nil {
		m.logger.Error("listing pending workflows failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "tick_failed"),
		)
		return true, err
	}

	for _, kind := range kinds {
		if ctx.Err() != nil {
			return true, nil
		}
		if err := m.processKind(ctx, kind); err != nil {
			m.logger.Error("scheduling pass failed for workflow",
				logging.String(logging.FieldWorkflow, kind),
				logging.Error(err),
				logging.String(logging.FieldEventType, "schedule_failed"),
			)
		}
	}

	m.pods.SweepTimeouts(ctx)
	return true, nil
}

// processKind schedules pending requests of one workflow kind onto a pod.
// When no pod has spare capacity it kicks off creation of one in the
// background (at most one per kind at a time) and leaves the requests
// pending for a later tick.
func (m *Manager) processKind(ctx context.Context, kind string) error {
	pod, found := m.pods.FindAvailable(kind)
	if !found {
		m.maybeCreatePod(ctx, kind)
		return nil
	}

	if pod.Status == pods.StatusPaused {
		if err := m.pods.Resume(ctx, pod.ID); err != nil {
			m.logger.Warn("pod resume failed, requests stay pending",
				logging.String(logging.FieldPodID, pod.ID),
				logging.String(logging.FieldWorkflow, kind),
				logging.Error(err),
				logging.String(logging.FieldEventType, "pod_resume_failed"),
			)
			return nil
		}
	}

	free := pod.Capacity - pod.InFlight
	if free <= 0 {
		return nil
	}
	batch, err := m.store.PendingForWorkflow(ctx, kind, free)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	info, err := m.pods.ConnectionInfo(ctx, pod.ID)
	if err != nil {
		return err
	}
	if !info.Ready {
		m.logger.Debug("pod has no reachable address yet, requests stay pending",
			logging.String(logging.FieldPodID, pod.ID),
			logging.String(logging.FieldWorkflow, kind),
		)
		return nil
	}
	backend := m.newBackend(info.Address)

	claimed := make([]*requests.Request, 0, len(batch))
	for _, req := range batch {
		if err := m.pods.Assign(pod.ID, req.ID); err != nil {
			// Capacity raced away between the snapshot and now; the rest of
			// the batch waits for the next tick.
			break
		}
		taken, err := m.store.MarkProcessing(ctx, req.ID, pod.ID)
		if err != nil {
			m.pods.ReleaseSlot(pod.ID, req.ID)
			return err
		}
		if !taken {
			m.pods.ReleaseSlot(pod.ID, req.ID)
			continue
		}
		claimed = append(claimed, req)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, req := range claimed {
		g.Go(func() error {
			m.dispatch(gctx, backend, pod.ID, req)
			return nil
		})
	}
	return g.Wait()
}

// maybeCreatePod starts pod creation for a kind in the background unless one
// is already in flight or the kind is at its pod cap.
func (m *Manager) maybeCreatePod(ctx context.Context, kind string) {
	m.creatingMu.Lock()
	if m.creating[kind] {
		m.creatingMu.Unlock()
		return
	}
	wf, ok := m.cfg.ResolveWorkflow(kind)
	if !ok || m.pods.CountActive(kind) >= wf.MaxPods {
		m.creatingMu.Unlock()
		return
	}
	m.creating[kind] = true
	m.creatingMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.creatingMu.Lock()
			delete(m.creating, kind)
			m.creatingMu.Unlock()
		}()

		view, err := m.pods.CreateForWorkflow(ctx, kind)
		if err != nil {
			m.logger.Error("pod creation failed, requests stay pending",
				logging.String(logging.FieldWorkflow, kind),
				logging.Error(err),
				logging.String(logging.FieldEventType, "pod_create_failed"),
				logging.String(logging.FieldErrorHint, "creation retries on the next pass with pending work"),
			)
			return
		}
		m.logger.Info("pod available for workflow",
			logging.String(logging.FieldPodID, view.ID),
			logging.String(logging.FieldWorkflow, kind),
			logging.String(logging.FieldEventType, "pod_available"),
		)
		m.Nudge()
	}()
}

// dispatch compiles a claimed request and submits it to the pod's backend.
// Any failure before the job is accepted finalizes the request as failed and
// frees the pod slot; an accepted job hands off to a completion monitor.
func (m *Manager) dispatch(ctx context.Context, backend Backend, podID string, req *requests.Request) {
	kind, ok := workflows.ParseKind(req.Workflow)
	if !ok {
		m.fail(ctx, podID, req.ID, "workflow kind "+req.Workflow+" is no longer supported")
		return
	}
	params, err := workflows.DecodeParams(kind, []byte(req.ParamsJSON))
	if err != nil {
		m.fail(ctx, podID, req.ID, err.Error())
		return
	}
	job, err := workflows.Compile(params)
	if err != nil {
		m.fail(ctx, podID, req.ID, err.Error())
		return
	}

	jobID, err := backend.Submit(ctx, job.Graph, req.ID)
	if err != nil {
		m.logger.Warn("job submission failed",
			logging.String(logging.FieldRequestID, req.ID),
			logging.String(logging.FieldPodID, podID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_submit_failed"),
		)
		m.fail(ctx, podID, req.ID, err.Error())
		return
	}

	m.logger.Info("job submitted",
		logging.String(logging.FieldRequestID, req.ID),
		logging.String(logging.FieldPodID, podID),
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldWorkflow, req.Workflow),
		logging.String(logging.FieldEventType, "job_submitted"),
	)

	m.wg.Add(1)
	go m.monitor(m.monitorContext(ctx), backend, podID, req.ID, jobID)
}

// fail finalizes a request as failed and frees its pod slot.
func (m *Manager) fail(ctx context.Context, podID, requestID, message string) {
	if _, err := m.store.MarkFailed(ctx, requestID, message); err != nil {
		m.logger.Error("recording request failure failed",
			logging.String(logging.FieldRequestID, requestID),
			logging.Error(err),
		)
	}
	m.pods.ReleaseSlot(podID, requestID)
}
