package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"kiln/internal/comfy"
	"kiln/internal/logging"
	"kiln/internal/poll"
	"kiln/internal/services"
)

// monitor polls a backend until a submitted job reaches a terminal state and
// records the outcome. Whatever happens, the pod slot is freed and the loop
// is nudged so waiting requests get the capacity.
func (m *Manager) monitor(ctx context.Context, backend Backend, podID, requestID, jobID string) {
	defer m.wg.Done()
	defer m.Nudge()
	defer m.pods.ReleaseSlot(podID, requestID)

	var (
		final   comfy.JobStatus
		lastErr error
	)
	err := poll.Until(ctx, m.jobPoll, func(ctx context.Context) (bool, error) {
		status, err := backend.JobStatus(ctx, jobID)
		if err != nil {
			// Transient backend errors burn an attempt but do not fail the
			// job; the pod may be mid-restart.
			lastErr = err
			return false, nil
		}
		lastErr = nil
		if status.State == comfy.JobRunning {
			return false, nil
		}
		final = status
		return true, nil
	})

	switch {
	case ctx.Err() != nil:
		// Shutdown mid-job: leave the request processing so a restart can
		// reset it to pending.
		m.logger.Info("job monitoring interrupted by shutdown",
			logging.String(logging.FieldRequestID, requestID),
			logging.String(logging.FieldJobID, jobID),
		)
		return
	case err != nil:
		msg := services.Wrap(services.ErrTimeout, "scheduler", "monitor",
			fmt.Sprintf("job %s did not finish within %d polls", jobID, m.jobPoll.Attempts), lastErr).Error()
		m.finalizeFailed(ctx, requestID, jobID, msg)
		return
	}

	if final.State == comfy.JobFailed {
		msg := final.Error
		if msg == "" {
			msg = services.Wrap(services.ErrExecution, "scheduler", "monitor", "job "+jobID+" failed without detail", nil).Error()
		}
		m.finalizeFailed(ctx, requestID, jobID, msg)
		return
	}

	outputs, err := json.Marshal(final.Outputs)
	if err != nil {
		m.finalizeFailed(ctx, requestID, jobID, "encode outputs: "+err.Error())
		return
	}
	applied, err := m.store.MarkCompleted(ctx, requestID, string(outputs))
	if err != nil {
		m.logger.Error("recording request completion failed",
			logging.String(logging.FieldRequestID, requestID),
			logging.Error(err),
		)
		return
	}
	if !applied {
		// Someone finalized first; the earlier terminal state stands.
		return
	}
	m.logger.Info("request completed",
		logging.String(logging.FieldRequestID, requestID),
		logging.String(logging.FieldJobID, jobID),
		logging.Int("artifacts", len(final.Outputs)),
		logging.String(logging.FieldEventType, "request_completed"),
	)
}

func (m *Manager) finalizeFailed(ctx context.Context, requestID, jobID, message string) {
	applied, err := m.store.MarkFailed(ctx, requestID, message)
	if err != nil {
		m.logger.Error("recording request failure failed",
			logging.String(logging.FieldRequestID, requestID),
			logging.Error(err),
		)
		return
	}
	if !applied {
		return
	}
	m.logger.Warn("request failed",
		logging.String(logging.FieldRequestID, requestID),
		logging.String(logging.FieldJobID, jobID),
		logging.String("reason", message),
		logging.String(logging.FieldEventType, "request_failed"),
	)
}
