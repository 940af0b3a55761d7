package scheduler

import (
	"context"
	"fmt"
	"sort"

	"kiln/internal/pods"
	"kiln/internal/requests"
)

// Overview is a point-in-time picture of the scheduler for status surfaces.
type Overview struct {
	Running  bool
	Queue    requests.Summary
	Pods     []pods.View
	Creating []string
}

// Overview gathers queue counts, tracked pods, and in-flight pod creations.
func (m *Manager) Overview(ctx context.Context) (Overview, error) {
	summary, err := m.store.Summarize(ctx)
	if err != nil {
		return Overview{}, err
	}

	m.creatingMu.Lock()
	creating := make([]string, 0, len(m.creating))
	for kind := range m.creating {
		creating = append(creating, kind)
	}
	m.creatingMu.Unlock()
	sort.Strings(creating)

	return Overview{
		Running:  m.Running(),
		Queue:    summary,
		Pods:     m.pods.Snapshot(),
		Creating: creating,
	}, nil
}

// Queue lists requests filtered by status; no statuses means everything.
func (m *Manager) Queue(ctx context.Context, statuses ...requests.Status) ([]*requests.Request, error) {
	return m.store.List(ctx, statuses...)
}

// Clear removes finished requests from the store. No statuses means both
// terminal states; pending and processing requests can never be cleared.
func (m *Manager) Clear(ctx context.Context, statuses ...requests.Status) (int64, error) {
	if len(statuses) == 0 {
		statuses = []requests.Status{requests.StatusCompleted, requests.StatusFailed}
	}
	var total int64
	for _, status := range statuses {
		var removed int64
		var err error
		switch status {
		case requests.StatusCompleted:
			removed, err = m.store.ClearCompleted(ctx)
		case requests.StatusFailed:
			removed, err = m.store.ClearFailed(ctx)
		default:
			return total, fmt.Errorf("cannot clear %s requests", status)
		}
		if err != nil {
			return total, err
		}
		total += removed
	}
	return total, nil
}
