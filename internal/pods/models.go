package pods

import (
	"time"

	"kiln/internal/cloud"
)

// Status represents the lifecycle of a managed pod. Transitions:
// provisioning -> running <-> paused -> terminated. A running pod is never
// terminated directly; pause is the cheap de-allocation, terminate the
// final one.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusTerminated   Status = "terminated"
)

// activePod is the manager-owned record for one provisioned pod. All fields
// are guarded by the manager's mutex; nothing outside the package sees this
// type directly.
type activePod struct {
	id       string
	workflow string
	status   Status

	createdAt  time.Time
	lastUsedAt time.Time
	pausedAt   *time.Time

	pauseDeadline     time.Time
	terminateDeadline time.Time

	capacity int
	inflight map[string]struct{}

	address  string
	cloudPod *cloud.Pod
}

func (p *activePod) snapshot() View {
	view := View{
		ID:            p.id,
		Workflow:      p.workflow,
		Status:        p.status,
		Capacity:      p.capacity,
		InFlight:      len(p.inflight),
		CreatedAt:     p.createdAt,
		LastUsedAt:    p.lastUsedAt,
		PauseDeadline: p.pauseDeadline,
		Address:       p.address,
	}
	if p.pausedAt != nil {
		at := *p.pausedAt
		view.PausedAt = &at
		view.TerminateDeadline = p.terminateDeadline
	}
	return view
}

// View is the read-only external snapshot of a managed pod.
type View struct {
	ID                string
	Workflow          string
	Status            Status
	Capacity          int
	InFlight          int
	CreatedAt         time.Time
	LastUsedAt        time.Time
	PausedAt          *time.Time
	PauseDeadline     time.Time
	TerminateDeadline time.Time
	Address           string
}

// HasCapacity reports whether the pod can accept another request.
func (v View) HasCapacity() bool {
	return v.InFlight < v.Capacity
}

// ConnectionInfo resolves how to reach a pod's generation backend.
type ConnectionInfo struct {
	Address string
	Port    int
	Ready   bool
}
