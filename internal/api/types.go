package api

import (
	"encoding/json"
	"time"

	"kiln/internal/pods"
	"kiln/internal/requests"
	"kiln/internal/scheduler"
)

// GenerateRequest is the submission payload for a new generation request.
type GenerateRequest struct {
	Workflow string          `json:"workflow"`
	Params   json.RawMessage `json:"params"`
}

// GenerateResponse acknowledges an accepted request.
type GenerateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RequestView is the wire representation of one generation request.
type RequestView struct {
	ID           string          `json:"id"`
	Workflow     string          `json:"workflow"`
	Status       string          `json:"status"`
	PodID        string          `json:"pod_id,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	Outputs      json.RawMessage `json:"outputs,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// RequestListResponse wraps a queue listing.
type RequestListResponse struct {
	Items []RequestView `json:"items"`
}

// RequestResponse wraps a single request lookup.
type RequestResponse struct {
	Item RequestView `json:"item"`
}

// ClearResponse reports how many finished requests were removed.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// QueueSummary mirrors aggregated request counts.
type QueueSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// PodView is the wire representation of one managed pod.
type PodView struct {
	ID                string     `json:"id"`
	Workflow          string     `json:"workflow"`
	Status            string     `json:"status"`
	Capacity          int        `json:"capacity"`
	InFlight          int        `json:"in_flight"`
	CreatedAt         time.Time  `json:"created_at"`
	LastUsedAt        time.Time  `json:"last_used_at"`
	PausedAt          *time.Time `json:"paused_at,omitempty"`
	PauseDeadline     time.Time  `json:"pause_deadline"`
	TerminateDeadline *time.Time `json:"terminate_deadline,omitempty"`
	Address           string     `json:"address,omitempty"`
}

// PodListResponse wraps a pod listing.
type PodListResponse struct {
	Items []PodView `json:"items"`
}

// DaemonStatus is the full status surface for CLI and health callers.
type DaemonStatus struct {
	Running      bool         `json:"running"`
	PID          int          `json:"pid"`
	DBPath       string       `json:"db_path,omitempty"`
	LockFilePath string       `json:"lock_file_path,omitempty"`
	Queue        QueueSummary `json:"queue"`
	Pods         []PodView    `json:"pods"`
	Creating     []string     `json:"creating,omitempty"`
}

// FromRequest converts a stored request into its wire shape.
func FromRequest(req *requests.Request) RequestView {
	view := RequestView{
		ID:           req.ID,
		Workflow:     req.Workflow,
		Status:       string(req.Status),
		PodID:        req.PodID,
		ErrorMessage: req.ErrorMessage,
		CreatedAt:    req.CreatedAt,
		UpdatedAt:    req.UpdatedAt,
		CompletedAt:  req.CompletedAt,
	}
	if req.ParamsJSON != "" {
		view.Params = json.RawMessage(req.ParamsJSON)
	}
	if req.OutputsJSON != "" {
		view.Outputs = json.RawMessage(req.OutputsJSON)
	}
	return view
}

// FromRequests converts a request slice.
func FromRequests(reqs []*requests.Request) []RequestView {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]RequestView, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, FromRequest(req))
	}
	return out
}

// FromPod converts a pod snapshot into its wire shape.
func FromPod(view pods.View) PodView {
	out := PodView{
		ID:            view.ID,
		Workflow:      view.Workflow,
		Status:        string(view.Status),
		Capacity:      view.Capacity,
		InFlight:      view.InFlight,
		CreatedAt:     view.CreatedAt,
		LastUsedAt:    view.LastUsedAt,
		PausedAt:      view.PausedAt,
		PauseDeadline: view.PauseDeadline,
		Address:       view.Address,
	}
	if view.PausedAt != nil {
		deadline := view.TerminateDeadline
		out.TerminateDeadline = &deadline
	}
	return out
}

// FromPods converts a pod snapshot slice.
func FromPods(views []pods.View) []PodView {
	if len(views) == 0 {
		return nil
	}
	out := make([]PodView, 0, len(views))
	for _, view := range views {
		out = append(out, FromPod(view))
	}
	return out
}

// FromSummary converts aggregated queue counts.
func FromSummary(summary requests.Summary) QueueSummary {
	return QueueSummary(summary)
}

// FromOverview converts the scheduler's status snapshot.
func FromOverview(ov scheduler.Overview) DaemonStatus {
	return DaemonStatus{
		Running:  ov.Running,
		Queue:    FromSummary(ov.Queue),
		Pods:     FromPods(ov.Pods),
		Creating: ov.Creating,
	}
}
