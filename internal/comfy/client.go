package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kiln/internal/services"
)

// HTTPDoer describes the HTTP client used by the backend client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one pod's ComfyUI HTTP API.
type Client struct {
	baseURL string
	client  HTTPDoer
}

// NewClient constructs a backend client for the pod at baseURL. A nil doer
// falls back to a client with the given timeout.
func NewClient(baseURL string, timeout time.Duration, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  doer,
	}
}

// Artifact is one produced output file.
type Artifact struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	NodeID    string `json:"node_id,omitempty"`
}

// JobState describes where a submitted job is in its lifecycle.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobStatus is the polled view of a submitted job.
type JobStatus struct {
	State   JobState
	Error   string
	Outputs []Artifact
}

// Health is the backend's self-reported readiness.
type Health struct {
	Running bool
	Version string
}

// Submit posts a compiled workflow graph and returns the backend job id.
func (c *Client) Submit(ctx context.Context, graph json.RawMessage, clientID string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    graph,
		"client_id": clientID,
	})
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, "comfy", "encode prompt", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, "comfy", "build request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, "comfy", "submit prompt", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", services.Wrap(services.ErrSubmission, "comfy", "submit prompt", errorBody(resp), nil)
	}

	var result struct {
		PromptID   string          `json:"prompt_id"`
		NodeErrors json.RawMessage `json:"node_errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", services.Wrap(services.ErrSubmission, "comfy", "decode submit response", "", err)
	}
	if result.PromptID == "" {
		return "", services.Wrap(services.ErrSubmission, "comfy", "submit prompt", "backend returned no prompt id", nil)
	}
	return result.PromptID, nil
}

// JobStatus polls /history for a submitted job. A job absent from history is
// still running.
func (c *Client) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+jobID, nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("build history request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return JobStatus{}, fmt.Errorf("poll history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return JobStatus{}, fmt.Errorf("poll history: %s", errorBody(resp))
	}

	var history map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return JobStatus{}, fmt.Errorf("decode history response: %w", err)
	}

	entry, ok := history[jobID]
	if !ok {
		return JobStatus{State: JobRunning}, nil
	}
	return entry.toJobStatus(), nil
}

// HealthCheck queries /system_stats to confirm the backend is serving.
func (c *Client) HealthCheck(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return Health{}, fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("backend health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Health{}, fmt.Errorf("backend health check: %s", errorBody(resp))
	}

	var stats struct {
		System struct {
			ComfyUIVersion string `json:"comfyui_version"`
		} `json:"system"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return Health{}, fmt.Errorf("decode health response: %w", err)
	}
	return Health{Running: true, Version: stats.System.ComfyUIVersion}, nil
}

type historyEntry struct {
	Status struct {
		StatusStr string            `json:"status_str"`
		Completed bool              `json:"completed"`
		Messages  []json.RawMessage `json:"messages"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []Artifact `json:"images"`
		Gifs   []Artifact `json:"gifs"`
		Audio  []Artifact `json:"audio"`
	} `json:"outputs"`
}

func (e historyEntry) toJobStatus() JobStatus {
	if e.Status.StatusStr == "error" {
		return JobStatus{State: JobFailed, Error: e.errorDetail()}
	}
	if !e.Status.Completed {
		return JobStatus{State: JobRunning}
	}

	var outputs []Artifact
	for nodeID, node := range e.Outputs {
		for _, group := range [][]Artifact{node.Images, node.Gifs, node.Audio} {
			for _, artifact := range group {
				artifact.NodeID = nodeID
				outputs = append(outputs, artifact)
			}
		}
	}
	return JobStatus{State: JobCompleted, Outputs: outputs}
}

// errorDetail digs the failing node message out of the history status
// messages; ComfyUI reports them as ["execution_error", {...}] pairs.
func (e historyEntry) errorDetail() string {
	for _, raw := range e.Status.Messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) < 2 {
			continue
		}
		var label string
		if err := json.Unmarshal(pair[0], &label); err != nil || label != "execution_error" {
			continue
		}
		var detail struct {
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &detail); err != nil {
			continue
		}
		if detail.ExceptionMessage != "" {
			if detail.NodeType != "" {
				return fmt.Sprintf("%s: %s", detail.NodeType, detail.ExceptionMessage)
			}
			return detail.ExceptionMessage
		}
	}
	return "backend reported an execution error"
}

func errorBody(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
}
