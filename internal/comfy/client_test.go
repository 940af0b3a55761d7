package comfy_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"kiln/internal/comfy"
	"kiln/internal/services"
)

func TestSubmit(t *testing.T) {
	var gotBody struct {
		Prompt   json.RawMessage `json:"prompt"`
		ClientID string          `json:"client_id"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/prompt" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"prompt_id":"job-123","number":4}`))
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL, 0, nil)
	jobID, err := client.Submit(context.Background(), json.RawMessage(`{"1":{"class_type":"KSampler"}}`), "req-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if jobID != "job-123" {
		t.Fatalf("unexpected job id %q", jobID)
	}
	if gotBody.ClientID != "req-1" {
		t.Fatalf("expected client id to carry the request id, got %q", gotBody.ClientID)
	}
	if string(gotBody.Prompt) != `{"1":{"class_type":"KSampler"}}` {
		t.Fatalf("graph not forwarded verbatim: %s", gotBody.Prompt)
	}
}

func TestSubmitRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_prompt"}}`))
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL, 0, nil)
	_, err := client.Submit(context.Background(), json.RawMessage(`{}`), "req-1")
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected submission marker, got %v", err)
	}
}

func TestSubmitMissingPromptID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL, 0, nil)
	if _, err := client.Submit(context.Background(), json.RawMessage(`{}`), "req-1"); !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected submission marker for empty prompt id, got %v", err)
	}
}

func TestJobStatusAbsentMeansRunning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/job-123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL, 0, nil)
	status, err := client.JobStatus(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	if status.State != comfy.JobRunning {
		t.Fatalf("job missing from history should be running, got %s", status.State)
	}
}

func TestJobStatusCompletedCollectsOutputs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"job-123": {
				"status": {"status_str": "success", "completed": true},
				"outputs": {
					"9": {"images": [{"filename": "kiln_image_00001_.png", "subfolder": "", "type": "output"}]}
				}
			}
		}`))
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL, 0, nil)
	status, err := client.JobStatus(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	if status.State != comfy.JobCompleted {
		t.Fatalf("expected completed, got %s", status.State)
	}
	if len(status.Outputs) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(status.Outputs))
	}
	artifact := status.Outputs[0]
	if artifact.Filename != "kiln_image_00001_.png" || artifact.NodeID != "9" {
		t.Fatalf("unexpected artifact %+v", artifact)
	}
}

func TestJobStatusFailureExtractsNodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"job-123": {
				"status": {
					"status_str": "error",
					"completed": false,
					"messages": [
						["execution_start", {}],
						["execution_error", {"node_type": "KSampler", "exception_message": "CUDA out of memory"}]
					]
				}
			}
		}`))
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL, 0, nil)
	status, err := client.JobStatus(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	if status.State != comfy.JobFailed {
		t.Fatalf("expected failed, got %s", status.State)
	}
	if status.Error != "KSampler: CUDA out of memory" {
		t.Fatalf("unexpected error detail %q", status.Error)
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/system_stats" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"system": {"comfyui_version": "0.3.12"}}`))
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL, 0, nil)
	health, err := client.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if !health.Running || health.Version != "0.3.12" {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestHealthCheckDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL, 0, nil)
	if _, err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error for unavailable backend")
	}
}
