package cloud_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kiln/internal/cloud"
	"kiln/internal/services"
)

func TestCreatePod(t *testing.T) {
	var gotAuth string
	var gotSpec cloud.CreatePodSpec

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/pods" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotSpec); err != nil {
			t.Errorf("decode spec: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pod-abc","name":"kiln-image","desiredStatus":"CREATED"}`))
	}))
	defer server.Close()

	client := cloud.NewHTTPClient(server.URL, "secret-key", 0, nil)
	pod, err := client.CreatePod(context.Background(), cloud.CreatePodSpec{
		Name:      "kiln-image",
		GPUTypeID: "NVIDIA GeForce RTX 4090",
	})
	if err != nil {
		t.Fatalf("create pod: %v", err)
	}
	if pod.ID != "pod-abc" {
		t.Fatalf("unexpected pod id %q", pod.ID)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotSpec.GPUCount != 1 {
		t.Fatalf("zero gpu count should default to 1, got %d", gotSpec.GPUCount)
	}
}

func TestPodByIDParsesPorts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pods/pod-abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "pod-abc",
			"currentStatus": "RUNNING",
			"publicIp": "203.0.113.10",
			"portMappings": [
				{"privatePort": 22, "publicPort": 10022, "ip": "203.0.113.10", "type": "tcp"},
				{"privatePort": 8188, "publicPort": 18188, "ip": "203.0.113.10", "type": "http"}
			]
		}`))
	}))
	defer server.Close()

	client := cloud.NewHTTPClient(server.URL, "key", 0, nil)
	pod, err := client.PodByID(context.Background(), "pod-abc")
	if err != nil {
		t.Fatalf("pod by id: %v", err)
	}
	if !pod.IsRunning() {
		t.Fatal("expected running pod")
	}
	public, ok := pod.PublicPortFor(8188)
	if !ok || public != 18188 {
		t.Fatalf("expected public port 18188, got %d (ok=%v)", public, ok)
	}
	if pod.PortExposed(9999) {
		t.Fatal("unmapped port must not report exposed")
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	var calls []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := cloud.NewHTTPClient(server.URL, "key", 0, nil)
	ctx := context.Background()
	if err := client.StartPod(ctx, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := client.StopPod(ctx, "p1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := client.TerminatePod(ctx, "p1"); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	want := []string{"POST /pods/p1/start", "POST /pods/p1/stop", "DELETE /pods/p1"}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), calls)
	}
	for i, call := range want {
		if calls[i] != call {
			t.Fatalf("call %d: expected %q, got %q", i, call, calls[i])
		}
	}
}

func TestErrorResponsesAreWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"no instances available for gpu type"}`))
	}))
	defer server.Close()

	client := cloud.NewHTTPClient(server.URL, "key", 0, nil)
	_, err := client.CreatePod(context.Background(), cloud.CreatePodSpec{GPUTypeID: "NVIDIA RTX A5000"})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !errors.Is(err, services.ErrCloudProvider) {
		t.Fatalf("expected cloud provider marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "no instances available") {
		t.Fatalf("expected provider detail in error, got %v", err)
	}
}

func TestProxyURL(t *testing.T) {
	got := cloud.ProxyURL("proxy.runpod.net", "pod-abc", 8188)
	if got != "https://pod-abc-8188.proxy.runpod.net" {
		t.Fatalf("unexpected proxy url %q", got)
	}
}
