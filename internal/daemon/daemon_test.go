package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"kiln/internal/api"
	"kiln/internal/config"
	"kiln/internal/daemon"
	"kiln/internal/logging"
	"kiln/internal/pods"
	"kiln/internal/requests"
	"kiln/internal/scheduler"
	"kiln/internal/testsupport"
)

// idlePods satisfies scheduler.PodService without ever providing capacity or
// creating pods, so enqueued requests stay pending for API assertions.
type idlePods struct{}

func (idlePods) FindAvailable(string) (pods.View, bool) { return pods.View{}, false }
func (idlePods) CountActive(string) int                 { return 1 << 10 }
func (idlePods) CreateForWorkflow(context.Context, string) (pods.View, error) {
	return pods.View{}, errors.New("not in this test")
}
func (idlePods) Assign(string, string) error { return errors.New("no capacity") }
func (idlePods) ReleaseSlot(string, string)  {}
func (idlePods) Resume(context.Context, string) error {
	return errors.New("nothing to resume")
}
func (idlePods) ConnectionInfo(context.Context, string) (pods.ConnectionInfo, error) {
	return pods.ConnectionInfo{}, errors.New("no pods")
}
func (idlePods) SweepTimeouts(context.Context) {}
func (idlePods) Snapshot() []pods.View         { return nil }

func startDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*daemon.Daemon, *config.Config, *requests.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store, err := requests.Open(cfg.Paths.DataDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	sched := scheduler.New(cfg, store, idlePods{}, func(string) scheduler.Backend { return nil }, logging.NewNop())
	d, err := daemon.New(cfg, store, sched, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, cfg, store
}

func apiClient(t *testing.T, d *daemon.Daemon, token string) *api.Client {
	t.Helper()
	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("daemon did not bind an API address")
	}
	client, err := api.NewClient(addr, token)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGenerateAndFetchOverAPI(t *testing.T) {
	d, _, _ := startDaemon(t)
	client := apiClient(t, d, "")
	ctx := context.Background()

	ack, err := client.Generate(ctx, "image", json.RawMessage(`{"prompt":"a lighthouse"}`))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if ack.ID == "" || ack.Status != string(requests.StatusPending) {
		t.Fatalf("unexpected acknowledgement %+v", ack)
	}

	item, err := client.Request(ctx, ack.ID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if item == nil || item.ID != ack.ID || item.Workflow != "image" {
		t.Fatalf("unexpected request view %+v", item)
	}

	missing, err := client.Request(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("missing request lookup should not error: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil view for unknown id, got %+v", missing)
	}

	queued, err := client.Queue(ctx, "pending")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != ack.ID {
		t.Fatalf("expected the enqueued request in the pending queue, got %+v", queued)
	}
}

func TestGenerateErrorMapping(t *testing.T) {
	d, _, _ := startDaemon(t)
	client := apiClient(t, d, "")
	ctx := context.Background()

	_, err := client.Generate(ctx, "gif", json.RawMessage(`{"prompt":"x"}`))
	var apiErr *api.StatusError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		t.Fatalf("unknown workflow should map to 404, got %v", err)
	}

	_, err = client.Generate(ctx, "image", json.RawMessage(`{"prompt":""}`))
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid parameters should map to 422, got %v", err)
	}
	if !strings.Contains(apiErr.Message, "prompt") {
		t.Fatalf("expected validation detail in error, got %q", apiErr.Message)
	}
}

func TestQueueRejectsUnknownStatusFilter(t *testing.T) {
	d, _, _ := startDaemon(t)
	client := apiClient(t, d, "")

	_, err := client.Queue(context.Background(), "bogus")
	var apiErr *api.StatusError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		t.Fatalf("unknown status filter should map to 400, got %v", err)
	}
}

func TestAPITokenAuth(t *testing.T) {
	d, _, _ := startDaemon(t, func(c *config.Config) {
		c.Paths.APIToken = "secret"
	})
	ctx := context.Background()

	unauthorized := apiClient(t, d, "")
	_, err := unauthorized.Status(ctx)
	var apiErr *api.StatusError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token should map to 401, got %v", err)
	}

	wrong := apiClient(t, d, "guess")
	if _, err := wrong.Status(ctx); !errors.As(err, &apiErr) || apiErr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token should map to 401, got %v", err)
	}

	authorized := apiClient(t, d, "secret")
	if _, err := authorized.Status(ctx); err != nil {
		t.Fatalf("valid token should pass: %v", err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	d, cfg, _ := startDaemon(t)
	client := apiClient(t, d, "")

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running {
		t.Fatal("started daemon must report running")
	}
	if status.PID <= 0 {
		t.Fatalf("expected a real pid, got %d", status.PID)
	}
	if !strings.HasPrefix(status.DBPath, cfg.Paths.DataDir) {
		t.Fatalf("db path %q should live under the data dir", status.DBPath)
	}
	if !strings.HasSuffix(status.LockFilePath, "kilnd.lock") {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}
}

func TestSecondInstanceRefusesToStart(t *testing.T) {
	d, cfg, _ := startDaemon(t)
	_ = d

	store, err := requests.Open(cfg.Paths.DataDir)
	if err != nil {
		t.Fatalf("open second store: %v", err)
	}
	defer store.Close()

	sched := scheduler.New(cfg, store, idlePods{}, func(string) scheduler.Backend { return nil }, logging.NewNop())
	second, err := daemon.New(cfg, store, sched, logging.NewNop())
	if err != nil {
		t.Fatalf("new second daemon: %v", err)
	}
	err = second.Start(context.Background())
	if err == nil {
		second.Stop()
		t.Fatal("second daemon instance must refuse to start")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention error, got %v", err)
	}
}

func TestInterruptedRequestsReturnToQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store, err := requests.Open(cfg.Paths.DataDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()

	req, err := store.New(ctx, "image", `{"prompt":"x"}`)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if _, err := store.MarkProcessing(ctx, req.ID, "pod-gone"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	sched := scheduler.New(cfg, store, idlePods{}, func(string) scheduler.Backend { return nil }, logging.NewNop())
	d, err := daemon.New(cfg, store, sched, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	defer d.Close()

	got, err := store.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != requests.StatusPending || got.PodID != "" {
		t.Fatalf("interrupted request should be pending again without a pod, got %s on %q", got.Status, got.PodID)
	}
}

func TestQueueClearOverAPI(t *testing.T) {
	d, _, store := startDaemon(t)
	client := apiClient(t, d, "")
	ctx := context.Background()

	ack, err := client.Generate(ctx, "image", json.RawMessage(`{"prompt":"x"}`))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := store.MarkProcessing(ctx, ack.ID, "pod-1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if _, err := store.MarkFailed(ctx, ack.ID, "oom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if _, err := client.ClearQueue(ctx, "pending"); err == nil {
		t.Fatal("clearing pending requests must be rejected")
	}

	removed, err := client.ClearQueue(ctx, "failed")
	if err != nil {
		t.Fatalf("clear queue: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 request removed, got %d", removed)
	}

	left, err := client.Queue(ctx)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("queue should be empty after clear, got %+v", left)
	}
}
