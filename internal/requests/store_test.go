package requests_test

import (
	"context"
	"testing"

	"kiln/internal/requests"
)

func newStore(t *testing.T) *requests.Store {
	t.Helper()
	store, err := requests.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func TestNewAndGetByID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	req, err := store.New(ctx, "image", `{"prompt":"a lighthouse"}`)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if req.ID == "" {
		t.Fatal("expected generated request id")
	}
	if req.Status != requests.StatusPending {
		t.Fatalf("expected pending status, got %s", req.Status)
	}

	fetched, err := store.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected request to be found")
	}
	if fetched.ParamsJSON != `{"prompt":"a lighthouse"}` {
		t.Fatalf("unexpected params %q", fetched.ParamsJSON)
	}

	missing, err := store.GetByID(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for unknown id")
	}
}

func TestPendingForWorkflowIsFIFO(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		req, err := store.New(ctx, "image", `{}`)
		if err != nil {
			t.Fatalf("new request %d: %v", i, err)
		}
		ids = append(ids, req.ID)
	}
	if _, err := store.New(ctx, "video", `{}`); err != nil {
		t.Fatalf("new video request: %v", err)
	}

	batch, err := store.PendingForWorkflow(ctx, "image", 3)
	if err != nil {
		t.Fatalf("pending for workflow: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected limit of 3 requests, got %d", len(batch))
	}
	for i, req := range batch {
		if req.ID != ids[i] {
			t.Fatalf("position %d: expected %s, got %s (FIFO order broken)", i, ids[i], req.ID)
		}
	}

	if batch, err := store.PendingForWorkflow(ctx, "image", 0); err != nil || batch != nil {
		t.Fatalf("zero limit should return nothing, got %v, %v", batch, err)
	}
}

func TestPendingWorkflowsOrderedByOldest(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.New(ctx, "video", `{}`); err != nil {
		t.Fatalf("new video: %v", err)
	}
	if _, err := store.New(ctx, "image", `{}`); err != nil {
		t.Fatalf("new image: %v", err)
	}

	kinds, err := store.PendingWorkflows(ctx)
	if err != nil {
		t.Fatalf("pending workflows: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != "video" || kinds[1] != "image" {
		t.Fatalf("expected [video image], got %v", kinds)
	}
}

func TestMarkProcessingGuardsStatus(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	req, err := store.New(ctx, "image", `{}`)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	taken, err := store.MarkProcessing(ctx, req.ID, "pod-1")
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if !taken {
		t.Fatal("expected first mark processing to succeed")
	}

	again, err := store.MarkProcessing(ctx, req.ID, "pod-2")
	if err != nil {
		t.Fatalf("second mark processing: %v", err)
	}
	if again {
		t.Fatal("request already processing must not be claimed twice")
	}

	current, err := store.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if current.PodID != "pod-1" {
		t.Fatalf("expected pod-1 to keep the claim, got %q", current.PodID)
	}
}

func TestFinalizeFirstWriteWins(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	t.Run("completed then failed", func(t *testing.T) {
		req, err := store.New(ctx, "image", `{}`)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if _, err := store.MarkProcessing(ctx, req.ID, "pod-1"); err != nil {
			t.Fatalf("mark processing: %v", err)
		}

		applied, err := store.MarkCompleted(ctx, req.ID, `[{"filename":"out.png"}]`)
		if err != nil || !applied {
			t.Fatalf("mark completed: applied=%v err=%v", applied, err)
		}
		applied, err = store.MarkFailed(ctx, req.ID, "late failure")
		if err != nil {
			t.Fatalf("mark failed: %v", err)
		}
		if applied {
			t.Fatal("late failure must not overwrite completed state")
		}

		current, err := store.GetByID(ctx, req.ID)
		if err != nil {
			t.Fatalf("get request: %v", err)
		}
		if current.Status != requests.StatusCompleted {
			t.Fatalf("expected completed, got %s", current.Status)
		}
		if current.ErrorMessage != "" {
			t.Fatalf("completed request should carry no error, got %q", current.ErrorMessage)
		}
		if current.CompletedAt == nil {
			t.Fatal("expected completed_at to be set")
		}
	})

	t.Run("failed then completed", func(t *testing.T) {
		req, err := store.New(ctx, "image", `{}`)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if _, err := store.MarkProcessing(ctx, req.ID, "pod-1"); err != nil {
			t.Fatalf("mark processing: %v", err)
		}

		applied, err := store.MarkFailed(ctx, req.ID, "backend exploded")
		if err != nil || !applied {
			t.Fatalf("mark failed: applied=%v err=%v", applied, err)
		}
		applied, err = store.MarkCompleted(ctx, req.ID, `[]`)
		if err != nil {
			t.Fatalf("mark completed: %v", err)
		}
		if applied {
			t.Fatal("late completion must not overwrite failed state")
		}

		current, err := store.GetByID(ctx, req.ID)
		if err != nil {
			t.Fatalf("get request: %v", err)
		}
		if current.Status != requests.StatusFailed {
			t.Fatalf("expected failed, got %s", current.Status)
		}
		if current.ErrorMessage != "backend exploded" {
			t.Fatalf("unexpected error message %q", current.ErrorMessage)
		}
	})
}

func TestResetStuckProcessing(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first, err := store.New(ctx, "image", `{}`)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	second, err := store.New(ctx, "image", `{}`)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	if _, err := store.MarkProcessing(ctx, first.ID, "pod-1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if _, err := store.MarkProcessing(ctx, second.ID, "pod-1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if _, err := store.MarkCompleted(ctx, second.ID, `[]`); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	reset, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("reset stuck: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reset request, got %d", reset)
	}

	current, err := store.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if current.Status != requests.StatusPending {
		t.Fatalf("expected pending after reset, got %s", current.Status)
	}
	if current.PodID != "" {
		t.Fatalf("expected pod assignment cleared, got %q", current.PodID)
	}
}

func TestSummarize(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a, _ := store.New(ctx, "image", `{}`)
	b, _ := store.New(ctx, "image", `{}`)
	if _, err := store.New(ctx, "video", `{}`); err != nil {
		t.Fatalf("new request: %v", err)
	}
	if _, err := store.MarkProcessing(ctx, a.ID, "pod-1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if _, err := store.MarkProcessing(ctx, b.ID, "pod-1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if _, err := store.MarkFailed(ctx, b.ID, "oom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	summary, err := store.Summarize(ctx)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	want := requests.Summary{Total: 3, Pending: 1, Processing: 1, Failed: 1}
	if summary != want {
		t.Fatalf("unexpected summary %+v, want %+v", summary, want)
	}
}

func TestClearRemovesOnlyTerminalRequests(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	done, _ := store.New(ctx, "image", `{}`)
	broken, _ := store.New(ctx, "image", `{}`)
	waiting, _ := store.New(ctx, "video", `{}`)

	if _, err := store.MarkProcessing(ctx, done.ID, "pod-1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if _, err := store.MarkCompleted(ctx, done.ID, `[]`); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if _, err := store.MarkProcessing(ctx, broken.ID, "pod-1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if _, err := store.MarkFailed(ctx, broken.ID, "oom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	removed, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("clear completed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 completed request removed, got %d", removed)
	}
	removed, err = store.ClearFailed(ctx)
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 failed request removed, got %d", removed)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != waiting.ID {
		t.Fatalf("pending request must survive clearing, got %+v", remaining)
	}
}
