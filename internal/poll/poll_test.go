package poll_test

import (
	"context"
	"errors"
	"testing"

	"kiln/internal/poll"
)

func TestUntilStopsOnDone(t *testing.T) {
	calls := 0
	err := poll.Until(context.Background(), poll.Config{Attempts: 5}, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("Until returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestUntilExhaustsAttempts(t *testing.T) {
	calls := 0
	err := poll.Until(context.Background(), poll.Config{Attempts: 4}, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, poll.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestUntilPropagatesFnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := poll.Until(context.Background(), poll.Config{Attempts: 5}, func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected fn error to stop the loop, got %d calls", calls)
	}
}

func TestUntilHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := poll.Until(ctx, poll.Config{Attempts: 3}, func(context.Context) (bool, error) {
		t.Fatal("fn should not run with a cancelled context")
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestUntilTreatsZeroAttemptsAsOne(t *testing.T) {
	calls := 0
	err := poll.Until(context.Background(), poll.Config{}, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, poll.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestUntilSustainedRequiresConsecutiveSuccesses(t *testing.T) {
	// done, done, not-done resets the streak; two more dones finish it.
	results := []bool{true, true, false, true, true}
	calls := 0
	err := poll.UntilSustained(context.Background(), poll.Config{Attempts: 10}, 3, func(context.Context) (bool, error) {
		defer func() { calls++ }()
		if calls < len(results) {
			return results[calls], nil
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("UntilSustained returned error: %v", err)
	}
	// Streak of 3 completes on the 6th call: T T F T T T.
	if calls != 6 {
		t.Fatalf("expected 6 calls, got %d", calls)
	}
}

func TestUntilSustainedExhausts(t *testing.T) {
	err := poll.UntilSustained(context.Background(), poll.Config{Attempts: 3}, 5, func(context.Context) (bool, error) {
		return true, nil
	})
	if !errors.Is(err, poll.ErrExhausted) {
		t.Fatalf("expected ErrExhausted when confirmations exceed attempts, got %v", err)
	}
}
