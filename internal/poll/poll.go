package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted reports that a bounded poll ran out of attempts before its
// condition held.
var ErrExhausted = errors.New("poll attempts exhausted")

// Config bounds a poll loop. Attempts must be at least 1; Interval is the
// fixed delay between attempts.
type Config struct {
	Attempts int
	Interval time.Duration
}

// Until invokes fn up to cfg.Attempts times, sleeping cfg.Interval between
// attempts. It stops when fn reports done, when fn returns an error, or when
// the context is cancelled. Exhausting all attempts returns ErrExhausted.
func Until(ctx context.Context, cfg Config, fn func(context.Context) (bool, error)) error {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrExhausted, attempts)
}

// UntilSustained is Until with a debounce: fn must report done on
// confirmations consecutive attempts before the poll succeeds. A non-done
// attempt resets the streak. Used for readiness checks that can flap on
// freshly started services.
func UntilSustained(ctx context.Context, cfg Config, confirmations int, fn func(context.Context) (bool, error)) error {
	if confirmations < 1 {
		confirmations = 1
	}
	streak := 0
	return Until(ctx, cfg, func(ctx context.Context) (bool, error) {
		done, err := fn(ctx)
		if err != nil {
			return false, err
		}
		if !done {
			streak = 0
			return false, nil
		}
		streak++
		return streak >= confirmations, nil
	})
}
