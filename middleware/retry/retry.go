// Package retry provides a sample Middleware that retries a failing step a
// bounded number of times before giving up.
//
// Retry is a deliberate exception to the general rule that middleware calls
// next at most once: a retrying middleware must call next more than once by
// construction. Every other sample middleware in this module calls next at
// most once.
package retry

import (
	"context"
	"time"

	"github.com/workflowforge/forge/foundry"
)

// Middleware retries the wrapped step up to MaxAttempts times (including
// the first try), waiting Delay between attempts.
type Middleware struct {
	MaxAttempts int
	Delay       time.Duration
}

// New returns a retry Middleware. maxAttempts < 1 is treated as 1 (no
// retry).
func New(maxAttempts int, delay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Middleware{MaxAttempts: maxAttempts, Delay: delay}
}

func (m Middleware) Execute(ctx context.Context, op foundry.Operation, fdy *foundry.Foundry, input any, next foundry.Next) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= m.MaxAttempts; attempt++ {
		output, err := next(ctx, input)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if attempt == m.MaxAttempts {
			break
		}
		if m.Delay > 0 {
			timer := time.NewTimer(m.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil, lastErr
}
