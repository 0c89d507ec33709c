package persistence

import (
	"context"
	"time"

	"github.com/workflowforge/forge/forgeconfig"
	"github.com/workflowforge/forge/foundry"
	"github.com/workflowforge/forge/observability"
	"github.com/workflowforge/forge/smith"
	"github.com/workflowforge/forge/workflow"
)

// FoundryFactory constructs a fresh Foundry for one recovery attempt.
type FoundryFactory func() (*foundry.Foundry, error)

// WorkflowFactory constructs the Workflow a recovery attempt should run.
type WorkflowFactory func() (*workflow.Workflow, error)

// RecoveryCoordinator drives a full run with bounded retries, backing off
// between attempts.
type RecoveryCoordinator struct {
	Smith    *smith.Smith
	Policy   forgeconfig.RecoveryPolicy
	Observer observability.Observer
	Sleep    func(ctx context.Context, d time.Duration) error
}

// NewRecoveryCoordinator builds a coordinator using s and policy. The
// default Sleep respects ctx cancellation; observer may be nil.
func NewRecoveryCoordinator(s *smith.Smith, policy forgeconfig.RecoveryPolicy, observer observability.Observer) *RecoveryCoordinator {
	return &RecoveryCoordinator{Smith: s, Policy: policy, Observer: observer, Sleep: contextSleep}
}

func (c *RecoveryCoordinator) emit(ctx context.Context, evType observability.EventType, level observability.Level, data map[string]any) {
	if c.Observer == nil {
		return
	}
	c.Observer.OnEvent(ctx, observability.Event{Type: evType, Level: level, Data: data})
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoffDelay(policy forgeconfig.RecoveryPolicy, attempt int) time.Duration {
	if !policy.ExponentialBackoff {
		return policy.BaseDelay
	}
	delay := policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if policy.MaxDelay > 0 && delay >= policy.MaxDelay {
			return policy.MaxDelay
		}
	}
	return delay
}

// Resume runs wf to completion, making up to Policy.MaxAttempts attempts in
// total and retrying after a failed ForgeAsync unless ctx has been
// cancelled. An error from workflowFactory or foundryFactory is returned at
// once, without retry. Each attempt constructs a fresh Foundry via
// foundryFactory; persistence's restore+skip logic (when the Foundry's
// middleware pipeline includes one) resumes at whatever position was last
// committed.
func (c *RecoveryCoordinator) Resume(ctx context.Context, workflowFactory WorkflowFactory, foundryFactory FoundryFactory) (any, error) {
	maxAttempts := c.Policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.emit(ctx, observability.EventRecoveryAttempt, observability.LevelInfo, map[string]any{"attempt": attempt})

		wf, err := workflowFactory()
		if err != nil {
			return nil, err
		}
		fdy, err := foundryFactory()
		if err != nil {
			return nil, err
		}

		output, err := c.Smith.ForgeAsync(ctx, wf, fdy)
		if err == nil {
			c.emit(ctx, observability.EventRecoverySuccess, observability.LevelInfo, map[string]any{"attempt": attempt})
			return output, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay := backoffDelay(c.Policy, attempt)
		c.emit(ctx, observability.EventRecoveryRetry, observability.LevelWarning, map[string]any{
			"attempt":    attempt,
			"next_delay": delay,
			"error":      err.Error(),
		})
		if sleepErr := c.Sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}
	c.emit(ctx, observability.EventRecoveryExhausted, observability.LevelError, map[string]any{
		"attempts": maxAttempts,
		"error":    lastErr.Error(),
	})
	return nil, lastErr
}

// ResumeAll iterates every pending snapshot in catalog and resumes each,
// returning the count successfully recovered. A failure resuming one
// snapshot does not abort the others.
func (c *RecoveryCoordinator) ResumeAll(ctx context.Context, catalog RecoveryCatalog, workflowFactory WorkflowFactory, foundryFactoryFor func(Snapshot) FoundryFactory, observer observability.Observer) (int, error) {
	pending, err := catalog.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, snap := range pending {
		_, err := c.Resume(ctx, workflowFactory, foundryFactoryFor(snap))
		if err != nil {
			if observer != nil {
				observer.OnEvent(ctx, observability.Event{
					Type:  observability.EventRecoveryExhausted,
					Level: observability.LevelError,
					Data: map[string]any{
						"workflow_key": snap.WorkflowKey.String(),
						"error":        err.Error(),
					},
				})
			}
			continue
		}
		recovered++
	}
	return recovered, nil
}
