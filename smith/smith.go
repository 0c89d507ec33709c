// Package smith implements the workflow orchestrator. A Smith drives a
// Workflow through a Foundry, step by step, and coordinates compensation
// when a step fails.
package smith

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/workflowforge/forge/forgeconfig"
	"github.com/workflowforge/forge/forgeerrors"
	"github.com/workflowforge/forge/foundry"
	"github.com/workflowforge/forge/observability"
	"github.com/workflowforge/forge/workflow"
)

// WorkflowEventHandler receives workflow-lifecycle and compensation events.
// Registered handlers run synchronously in registration order, on the
// goroutine driving ForgeAsync; handlers should be quick.
type WorkflowEventHandler func(ctx context.Context, event observability.Event)

// CompensationHook is notified once a workflow's compensation pass has
// finished, whether or not any operations were actually compensated.
// Persistence-style middleware implements this to discard a snapshot that
// is no longer safe to resume from: once compensation has run, the
// operations that produced the snapshot's forward progress have had their
// effects undone, so restoring and skipping past them would re-enter a
// workflow whose rollback is already complete.
type CompensationHook interface {
	DeleteOnCompensation(ctx context.Context, fdy *foundry.Foundry) error
}

// Smith orchestrates Workflow executions against Foundries. Create one with
// CreateSmith; the zero value is not usable.
type Smith struct {
	Logger          observability.Logger
	ServiceProvider foundry.ServiceProvider

	observer observability.Observer
	options  forgeconfig.SmithOptions

	mu                sync.Mutex
	handlers          []WorkflowEventHandler
	compensationHooks []CompensationHook
}

// CreateSmith constructs a Smith.
func CreateSmith(logger observability.Logger, sp foundry.ServiceProvider, opts forgeconfig.SmithOptions) (*Smith, error) {
	if opts.Observer == "" {
		opts.Observer = forgeconfig.DefaultSmithOptions().Observer
	}
	obs, err := observability.GetObserver(opts.Observer)
	if err != nil {
		return nil, &forgeerrors.ConfigurationError{Field: "observer", Err: err}
	}
	if opts.MaxConcurrentWorkflows < 0 {
		return nil, &forgeerrors.ConfigurationError{
			Field: "max_concurrent_workflows",
			Err:   fmt.Errorf("must be >= 0, got %d", opts.MaxConcurrentWorkflows),
		}
	}
	if logger == nil {
		logger = observability.NoOpLogger{}
	}
	return &Smith{
		Logger:          logger,
		ServiceProvider: sp,
		observer:        obs,
		options:         opts,
	}, nil
}

// OnWorkflowEvent registers a handler invoked for every workflow-lifecycle
// and compensation event this Smith emits.
func (s *Smith) OnWorkflowEvent(h WorkflowEventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// AddCompensationHook registers h to run after every compensation pass,
// successful or not. Callers that pair a Smith with persistence-backed
// checkpointing register the persistence middleware here so a compensated
// run's snapshot is deleted rather than left behind for a later recovery
// attempt to restore past already-rolled-back operations.
func (s *Smith) AddCompensationHook(h CompensationHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compensationHooks = append(s.compensationHooks, h)
}

func (s *Smith) emit(ctx context.Context, evType observability.EventType, level observability.Level, source string, data map[string]any) {
	ev := observability.Event{
		Type:      evType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
	s.observer.OnEvent(ctx, ev)

	s.mu.Lock()
	handlers := append([]WorkflowEventHandler(nil), s.handlers...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}

type restoreEntry struct {
	op     foundry.Operation
	output any
}

// compensationResult summarizes a completed compensation pass.
type compensationResult struct {
	successful int
	failed     []forgeerrors.CompensationOutcome
}

// ForgeAsync drives workflow through fdy, step by step. If fdy is nil, a
// Foundry is created with default options. Returns the final
// output of the last executed step, or an error wrapping whichever failure
// surface applies: *forgeerrors.OperationFailure (with compensation having
// run), *forgeerrors.CompensationFailure (additionally, when
// throw_on_compensation_error is set), or *forgeerrors.AggregateRunFailure
// (when continue_on_error recorded step failures on an otherwise-complete
// traversal).
func (s *Smith) ForgeAsync(ctx context.Context, wf *workflow.Workflow, fdy *foundry.Foundry) (any, error) {
	if fdy == nil {
		created, err := foundry.CreateFoundry(wf.Name(), "", s.Logger, nil, forgeconfig.DefaultFoundryOptions())
		if err != nil {
			return nil, err
		}
		fdy = created
	}

	if err := fdy.Freeze(); err != nil {
		return nil, err
	}
	defer fdy.Unfreeze()

	if err := fdy.BindWorkflow(wf.ID(), wf.Name(), wf.Operations()); err != nil {
		return nil, err
	}

	runCtx := ctx
	if s.options.WorkflowTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.options.WorkflowTimeout)
		defer cancel()
	}

	start := time.Now()
	s.emit(runCtx, observability.EventWorkflowStarted, observability.LevelInfo, fdy.Name, map[string]any{
		"workflow_id":   wf.ID(),
		"workflow_name": wf.Name(),
	})

	ops := fdy.Operations()
	var (
		output    any
		stack     []restoreEntry
		stepErrs  []forgeerrors.StepError
		opFailure error
	)
	failedAt := -1

	for i, op := range ops {
		if err := runCtx.Err(); err != nil {
			opFailure = fmt.Errorf("%w: %v", forgeerrors.ErrCancelled, err)
			failedAt = i
			break
		}

		input := output
		if !s.options.EnableOutputChaining() {
			input = nil
		}

		stepTimeout := s.options.DefaultOperationTimeout
		stepCtx := runCtx
		var stepCancel context.CancelFunc
		if stepTimeout > 0 {
			stepCtx, stepCancel = context.WithTimeout(runCtx, stepTimeout)
		}
		out, err := fdy.RunStep(stepCtx, i, op, input)
		if stepCancel != nil {
			stepCancel()
		}

		if err != nil {
			if s.options.ContinueOnError() {
				stepErrs = append(stepErrs, forgeerrors.StepError{StepIndex: i, OperationName: op.Name(), Err: err})
				continue
			}
			opFailure = err
			failedAt = i
			break
		}

		output = out
		if op.SupportsRestore() {
			stack = append(stack, restoreEntry{op: op, output: out})
		}
	}

	if opFailure == nil {
		duration := time.Since(start)
		s.emit(runCtx, observability.EventWorkflowCompleted, observability.LevelInfo, fdy.Name, map[string]any{
			"workflow_id":   wf.ID(),
			"workflow_name": wf.Name(),
			"duration":      duration,
		})
		if len(stepErrs) > 0 {
			return output, &forgeerrors.AggregateRunFailure{Errors: stepErrs}
		}
		return output, nil
	}

	failedOperationName := ops[failedAt].Name()
	s.emit(runCtx, observability.EventWorkflowFailed, observability.LevelError, fdy.Name, map[string]any{
		"workflow_id":           wf.ID(),
		"workflow_name":         wf.Name(),
		"failed_operation_name": failedOperationName,
		"error":                 opFailure.Error(),
	})

	compResult := s.compensate(ctx, fdy, stack, failedOperationName)

	s.emit(ctx, observability.EventCompensationCompleted, observability.LevelInfo, fdy.Name, map[string]any{
		"workflow_id": wf.ID(),
		"successful":  compResult.successful,
		"failed":      len(compResult.failed),
	})

	s.mu.Lock()
	hooks := append([]CompensationHook(nil), s.compensationHooks...)
	s.mu.Unlock()
	for _, hook := range hooks {
		if err := hook.DeleteOnCompensation(ctx, fdy); err != nil {
			s.Logger.Error(ctx, "compensation hook failed", observability.F("error", err.Error()))
		}
	}

	if s.options.ThrowOnCompensationError() && len(compResult.failed) > 0 {
		return nil, errors.Join(opFailure, &forgeerrors.CompensationFailure{Details: compResult.failed})
	}
	return nil, opFailure
}

// compensate walks stack in LIFO order, running each operation's Compensate.
// Compensation is run against the caller's original ctx, not the (possibly
// already-expired) run context, so that compensation is attempted even
// after caller cancellation. failedOperationName identifies the operation
// whose Forward call triggered this compensation pass, not the last one
// that completed successfully.
func (s *Smith) compensate(ctx context.Context, fdy *foundry.Foundry, stack []restoreEntry, failedOperationName string) compensationResult {
	var result compensationResult
	if len(stack) == 0 {
		return result
	}

	s.emit(ctx, observability.EventCompensationTriggered, observability.LevelWarning, fdy.Name, map[string]any{
		"failed_operation_name": failedOperationName,
	})

	for i := len(stack) - 1; i >= 0; i-- {
		entry := stack[i]
		s.emit(ctx, observability.EventCompensationRestoreStarted, observability.LevelInfo, fdy.Name, map[string]any{
			"operation_id":   entry.op.ID(),
			"operation_name": entry.op.Name(),
		})

		restoreStart := time.Now()
		err := entry.op.Compensate(ctx, entry.output, fdy)
		duration := time.Since(restoreStart)

		if err == nil {
			result.successful++
			s.emit(ctx, observability.EventCompensationRestoreCompleted, observability.LevelInfo, fdy.Name, map[string]any{
				"operation_id":   entry.op.ID(),
				"operation_name": entry.op.Name(),
				"duration":       duration,
			})
			continue
		}

		result.failed = append(result.failed, forgeerrors.CompensationOutcome{
			OperationID:   entry.op.ID(),
			OperationName: entry.op.Name(),
			Duration:      duration,
			Err:           err,
		})
		s.emit(ctx, observability.EventCompensationRestoreFailed, observability.LevelError, fdy.Name, map[string]any{
			"operation_id":   entry.op.ID(),
			"operation_name": entry.op.Name(),
			"duration":       duration,
			"error":          err.Error(),
		})

		if s.options.FailFastCompensation() {
			break
		}
	}

	return result
}
