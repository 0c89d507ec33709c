// Package foundry implements the per-run execution context together with
// the Operation and Middleware types it is built from. The three live in
// one package because Operation.Forward and Middleware.Execute both need a
// *Foundry parameter while Foundry holds both Operation and Middleware
// sequences; splitting them across packages would require a circular
// import.
package foundry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/workflowforge/forge/forgeconfig"
	"github.com/workflowforge/forge/forgeerrors"
	"github.com/workflowforge/forge/observability"
)

// ServiceProvider resolves operation dependencies by an opaque type token.
// The engine only queries it; it never registers anything.
type ServiceProvider interface {
	TryResolve(token any) (any, bool)
}

// Foundry is the mutable, per-run execution context. Create one with
// CreateFoundry; a zero-value Foundry is not usable.
type Foundry struct {
	ExecutionID string
	Name        string

	ServiceProvider ServiceProvider
	Logger          observability.Logger
	Properties      *Properties

	observer observability.Observer
	options  forgeconfig.FoundryOptions

	mu              sync.RWMutex
	workflowID      string
	workflowName    string
	operations      []Operation
	middlewares     []Middleware
	ownedOperations []Operation
	currentOpIndex  int
	disposed        bool

	frozen atomic.Bool
}

// CreateFoundry constructs a Foundry. A nil logger falls back to
// observability.NoOpLogger; a nil/empty initialProperties starts from an
// empty map.
func CreateFoundry(name string, executionID string, logger observability.Logger, initialProperties map[string]any, opts forgeconfig.FoundryOptions) (*Foundry, error) {
	if opts.Observer == "" {
		def := forgeconfig.DefaultFoundryOptions()
		opts.Observer = def.Observer
	}
	obs, err := observability.GetObserver(opts.Observer)
	if err != nil {
		return nil, &forgeerrors.ConfigurationError{Field: "observer", Err: err}
	}
	if logger == nil {
		logger = observability.NoOpLogger{}
	}
	if executionID == "" {
		executionID = uuid.New().String()
	}
	return &Foundry{
		ExecutionID:    executionID,
		Name:           name,
		Logger:         logger,
		Properties:     NewProperties(initialProperties),
		observer:       obs,
		options:        opts,
		currentOpIndex: -1,
	}, nil
}

func (f *Foundry) emit(ctx context.Context, evType observability.EventType, level observability.Level, data map[string]any) {
	f.observer.OnEvent(ctx, observability.Event{
		Type:      evType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    f.Name,
		Data:      data,
	})
}

// IsFrozen reports whether a Smith is currently executing against this
// Foundry.
func (f *Foundry) IsFrozen() bool { return f.frozen.Load() }

// Freeze transitions the Foundry into the frozen state. Returns
// forgeerrors.ErrPipelineFrozen if already frozen (a re-entrant
// ForgeAsync call against the same Foundry).
func (f *Foundry) Freeze() error {
	if !f.frozen.CompareAndSwap(false, true) {
		return forgeerrors.ErrPipelineFrozen
	}
	return nil
}

// Unfreeze releases the frozen state. Called by a Smith on return from
// ForgeAsync, success or failure alike.
func (f *Foundry) Unfreeze() {
	f.frozen.Store(false)
}

// BindWorkflow copies ops into the Foundry's operation sequence and records
// the owning workflow's identity. Fails while frozen.
func (f *Foundry) BindWorkflow(workflowID, workflowName string, ops []Operation) error {
	if f.IsFrozen() {
		return forgeerrors.ErrPipelineFrozen
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflowID = workflowID
	f.workflowName = workflowName
	f.operations = append([]Operation(nil), ops...)
	f.currentOpIndex = -1
	return nil
}

// CurrentWorkflowID returns the id of the workflow currently bound to this
// Foundry, or "" if none has been bound yet.
func (f *Foundry) CurrentWorkflowID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.workflowID
}

// CurrentWorkflowName returns the name of the workflow currently bound to
// this Foundry, or "" if none has been bound yet.
func (f *Foundry) CurrentWorkflowName() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.workflowName
}

// Operations returns a snapshot of the current operation sequence.
func (f *Foundry) Operations() []Operation {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Operation(nil), f.operations...)
}

// Middlewares returns a snapshot of the current middleware pipeline.
func (f *Foundry) Middlewares() []Middleware {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Middleware(nil), f.middlewares...)
}

// AddMiddleware appends mw to the pipeline. Fails with ErrPipelineFrozen
// while a Smith is executing.
func (f *Foundry) AddMiddleware(mw Middleware) error {
	if f.IsFrozen() {
		return forgeerrors.ErrPipelineFrozen
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.middlewares = append(f.middlewares, mw)
	return nil
}

// AddOperation appends op to the operation sequence. Fails with
// ErrPipelineFrozen while frozen.
func (f *Foundry) AddOperation(op Operation) error {
	if f.IsFrozen() {
		return forgeerrors.ErrPipelineFrozen
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operations = append(f.operations, op)
	return nil
}

// ReplaceOperations atomically swaps the operation sequence, supporting
// rebinding a Foundry to another Workflow before a fresh run. Fails with
// ErrPipelineFrozen while frozen.
func (f *Foundry) ReplaceOperations(ops []Operation) error {
	if f.IsFrozen() {
		return forgeerrors.ErrPipelineFrozen
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operations = append([]Operation(nil), ops...)
	f.currentOpIndex = -1
	return nil
}

// AdoptOperation registers op as Foundry-owned for disposal purposes,
// distinct from operations supplied via AddOperation/BindWorkflow. Hosts
// that construct operations dynamically at run time (e.g. for-each children
// built from request data rather than passed in by the caller) adopt them
// here so Dispose releases them; operations the caller already holds a
// reference to are never disposed implicitly.
func (f *Foundry) AdoptOperation(op Operation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownedOperations = append(f.ownedOperations, op)
}

// CurrentOperationIndex returns the advisory index of the step currently
// executing, or -1 before the first step has started.
func (f *Foundry) CurrentOperationIndex() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.currentOpIndex
}

// outputKey formats the reserved per-step output cache key.
func outputKey(index int, name string) string {
	return fmt.Sprintf("%s%d,%s]", KeyOperationOutputPrefix, index, name)
}

// RunStep executes the per-step protocol for step index against op,
// composing the current middleware snapshot around the operation's forward
// call. Called by a Smith once per workflow step.
func (f *Foundry) RunStep(ctx context.Context, index int, op Operation, input any) (any, error) {
	f.mu.Lock()
	f.currentOpIndex = index
	f.mu.Unlock()
	f.Properties.Set(KeyCurrentOperationIndex, index)

	// OperationStarted/Completed/Failed are emitted from the innermost
	// terminal, not up front here, so that a persistence middleware wrapping
	// the whole chain can skip a restored step without emitting them for
	// work that never ran.
	terminal := Next(func(ctx context.Context, input any) (any, error) {
		f.emit(ctx, observability.EventOperationStarted, observability.LevelInfo, map[string]any{
			"operation_id":   op.ID(),
			"operation_name": op.Name(),
			"index":          index,
		})

		start := time.Now()
		out, err := op.Forward(ctx, input, f)
		duration := time.Since(start)

		if err != nil {
			f.emit(ctx, observability.EventOperationFailed, observability.LevelError, map[string]any{
				"operation_id":   op.ID(),
				"operation_name": op.Name(),
				"index":          index,
				"duration":       duration,
				"error":          err.Error(),
			})
			return nil, err
		}

		f.emit(ctx, observability.EventOperationCompleted, observability.LevelInfo, map[string]any{
			"operation_id":   op.ID(),
			"operation_name": op.Name(),
			"index":          index,
			"duration":       duration,
		})
		return out, nil
	})
	chain := composeChain(f.Middlewares(), op, f, terminal)

	output, err := chain(ctx, input)
	if err != nil {
		return nil, &forgeerrors.OperationFailure{
			OperationID:   op.ID(),
			OperationName: op.Name(),
			Input:         input,
			Err:           err,
		}
	}

	f.Properties.Set(outputKey(index, op.Name()), output)
	return output, nil
}

// OperationOutputKey formats the reserved per-step output cache key for
// operation index/name, for use by middleware (e.g. persistence) that needs
// to read or pre-populate it outside the Foundry package.
func OperationOutputKey(index int, name string) string {
	return outputKey(index, name)
}

// Dispose releases the Foundry's owned operations exactly once. Operations
// supplied by the caller via AddOperation/BindWorkflow are never disposed
// here: only operations adopted via AdoptOperation are, and only when
// AutoDisposeOperations is enabled.
func (f *Foundry) Dispose() error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return nil
	}
	f.disposed = true
	owned := f.ownedOperations
	f.ownedOperations = nil
	autoDispose := f.options.AutoDisposeOperations
	f.mu.Unlock()

	if !autoDispose {
		return nil
	}
	var firstErr error
	for _, op := range owned {
		if err := op.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
