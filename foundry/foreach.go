package foundry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/workflowforge/forge/forgeconfig"
	"github.com/workflowforge/forge/observability"
)

// ForEachError aggregates the failures of a for-each operation's children.
type ForEachError struct {
	Failures []ChildFailure
}

// ChildFailure records which child index/operation failed and why.
type ChildFailure struct {
	Index int
	Name  string
	Err   error
}

func (e *ForEachError) Error() string {
	if len(e.Failures) == 1 {
		f := e.Failures[0]
		return fmt.Sprintf("for-each: child %d (%s) failed: %v", f.Index, f.Name, f.Err)
	}
	return fmt.Sprintf("for-each: %d of the children failed", len(e.Failures))
}

func (e *ForEachError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

type childOutcome struct {
	index  int
	output any
	err    error
}

// foreachOperation runs N child operations concurrently under a
// concurrency cap, timeout, and data-distribution strategy, using a
// three-channel worker pool.
type foreachOperation struct {
	BaseOperation
	children []Operation
	opts     forgeconfig.ForEachOptions

	mu        sync.Mutex
	completed []childOutcome // successful children only, for compensation
}

// NewForEach builds a For-each operation over children with the given
// options.
func NewForEach(id, name string, children []Operation, opts forgeconfig.ForEachOptions) Operation {
	return &foreachOperation{
		BaseOperation: BaseOperation{OpID: id, OpName: name},
		children:      append([]Operation(nil), children...),
		opts:          opts,
	}
}

func calculateWorkerCount(maxConcurrency, itemCount int) int {
	if itemCount == 0 {
		return 0
	}
	limit := maxConcurrency
	if limit <= 0 {
		limit = itemCount
	}
	workers := limit
	if workers > itemCount {
		workers = itemCount
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// childInputs resolves the per-child input according to the configured
// DataStrategy. Fails before any child is invoked on a split-strategy
// length mismatch.
func (f *foreachOperation) childInputs(input any) ([]any, error) {
	n := len(f.children)
	inputs := make([]any, n)
	switch f.opts.DataStrategy {
	case forgeconfig.DataSplit:
		items, ok := input.([]any)
		if !ok {
			return nil, fmt.Errorf("for-each split strategy: input is not a sequence (got %T)", input)
		}
		if len(items) != n {
			return nil, fmt.Errorf("for-each split strategy: length mismatch: %d children, %d items", n, len(items))
		}
		copy(inputs, items)
	case forgeconfig.DataNone:
		// inputs already all nil
	default: // DataShared, and the zero value
		for i := range inputs {
			inputs[i] = input
		}
	}
	return inputs, nil
}

func (f *foreachOperation) Forward(ctx context.Context, input any, fdy *Foundry) (any, error) {
	n := len(f.children)
	fdy.emit(ctx, observability.EventForEachStarted, observability.LevelInfo, map[string]any{
		"operation_id": f.ID(),
		"children":     n,
	})

	if n == 0 {
		fdy.emit(ctx, observability.EventForEachCompleted, observability.LevelInfo, map[string]any{
			"operation_id": f.ID(),
			"children":     0,
		})
		return nil, nil
	}

	inputs, err := f.childInputs(input)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if f.opts.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer timeoutCancel()
	}

	cancelOnError := func() {}
	failFast := !f.opts.ContinueOnError()
	if failFast {
		var failFastCancel context.CancelFunc
		runCtx, failFastCancel = context.WithCancel(runCtx)
		defer failFastCancel()
		cancelOnError = failFastCancel
	}
	return f.run(runCtx, cancelOnError, fdy, inputs)
}

func (f *foreachOperation) run(ctx context.Context, cancelOnError context.CancelFunc, fdy *Foundry, inputs []any) (any, error) {
	n := len(f.children)
	workers := calculateWorkerCount(f.opts.MaxConcurrency, n)

	workQueue := make(chan int, n)
	results := make(chan childOutcome, n)
	for i := 0; i < n; i++ {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case idx, ok := <-workQueue:
					if !ok {
						return
					}
					f.runChild(ctx, idx, fdy, inputs[idx], results, cancelOnError)
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]childOutcome, 0, n)
	for oc := range results {
		outcomes = append(outcomes, oc)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].index < outcomes[j].index })

	outputs := make([]any, 0, len(outcomes))
	var failures []ChildFailure
	for _, oc := range outcomes {
		if oc.err != nil {
			failures = append(failures, ChildFailure{Index: oc.index, Name: f.children[oc.index].Name(), Err: oc.err})
			continue
		}
		f.mu.Lock()
		f.completed = append(f.completed, oc)
		f.mu.Unlock()
		outputs = append(outputs, oc.output)
	}

	fdy.emit(context.Background(), observability.EventForEachCompleted, observability.LevelInfo, map[string]any{
		"operation_id": f.ID(),
		"children":     n,
		"failed":       len(failures),
	})

	if len(failures) > 0 {
		return nil, &ForEachError{Failures: failures}
	}
	return outputs, nil
}

func (f *foreachOperation) runChild(ctx context.Context, idx int, fdy *Foundry, input any, results chan<- childOutcome, cancelOnError context.CancelFunc) {
	child := f.children[idx]
	fdy.emit(ctx, observability.EventForEachChildStarted, observability.LevelInfo, map[string]any{
		"operation_id": f.ID(),
		"index":        idx,
		"child_name":   child.Name(),
	})

	out, err := child.Forward(ctx, input, fdy)

	fdy.emit(ctx, observability.EventForEachChildDone, observability.LevelInfo, map[string]any{
		"operation_id": f.ID(),
		"index":        idx,
		"child_name":   child.Name(),
		"failed":       err != nil,
	})

	if err != nil && cancelOnError != nil {
		cancelOnError()
	}
	results <- childOutcome{index: idx, output: out, err: err}
}

// Compensate restores every child that completed Forward successfully,
// concurrently under the same concurrency cap, in unspecified order.
func (f *foreachOperation) Compensate(ctx context.Context, _ any, fdy *Foundry) error {
	f.mu.Lock()
	completed := append([]childOutcome(nil), f.completed...)
	f.mu.Unlock()
	if len(completed) == 0 {
		return nil
	}

	workers := calculateWorkerCount(f.opts.MaxConcurrency, len(completed))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []ChildFailure

	for _, oc := range completed {
		oc := oc
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			child := f.children[oc.index]
			if err := child.Compensate(ctx, oc.output, fdy); err != nil {
				mu.Lock()
				failures = append(failures, ChildFailure{Index: oc.index, Name: child.Name(), Err: err})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(failures) > 0 {
		return &ForEachError{Failures: failures}
	}
	return nil
}

func (f *foreachOperation) SupportsRestore() bool {
	for _, child := range f.children {
		if child.SupportsRestore() {
			return true
		}
	}
	return false
}

func (f *foreachOperation) Dispose() error {
	var firstErr error
	for _, child := range f.children {
		if err := child.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
