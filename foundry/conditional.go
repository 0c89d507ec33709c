package foundry

import (
	"context"
	"fmt"

	"github.com/workflowforge/forge/observability"
)

// Predicate decides which branch a Conditional operation takes. It may
// inspect input and the Foundry's properties.
type Predicate func(ctx context.Context, input any, fdy *Foundry) (bool, error)

// conditionalOperation selects exactly one of two child operations by
// predicate: a fixed true/false branch pair rather than an arbitrary route
// map.
type conditionalOperation struct {
	BaseOperation
	predicate   Predicate
	trueBranch  Operation
	falseBranch Operation // nil permitted: missing false branch passes input through

	ranBranch Operation // set during Forward, read during Compensate
}

// NewConditional builds a Conditional operation. falseBranch may be nil: if
// the predicate evaluates false and falseBranch is nil, input passes
// through unchanged and no compensation entry is recorded for this step.
func NewConditional(id, name string, predicate Predicate, trueBranch, falseBranch Operation) Operation {
	return &conditionalOperation{
		BaseOperation: BaseOperation{OpID: id, OpName: name},
		predicate:     predicate,
		trueBranch:    trueBranch,
		falseBranch:   falseBranch,
	}
}

func (c *conditionalOperation) Forward(ctx context.Context, input any, fdy *Foundry) (any, error) {
	fdy.emit(ctx, observability.EventConditionEvaluate, observability.LevelInfo, map[string]any{
		"operation_id": c.ID(),
	})

	ok, err := c.predicate(ctx, input, fdy)
	if err != nil {
		return nil, fmt.Errorf("conditional %s: predicate: %w", c.Name(), err)
	}

	branch := c.falseBranch
	branchLabel := "false"
	if ok {
		branch = c.trueBranch
		branchLabel = "true"
	}

	fdy.emit(ctx, observability.EventConditionSelect, observability.LevelInfo, map[string]any{
		"operation_id": c.ID(),
		"branch":       branchLabel,
	})

	if branch == nil {
		// Missing false branch with a false predicate: pass input through,
		// no child ran, nothing to compensate.
		c.ranBranch = nil
		return input, nil
	}

	out, err := branch.Forward(ctx, input, fdy)
	if err != nil {
		return nil, err
	}
	c.ranBranch = branch
	return out, nil
}

func (c *conditionalOperation) Compensate(ctx context.Context, output any, fdy *Foundry) error {
	if c.ranBranch == nil {
		return nil
	}
	return c.ranBranch.Compensate(ctx, output, fdy)
}

// SupportsRestore reflects only the branch that actually ran. Before Forward
// has run, or when the predicate selected a nil branch, neither branch did
// any work, so this reports false and the Smith records no compensation
// entry for this step.
func (c *conditionalOperation) SupportsRestore() bool {
	if c.ranBranch == nil {
		return false
	}
	return c.ranBranch.SupportsRestore()
}

func (c *conditionalOperation) Dispose() error {
	var firstErr error
	for _, op := range []Operation{c.trueBranch, c.falseBranch} {
		if op == nil {
			continue
		}
		if err := op.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
