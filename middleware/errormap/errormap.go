// Package errormap provides a sample Middleware that translates operation
// errors into a caller-defined taxonomy before they reach the Smith.
package errormap

import (
	"context"

	"github.com/workflowforge/forge/foundry"
)

// MapFunc translates err, returning the error that should propagate up the
// chain. Returning nil suppresses the failure; that is rarely correct since
// the step's OperationCompleted event will never fire for a swallowed error,
// so MapFunc should only ever narrow or wrap, never swallow.
type MapFunc func(op foundry.Operation, err error) error

// Middleware rewrites errors returned by the wrapped operation via Map.
type Middleware struct {
	Map MapFunc
}

// New returns an errormap Middleware using mapFn.
func New(mapFn MapFunc) Middleware {
	return Middleware{Map: mapFn}
}

func (m Middleware) Execute(ctx context.Context, op foundry.Operation, fdy *foundry.Foundry, input any, next foundry.Next) (any, error) {
	output, err := next(ctx, input)
	if err == nil {
		return output, nil
	}
	return output, m.Map(op, err)
}
