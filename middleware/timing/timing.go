// Package timing provides a sample Middleware that logs each step's
// duration. It is typically registered as the outermost middleware so it
// measures everything inside it, including other middleware.
package timing

import (
	"context"
	"time"

	"github.com/workflowforge/forge/foundry"
	"github.com/workflowforge/forge/observability"
)

// Middleware logs each step's duration after it returns: "operation
// duration" at Information level on success, "operation duration (failed)"
// at Warning level on failure.
type Middleware struct{}

// New returns a timing Middleware.
func New() Middleware { return Middleware{} }

func (Middleware) Execute(ctx context.Context, op foundry.Operation, fdy *foundry.Foundry, input any, next foundry.Next) (any, error) {
	start := time.Now()
	output, err := next(ctx, input)
	duration := time.Since(start)

	fields := []observability.Field{
		observability.F("operation_id", op.ID()),
		observability.F("operation_name", op.Name()),
		observability.F("duration", duration),
	}
	if err != nil {
		fdy.Logger.Warning(ctx, "operation duration (failed)", fields...)
	} else {
		fdy.Logger.Information(ctx, "operation duration", fields...)
	}
	return output, err
}
