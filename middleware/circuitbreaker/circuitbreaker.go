// Package circuitbreaker provides a sample Middleware that trips a circuit
// breaker around a step using sony/gobreaker. Resilience policies like this
// one are ordinary middleware, not a special concern of the core pipeline.
package circuitbreaker

import (
	"context"

	"github.com/sony/gobreaker"

	"github.com/workflowforge/forge/foundry"
)

// Middleware wraps a step with a *gobreaker.CircuitBreaker, tripping open
// after repeated failures and short-circuiting subsequent calls with
// gobreaker.ErrOpenState until the breaker's reset timeout elapses.
type Middleware struct {
	breaker *gobreaker.CircuitBreaker
}

// New builds a circuit-breaker Middleware named name using settings.
func New(name string, settings gobreaker.Settings) Middleware {
	settings.Name = name
	return Middleware{breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (m Middleware) Execute(ctx context.Context, op foundry.Operation, fdy *foundry.Foundry, input any, next foundry.Next) (any, error) {
	return m.breaker.Execute(func() (interface{}, error) {
		return next(ctx, input)
	})
}
