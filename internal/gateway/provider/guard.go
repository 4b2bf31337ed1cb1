package provider

import (
	"context"
	"errors"
	"time"

	"imagereader/internal/pkg/circuit"
)

// Guarded bounds every call with a timeout and, when a breaker is set, fails
// fast while the endpoint is known to be down.
type Guarded struct {
	inner   ModelProvider
	timeout time.Duration
	breaker *circuit.CircuitBreaker
}

func NewGuarded(inner ModelProvider, timeout time.Duration, breaker *circuit.CircuitBreaker) *Guarded {
	return &Guarded{inner: inner, timeout: timeout, breaker: breaker}
}

func (g *Guarded) ID() string    { return g.inner.ID() }
func (g *Guarded) Model() string { return g.inner.Model() }

func (g *Guarded) Breaker() *circuit.CircuitBreaker { return g.breaker }

func (g *Guarded) Call(ctx context.Context, payload ChatPayload) (string, error) {
	if g.breaker != nil && !g.breaker.Allow() {
		return "", unavailable(g.inner.ID(), "circuit open, endpoint failed repeatedly", nil)
	}
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	text, err := g.inner.Call(callCtx, payload)
	g.record(ctx, err)
	if err != nil {
		if _, ok := KindOf(err); !ok {
			err = unavailable(g.inner.ID(), "call failed", err)
		}
		return "", err
	}
	return text, nil
}

func (g *Guarded) record(parent context.Context, err error) {
	if g.breaker == nil {
		return
	}
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case errors.Is(parent.Err(), context.Canceled):
		// caller gave up; says nothing about the endpoint
		g.breaker.Release()
	case errors.Is(err, ErrModelUnavailable):
		g.breaker.RecordFailure()
	default:
		// the endpoint answered, even if with a rejection
		g.breaker.RecordSuccess()
	}
}
