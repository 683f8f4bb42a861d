package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// breakerAdapter wraps an Adapter with a per-route circuit breaker, so a
// route returning consecutive backend_5xx/timeout failures stops taking
// traffic instead of piling up slow failures against an unhealthy backend.
// Settings mirror the shape exercised in the pack's gobreaker usage
// (circuit breaker per named channel, ConsecutiveFailures trip threshold,
// OnStateChange logged for observability).
type breakerAdapter struct {
	inner Adapter
	cb    *gobreaker.CircuitBreaker
}

func wrapBreaker(routeName string, inner Adapter) Adapter {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        routeName,
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("backend route circuit breaker state change", "route", name, "from", from, "to", to)
		},
	})
	return &breakerAdapter{inner: inner, cb: cb}
}

func (b *breakerAdapter) Call(ctx context.Context, persona string, payload string, opts Options) (*Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Call(ctx, persona, payload, opts)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Result), nil
}

func (b *breakerAdapter) Close() error {
	if closer, ok := b.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
