package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/pkg/config"
)

func TestMockAdapter_CoderReturnsParsableJSON(t *testing.T) {
	a := newMockAdapter(config.RouteKey{Role: "coder", Stage: config.StageWriter})
	res, err := a.Call(context.Background(), "persona text", "do the work", Options{})
	require.NoError(t, err)
	assert.Contains(t, res.Text, `"summary"`)
	assert.GreaterOrEqual(t, res.LatencyMs, int64(0))
}

func TestMockAdapter_RespectsCancellation(t *testing.T) {
	a := newMockAdapter(config.RouteKey{Role: "coder", Stage: config.StageWriter})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Call(ctx, "p", "payload", Options{})
	assert.Error(t, err)
}

func TestBuild_ResolvesMockRoutes(t *testing.T) {
	routes := config.DefaultBackendRoutes()
	reg, err := Build(routes)
	require.NoError(t, err)

	adapter, err := reg.Resolve("coder", config.StageWriter)
	require.NoError(t, err)
	res, err := adapter.Call(context.Background(), "persona", "payload", Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Text)
}

func TestBuild_UnknownRouteReturnsError(t *testing.T) {
	reg, err := Build(config.DefaultBackendRoutes())
	require.NoError(t, err)
	_, err = reg.Resolve("nonexistent-role", config.StageWriter)
	assert.Error(t, err)
}

func TestNewGRPCAdapter_RequiresEndpoint(t *testing.T) {
	_, err := newGRPCAdapter("", time.Minute)
	assert.Error(t, err)
}

type countingAdapter struct {
	calls int
	fail  bool
}

func (c *countingAdapter) Call(ctx context.Context, persona string, payload string, opts Options) (*Result, error) {
	c.calls++
	if c.fail {
		return nil, assert.AnError
	}
	return &Result{Text: "ok"}, nil
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	inner := &countingAdapter{fail: true}
	wrapped := wrapBreaker("test-route", inner)

	for i := 0; i < 3; i++ {
		_, err := wrapped.Call(context.Background(), "p", "payload", Options{})
		assert.Error(t, err)
	}

	// Breaker should now be open and short-circuit without calling inner.
	before := inner.calls
	_, err := wrapped.Call(context.Background(), "p", "payload", Options{})
	assert.Error(t, err)
	assert.Equal(t, before, inner.calls)
}
