package backend

import (
	"fmt"

	"github.com/codeready-toolchain/tarsy/pkg/config"
)

// Registry resolves a (role, stage) routing key to a concrete, breaker-
// wrapped Adapter, built once at startup from the static routing table
// (spec.md §4.9 "a static model-tier map"). Mirrors
// config.BackendRoutingRegistry's shape but holds live Adapter values
// instead of config structs.
type Registry struct {
	adapters map[config.RouteKey]Adapter
}

// Build constructs every route's Adapter from its BackendRouteConfig,
// wrapping each in a circuit breaker (pkg/backend/breaker.go) keyed by
// route so one failing route never trips another's breaker.
func Build(routes map[config.RouteKey]*config.BackendRouteConfig) (*Registry, error) {
	adapters := make(map[config.RouteKey]Adapter, len(routes))
	for key, route := range routes {
		adapter, err := newAdapter(key, route)
		if err != nil {
			return nil, fmt.Errorf("build adapter for role=%s stage=%s: %w", key.Role, key.Stage, err)
		}
		adapters[key] = wrapBreaker(routeName(key), adapter)
	}
	return &Registry{adapters: adapters}, nil
}

func newAdapter(key config.RouteKey, route *config.BackendRouteConfig) (Adapter, error) {
	switch route.Type {
	case config.BackendAdapterGRPC:
		return newGRPCAdapter(route.Endpoint, route.Timeout)
	case config.BackendAdapterMock:
		return newMockAdapter(key), nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", route.Type)
	}
}

func routeName(key config.RouteKey) string {
	return fmt.Sprintf("%s/%s", key.Role, key.Stage)
}

// Resolve returns the Adapter for (role, stage), or an error if no route is
// configured — the caller (pkg/supervisor) treats this as a structural
// configuration error, not a retryable one.
func (r *Registry) Resolve(role string, stage config.BackendStage) (Adapter, error) {
	adapter, ok := r.adapters[config.RouteKey{Role: role, Stage: stage}]
	if !ok {
		return nil, fmt.Errorf("no backend route configured for role=%s stage=%s", role, stage)
	}
	return adapter, nil
}

// Close releases every routed adapter's underlying connection (gRPC
// adapters hold one; mock adapters are no-ops).
func (r *Registry) Close() error {
	var firstErr error
	for _, adapter := range r.adapters {
		if closer, ok := adapter.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
