package config

import (
	"fmt"
	"sync"
	"time"
)

// BackendAdapterType names which concrete pkg/backend.Adapter implementation
// a route resolves to. Mirrors the teacher's LLMProviderType enum, but keyed
// to this module's own adapter set (pkg/backend) rather than LLM vendors.
type BackendAdapterType string

const (
	BackendAdapterGRPC BackendAdapterType = "grpc"
	BackendAdapterMock BackendAdapterType = "mock"
)

// BackendStage is the call site within the Dual-Engine Supervisor loop
// (spec.md §4.5, §4.9): writer, auditor, or stamp.
type BackendStage string

const (
	StageWriter  BackendStage = "writer"
	StageAuditor BackendStage = "auditor"
	StageStamp   BackendStage = "stamp"
)

// BackendRouteConfig configures one (role, stage) -> adapter binding
// (spec.md §4.9 "Routing to a concrete adapter is by (role, stage) keyed to
// a static model-tier map").
type BackendRouteConfig struct {
	Type        BackendAdapterType `yaml:"type" validate:"required"`
	Endpoint    string             `yaml:"endpoint,omitempty"` // grpc target, empty for mock
	PersonaPath string             `yaml:"persona_path,omitempty"`
	Timeout     time.Duration      `yaml:"timeout,omitempty"` // per-call timeout, spec.md §4.5/§6 BACKEND_TIMEOUT
}

// RouteKey identifies a single routing slot.
type RouteKey struct {
	Role  string
	Stage BackendStage
}

// BackendRoutingRegistry stores the static (role,stage)->route table
// in memory with thread-safe access, following the teacher's
// LLMProviderRegistry pattern (pkg/config/llm.go) of a defensively-copied
// map behind an RWMutex.
type BackendRoutingRegistry struct {
	routes map[RouteKey]*BackendRouteConfig
	mu     sync.RWMutex
}

// NewBackendRoutingRegistry creates a new routing registry from a defensive
// copy of routes.
func NewBackendRoutingRegistry(routes map[RouteKey]*BackendRouteConfig) *BackendRoutingRegistry {
	copied := make(map[RouteKey]*BackendRouteConfig, len(routes))
	for k, v := range routes {
		copied[k] = v
	}
	return &BackendRoutingRegistry{routes: copied}
}

// Get retrieves the route for (role, stage).
func (r *BackendRoutingRegistry) Get(role string, stage BackendStage) (*BackendRouteConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[RouteKey{Role: role, Stage: stage}]
	if !ok {
		return nil, fmt.Errorf("%w: role=%s stage=%s", ErrRouteNotFound, role, stage)
	}
	return route, nil
}

// GetAll returns a defensive copy of every configured route.
func (r *BackendRoutingRegistry) GetAll() map[RouteKey]*BackendRouteConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[RouteKey]*BackendRouteConfig, len(r.routes))
	for k, v := range r.routes {
		out[k] = v
	}
	return out
}

// DefaultBackendRoutes returns a routing table that routes every known role
// to a mock adapter at every stage — safe for local development and tests
// where no external model-serving process is configured.
func DefaultBackendRoutes() map[RouteKey]*BackendRouteConfig {
	roles := []string{"pm", "excavator", "strategist", "coder", "qa", "reviewer", "researcher", "analyst", "stamp", "council"}
	stages := []BackendStage{StageWriter, StageAuditor, StageStamp}
	out := make(map[RouteKey]*BackendRouteConfig, len(roles)*len(stages))
	for _, role := range roles {
		for _, stage := range stages {
			out[RouteKey{Role: role, Stage: stage}] = &BackendRouteConfig{
				Type:    BackendAdapterMock,
				Timeout: 5 * time.Minute,
			}
		}
	}
	return out
}
