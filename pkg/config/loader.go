package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk YAML shape for config.yaml, mirroring the
// teacher's pattern of a plain struct decoded by yaml.v3 then translated
// into the richer in-memory types (BackendRoutingRegistry, etc).
type fileConfig struct {
	PersonaDir       string                         `yaml:"persona_dir"`
	EventLogDir      string                         `yaml:"event_log_dir"`
	ArchiveAfterDays int                             `yaml:"archive_after_days"`
	Queue            *QueueConfig                    `yaml:"queue"`
	Escalation       *EscalationConfig               `yaml:"escalation"`
	Routes           map[string]*BackendRouteConfig  `yaml:"routes"`
}

// Load reads config.yaml from configDir, expands {{.VAR}} environment
// references (pkg/config.ExpandEnv, kept from the teacher verbatim),
// overlays it onto the built-in defaults, validates the result, and
// returns the assembled Config.
//
// A missing config.yaml is not an error: Load falls back to defaults plus
// DefaultBackendRoutes, so a bare `orchestratord` binary runs standalone
// against the mock adapter.
func Load(configDir string) (*Config, error) {
	cfg := &Config{
		configDir:        configDir,
		Queue:            DefaultQueueConfig(),
		Escalation:       DefaultEscalationConfig(),
		Routing:          NewBackendRoutingRegistry(DefaultBackendRoutes()),
		PersonaDir:       filepath.Join(configDir, "personas"),
		EventLogDir:      "events/stream",
		ArchiveAfterDays: 30,
	}

	path := filepath.Join(configDir, "config.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, NewLoadError(path, err)
	}

	raw = ExpandEnv(raw)

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if fc.PersonaDir != "" {
		cfg.PersonaDir = fc.PersonaDir
	}
	if fc.EventLogDir != "" {
		cfg.EventLogDir = fc.EventLogDir
	}
	if fc.ArchiveAfterDays > 0 {
		cfg.ArchiveAfterDays = fc.ArchiveAfterDays
	}
	if fc.Queue != nil {
		cfg.Queue = fc.Queue
	}
	if fc.Escalation != nil {
		cfg.Escalation = fc.Escalation
	}
	if len(fc.Routes) > 0 {
		routes := make(map[RouteKey]*BackendRouteConfig, len(fc.Routes))
		for key, route := range fc.Routes {
			role, stage, err := splitRouteKey(key)
			if err != nil {
				return nil, NewLoadError(path, err)
			}
			routes[RouteKey{Role: role, Stage: stage}] = route
		}
		cfg.Routing = NewBackendRoutingRegistry(routes)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitRouteKey parses a "role/stage" routing table key, e.g. "coder/writer".
func splitRouteKey(key string) (role string, stage BackendStage, err error) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i], BackendStage(key[i+1:]), nil
		}
	}
	return "", "", fmt.Errorf("%w: route key %q must be \"role/stage\"", ErrInvalidYAML, key)
}
