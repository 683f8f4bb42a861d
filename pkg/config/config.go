// Package config loads and validates the pipeline engine's configuration:
// queue tuning, the retry/escalation ladder, and the static backend routing
// table (spec.md §6 "Configuration"). It follows the teacher's layered
// design — typed defaults, optional YAML file overlay, environment variable
// expansion, then validation — collapsed from tarsy's much larger
// agent/chain/MCP-server configuration system (out of scope for this
// module's domain) down to the handful of knobs spec.md actually names.
package config

// Config is the umbrella configuration object returned by Load and used
// throughout the engine.
type Config struct {
	configDir string

	Queue      *QueueConfig
	Escalation *EscalationConfig
	Routing    *BackendRoutingRegistry

	// PersonaDir is the directory opaque persona bundles are loaded from at
	// job execution time (spec.md §6 "Persona bundles (external)"). The
	// core never interprets bundle contents beyond the role's declared
	// schema name, so this is just a path.
	PersonaDir string `yaml:"persona_dir"`

	// EventLogDir is the root directory for the append-only JSONL event
	// stream (spec.md §6 "events/stream/").
	EventLogDir string `yaml:"event_log_dir"`

	// ArchiveAfterDays is the day-file age at which the Event Log migrates
	// files to its archive subtree (spec.md §6 ARCHIVE_AFTER_DAYS).
	ArchiveAfterDays int `yaml:"archive_after_days"`
}

// ConfigDir returns the configuration directory path used to load this Config.
func (c *Config) ConfigDir() string { return c.configDir }

// Stats summarizes the loaded configuration for health/logging endpoints.
type Stats struct {
	BackendRoutes int
}

// Stats returns configuration statistics for the /jobs/health endpoint.
func (c *Config) Stats() Stats {
	return Stats{BackendRoutes: len(c.Routing.GetAll())}
}
