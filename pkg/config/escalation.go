package config

import "time"

// EscalationConfig holds the retry/escalation ladder tunables named in
// spec.md §6: MAX_REWORK_ROUNDS and MAX_REWRITES.
type EscalationConfig struct {
	// MaxReworkRounds is the per-role rework cap before the Orchestrator
	// forces BLOCKED (spec.md §3, §4.8).
	MaxReworkRounds int `yaml:"max_rework_rounds"`

	// MaxRewrites bounds the Supervisor's internal Write/Audit loop
	// (spec.md §4.5 step 6).
	MaxRewrites int `yaml:"max_rewrites"`

	// SignatureCacheCapacity bounds the Escalator's LRU map of
	// FailureSignature -> EscalationRecord (spec.md §4.4, "bounded by LRU,
	// capacity ≥ 4096").
	SignatureCacheCapacity int `yaml:"signature_cache_capacity"`

	// SnapshotInterval is how often the Escalator's in-memory records are
	// persisted to the escalation_signatures table so a restarted process
	// can recover approximate counts instead of resetting every signature.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// DefaultEscalationConfig returns the built-in escalation defaults.
func DefaultEscalationConfig() *EscalationConfig {
	return &EscalationConfig{
		MaxReworkRounds:        2,
		MaxRewrites:            3,
		SignatureCacheCapacity: 4096,
		SnapshotInterval:       30 * time.Second,
	}
}
