package models

import "time"

// PipelineState is the lifecycle state of a Pipeline (spec.md §3).
type PipelineState string

const (
	PipelineRunning   PipelineState = "running"
	PipelineBlocked   PipelineState = "blocked"
	PipelineEscalated PipelineState = "escalated"
	PipelineDone      PipelineState = "done"
	// PipelineCancelled is the cancelled marker spec.md §5's cancel(pipeline_id)
	// sets. Workers observe it through the same GetPipeline read a
	// CancelChecker uses between supervisor stages.
	PipelineCancelled PipelineState = "cancelled"
)

// IsTerminal reports whether a pipeline in this state will never transition
// again.
func (s PipelineState) IsTerminal() bool {
	switch s {
	case PipelineDone, PipelineCancelled:
		return true
	default:
		return false
	}
}

// MaxReworkRounds is the per-role rework cap (§3 invariant,
// config.MAX_REWORK_ROUNDS default 2). Kept here as the spec-literal default;
// pkg/config.EscalationConfig.MaxReworkRounds is the tunable source of truth
// at runtime, this constant only backstops a zero-value config.
const MaxReworkRounds = 2

// Pipeline is the causal thread of a user request (spec.md §3).
type Pipeline struct {
	ID           string
	RootRequest  string
	SessionID    string
	State        PipelineState
	ReworkRounds map[Role]int
	// LastDecision is the Decision Machine's current node in the state
	// graph (§4.7), validated against on every new PM decision via
	// IsAllowedTransition. Zero value means no decision has been applied yet.
	LastDecision DecisionAction
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ReworkRoundsFor returns the current rework count for a role (0 if unset).
func (p *Pipeline) ReworkRoundsFor(role Role) int {
	if p.ReworkRounds == nil {
		return 0
	}
	return p.ReworkRounds[role]
}

// IncrementRework bumps the rework counter for role and reports whether the
// pipeline is now over the configured cap.
func (p *Pipeline) IncrementRework(role Role, maxRounds int) (overCap bool) {
	if p.ReworkRounds == nil {
		p.ReworkRounds = make(map[Role]int)
	}
	p.ReworkRounds[role]++
	return p.ReworkRounds[role] > maxRounds
}
