// Package models defines the shared domain types for the pipeline scheduler:
// Job, Pipeline, Event, Decision, AgentOutput, FailureSignature and
// EscalationRecord. These replace the cyclic job↔event↔pipeline object graph
// described in spec.md §9 with an arena-indexed model: every cross-reference
// is a string ID looked up through pkg/store, never an in-memory pointer, so
// there is no ownership cycle to reason about.
package models

import "time"

// Role identifies which persona a Job is routed to.
type Role string

// Roles named in spec.md §3.
const (
	RolePM         Role = "pm"
	RoleExcavator  Role = "excavator"
	RoleStrategist Role = "strategist"
	RoleCoder      Role = "coder"
	RoleQA         Role = "qa"
	RoleReviewer   Role = "reviewer"
	RoleResearcher Role = "researcher"
	RoleAnalyst    Role = "analyst"
	RoleStamp      Role = "stamp"
	RoleCouncil    Role = "council"
)

// Mode distinguishes a worker attempt from a reviewer pass over the same role.
type Mode string

const (
	ModeWorker   Mode = "worker"
	ModeReviewer Mode = "reviewer"
)

// JobState is the lifecycle state of a Job. succeeded/failed/cancelled are
// terminal.
type JobState string

const (
	JobPending   JobState = "pending"
	JobLeased    JobState = "leased"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// IsTerminal reports whether no further transition is possible for this state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Priority orders jobs within a (role, mode) queue key. High beats Medium
// beats Low; FIFO by CreatedAt within a priority tier (spec.md §4.6).
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank gives Priority a numeric ordering for SQL ORDER BY and for the
// age-based promotion in §4.6 ("a job's effective priority increases by one
// tier after AGE_THRESHOLD seconds pending").
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Promote returns the next-higher priority tier, or p unchanged if already
// at the top. Used by the aging/starvation-avoidance rule in §4.6.
func (p Priority) Promote() Priority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return p
	}
}

// Less reports whether p sorts before o (higher priority first).
func (p Priority) Less(o Priority) bool { return p.rank() < o.rank() }

// Job is the unit of scheduled work (spec.md §3).
type Job struct {
	ID            string
	PipelineID    string
	ParentJobID   *string
	Role          Role
	Mode          Mode
	Sequence      int // position within (PipelineID, Role, Mode) — enforces uniqueness (§3)
	State         JobState
	Payload       []byte
	Context       map[string]any
	Priority      Priority
	CreatedAt     time.Time
	LeasedAt      *time.Time
	FinishedAt    *time.Time
	LeaseDeadline *time.Time
	AttemptCount  int

	// WorkerID/LastHeartbeatAt operationalize the lease+reaper model (§4.6)
	// across a multi-replica worker fleet; see SPEC_FULL.md §3 [EXPANSION].
	WorkerID        *string
	LastHeartbeatAt *time.Time
}

// QueueKey is the (role, mode) grouping that jobs are dequeued within.
type QueueKey struct {
	Role Role
	Mode Mode
}
