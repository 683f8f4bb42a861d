package models

// DecisionAction is the result kind of parsing a PM output (spec.md §3, §4.7).
type DecisionAction string

const (
	ActionDispatch  DecisionAction = "DISPATCH"
	ActionRetry     DecisionAction = "RETRY"
	ActionBlocked   DecisionAction = "BLOCKED"
	ActionEscalate  DecisionAction = "ESCALATE"
	ActionDone      DecisionAction = "DONE"
)

// EscalationReason classifies why a PM decision requires operator sign-off
// (spec.md §3, §7's "CEO_REQUIRED" condition).
type EscalationReason string

const (
	ReasonDeploy     EscalationReason = "deploy"
	ReasonAPIKey     EscalationReason = "api_key"
	ReasonPayment    EscalationReason = "payment"
	ReasonDataDelete EscalationReason = "data_delete"
	ReasonDependency EscalationReason = "dependency"
	ReasonSecurity   EscalationReason = "security"
	ReasonNone       EscalationReason = "none"
)

// TaskDescriptor is one successor job requested by a DISPATCH decision.
type TaskDescriptor struct {
	Role    Role
	Mode    Mode
	Payload []byte
	Context map[string]any
}

// Decision is the parsed result of a PM AgentOutput (spec.md §3, §4.7).
type Decision struct {
	Action                  DecisionAction
	Tasks                   []TaskDescriptor // required iff Action == ActionDispatch
	Summary                 string           // ≤ 100 chars, log-only
	RequiresEscalationReason EscalationReason
	Confidence               float64 // metadata only, halved on blacklist hit (§4.7 step 5)
}

// allowedTransitions is the Decision Machine's fixed state graph (spec.md §4.7).
var allowedTransitions = map[DecisionAction]map[DecisionAction]bool{
	ActionDispatch: {ActionRetry: true, ActionDone: true, ActionBlocked: true},
	ActionRetry:    {ActionDispatch: true, ActionBlocked: true},
	ActionBlocked:  {ActionEscalate: true},
	ActionEscalate: {ActionDone: true},
	ActionDone:     {}, // terminal, no outgoing edges
}

// IsAllowedTransition reports whether (from, to) is in the Decision Machine's
// fixed state graph. The very first decision of a pipeline has no "from"
// state; callers should treat a zero-value from ("") as always-allowed.
func IsAllowedTransition(from, to DecisionAction) bool {
	if from == "" {
		return true
	}
	edges, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}
