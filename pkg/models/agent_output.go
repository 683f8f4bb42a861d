package models

// Verdict is the normalized outcome token shared by sub-agent roles
// (spec.md §4.2 step 3, GLOSSARY). QA additionally uses PASS/FAIL/SKIP,
// which collapse to Verdict-equivalents at the Decision Machine boundary
// but are kept distinct on QAOutput since routing (§4.8) branches on them
// directly.
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictRevise  Verdict = "REVISE"
	VerdictReject  Verdict = "REJECT"
)

// verdictAliases maps the raw tokens named in §4.2 step 3 to their
// normalized Verdict. Both "APPROVE-equivalent" and "REVISE-equivalent"
// families are represented. The literal token REJECT is itself in the
// REVISE-equivalent family, so no raw token normalizes to VerdictReject.
var verdictAliases = map[string]Verdict{
	"APPROVE": VerdictApprove,
	"SHIP":    VerdictApprove,
	"DONE":    VerdictApprove,
	"PASS":    VerdictApprove,
	"REJECT":  VerdictRevise,
	"REVISE":  VerdictRevise,
	"HOLD":    VerdictRevise,
	"NEED_INFO": VerdictRevise,
	"FAIL":    VerdictRevise,
}

// NormalizeVerdict maps a raw token to its normalized Verdict per §4.2 step 3.
// An unrecognized token yields an empty Verdict and ok=false so
// callers can fail schema validation rather than silently defaulting.
func NormalizeVerdict(raw string) (Verdict, bool) {
	v, ok := verdictAliases[raw]
	return v, ok
}

// AgentOutput is implemented by every role-specific typed result so the
// Output Contract (§4.2) and Semantic Guard (§4.3) can operate on them
// uniformly.
type AgentOutput interface {
	// RoleName identifies which schema this output was validated against.
	RoleName() Role
	// DegradedParse reports whether this output was synthesized by the
	// fallback verdict-scan path (§4.2) rather than full JSON parsing.
	DegradedParse() bool
}

// CoderOutput is the Coder role's structured result (spec.md §3).
type CoderOutput struct {
	Summary      string   `json:"summary"`
	FilesChanged []string `json:"files_changed"`
	Diff         string   `json:"diff"`
	TodoNext     string   `json:"todo_next"`
	Degraded     bool     `json:"-"`
}

func (o *CoderOutput) RoleName() Role      { return RoleCoder }
func (o *CoderOutput) DegradedParse() bool { return o.Degraded }

// QAOutput is the QA role's structured result.
type QAOutput struct {
	Verdict  string   `json:"verdict"` // PASS, FAIL, SKIP
	Tests    []string `json:"tests"`
	Coverage float64  `json:"coverage"`
	Issues   []string `json:"issues"`
	Degraded bool     `json:"-"`
}

func (o *QAOutput) RoleName() Role      { return RoleQA }
func (o *QAOutput) DegradedParse() bool { return o.Degraded }

// QA verdict tokens (distinct from the normalized Verdict type — QA's
// schema speaks PASS/FAIL/SKIP directly per spec.md §4.3 table).
const (
	QAPass Verdict = "PASS"
	QAFail Verdict = "FAIL"
	QASkip Verdict = "SKIP"
)

// ReviewerOutput is the Reviewer role's structured result.
type ReviewerOutput struct {
	Verdict        string   `json:"verdict"` // APPROVE, REVISE, REJECT
	Risks          string   `json:"risks"`
	SecurityScore  int      `json:"security_score"`
	ApprovedFiles  []string `json:"approved_files"`
	BlockedFiles   []string `json:"blocked_files"`
	Degraded       bool     `json:"-"`
}

func (o *ReviewerOutput) RoleName() Role      { return RoleReviewer }
func (o *ReviewerOutput) DegradedParse() bool { return o.Degraded }

// PMOutput is the project-manager role's structured result, consumed by the
// Decision Machine (§4.7).
type PMOutput struct {
	Action                   string         `json:"action"`
	Tasks                    []PMTask       `json:"tasks"`
	Summary                  string         `json:"summary"`
	RequiresEscalationReason string         `json:"requires_escalation_reason"`
	Degraded                 bool           `json:"-"`
}

func (o *PMOutput) RoleName() Role      { return RolePM }
func (o *PMOutput) DegradedParse() bool { return o.Degraded }

// PMTask is one entry of PMOutput.Tasks.
type PMTask struct {
	Role    string         `json:"role"`
	Mode    string         `json:"mode"`
	Payload string         `json:"payload"`
	Context map[string]any `json:"context,omitempty"`
}

// GenericOutput is the schema used for roles without a dedicated struct
// (Excavator, Strategist, Researcher, Analyst, Council) — a free-form
// summary plus a verdict, matching spec.md §3's "and similar for others".
type GenericOutput struct {
	Role     Role
	Summary  string `json:"summary"`
	Verdict  string `json:"verdict,omitempty"`
	Degraded bool   `json:"-"`
}

func (o *GenericOutput) RoleName() Role      { return o.Role }
func (o *GenericOutput) DegradedParse() bool { return o.Degraded }

// StampOutput is the terminal advisory verdict emitted after audit (§4.5
// step 5, GLOSSARY "Stamp").
type StampOutput struct {
	Verdict           string `json:"verdict"` // APPROVE, REJECT
	Score             int    `json:"score"`
	BlockingIssues    []string `json:"blocking_issues"`
	RequiresEscalation bool   `json:"requires_escalation"`
}

func (o *StampOutput) RoleName() Role      { return RoleStamp }
func (o *StampOutput) DegradedParse() bool { return false }
