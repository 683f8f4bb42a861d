// Package decision implements the Decision Machine (spec.md §4.7): mapping
// a PM AgentOutput to a pipeline transition, rejecting forbidden
// transitions, and detecting escalation-worthy decisions via keyword
// dictionary.
//
// The structured-decision extraction steps are grounded on
// pkg/agent/prompt/orchestrator.go's structured-decision prompting/parsing
// conventions for a controlling agent, generalized from orchestrator-prompt
// construction to PM-output interpretation; the verdict normalization reuses
// pkg/contract's shared table directly (spec.md §4.2/§4.7 both speak the
// same APPROVE/REVISE/REJECT vocabulary).
package decision

import (
	"strings"

	"github.com/codeready-toolchain/tarsy/pkg/contract"
	"github.com/codeready-toolchain/tarsy/pkg/guard"
	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// escalationKeywords maps the keyword dictionary from spec.md §4.7 step 4 /
// §7's CEO_REQUIRED taxonomy to an EscalationReason. Matching is
// case-insensitive substring search over the PM's summary/content, mirroring
// how pkg/guard's blacklist scan works.
var escalationKeywords = []struct {
	keyword string
	reason  models.EscalationReason
}{
	{"deploy", models.ReasonDeploy},
	{"api_key", models.ReasonAPIKey},
	{"api key", models.ReasonAPIKey},
	{"payment", models.ReasonPayment},
	{"data_delete", models.ReasonDataDelete},
	{"delete data", models.ReasonDataDelete},
	{"dependency", models.ReasonDependency},
	{"security", models.ReasonSecurity},
}

// allowedFromPM is the set of roles a DISPATCH decision may target (spec.md
// §4.7 step 2, "roles are all in the allowed-from-PM set").
var allowedFromPM = map[models.Role]bool{
	models.RoleExcavator:  true,
	models.RoleStrategist: true,
	models.RoleCoder:      true,
	models.RoleQA:         true,
	models.RoleReviewer:   true,
	models.RoleResearcher: true,
	models.RoleAnalyst:    true,
	models.RoleCouncil:    true,
}

// Extract parses the PM's raw completion and derives a Decision per spec.md
// §4.7's algorithm. Callers then validate the transition against the
// pipeline's current DecisionAction with models.IsAllowedTransition.
func Extract(content string) (*models.Decision, error) {
	output, err := contract.Parse(models.RolePM, content)
	if err != nil {
		return nil, err
	}
	if err := guard.Check(output); err != nil {
		// A PM output failing the Semantic Guard can't be trusted to DISPATCH
		// or DONE; coerce to BLOCKED per spec.md §4.7 step 2's fallback.
		return &models.Decision{Action: models.ActionBlocked, Summary: err.Error()}, nil
	}

	pm, ok := output.(*models.PMOutput)
	if !ok {
		return &models.Decision{Action: models.ActionBlocked, Summary: "pm output did not parse to PMOutput"}, nil
	}

	d := &models.Decision{Confidence: 1.0}

	switch strings.ToUpper(strings.TrimSpace(pm.Action)) {
	case string(models.ActionDispatch):
		d.Action = models.ActionDispatch
		d.Tasks = tasksFrom(pm.Tasks)
		if len(d.Tasks) == 0 || !allRolesAllowed(d.Tasks) {
			d.Action = models.ActionBlocked
			d.Summary = "dispatch requires a non-empty tasks list with roles in the allowed-from-PM set"
		}
	case string(models.ActionDone):
		d.Action = models.ActionDone
		if strings.TrimSpace(pm.Summary) == "" {
			d.Action = models.ActionBlocked
			d.Summary = "done requires a non-empty summary"
		} else {
			d.Summary = truncateSummary(pm.Summary)
		}
	case string(models.ActionEscalate):
		d.Action = models.ActionEscalate
		d.Summary = truncateSummary(pm.Summary)
		d.RequiresEscalationReason = detectReason(pm.RequiresEscalationReason, pm.Summary)
	case string(models.ActionRetry):
		d.Action = models.ActionRetry
		d.Summary = truncateSummary(pm.Summary)
	case string(models.ActionBlocked):
		d.Action = models.ActionBlocked
		d.Summary = truncateSummary(pm.Summary)
	default:
		d.Action = models.ActionBlocked
		d.Summary = "pm action not recognized: " + pm.Action
	}

	if name, hit := guard.MatchBlacklist(pm.Summary); hit {
		d.Confidence = 0.5
		_ = name // name retained only for potential future diagnostics, not part of Decision
	}

	// spec.md §7: CEO-required conditions always produce ESCALATE regardless
	// of the PM's stated action, so the keyword scan runs unconditionally
	// and overrides whatever branch above decided.
	if reason, hit := scanKeywords(pm.Summary); hit {
		d.Action = models.ActionEscalate
		d.Summary = truncateSummary(pm.Summary)
		d.RequiresEscalationReason = reason
	}

	return d, nil
}

func tasksFrom(pmTasks []models.PMTask) []models.TaskDescriptor {
	out := make([]models.TaskDescriptor, 0, len(pmTasks))
	for _, t := range pmTasks {
		out = append(out, models.TaskDescriptor{
			Role:    models.Role(strings.ToLower(strings.TrimSpace(t.Role))),
			Mode:    models.Mode(strings.ToLower(strings.TrimSpace(t.Mode))),
			Payload: []byte(t.Payload),
			Context: t.Context,
		})
	}
	return out
}

func allRolesAllowed(tasks []models.TaskDescriptor) bool {
	for _, t := range tasks {
		if !allowedFromPM[t.Role] {
			return false
		}
	}
	return true
}

// detectReason implements spec.md §4.7 step 4: use the caller-specified
// reason if already valid, else scan the summary/content for a keyword
// match, else "none".
func detectReason(stated string, summary string) models.EscalationReason {
	if r := models.EscalationReason(strings.ToLower(strings.TrimSpace(stated))); isValidReason(r) {
		return r
	}
	if reason, hit := scanKeywords(summary); hit {
		return reason
	}
	return models.ReasonNone
}

// scanKeywords is the CEO_REQUIRED keyword dictionary scan (spec.md §4.7
// step 4 / §7), case-insensitive substring search over a PM summary.
func scanKeywords(summary string) (models.EscalationReason, bool) {
	lower := strings.ToLower(summary)
	for _, kw := range escalationKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.reason, true
		}
	}
	return models.ReasonNone, false
}

func isValidReason(r models.EscalationReason) bool {
	switch r {
	case models.ReasonDeploy, models.ReasonAPIKey, models.ReasonPayment,
		models.ReasonDataDelete, models.ReasonDependency, models.ReasonSecurity, models.ReasonNone:
		return true
	default:
		return false
	}
}

func truncateSummary(s string) string {
	if len(s) <= 100 {
		return s
	}
	return s[:100]
}
