package contract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// Parse implements the full spec.md §4.2 algorithm for one role's
// completion: extract, parse, normalize verdict, validate shape, and return
// a typed models.AgentOutput — or fall back to a degraded verdict-only
// output, or fail with *models.ParseFailure.
func Parse(role models.Role, content string) (models.AgentOutput, error) {
	fields, err := parseRaw(content)
	if err != nil {
		if token, ok := scanDegradedVerdict(content); ok {
			return degradedOutput(role, token), nil
		}
		return nil, err
	}

	out, err := schemaFor(role, fields)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// degradedOutput synthesizes a minimal AgentOutput carrying only a
// normalized verdict, per spec.md §4.2's fallback path. All other fields are
// left empty and DegradedParse() reports true so metadata can record
// degraded_parse=true.
func degradedOutput(role models.Role, rawToken string) models.AgentOutput {
	verdict, ok := models.NormalizeVerdict(rawToken)
	verdictStr := rawToken
	if ok {
		verdictStr = string(verdict)
	}

	switch role {
	case models.RoleQA:
		return &models.QAOutput{Verdict: verdictStr, Degraded: true}
	case models.RoleReviewer:
		return &models.ReviewerOutput{Verdict: verdictStr, Degraded: true}
	case models.RoleCoder:
		return &models.CoderOutput{Degraded: true}
	case models.RolePM:
		return &models.PMOutput{Degraded: true}
	default:
		return &models.GenericOutput{Role: role, Verdict: verdictStr, Degraded: true}
	}
}

// schemaFor validates fields against the role's expected shape (spec.md
// §4.2 step 4: "fields, types, value ranges") and returns the typed output.
func schemaFor(role models.Role, fields rawFields) (models.AgentOutput, error) {
	switch role {
	case models.RoleCoder:
		return parseCoder(fields)
	case models.RoleQA:
		return parseQA(fields)
	case models.RoleReviewer:
		return parseReviewer(fields)
	case models.RolePM:
		return parsePM(fields)
	case models.RoleStamp:
		return parseStamp(fields)
	default:
		return parseGeneric(role, fields)
	}
}

func missingFields(fields rawFields, required ...string) []string {
	var missing []string
	for _, key := range required {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

func str(fields rawFields, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func strSlice(fields rawFields, key string) []string {
	raw, ok := fields[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func number(fields rawFields, key string) float64 {
	if v, ok := fields[key].(float64); ok {
		return v
	}
	return 0
}

func boolean(fields rawFields, key string) bool {
	if v, ok := fields[key].(bool); ok {
		return v
	}
	return false
}

func normalizeVerdictField(fields rawFields, key string) (string, bool) {
	raw := strings.ToUpper(strings.TrimSpace(str(fields, key)))
	if raw == "" {
		return "", false
	}
	if v, ok := models.NormalizeVerdict(raw); ok {
		return string(v), true
	}
	return raw, true // caller decides whether the raw value is itself a valid enum (e.g. QA's PASS/FAIL/SKIP)
}

func parseCoder(fields rawFields) (models.AgentOutput, error) {
	if missing := missingFields(fields, "summary", "diff"); len(missing) > 0 {
		return nil, &models.ParseFailure{Reason: "coder output missing required fields", MissingFields: missing}
	}
	return &models.CoderOutput{
		Summary:      str(fields, "summary"),
		FilesChanged: strSlice(fields, "files_changed"),
		Diff:         str(fields, "diff"),
		TodoNext:     str(fields, "todo_next"),
	}, nil
}

func parseQA(fields rawFields) (models.AgentOutput, error) {
	if missing := missingFields(fields, "verdict"); len(missing) > 0 {
		return nil, &models.ParseFailure{Reason: "qa output missing required fields", MissingFields: missing}
	}
	verdict := strings.ToUpper(strings.TrimSpace(str(fields, "verdict")))
	switch models.Verdict(verdict) {
	case models.QAPass, models.QAFail, models.QASkip:
	default:
		return nil, &models.ParseFailure{Reason: fmt.Sprintf("qa output has invalid verdict %q", verdict)}
	}
	return &models.QAOutput{
		Verdict:  verdict,
		Tests:    strSlice(fields, "tests"),
		Coverage: number(fields, "coverage"),
		Issues:   strSlice(fields, "issues"),
	}, nil
}

func parseReviewer(fields rawFields) (models.AgentOutput, error) {
	if missing := missingFields(fields, "verdict"); len(missing) > 0 {
		return nil, &models.ParseFailure{Reason: "reviewer output missing required fields", MissingFields: missing}
	}
	verdict, ok := normalizeVerdictField(fields, "verdict")
	if !ok {
		return nil, &models.ParseFailure{Reason: "reviewer output missing verdict"}
	}
	// REJECT is a verdict of the Reviewer schema in its own right; keep it
	// instead of folding it into the REVISE-equivalent family.
	if strings.ToUpper(strings.TrimSpace(str(fields, "verdict"))) == string(models.VerdictReject) {
		verdict = string(models.VerdictReject)
	}
	switch models.Verdict(verdict) {
	case models.VerdictApprove, models.VerdictRevise, models.VerdictReject:
	default:
		return nil, &models.ParseFailure{Reason: fmt.Sprintf("reviewer output has invalid verdict %q", verdict)}
	}
	return &models.ReviewerOutput{
		Verdict:       verdict,
		Risks:         str(fields, "risks"),
		SecurityScore: int(number(fields, "security_score")),
		ApprovedFiles: strSlice(fields, "approved_files"),
		BlockedFiles:  strSlice(fields, "blocked_files"),
	}, nil
}

func parsePM(fields rawFields) (models.AgentOutput, error) {
	if missing := missingFields(fields, "action"); len(missing) > 0 {
		return nil, &models.ParseFailure{Reason: "pm output missing required fields", MissingFields: missing}
	}
	out := &models.PMOutput{
		Action:                   strings.ToUpper(strings.TrimSpace(str(fields, "action"))),
		Summary:                  str(fields, "summary"),
		RequiresEscalationReason: str(fields, "requires_escalation_reason"),
	}
	if raw, ok := fields["tasks"].([]any); ok {
		for _, t := range raw {
			taskMap, ok := t.(map[string]any)
			if !ok {
				continue
			}
			out.Tasks = append(out.Tasks, models.PMTask{
				Role:    str(rawFields(taskMap), "role"),
				Mode:    str(rawFields(taskMap), "mode"),
				Payload: str(rawFields(taskMap), "payload"),
			})
		}
	}
	return out, nil
}

func parseStamp(fields rawFields) (models.AgentOutput, error) {
	if missing := missingFields(fields, "verdict"); len(missing) > 0 {
		return nil, &models.ParseFailure{Reason: "stamp output missing required fields", MissingFields: missing}
	}
	return &models.StampOutput{
		Verdict:            strings.ToUpper(strings.TrimSpace(str(fields, "verdict"))),
		Score:              int(number(fields, "score")),
		BlockingIssues:     strSlice(fields, "blocking_issues"),
		RequiresEscalation: boolean(fields, "requires_escalation"),
	}, nil
}

func parseGeneric(role models.Role, fields rawFields) (models.AgentOutput, error) {
	out := &models.GenericOutput{
		Role:    role,
		Summary: str(fields, "summary"),
	}
	if raw := str(fields, "verdict"); raw != "" {
		if v, ok := models.NormalizeVerdict(strings.ToUpper(raw)); ok {
			out.Verdict = string(v)
		} else {
			out.Verdict = strings.ToUpper(raw)
		}
	}
	return out, nil
}
