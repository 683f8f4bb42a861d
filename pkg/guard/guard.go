package guard

import (
	"regexp"
	"strings"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// unifiedDiffHeaderPattern matches a standard unified diff's first header
// line ("--- a/path" or "--- path"), per spec.md §4.3's Coder.diff rule.
var unifiedDiffHeaderPattern = regexp.MustCompile(`^---\s+\S`)

// Check runs the Semantic Guard (spec.md §4.3) against a role's parsed
// output: blacklist scan over the role's primary content fields, then the
// role's field-minimum table. It returns the first violation found, wrapped
// as *models.GuardFailure, or nil if the output passes.
func Check(output models.AgentOutput) error {
	if name, ok := blacklistHit(output); ok {
		return &models.GuardFailure{
			Code:  models.CodeSemanticNull,
			Field: blacklistField(output),
			Msg:   "matched vacuous-phrase pattern " + name,
		}
	}

	switch out := output.(type) {
	case *models.CoderOutput:
		return checkCoder(out)
	case *models.QAOutput:
		return checkQA(out)
	case *models.ReviewerOutput:
		return checkReviewer(out)
	default:
		return nil
	}
}

// blacklistField names the primary content field scanned for vacuous
// phrases per role, matching spec.md §4.3's examples (Coder.summary,
// Reviewer.risks).
func blacklistField(output models.AgentOutput) string {
	switch output.(type) {
	case *models.CoderOutput:
		return "summary"
	case *models.ReviewerOutput:
		return "risks"
	default:
		return "summary"
	}
}

func blacklistHit(output models.AgentOutput) (string, bool) {
	var content string
	switch out := output.(type) {
	case *models.CoderOutput:
		content = out.Summary
	case *models.ReviewerOutput:
		content = out.Risks
	case *models.GenericOutput:
		content = out.Summary
	default:
		return "", false
	}
	return MatchBlacklist(content)
}

func checkCoder(out *models.CoderOutput) error {
	summary := strings.TrimSpace(out.Summary)
	if len(summary) < 10 {
		return &models.GuardFailure{Code: models.CodeFieldTooShort, Field: "summary", Msg: "summary shorter than 10 characters"}
	}
	if !hasVerbToken(summary) || !hasSubjectToken(summary) {
		return &models.GuardFailure{Code: models.CodeSemanticNull, Field: "summary", Msg: "summary lacks a recognizable verb/subject token"}
	}

	diff := strings.TrimSpace(out.Diff)
	if len(diff) < 20 {
		return &models.GuardFailure{Code: models.CodeFieldTooShort, Field: "diff", Msg: "diff shorter than 20 characters"}
	}
	if !unifiedDiffHeaderPattern.MatchString(diff) {
		return &models.GuardFailure{Code: models.CodeInvalidValue, Field: "diff", Msg: "diff does not begin with a valid unified-diff header"}
	}

	if diff != "" && len(out.FilesChanged) == 0 {
		return &models.GuardFailure{Code: models.CodeSemanticNull, Field: "files_changed", Msg: "files_changed is empty but diff is non-empty"}
	}
	return nil
}

func checkQA(out *models.QAOutput) error {
	switch models.Verdict(out.Verdict) {
	case models.QAPass, models.QAFail, models.QASkip:
	default:
		return &models.GuardFailure{Code: models.CodeInvalidValue, Field: "verdict", Msg: "verdict not one of PASS, FAIL, SKIP"}
	}
	if models.Verdict(out.Verdict) == models.QAPass && len(out.Tests) == 0 {
		return &models.GuardFailure{Code: models.CodeSemanticNull, Field: "tests", Msg: "tests is empty but verdict is PASS"}
	}
	return nil
}

func checkReviewer(out *models.ReviewerOutput) error {
	switch models.Verdict(out.Verdict) {
	case models.VerdictApprove, models.VerdictRevise, models.VerdictReject:
	default:
		return &models.GuardFailure{Code: models.CodeInvalidValue, Field: "verdict", Msg: "verdict not one of APPROVE, REVISE, REJECT"}
	}
	if out.SecurityScore < 0 || out.SecurityScore > 10 {
		return &models.GuardFailure{Code: models.CodeInvalidValue, Field: "security_score", Msg: "security_score out of range 0-10"}
	}
	if models.Verdict(out.Verdict) == models.VerdictReject && strings.TrimSpace(out.Risks) == "" {
		return &models.GuardFailure{Code: models.CodeSemanticNull, Field: "risks", Msg: "risks is empty but verdict is REJECT"}
	}
	return nil
}
