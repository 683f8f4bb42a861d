package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

func TestExtractJSON_FencedBlockPreferred(t *testing.T) {
	content := "Here is my analysis.\n```json\n{\"summary\": \"done\", \"diff\": \"--- a\\n+++ b\"}\n```\nThanks."
	got := ExtractJSON(content)
	assert.Contains(t, got, `"summary"`)
}

func TestExtractJSON_BareObjectFallback(t *testing.T) {
	content := `the result is {"verdict": "PASS", "tests": ["a"]} end of message`
	got := ExtractJSON(content)
	assert.Contains(t, got, `"verdict"`)
}

func TestExtractJSON_NoObjectReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", ExtractJSON("no json here at all"))
}

func TestParse_Coder_Success(t *testing.T) {
	content := "```json\n{\"summary\": \"refactored the parser\", \"diff\": \"--- a/x\\n+++ b/x\", \"files_changed\": [\"x.go\"]}\n```"
	out, err := Parse(models.RoleCoder, content)
	require.NoError(t, err)
	coder, ok := out.(*models.CoderOutput)
	require.True(t, ok)
	assert.Equal(t, "refactored the parser", coder.Summary)
	assert.False(t, coder.DegradedParse())
}

func TestParse_Coder_MissingFieldsFails(t *testing.T) {
	content := `{"summary": "did a thing"}`
	_, err := Parse(models.RoleCoder, content)
	require.Error(t, err)
	var pf *models.ParseFailure
	require.ErrorAs(t, err, &pf)
	assert.Contains(t, pf.MissingFields, "diff")
}

func TestParse_QA_NormalizesAndValidatesVerdict(t *testing.T) {
	content := `{"verdict": "pass", "tests": ["a", "b"]}`
	out, err := Parse(models.RoleQA, content)
	require.NoError(t, err)
	qa := out.(*models.QAOutput)
	assert.Equal(t, string(models.QAPass), qa.Verdict)
}

func TestParse_QA_InvalidVerdictFails(t *testing.T) {
	content := `{"verdict": "MAYBE"}`
	_, err := Parse(models.RoleQA, content)
	assert.Error(t, err)
}

func TestParse_Reviewer_NormalizesAliasVerdict(t *testing.T) {
	content := `{"verdict": "SHIP", "risks": "none material"}`
	out, err := Parse(models.RoleReviewer, content)
	require.NoError(t, err)
	rev := out.(*models.ReviewerOutput)
	assert.Equal(t, string(models.VerdictApprove), rev.Verdict)
}

func TestParse_DegradedFallback_ScansTrailingWindow(t *testing.T) {
	content := "The model rambled at length without emitting JSON at all. Final answer: APPROVE"
	out, err := Parse(models.RoleReviewer, content)
	require.NoError(t, err)
	assert.True(t, out.DegradedParse())
	rev := out.(*models.ReviewerOutput)
	assert.Equal(t, string(models.VerdictApprove), rev.Verdict)
}

func TestParse_NoJSONNoVerdictFails(t *testing.T) {
	_, err := Parse(models.RoleCoder, "nothing useful was produced here")
	assert.Error(t, err)
}

func TestParse_PM_ParsesTasks(t *testing.T) {
	content := `{"action": "dispatch", "tasks": [{"role": "coder", "mode": "worker", "payload": "fix bug"}], "summary": "ok"}`
	out, err := Parse(models.RolePM, content)
	require.NoError(t, err)
	pm := out.(*models.PMOutput)
	assert.Equal(t, "DISPATCH", pm.Action)
	require.Len(t, pm.Tasks, 1)
	assert.Equal(t, "coder", pm.Tasks[0].Role)
}
