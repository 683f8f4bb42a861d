package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/tarsy/pkg/config"
)

// mockAdapter is a placeholder Adapter for local development and tests
// where no external model-serving process is configured (spec.md §4.9
// adapters being "pluggable; the core is indifferent"). Grounded on
// pkg/queue/executor_stub.go's immediate-canned-result shape, generalized
// from a fixed "completed" session outcome to a per-stage canned response
// keyed by the routing slot.
type mockAdapter struct {
	key config.RouteKey
}

func newMockAdapter(key config.RouteKey) *mockAdapter {
	return &mockAdapter{key: key}
}

func (a *mockAdapter) Call(ctx context.Context, persona string, payload string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slog.Debug("mock backend call", "role", a.key.Role, "stage", a.key.Stage, "payload_len", len(payload))

	return timed(func() (string, Usage, error) {
		text := mockResponseFor(a.key, payload)
		return text, Usage{InputTokens: len(payload) / 4, OutputTokens: len(text) / 4}, nil
	})
}

// mockResponseFor synthesizes a minimally-valid completion per stage so
// callers exercising pkg/contract/pkg/guard against a mock registry see
// realistic shapes rather than empty strings.
func mockResponseFor(key config.RouteKey, payload string) string {
	switch key.Stage {
	case config.StageAuditor:
		return `{"verdict": "APPROVE", "risks": "no material risks identified in mock review", "security_score": 8}`
	case config.StageStamp:
		return `{"verdict": "APPROVE", "score": 8, "blocking_issues": [], "requires_escalation": false}`
	default:
		switch key.Role {
		case "coder":
			return `{"summary": "applied the requested change to the target module", "diff": "--- a/mock.go\n+++ b/mock.go\n@@ -1 +1 @@\n-old\n+new", "files_changed": ["mock.go"]}`
		case "qa":
			return `{"verdict": "PASS", "tests": ["TestMock"]}`
		case "reviewer":
			return `{"verdict": "APPROVE", "risks": "no material risks identified in mock review", "security_score": 8}`
		default:
			return fmt.Sprintf(`{"summary": "mock response for role %s", "verdict": "APPROVE"}`, key.Role)
		}
	}
}
