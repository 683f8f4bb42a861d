// Package supervisor implements the Dual-Engine Supervisor (spec.md §4.5):
// the Write -> Contract -> Guard -> Audit -> Stamp loop that turns a single
// job's payload into a validated, audited AgentOutput.
//
// The bounded iterate-until-done loop is grounded on
// pkg/agent/controller/react.go's ReActController.Run (a fixed-size loop
// over LLM calls, one iteration per pass, with per-iteration timeout and a
// continue-on-recoverable-error path) generalized from a tool-use loop to
// the Writer/Auditor rewrite loop. The context-overflow compaction retry is
// grounded on pkg/agent/controller/summarize.go's maybeSummarize (summarize
// then retry once), applied here to the supervisor's own prior-context
// payload instead of a tool result.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/backend"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/contract"
	"github.com/codeready-toolchain/tarsy/pkg/escalate"
	"github.com/codeready-toolchain/tarsy/pkg/eventlog"
	"github.com/codeready-toolchain/tarsy/pkg/guard"
	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// ErrCancelled is returned when a pipeline's cancellation flag was observed
// between stages (spec.md §5 "the supervisor must check it between
// Write/Audit/Stamp stages and abort to a cancelled event").
var ErrCancelled = errors.New("pipeline cancelled")

// CancelChecker reports whether a pipeline has been cancelled (spec.md §5).
// pkg/orchestrator implements this over a per-pipeline flag.
type CancelChecker interface {
	Cancelled(pipelineID string) bool
}

// PersonaLoader resolves a role's opaque persona text (spec.md §6 "Persona
// bundles... opaque text blobs keyed by role").
type PersonaLoader interface {
	Load(role models.Role) (string, error)
}

// Supervisor runs the Write/Contract/Guard/Audit/Stamp loop for one job at a
// time; concurrent invocations for different jobs are independent (spec.md
// §4.5 "Concurrency").
type Supervisor struct {
	Registry   *backend.Registry
	Escalator  *escalate.Escalator
	Events     *eventlog.Log
	Personas   PersonaLoader
	Cancel     CancelChecker
	Config     *config.EscalationConfig
	CallTimeout time.Duration
}

// Outcome is the supervisor's final verdict on a job attempt.
type Outcome struct {
	Approved    bool
	Output      models.AgentOutput
	Stamp       *models.StampOutput
	Blocked     bool
	BlockReason string
	Escalated   bool
}

// Run executes one job's full supervisor loop: Write, then repeatedly
// Contract/Guard/Audit/Stamp until an APPROVE, a REJECT, or the rewrite
// budget (spec.md §4.5 step 6, MAX_REWRITES=3) is exhausted.
func (s *Supervisor) Run(ctx context.Context, job *models.Job, persona string) (*Outcome, error) {
	maxRewrites := 3
	if s.Config != nil && s.Config.MaxRewrites > 0 {
		maxRewrites = s.Config.MaxRewrites
	}

	payload := string(job.Payload)
	notes := ""

	for attempt := 0; attempt <= maxRewrites; attempt++ {
		if s.cancelled(job.PipelineID) {
			return nil, ErrCancelled
		}

		writerText, err := s.write(ctx, job.Role, persona, payload, notes)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				// Context-window overflow is modeled as a timeout-shaped
				// recoverable error; compact and retry once (spec.md §4.5
				// "Context-window overflow... invokes a compactor... retries
				// once with the compacted payload").
				compacted := compact(payload)
				if compacted != payload {
					payload = compacted
					writerText, err = s.write(ctx, job.Role, persona, payload, notes)
				}
			}
			if err != nil {
				outcome, handled := s.handleFailure(models.KindTransient, models.CodeTimeout, err, job, persona)
				if handled {
					return outcome, nil
				}
				return nil, err
			}
		}

		if s.cancelled(job.PipelineID) {
			return nil, ErrCancelled
		}

		output, err := contract.Parse(job.Role, writerText)
		if err != nil {
			var pf *models.ParseFailure
			missing := []string{}
			if errors.As(err, &pf) {
				missing = pf.MissingFields
			}
			sig := escalate.Signature(models.KindContract, missing, job.Role, payload)
			result := s.Escalator.Record(sig, err.Error(), "")
			if result.HardFail {
				return &Outcome{Blocked: true, BlockReason: err.Error(), Escalated: false}, nil
			}
			notes = result.RetryNotes
			continue
		}

		if err := guard.Check(output); err != nil {
			var gf *models.GuardFailure
			kind := []string{}
			if errors.As(err, &gf) {
				kind = []string{gf.Field}
			}
			sig := escalate.Signature(models.KindContract, kind, job.Role, payload)
			result := s.Escalator.Record(sig, err.Error(), "")
			if result.HardFail {
				return &Outcome{Blocked: true, BlockReason: err.Error(), Escalated: false}, nil
			}
			notes = result.RetryNotes
			continue
		}

		if s.cancelled(job.PipelineID) {
			return nil, ErrCancelled
		}

		auditVerdict, err := s.audit(ctx, job.Role, output)
		if err != nil {
			outcome, handled := s.handleFailure(models.KindTransient, models.CodeBackend5xx, err, job, persona)
			if handled {
				return outcome, nil
			}
			return nil, err
		}

		switch auditVerdict {
		case models.VerdictApprove:
			if s.cancelled(job.PipelineID) {
				return nil, ErrCancelled
			}
			stamp, err := s.stamp(ctx, job.Role, output)
			if err != nil {
				outcome, handled := s.handleFailure(models.KindTransient, models.CodeBackend5xx, err, job, persona)
				if handled {
					return outcome, nil
				}
				return nil, err
			}
			s.logEvent(job, models.EventResponse, fmt.Sprintf("approved after %d rewrite(s)", attempt))
			return &Outcome{Approved: true, Output: output, Stamp: stamp, Escalated: stamp.RequiresEscalation}, nil

		case models.VerdictReject:
			s.logEvent(job, models.EventDecision, "auditor rejected output")
			return &Outcome{Blocked: true, BlockReason: "auditor rejected output"}, nil

		default: // REVISE — re-enter Write with audit notes appended
			notes = "auditor requested revision"
			continue
		}
	}

	s.logEvent(job, models.EventState, "rewrite budget exhausted")
	return &Outcome{Blocked: true, BlockReason: "rewrite budget exhausted"}, nil
}

// logEvent appends a supervisor-stage event when an event log is wired; the
// Supervisor is usable without one (e.g. in unit tests that only assert on
// Outcome), so Events may be nil.
func (s *Supervisor) logEvent(job *models.Job, eventType models.EventType, content string) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Append(&models.Event{
		PipelineID: job.PipelineID,
		JobID:      job.ID,
		FromRole:   job.Role,
		EventType:  eventType,
		Content:    content,
	}); err != nil {
		slog.Warn("failed to append supervisor event", "error", err, "job_id", job.ID)
	}
}

func (s *Supervisor) cancelled(pipelineID string) bool {
	return s.Cancel != nil && s.Cancel.Cancelled(pipelineID)
}

func (s *Supervisor) write(ctx context.Context, role models.Role, persona, payload, notes string) (string, error) {
	adapter, err := s.Registry.Resolve(string(role), config.StageWriter)
	if err != nil {
		return "", err
	}
	full := payload
	if notes != "" {
		full = payload + "\n\nPrior attempt feedback: " + notes
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	res, err := adapter.Call(callCtx, persona, full, backend.Options{})
	if err != nil {
		return "", fmt.Errorf("writer call failed: %w", err)
	}
	return res.Text, nil
}

func (s *Supervisor) audit(ctx context.Context, role models.Role, output models.AgentOutput) (models.Verdict, error) {
	adapter, err := s.Registry.Resolve(string(role), config.StageAuditor)
	if err != nil {
		return "", err
	}
	persona, _ := s.loadPersona(role)
	callCtx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	res, err := adapter.Call(callCtx, persona, summarizeForAudit(output), backend.Options{})
	if err != nil {
		return "", fmt.Errorf("auditor call failed: %w", err)
	}
	auditOut, err := contract.Parse(models.RoleReviewer, res.Text)
	if err != nil {
		return "", err
	}
	rev, ok := auditOut.(*models.ReviewerOutput)
	if !ok {
		return "", fmt.Errorf("auditor returned unexpected output shape")
	}
	return models.Verdict(rev.Verdict), nil
}

func (s *Supervisor) stamp(ctx context.Context, role models.Role, output models.AgentOutput) (*models.StampOutput, error) {
	adapter, err := s.Registry.Resolve(string(role), config.StageStamp)
	if err != nil {
		return nil, err
	}
	persona, _ := s.loadPersona(role)
	callCtx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	res, err := adapter.Call(callCtx, persona, summarizeForAudit(output), backend.Options{})
	if err != nil {
		return nil, fmt.Errorf("stamp call failed: %w", err)
	}
	stampOut, err := contract.Parse(models.RoleStamp, res.Text)
	if err != nil {
		return nil, err
	}
	stamp, ok := stampOut.(*models.StampOutput)
	if !ok {
		return nil, fmt.Errorf("stamp returned unexpected output shape")
	}
	return stamp, nil
}

func (s *Supervisor) loadPersona(role models.Role) (string, error) {
	if s.Personas == nil {
		return "", nil
	}
	return s.Personas.Load(role)
}

func (s *Supervisor) timeout() time.Duration {
	if s.CallTimeout > 0 {
		return s.CallTimeout
	}
	return 5 * time.Minute
}

// handleFailure consults the Escalator for a transient backend failure and
// reports whether the caller should stop (hard_fail) or has already been
// told to retry (handled=false means "caller should continue looping" is
// not applicable here — transient failures never loop in-place, they
// surface once the ladder reaches hard_fail and otherwise bubble the error
// up so the queue's own attempt/reap budget governs retry timing).
func (s *Supervisor) handleFailure(kind models.ErrorKind, code string, cause error, job *models.Job, persona string) (*Outcome, bool) {
	sig := escalate.Signature(kind, nil, job.Role, string(job.Payload))
	result := s.Escalator.Record(sig, cause.Error(), persona)
	if result.HardFail {
		slog.Warn("supervisor hard_fail", "role", job.Role, "job_id", job.ID, "code", code, "cause", cause)
		return &Outcome{Blocked: true, BlockReason: cause.Error()}, true
	}
	return nil, false
}

// compact summarizes a payload by truncating to its first and last thirds,
// a minimal stand-in for an external compactor when prior context grows
// past a backend's window and this module has no separate summarization
// service of its own to call out to. Grounded on summarize.go's "summarize
// then retry once" shape generalized from tool-output summarization.
func compact(payload string) string {
	if len(payload) < 4096 {
		return payload
	}
	third := len(payload) / 3
	return strings.TrimSpace(payload[:third]) + "\n...[compacted]...\n" + strings.TrimSpace(payload[len(payload)-third:])
}

func summarizeForAudit(output models.AgentOutput) string {
	return fmt.Sprintf("role=%s degraded=%v", output.RoleName(), output.DegradedParse())
}
