// Package orchestrator implements the Pipeline Orchestrator (spec.md §4.8):
// it realizes the Decision Machine's state graph over concrete jobs,
// schedules each role's successor per the verdict routing table, and is the
// concrete type behind both pkg/api's Scheduler and pkg/queue's JobExecutor
// interfaces — a job is claimed by a worker, executed here, and its
// successors are created here before the worker ever pushes the terminal
// result.
//
// Grounded on pkg/agent/orchestrator/runner.go's SubAgentRunner.Dispatch (a
// controlling loop that turns one agent's structured decision into the next
// agent invocation) generalized from a single in-memory hand-off to
// database-backed job creation across an arbitrary number of pipeline
// stages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/tarsy/pkg/api"
	"github.com/codeready-toolchain/tarsy/pkg/backend"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/decision"
	"github.com/codeready-toolchain/tarsy/pkg/eventlog"
	"github.com/codeready-toolchain/tarsy/pkg/models"
	"github.com/codeready-toolchain/tarsy/pkg/store"
	"github.com/codeready-toolchain/tarsy/pkg/supervisor"
)

// Orchestrator implements api.Scheduler and queue.JobExecutor. A single
// instance is shared by every worker goroutine and every HTTP request
// handler in a replica; all mutable state lives in the Store or behind mu.
type Orchestrator struct {
	Store      *store.Store
	Supervisor *supervisor.Supervisor
	Registry   *backend.Registry
	Events     *eventlog.Log
	Escalation *config.EscalationConfig
	Personas   supervisor.PersonaLoader

	mu        sync.RWMutex
	cancelled map[string]bool
}

// New builds an Orchestrator wired to its collaborators.
func New(st *store.Store, sup *supervisor.Supervisor, registry *backend.Registry, events *eventlog.Log, escCfg *config.EscalationConfig, personas supervisor.PersonaLoader) *Orchestrator {
	return &Orchestrator{
		Store:      st,
		Supervisor: sup,
		Registry:   registry,
		Events:     events,
		Escalation: escCfg,
		Personas:   personas,
		cancelled:  make(map[string]bool),
	}
}

// Execute implements pkg/queue.JobExecutor: run the job's role through the
// Supervisor (or, for PM, the plain Write/Contract/Guard/decision path of
// §4.7), then schedule whatever successor the verdict routing table (§4.8)
// calls for, before returning the terminal state the caller should push.
func (o *Orchestrator) Execute(ctx context.Context, job *models.Job) (models.JobState, error) {
	if o.Cancelled(job.PipelineID) {
		o.logEvent(job, models.EventState, "job skipped: pipeline cancelled")
		return models.JobCancelled, nil
	}

	if job.Role == models.RolePM {
		return o.executePM(ctx, job)
	}
	return o.executeWorker(ctx, job)
}

func (o *Orchestrator) executeWorker(ctx context.Context, job *models.Job) (models.JobState, error) {
	persona, err := o.loadPersona(job.Role)
	if err != nil {
		return models.JobFailed, err
	}

	outcome, err := o.Supervisor.Run(ctx, job, persona)
	if err != nil {
		if errors.Is(err, supervisor.ErrCancelled) {
			return models.JobCancelled, nil
		}
		return models.JobFailed, err
	}

	if outcome.Escalated {
		if _, err := o.escalatePipeline(ctx, job, outcome.Stamp); err != nil {
			return models.JobFailed, err
		}
		return models.JobSucceeded, nil
	}

	if outcome.Blocked {
		if _, err := o.createBlockPM(ctx, job, outcome.BlockReason); err != nil {
			return models.JobFailed, err
		}
		return models.JobFailed, nil
	}

	if _, err := o.routeApproved(ctx, job, outcome.Output); err != nil {
		return models.JobFailed, err
	}
	return models.JobSucceeded, nil
}

// executePM implements spec.md §4.7's Decision Machine directly: unlike the
// sub-agent roles, a PM completion is never peer-audited, so this bypasses
// the Supervisor's Write/Contract/Guard/Audit/Stamp loop and calls the
// writer backend once, then hands the raw text to pkg/decision.
func (o *Orchestrator) executePM(ctx context.Context, job *models.Job) (models.JobState, error) {
	persona, err := o.loadPersona(models.RolePM)
	if err != nil {
		return models.JobFailed, err
	}
	adapter, err := o.Registry.Resolve(string(models.RolePM), config.StageWriter)
	if err != nil {
		return models.JobFailed, err
	}
	res, err := adapter.Call(ctx, persona, string(job.Payload), backend.Options{})
	if err != nil {
		return models.JobFailed, fmt.Errorf("pm writer call failed: %w", err)
	}

	d, err := decision.Extract(res.Text)
	if err != nil {
		return models.JobFailed, err
	}
	o.logEvent(job, models.EventDecision, fmt.Sprintf("pm decision: %s", d.Action))

	if err := o.applyDecision(ctx, job, d); err != nil {
		return models.JobFailed, err
	}
	return models.JobSucceeded, nil
}

// applyDecision validates the transition against the pipeline's current
// Decision Machine node, then realizes the §4.8 policy for that action.
func (o *Orchestrator) applyDecision(ctx context.Context, job *models.Job, d *models.Decision) error {
	if err := o.Store.UpdatePipelineDecision(ctx, job.PipelineID, d.Action); err != nil {
		return err
	}

	switch d.Action {
	case models.ActionDispatch:
		_, err := o.dispatchTasks(ctx, job, d.Tasks)
		return err
	case models.ActionRetry:
		_, err := o.retryPredecessor(ctx, job, d.Summary)
		return err
	case models.ActionBlocked:
		_, err := o.createBlockPM(ctx, job, d.Summary)
		return err
	case models.ActionEscalate:
		_, err := o.escalatePipeline(ctx, job, nil)
		if err == nil {
			o.logEvent(job, models.EventState, fmt.Sprintf("pipeline escalated: %s", d.RequiresEscalationReason))
		}
		return err
	case models.ActionDone:
		return o.Store.UpdatePipelineState(ctx, job.PipelineID, models.PipelineDone)
	default:
		return fmt.Errorf("unrecognized decision action %q", d.Action)
	}
}

// routeApproved implements the §4.8 verdict routing table for a job whose
// Supervisor outcome was Approved: Coder has no domain verdict of its own
// (its APPROVE/REVISE row is the Supervisor's own internal audit loop,
// already resolved before Execute ever sees the job), so an approved Coder
// output always proceeds to QA. QA and Reviewer carry their own domain
// verdict field, which is what the table actually routes on for those two
// rows.
func (o *Orchestrator) routeApproved(ctx context.Context, job *models.Job, output models.AgentOutput) ([]string, error) {
	switch job.Role {
	case models.RoleCoder:
		j, err := o.successor(ctx, job, models.RoleQA, models.ModeWorker, job.Payload, job.Context)
		return idsOf(j), err

	case models.RoleQA:
		qa, ok := output.(*models.QAOutput)
		if !ok {
			return nil, fmt.Errorf("qa output did not parse to QAOutput")
		}
		if qa.Verdict == "FAIL" {
			return o.reworkCoder(ctx, job, "QA reported failing tests: "+joinIssues(qa.Issues))
		}
		// PASS and SKIP both proceed to Reviewer.
		j, err := o.successor(ctx, job, models.RoleReviewer, models.ModeWorker, job.Payload, job.Context)
		return idsOf(j), err

	case models.RoleReviewer:
		rev, ok := output.(*models.ReviewerOutput)
		if !ok {
			return nil, fmt.Errorf("reviewer output did not parse to ReviewerOutput")
		}
		switch rev.Verdict {
		case "APPROVE":
			return nil, o.Store.UpdatePipelineState(ctx, job.PipelineID, models.PipelineDone)
		case "REJECT":
			return o.createBlockPM(ctx, job, "reviewer rejected: "+rev.Risks)
		default: // REVISE
			return o.reworkCoder(ctx, job, "reviewer requested revision: "+rev.Risks)
		}

	default:
		// Excavator/Strategist/Researcher/Analyst/Council: advisory sub-tasks
		// dispatched by PM report their result back to PM rather than feeding
		// a fixed successor role of their own.
		return o.reportToPM(ctx, job, output)
	}
}

// reworkCoder realizes the "Coder (rework)" row shared by QA FAIL and
// Reviewer REVISE (§4.8 RETRY policy): bump rework_rounds[coder], force
// BLOCKED over the cap, otherwise re-enqueue the most recent Coder job with
// the triggering note appended to its payload.
func (o *Orchestrator) reworkCoder(ctx context.Context, job *models.Job, note string) ([]string, error) {
	overCap, err := o.Store.IncrementReworkRound(ctx, job.PipelineID, models.RoleCoder, o.maxReworkRounds())
	if err != nil {
		return nil, err
	}
	if overCap {
		return o.createBlockPM(ctx, job, "coder rework rounds exhausted: "+note)
	}

	coderJob, err := o.Store.LatestJobByRole(ctx, job.PipelineID, models.RoleCoder)
	if err != nil {
		return nil, err
	}
	j, err := o.successor(ctx, job, models.RoleCoder, models.ModeWorker, appendNote(coderJob.Payload, note), coderJob.Context)
	return idsOf(j), err
}

// retryPredecessor implements the Decision Machine's RETRY policy: re-enqueue
// the role a prior BLOCKED decision named (carried in the PM job's context),
// defaulting to Coder when none was recorded.
func (o *Orchestrator) retryPredecessor(ctx context.Context, job *models.Job, note string) ([]string, error) {
	role := models.RoleCoder
	if r, ok := job.Context["blocked_role"].(string); ok && r != "" {
		role = models.Role(r)
	}

	overCap, err := o.Store.IncrementReworkRound(ctx, job.PipelineID, role, o.maxReworkRounds())
	if err != nil {
		return nil, err
	}
	if overCap {
		return nil, o.Store.UpdatePipelineState(ctx, job.PipelineID, models.PipelineBlocked)
	}

	predecessor, err := o.Store.LatestJobByRole(ctx, job.PipelineID, role)
	if err != nil {
		return nil, err
	}
	j, err := o.successor(ctx, job, role, predecessor.Mode, appendNote(predecessor.Payload, note), predecessor.Context)
	return idsOf(j), err
}

// createBlockPM implements the BLOCKED policy: mark the pipeline blocked and
// create a PM job carrying the block reason, awaiting the PM's RETRY/
// BLOCKED/ESCALATE decision.
func (o *Orchestrator) createBlockPM(ctx context.Context, job *models.Job, reason string) ([]string, error) {
	if err := o.Store.UpdatePipelineState(ctx, job.PipelineID, models.PipelineBlocked); err != nil {
		return nil, err
	}
	o.logEvent(job, models.EventState, "pipeline blocked: "+reason)

	pmContext := map[string]any{"block_reason": reason, "blocked_role": string(job.Role)}
	pmPayload := []byte(fmt.Sprintf("Pipeline blocked (role=%s): %s", job.Role, reason))
	j, err := o.successor(ctx, job, models.RolePM, models.ModeWorker, pmPayload, pmContext)
	return idsOf(j), err
}

// reportToPM folds an advisory sub-task's result back into a PM job so the
// PM's next decision can take it into account.
func (o *Orchestrator) reportToPM(ctx context.Context, job *models.Job, output models.AgentOutput) ([]string, error) {
	summary := ""
	if g, ok := output.(*models.GenericOutput); ok {
		summary = g.Summary
	}
	pmContext := map[string]any{"reported_role": string(job.Role), "summary": summary}
	pmPayload := []byte(fmt.Sprintf("%s completed: %s", job.Role, summary))
	j, err := o.successor(ctx, job, models.RolePM, models.ModeWorker, pmPayload, pmContext)
	return idsOf(j), err
}

// escalatePipeline implements the ESCALATE policy: mark the pipeline
// escalated and stop scheduling further jobs for it. No successor job is
// created; an external operator is expected to act on the event.
func (o *Orchestrator) escalatePipeline(ctx context.Context, job *models.Job, stamp *models.StampOutput) ([]string, error) {
	if err := o.Store.UpdatePipelineState(ctx, job.PipelineID, models.PipelineEscalated); err != nil {
		return nil, err
	}
	reason := "requires_escalation flagged"
	if stamp != nil && len(stamp.BlockingIssues) > 0 {
		reason = joinIssues(stamp.BlockingIssues)
	}
	o.logEvent(job, models.EventState, "pipeline escalated: "+reason)
	return nil, nil
}

// successor creates one successor job keyed off job's pipeline. Its slot
// identity is (pipeline_id, parent_job_id, role, mode) — job.ID, not a
// freshly-allocated sequence number — so a retried call from the same
// predecessor (the queue's at-least-once delivery re-running Execute after
// a reclaimed lease) names the same slot on every attempt. When that slot
// already exists, the existing job is fetched and returned rather than
// erroring, per spec.md §4.8's "duplicate pushes are no-ops returning the
// existing job id."
func (o *Orchestrator) successor(ctx context.Context, job *models.Job, role models.Role, mode models.Mode, payload []byte, jobCtx map[string]any) (*models.Job, error) {
	seq, err := o.Store.NextSequence(ctx, job.PipelineID, role, mode)
	if err != nil {
		return nil, err
	}
	parentID := job.ID
	next := &models.Job{
		PipelineID:  job.PipelineID,
		ParentJobID: &parentID,
		Role:        role,
		Mode:        mode,
		Sequence:    seq,
		Payload:     payload,
		Context:     jobCtx,
		Priority:    job.Priority,
	}
	created, err := o.Store.CreateJob(ctx, next)
	if err != nil {
		if errors.Is(err, models.ErrDuplicatePush) {
			return o.Store.GetSuccessor(ctx, job.PipelineID, parentID, role, mode)
		}
		return nil, err
	}
	return created, nil
}

// CreateJob implements api.Scheduler: the entry point for POST /jobs/create.
func (o *Orchestrator) CreateJob(ctx context.Context, in api.CreateJobInput) (*models.Job, error) {
	var pipelineID string
	var parentJobID *string

	if in.ParentJobID == "" {
		sessionID, _ := in.Context["session_id"].(string)
		pipeline, err := o.Store.CreatePipeline(ctx, string(in.Payload), sessionID)
		if err != nil {
			return nil, err
		}
		pipelineID = pipeline.ID
	} else {
		parent, err := o.Store.GetJob(ctx, in.ParentJobID)
		if err != nil {
			return nil, err
		}
		pipelineID = parent.PipelineID
		parentJobID = &in.ParentJobID
	}

	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	seq, err := o.Store.NextSequence(ctx, pipelineID, in.Role, in.Mode)
	if err != nil {
		return nil, err
	}

	return o.Store.CreateJob(ctx, &models.Job{
		PipelineID:  pipelineID,
		ParentJobID: parentJobID,
		Role:        in.Role,
		Mode:        in.Mode,
		Sequence:    seq,
		Payload:     in.Payload,
		Context:     in.Context,
		Priority:    priority,
	})
}

// OnPush implements api.Scheduler for externally-executed jobs pushed over
// POST /jobs/push. It only has the job's role and its terminal JobState to
// go on — no AgentOutput, so it cannot see QA's PASS/FAIL or Reviewer's
// APPROVE/REVISE/REJECT distinction. It therefore covers the table's
// happy-path row per role and treats any non-succeeded push as BLOCKED;
// routing on a worker's own domain verdict (QA FAIL, Reviewer REVISE/REJECT)
// requires running that job in-process through Execute, which has the full
// Outcome to route on.
func (o *Orchestrator) OnPush(ctx context.Context, job *models.Job, result models.JobState) ([]string, error) {
	if result != models.JobSucceeded {
		return o.createBlockPM(ctx, job, fmt.Sprintf("external worker reported %s", result))
	}

	switch job.Role {
	case models.RoleCoder:
		j, err := o.successor(ctx, job, models.RoleQA, models.ModeWorker, job.Payload, job.Context)
		return idsOf(j), err
	case models.RoleQA:
		j, err := o.successor(ctx, job, models.RoleReviewer, models.ModeWorker, job.Payload, job.Context)
		return idsOf(j), err
	case models.RoleReviewer:
		return nil, o.Store.UpdatePipelineState(ctx, job.PipelineID, models.PipelineDone)
	case models.RolePM:
		// A PM push carries no decision text over this path; the external
		// worker is expected to have already called /jobs/create for
		// whatever the decision dispatches.
		return nil, nil
	default:
		return o.reportToPM(ctx, job, nil)
	}
}

// dispatchTasks implements the DISPATCH policy (§4.8): create one job per
// task, parented to the PM job.
func (o *Orchestrator) dispatchTasks(ctx context.Context, job *models.Job, tasks []models.TaskDescriptor) ([]string, error) {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		j, err := o.successor(ctx, job, t.Role, t.Mode, t.Payload, t.Context)
		if err != nil {
			return ids, err
		}
		if j != nil {
			ids = append(ids, j.ID)
		}
	}
	return ids, nil
}

// Cancel implements api.Scheduler / spec.md §5's cancel(pipeline_id).
func (o *Orchestrator) Cancel(ctx context.Context, pipelineID string) error {
	if err := o.Store.CancelPipeline(ctx, pipelineID); err != nil {
		return err
	}
	o.mu.Lock()
	o.cancelled[pipelineID] = true
	o.mu.Unlock()
	return nil
}

// Cancelled implements pkg/supervisor.CancelChecker. The in-process cache is
// a fast path only; the authoritative check falls through to the persisted
// pipeline state so a cancel issued against a different replica is still
// observed (spec.md §5 "a per-pipeline cancellation flag visible to
// workers").
func (o *Orchestrator) Cancelled(pipelineID string) bool {
	o.mu.RLock()
	if o.cancelled[pipelineID] {
		o.mu.RUnlock()
		return true
	}
	o.mu.RUnlock()

	pipeline, err := o.Store.GetPipeline(context.Background(), pipelineID)
	if err != nil {
		return false
	}
	return pipeline.State == models.PipelineCancelled
}

func (o *Orchestrator) loadPersona(role models.Role) (string, error) {
	if o.Personas == nil {
		return "", nil
	}
	return o.Personas.Load(role)
}

func (o *Orchestrator) maxReworkRounds() int {
	if o.Escalation != nil && o.Escalation.MaxReworkRounds > 0 {
		return o.Escalation.MaxReworkRounds
	}
	return models.MaxReworkRounds
}

func (o *Orchestrator) logEvent(job *models.Job, eventType models.EventType, content string) {
	if o.Events == nil {
		return
	}
	if _, err := o.Events.Append(&models.Event{
		PipelineID: job.PipelineID,
		JobID:      job.ID,
		FromRole:   job.Role,
		EventType:  eventType,
		Content:    content,
	}); err != nil {
		slog.Warn("failed to append orchestrator event", "error", err, "job_id", job.ID)
	}
}

func idsOf(j *models.Job) []string {
	if j == nil {
		return nil
	}
	return []string{j.ID}
}

func joinIssues(issues []string) string {
	out := ""
	for i, s := range issues {
		if i > 0 {
			out += "; "
		}
		out += s
	}
	return out
}

// appendNote returns a fresh payload with note appended, never mutating the
// original slice's backing array.
func appendNote(payload []byte, note string) []byte {
	if note == "" {
		return append([]byte(nil), payload...)
	}
	out := make([]byte, 0, len(payload)+len(note)+24)
	out = append(out, payload...)
	out = append(out, []byte("\n\nRework feedback: "+note)...)
	return out
}
