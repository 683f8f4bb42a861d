package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/tarsy/pkg/api"
	"github.com/codeready-toolchain/tarsy/pkg/backend"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/database"
	"github.com/codeready-toolchain/tarsy/pkg/escalate"
	"github.com/codeready-toolchain/tarsy/pkg/eventlog"
	"github.com/codeready-toolchain/tarsy/pkg/models"
	"github.com/codeready-toolchain/tarsy/pkg/store"
	"github.com/codeready-toolchain/tarsy/pkg/supervisor"
)

type stubPersonas struct{}

func (stubPersonas) Load(role models.Role) (string, error) { return "persona for " + string(role), nil }

type stubCancel struct{ cancelled bool }

func (c *stubCancel) Cancelled(string) bool { return c.cancelled }

// newTestOrchestrator starts a real Postgres container for the Store and
// wires a mock-backend Supervisor around it, the same testcontainers style
// pkg/database/client_test.go and pkg/store/store_test.go use.
func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host:         host,
		Port:         port.Int(),
		User:         "test",
		Password:     "test",
		Database:     "test",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client.DB())

	reg, err := backend.Build(config.DefaultBackendRoutes())
	require.NoError(t, err)
	events, err := eventlog.Open(t.TempDir())
	require.NoError(t, err)
	escCfg := config.DefaultEscalationConfig()

	sup := &supervisor.Supervisor{
		Registry:  reg,
		Escalator: escalate.New(16),
		Events:    events,
		Personas:  stubPersonas{},
		Cancel:    &stubCancel{},
		Config:    escCfg,
	}

	return New(st, sup, reg, events, escCfg, stubPersonas{})
}

func createRootJob(t *testing.T, o *Orchestrator, role models.Role, payload string) *models.Job {
	t.Helper()
	job, err := o.CreateJob(context.Background(), api.CreateJobInput{
		Role: role, Mode: models.ModeWorker, Payload: []byte(payload),
	})
	require.NoError(t, err)
	return job
}

func TestOrchestrator_CreateJob_WithoutParentStartsNewPipeline(t *testing.T) {
	o := newTestOrchestrator(t)
	job := createRootJob(t, o, models.RolePM, "handle the incoming request")

	assert.NotEmpty(t, job.PipelineID)
	assert.Equal(t, 1, job.Sequence)
	assert.Equal(t, models.JobPending, job.State)

	pipeline, err := o.Store.GetPipeline(context.Background(), job.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineRunning, pipeline.State)
}

func TestOrchestrator_CreateJob_WithParentAttachesToSamePipeline(t *testing.T) {
	o := newTestOrchestrator(t)
	parent := createRootJob(t, o, models.RolePM, "root request")

	child, err := o.CreateJob(context.Background(), api.CreateJobInput{
		Role: models.RoleCoder, Mode: models.ModeWorker, Payload: []byte("task"),
		ParentJobID: parent.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, parent.PipelineID, child.PipelineID)
}

func TestOrchestrator_Execute_CoderApprovedRoutesToQA(t *testing.T) {
	o := newTestOrchestrator(t)
	job := createRootJob(t, o, models.RoleCoder, "implement the fix")

	state, err := o.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, state)

	qa, err := o.Store.LatestJobByRole(context.Background(), job.PipelineID, models.RoleQA)
	require.NoError(t, err)
	assert.Equal(t, models.ModeWorker, qa.Mode)
	assert.Equal(t, job.ID, *qa.ParentJobID)
}

func TestOrchestrator_Execute_QAFailReworksCoderWithinCap(t *testing.T) {
	o := newTestOrchestrator(t)
	coder := createRootJob(t, o, models.RoleCoder, "implement the fix")
	_, err := o.Execute(context.Background(), coder)
	require.NoError(t, err)

	qa, err := o.Store.LatestJobByRole(context.Background(), coder.PipelineID, models.RoleQA)
	require.NoError(t, err)

	// Force the Supervisor's mock QA adapter into a FAIL verdict by routing
	// through a fake override: routeApproved reads output.(*models.QAOutput)
	// off the Supervisor's own parsed outcome, so exercise the routing
	// directly with a synthetic QAOutput instead of the mock backend's
	// canned PASS, the same way a real failing test run would surface here.
	ids, err := o.routeApproved(context.Background(), qa, &models.QAOutput{Verdict: "FAIL", Issues: []string{"TestThing failed"}})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	reworked, err := o.Store.GetJob(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.RoleCoder, reworked.Role)
	assert.Contains(t, string(reworked.Payload), "Rework feedback")
	assert.Contains(t, string(reworked.Payload), "TestThing failed")

	pipeline, err := o.Store.GetPipeline(context.Background(), coder.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, 1, pipeline.ReworkRoundsFor(models.RoleCoder))
}

func TestOrchestrator_RouteApproved_QAFailOverCapBlocksPipeline(t *testing.T) {
	o := newTestOrchestrator(t)
	o.Escalation.MaxReworkRounds = 1
	coder := createRootJob(t, o, models.RoleCoder, "implement the fix")
	_, err := o.Execute(context.Background(), coder)
	require.NoError(t, err)
	qa, err := o.Store.LatestJobByRole(context.Background(), coder.PipelineID, models.RoleQA)
	require.NoError(t, err)

	_, err = o.routeApproved(context.Background(), qa, &models.QAOutput{Verdict: "FAIL", Issues: []string{"still broken"}})
	require.NoError(t, err)
	_, err = o.routeApproved(context.Background(), qa, &models.QAOutput{Verdict: "FAIL", Issues: []string{"still broken again"}})
	require.NoError(t, err)

	pipeline, err := o.Store.GetPipeline(context.Background(), coder.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineBlocked, pipeline.State)
}

func TestOrchestrator_RouteApproved_ReviewerApproveCompletesPipeline(t *testing.T) {
	o := newTestOrchestrator(t)
	reviewer := createRootJob(t, o, models.RoleReviewer, "review the change")

	ids, err := o.routeApproved(context.Background(), reviewer, &models.ReviewerOutput{Verdict: "APPROVE"})
	require.NoError(t, err)
	assert.Empty(t, ids)

	pipeline, err := o.Store.GetPipeline(context.Background(), reviewer.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineDone, pipeline.State)
}

func TestOrchestrator_RouteApproved_ReviewerRejectBlocksForPM(t *testing.T) {
	o := newTestOrchestrator(t)
	reviewer := createRootJob(t, o, models.RoleReviewer, "review the change")

	ids, err := o.routeApproved(context.Background(), reviewer, &models.ReviewerOutput{Verdict: "REJECT", Risks: "unsafe migration"})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	pmJob, err := o.Store.GetJob(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.RolePM, pmJob.Role)

	pipeline, err := o.Store.GetPipeline(context.Background(), reviewer.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineBlocked, pipeline.State)
}

func TestOrchestrator_Execute_SkipsWhenPipelineCancelled(t *testing.T) {
	o := newTestOrchestrator(t)
	job := createRootJob(t, o, models.RoleCoder, "implement the fix")

	require.NoError(t, o.Cancel(context.Background(), job.PipelineID))

	state, err := o.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, state)
}

func TestOrchestrator_OnPush_NonSucceededResultBlocksPipeline(t *testing.T) {
	o := newTestOrchestrator(t)
	job := createRootJob(t, o, models.RoleCoder, "implement the fix")

	ids, err := o.OnPush(context.Background(), job, models.JobFailed)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	pmJob, err := o.Store.GetJob(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.RolePM, pmJob.Role)
}

func TestOrchestrator_OnPush_CoderSuccessRoutesToQA(t *testing.T) {
	o := newTestOrchestrator(t)
	job := createRootJob(t, o, models.RoleCoder, "implement the fix")

	ids, err := o.OnPush(context.Background(), job, models.JobSucceeded)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	qa, err := o.Store.GetJob(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.RoleQA, qa.Role)
}

func TestOrchestrator_RouteApproved_RetriedCallIsIdempotent(t *testing.T) {
	o := newTestOrchestrator(t)
	coder := createRootJob(t, o, models.RoleCoder, "implement the fix")

	// Simulate the queue's at-least-once delivery: the same triggering job
	// routes through routeApproved twice (e.g. the reaper reclaimed the
	// lease after the first successor was created but before the push
	// committed). The second call must return the same QA job id rather
	// than creating a second one.
	first, err := o.routeApproved(context.Background(), coder, &models.CoderOutput{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := o.routeApproved(context.Background(), coder, &models.CoderOutput{})
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, first[0], second[0])

	qaJobs, err := o.Store.ListJobsByPipeline(context.Background(), coder.PipelineID)
	require.NoError(t, err)
	qaCount := 0
	for _, j := range qaJobs {
		if j.Role == models.RoleQA {
			qaCount++
		}
	}
	assert.Equal(t, 1, qaCount)
}

func TestOrchestrator_Cancelled_FallsThroughToPersistedState(t *testing.T) {
	o := newTestOrchestrator(t)
	job := createRootJob(t, o, models.RolePM, "root request")

	assert.False(t, o.Cancelled(job.PipelineID))

	require.NoError(t, o.Store.CancelPipeline(context.Background(), job.PipelineID))

	// A second Orchestrator instance shares no in-memory cache with o, so
	// this only passes if Cancelled falls through to the Store.
	other := New(o.Store, o.Supervisor, o.Registry, o.Events, o.Escalation, stubPersonas{})
	assert.True(t, other.Cancelled(job.PipelineID))
}
