package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/tarsy/pkg/database"
	"github.com/codeready-toolchain/tarsy/pkg/models"
	"github.com/codeready-toolchain/tarsy/pkg/store"
)

// newTestStore starts a real Postgres container, applies the embedded
// migrations through pkg/database, and hands back a Store wrapping it,
// mirroring pkg/database/client_test.go's testcontainers-based style.
func newTestStore(t *testing.T) *store.Store {
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

	return store.New(client.DB())
}

func TestStore_CreateJob_RejectsDuplicateSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pipeline, err := s.CreatePipeline(ctx, "fix the flaky test", "session-1")
	require.NoError(t, err)

	pm, err := s.CreateJob(ctx, &models.Job{
		PipelineID: pipeline.ID, Role: models.RolePM, Mode: models.ModeWorker,
		Sequence: 1, Payload: []byte("root request"), Priority: models.PriorityMedium,
	})
	require.NoError(t, err)

	first, err := s.CreateJob(ctx, &models.Job{
		PipelineID: pipeline.ID, ParentJobID: &pm.ID, Role: models.RoleCoder, Mode: models.ModeWorker,
		Sequence: 1, Payload: []byte("do it"), Priority: models.PriorityMedium,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, first.State)

	// Same (pipeline_id, parent_job_id, role, mode) slot: this is the
	// idx_jobs_unique_slot conflict the Orchestrator's successor() relies on
	// to make a retried dispatch idempotent.
	_, err = s.CreateJob(ctx, &models.Job{
		PipelineID: pipeline.ID, ParentJobID: &pm.ID, Role: models.RoleCoder, Mode: models.ModeWorker,
		Sequence: 2, Payload: []byte("do it again"), Priority: models.PriorityMedium,
	})
	assert.ErrorIs(t, err, models.ErrDuplicatePush)
}

func TestStore_NextSequence_IncrementsPerRoleAndMode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pipeline, err := s.CreatePipeline(ctx, "root request", "")
	require.NoError(t, err)

	seq, err := s.NextSequence(ctx, pipeline.ID, models.RoleCoder, models.ModeWorker)
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	_, err = s.CreateJob(ctx, &models.Job{
		PipelineID: pipeline.ID, Role: models.RoleCoder, Mode: models.ModeWorker,
		Sequence: seq, Payload: []byte("p"), Priority: models.PriorityMedium,
	})
	require.NoError(t, err)

	seq2, err := s.NextSequence(ctx, pipeline.ID, models.RoleCoder, models.ModeWorker)
	require.NoError(t, err)
	assert.Equal(t, 2, seq2)

	// A different role starts its own sequence back at 1.
	qaSeq, err := s.NextSequence(ctx, pipeline.ID, models.RoleQA, models.ModeWorker)
	require.NoError(t, err)
	assert.Equal(t, 1, qaSeq)
}

func TestStore_LatestJobByRole_ReturnsHighestSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pipeline, err := s.CreatePipeline(ctx, "root request", "")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		_, err := s.CreateJob(ctx, &models.Job{
			PipelineID: pipeline.ID, Role: models.RoleCoder, Mode: models.ModeWorker,
			Sequence: i, Payload: []byte("attempt"), Priority: models.PriorityMedium,
		})
		require.NoError(t, err)
	}

	latest, err := s.LatestJobByRole(ctx, pipeline.ID, models.RoleCoder)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Sequence)
}

func TestStore_UpdatePipelineDecision_RejectsDisallowedTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pipeline, err := s.CreatePipeline(ctx, "root request", "")
	require.NoError(t, err)

	require.NoError(t, s.UpdatePipelineDecision(ctx, pipeline.ID, models.ActionDispatch))

	got, err := s.GetPipeline(ctx, pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionDispatch, got.LastDecision)

	// ESCALATE is not an edge out of DISPATCH in the state graph.
	err = s.UpdatePipelineDecision(ctx, pipeline.ID, models.ActionEscalate)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestStore_IncrementReworkRound_ReportsOverCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pipeline, err := s.CreatePipeline(ctx, "root request", "")
	require.NoError(t, err)

	overCap, err := s.IncrementReworkRound(ctx, pipeline.ID, models.RoleCoder, 2)
	require.NoError(t, err)
	assert.False(t, overCap)

	overCap, err = s.IncrementReworkRound(ctx, pipeline.ID, models.RoleCoder, 2)
	require.NoError(t, err)
	assert.False(t, overCap)

	overCap, err = s.IncrementReworkRound(ctx, pipeline.ID, models.RoleCoder, 2)
	require.NoError(t, err)
	assert.True(t, overCap)
}

func TestStore_CancelPipeline_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pipeline, err := s.CreatePipeline(ctx, "root request", "")
	require.NoError(t, err)

	require.NoError(t, s.CancelPipeline(ctx, pipeline.ID))
	require.NoError(t, s.CancelPipeline(ctx, pipeline.ID))

	got, err := s.GetPipeline(ctx, pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineCancelled, got.State)
	assert.True(t, got.State.IsTerminal())
}

func TestStore_ClaimNext_SkipsLockedAndHonorsPriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pipeline, err := s.CreatePipeline(ctx, "root request", "")
	require.NoError(t, err)

	_, err = s.CreateJob(ctx, &models.Job{
		PipelineID: pipeline.ID, Role: models.RoleCoder, Mode: models.ModeWorker,
		Sequence: 1, Payload: []byte("low"), Priority: models.PriorityLow,
	})
	require.NoError(t, err)
	_, err = s.CreateJob(ctx, &models.Job{
		PipelineID: pipeline.ID, Role: models.RoleCoder, Mode: models.ModeWorker,
		Sequence: 2, Payload: []byte("high"), Priority: models.PriorityHigh,
	})
	require.NoError(t, err)

	claimed, err := s.ClaimNext(ctx, models.RoleCoder, models.ModeWorker, "worker-1", time.Minute, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []byte("high"), claimed.Payload)
	assert.Equal(t, models.JobLeased, claimed.State)

	_, err = s.ClaimNext(ctx, models.RoleCoder, models.ModeWorker, "worker-1", time.Minute, time.Hour)
	require.NoError(t, err)
}

func TestStore_ClaimNext_AgedLowDoesNotLeapfrogFreshHigh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pipeline, err := s.CreatePipeline(ctx, "root request", "")
	require.NoError(t, err)

	_, err = s.CreateJob(ctx, &models.Job{
		PipelineID: pipeline.ID, Role: models.RoleCoder, Mode: models.ModeWorker,
		Sequence: 1, Payload: []byte("aged-low"), Priority: models.PriorityLow,
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = s.CreateJob(ctx, &models.Job{
		PipelineID: pipeline.ID, Role: models.RoleCoder, Mode: models.ModeWorker,
		Sequence: 2, Payload: []byte("fresh-high"), Priority: models.PriorityHigh,
	})
	require.NoError(t, err)

	// ageThreshold of 20ms makes the low job (created >= 50ms ago) aged and
	// promotes it one tier to medium; it must still lose to the fresh high
	// job rather than jumping to the front of the whole queue.
	claimed, err := s.ClaimNext(ctx, models.RoleCoder, models.ModeWorker, "worker-1", time.Minute, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh-high"), claimed.Payload)
}

func TestStore_Push_FailsOnWrongWorker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pipeline, err := s.CreatePipeline(ctx, "root request", "")
	require.NoError(t, err)
	_, err = s.CreateJob(ctx, &models.Job{
		PipelineID: pipeline.ID, Role: models.RoleCoder, Mode: models.ModeWorker,
		Sequence: 1, Payload: []byte("p"), Priority: models.PriorityMedium,
	})
	require.NoError(t, err)

	claimed, err := s.ClaimNext(ctx, models.RoleCoder, models.ModeWorker, "worker-1", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = s.Push(ctx, claimed.ID, "worker-2", models.JobSucceeded)
	assert.ErrorIs(t, err, models.ErrLeaseExpired)

	pushed, err := s.Push(ctx, claimed.ID, "worker-1", models.JobSucceeded)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, pushed.State)

	_, err = s.Push(ctx, claimed.ID, "worker-1", models.JobSucceeded)
	assert.ErrorIs(t, err, models.ErrDuplicatePush)
}

func TestStore_ReapExpired_RequeuesUnderBudgetAndFailsAtCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pipeline, err := s.CreatePipeline(ctx, "root request", "")
	require.NoError(t, err)
	_, err = s.CreateJob(ctx, &models.Job{
		PipelineID: pipeline.ID, Role: models.RoleCoder, Mode: models.ModeWorker,
		Sequence: 1, Payload: []byte("p"), Priority: models.PriorityMedium,
	})
	require.NoError(t, err)

	// Lease with a deadline already in the past.
	_, err = s.ClaimNext(ctx, models.RoleCoder, models.ModeWorker, "worker-1", -time.Minute, time.Hour)
	require.NoError(t, err)

	expired, err := s.ReapExpired(ctx, 3)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, models.JobPending, expired[0].State)
	assert.Equal(t, 1, expired[0].AttemptCount)
}
