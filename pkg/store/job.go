package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// jobColumns is the SELECT list shared by all job-scanning queries.
const jobColumns = `id, pipeline_id, parent_job_id, role, mode, sequence, state, payload,
	context, priority, attempt_count, worker_id, last_heartbeat_at, created_at,
	leased_at, finished_at, lease_deadline`

// CreateJob inserts a new Job in the pending state. A duplicate
// (pipeline_id, parent_job_id, role, mode) tuple returns
// models.ErrDuplicatePush, the uniqueness invariant from spec.md §3/§4.8
// enforced by idx_jobs_unique_slot.
func (s *Store) CreateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	pipelineID, err := idFromString(job.PipelineID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pipeline id %q", models.ErrNotFound, job.PipelineID)
	}
	var parentJobID sql.NullInt64
	if job.ParentJobID != nil {
		pid, err := idFromString(*job.ParentJobID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid parent job id %q", models.ErrNotFound, *job.ParentJobID)
		}
		parentJobID = sql.NullInt64{Int64: pid, Valid: true}
	}
	ctxJSON, err := json.Marshal(job.Context)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	now := time.Now().UTC()

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO jobs (pipeline_id, parent_job_id, role, mode, sequence, state,
			payload, context, priority, attempt_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
		 RETURNING id`,
		pipelineID, parentJobID, job.Role, job.Mode, job.Sequence, models.JobPending,
		job.Payload, ctxJSON, job.Priority, now,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, models.ErrDuplicatePush
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	job.ID = idToString(id)
	job.State = models.JobPending
	job.AttemptCount = 0
	job.CreatedAt = now
	return job, nil
}

// GetSuccessor looks up the job already occupying a (pipeline_id,
// parent_job_id, role, mode) slot, the row idx_jobs_unique_slot's conflict
// names. The Orchestrator calls this after a duplicate successor-creation
// attempt to return the existing job id instead of erroring, per spec.md
// §4.8's "duplicate pushes are no-ops returning the existing job id."
func (s *Store) GetSuccessor(ctx context.Context, pipelineID, parentJobID string, role models.Role, mode models.Mode) (*models.Job, error) {
	pid, err := idFromString(pipelineID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pipeline id %q", models.ErrNotFound, pipelineID)
	}
	var parent sql.NullInt64
	if parentJobID != "" {
		id, err := idFromString(parentJobID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid parent job id %q", models.ErrNotFound, parentJobID)
		}
		parent = sql.NullInt64{Int64: id, Valid: true}
	}
	return scanJobRow(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE pipeline_id = $1 AND parent_job_id IS NOT DISTINCT FROM $2 AND role = $3 AND mode = $4`,
		pid, parent, role, mode))
}

// NextSequence returns the next unused Sequence number for (pipeline, role,
// mode), used purely to order and display a pipeline's jobs. It plays no
// part in duplicate detection: that's idx_jobs_unique_slot's job, keyed on
// (pipeline_id, parent_job_id, role, mode), not on sequence.
func (s *Store) NextSequence(ctx context.Context, pipelineID string, role models.Role, mode models.Mode) (int, error) {
	id, err := idFromString(pipelineID)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid pipeline id %q", models.ErrNotFound, pipelineID)
	}
	var max sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM jobs WHERE pipeline_id = $1 AND role = $2 AND mode = $3`,
		id, role, mode,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return int(max.Int64) + 1, nil
}

// GetJob fetches a Job by its string ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	id, err := idFromString(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid job id %q", models.ErrNotFound, jobID)
	}
	return scanJobRow(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

// ListJobsByPipeline returns every Job in a pipeline ordered by creation.
func (s *Store) ListJobsByPipeline(ctx context.Context, pipelineID string) ([]*models.Job, error) {
	id, err := idFromString(pipelineID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pipeline id %q", models.ErrNotFound, pipelineID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE pipeline_id = $1 ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// LatestJobByRole returns the most recently created Job for (pipeline,
// role), letting the Orchestrator find "the immediate predecessor" a rework
// decision targets (spec.md §4.8) without threading an explicit pointer
// through every successor-creation call.
func (s *Store) LatestJobByRole(ctx context.Context, pipelineID string, role models.Role) (*models.Job, error) {
	id, err := idFromString(pipelineID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pipeline id %q", models.ErrNotFound, pipelineID)
	}
	return scanJobRow(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE pipeline_id = $1 AND role = $2 ORDER BY sequence DESC LIMIT 1`,
		id, role))
}

// StatusCounts returns the number of jobs in each state, for GET /jobs/status.
func (s *Store) StatusCounts(ctx context.Context) (map[models.JobState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, count(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.JobState(state)] = n
	}
	return counts, rows.Err()
}

// ClaimNext atomically claims the oldest eligible pending job for (role,
// mode) using the teacher's FOR UPDATE SKIP LOCKED idiom (pkg/queue/worker.go
// claimNextSession), generalized from a single queue to the (role, mode)
// key space of spec.md §4.6. A job pending past ageThreshold has its
// effective priority promoted exactly one tier (low -> medium, medium ->
// high, high unchanged) before ordering, per spec.md §5's aging rule — an
// aged low-priority job competes with fresh medium-priority jobs, it does
// not leapfrog a fresh high-priority one. Returns models.ErrNotFound if
// nothing is claimable.
func (s *Store) ClaimNext(ctx context.Context, role models.Role, mode models.Mode, workerID string, leaseTTL, ageThreshold time.Duration) (*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	agedBefore := now.Add(-ageThreshold)

	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE role = $1 AND mode = $2 AND state = $3
		 ORDER BY
		   CASE priority
		     WHEN 'high' THEN 0
		     WHEN 'medium' THEN CASE WHEN created_at < $4 THEN 0 ELSE 1 END
		     ELSE CASE WHEN created_at < $4 THEN 1 ELSE 2 END
		   END,
		   created_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		role, mode, models.JobPending, agedBefore,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	leaseDeadline := now.Add(leaseTTL)
	id, _ := idFromString(job.ID)
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET state = $1, worker_id = $2, leased_at = $3,
			last_heartbeat_at = $3, lease_deadline = $4 WHERE id = $5`,
		models.JobLeased, workerID, now, leaseDeadline, id)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.State = models.JobLeased
	job.WorkerID = &workerID
	job.LeasedAt = &now
	job.LastHeartbeatAt = &now
	job.LeaseDeadline = &leaseDeadline
	return job, nil
}

// Heartbeat extends a leased job's deadline and refreshes LastHeartbeatAt.
// Returns models.ErrLeaseExpired if the job is no longer leased by workerID
// (the reaper may have already reclaimed it).
func (s *Store) Heartbeat(ctx context.Context, jobID, workerID string, leaseTTL time.Duration) error {
	id, err := idFromString(jobID)
	if err != nil {
		return fmt.Errorf("%w: invalid job id %q", models.ErrNotFound, jobID)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET last_heartbeat_at = $1, lease_deadline = $2
		 WHERE id = $3 AND worker_id = $4 AND state = $5`,
		now, now.Add(leaseTTL), id, workerID, models.JobLeased)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrLeaseExpired
	}
	return nil
}

// Push records the terminal result of a job push (spec.md §6 POST
// /jobs/push). It fails closed per spec.md's HTTP semantics:
//   - models.ErrLeaseExpired if the job's lease already passed its deadline
//     (the reaper may have requeued it to another worker).
//   - models.ErrDuplicatePush if the job already reached a terminal state.
func (s *Store) Push(ctx context.Context, jobID, workerID string, result models.JobState) (*models.Job, error) {
	if !result.IsTerminal() {
		return nil, fmt.Errorf("push: %q is not a terminal job state", result)
	}
	id, err := idFromString(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid job id %q", models.ErrNotFound, jobID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	if job.State.IsTerminal() {
		return nil, models.ErrDuplicatePush
	}
	if job.WorkerID == nil || *job.WorkerID != workerID {
		return nil, models.ErrLeaseExpired
	}
	if job.LeaseDeadline != nil && time.Now().UTC().After(*job.LeaseDeadline) {
		return nil, models.ErrLeaseExpired
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = $1, finished_at = $2 WHERE id = $3`,
		result, now, id); err != nil {
		return nil, fmt.Errorf("push job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit push: %w", err)
	}

	job.State = result
	job.FinishedAt = &now
	return job, nil
}

// ReapExpired finds leased jobs whose lease_deadline has passed. Jobs under
// maxAttempts are requeued to pending with attempt_count incremented; jobs at
// the budget are marked failed (spec.md §6 MAX_ATTEMPTS). Returns the
// affected jobs for caller-side pipeline escalation / logging.
func (s *Store) ReapExpired(ctx context.Context, maxAttempts int) ([]*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE state = $1 AND lease_deadline IS NOT NULL AND lease_deadline < $2
		 FOR UPDATE SKIP LOCKED`,
		models.JobLeased, now)
	if err != nil {
		return nil, fmt.Errorf("query expired leases: %w", err)
	}

	var expired []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, job := range expired {
		id, _ := idFromString(job.ID)
		job.AttemptCount++
		if job.AttemptCount >= maxAttempts {
			job.State = models.JobFailed
			job.FinishedAt = &now
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET state = $1, attempt_count = $2, finished_at = $3,
					worker_id = NULL, leased_at = NULL, lease_deadline = NULL WHERE id = $4`,
				models.JobFailed, job.AttemptCount, now, id); err != nil {
				return nil, fmt.Errorf("fail exhausted job: %w", err)
			}
		} else {
			job.State = models.JobPending
			job.WorkerID = nil
			job.LeasedAt = nil
			job.LeaseDeadline = nil
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET state = $1, attempt_count = $2,
					worker_id = NULL, leased_at = NULL, lease_deadline = NULL WHERE id = $3`,
				models.JobPending, job.AttemptCount, id); err != nil {
				return nil, fmt.Errorf("requeue reaped job: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reap: %w", err)
	}
	return expired, nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*models.Job, error) {
	return scanJobRow(r)
}

func scanJobRow(r rowScanner) (*models.Job, error) {
	var (
		id, pipelineID               int64
		parentJobID                  sql.NullInt64
		role, mode, state, priority  string
		sequence, attemptCount       int
		payload                      []byte
		contextRaw                   []byte
		workerID                     sql.NullString
		lastHeartbeatAt              sql.NullTime
		createdAt                    time.Time
		leasedAt, finishedAt, lease  sql.NullTime
	)
	err := r.Scan(&id, &pipelineID, &parentJobID, &role, &mode, &sequence, &state, &payload,
		&contextRaw, &priority, &attemptCount, &workerID, &lastHeartbeatAt, &createdAt,
		&leasedAt, &finishedAt, &lease)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job := &models.Job{
		ID:           idToString(id),
		PipelineID:   idToString(pipelineID),
		Role:         models.Role(role),
		Mode:         models.Mode(mode),
		Sequence:     sequence,
		State:        models.JobState(state),
		Payload:      payload,
		Priority:     models.Priority(priority),
		AttemptCount: attemptCount,
		CreatedAt:    createdAt,
	}
	if parentJobID.Valid {
		pid := idToString(parentJobID.Int64)
		job.ParentJobID = &pid
	}
	if len(contextRaw) > 0 {
		ctxMap := map[string]any{}
		if err := json.Unmarshal(contextRaw, &ctxMap); err != nil {
			return nil, fmt.Errorf("decode job context: %w", err)
		}
		job.Context = ctxMap
	}
	if workerID.Valid {
		w := workerID.String
		job.WorkerID = &w
	}
	if lastHeartbeatAt.Valid {
		t := lastHeartbeatAt.Time
		job.LastHeartbeatAt = &t
	}
	if leasedAt.Valid {
		t := leasedAt.Time
		job.LeasedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	if lease.Valid {
		t := lease.Time
		job.LeaseDeadline = &t
	}

	return job, nil
}
