package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/models"
	"github.com/codeready-toolchain/tarsy/pkg/store"
)

// Worker polls a fixed ordered list of (role, mode) queue keys, claiming and
// processing jobs one at a time. The claim/heartbeat/push shape is grounded
// on pkg/queue/worker.go's pollAndProcess/claimNextSession/runHeartbeat,
// generalized from a single alert-session queue to an ordered list of
// (role, mode) keys so one worker can drain whichever key has work.
type Worker struct {
	id       string
	store    *store.Store
	executor JobExecutor
	config   *config.QueueConfig
	keys     []models.QueueKey

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.Mutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker builds a Worker that will poll keys in the given order every
// poll cycle, claiming the first one with an eligible pending job.
func NewWorker(id string, st *store.Store, executor JobExecutor, cfg *config.QueueConfig, keys []models.QueueKey) *Worker {
	return &Worker{
		id:       id,
		store:    st,
		executor: executor,
		config:   cfg,
		keys:     keys,
		stopCh:   make(chan struct{}),
		status:   WorkerStatusIdle,
	}
}

// Start runs the worker's poll loop until Stop is called or ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to exit and waits for its current job, if any, to
// finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		err := w.pollAndProcess(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrNoJobsAvailable), errors.Is(err, ErrAtCapacity):
			w.sleep(w.pollInterval())
		default:
			slog.Error("worker poll failed", "worker_id", w.id, "error", err)
			w.sleep(w.pollInterval())
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.stopCh:
	}
}

func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	if w.config.PollIntervalJitter <= 0 {
		return base
	}
	jitter := time.Duration(rand.Int63n(int64(w.config.PollIntervalJitter)))
	return base + jitter
}

// pollAndProcess claims one job across w.keys in order and runs it to a
// terminal state. Returns ErrNoJobsAvailable if none of the keys have
// eligible work this cycle.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.claimAny(ctx)
	if err != nil {
		return err
	}

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.runHeartbeat(jobCtx, job.ID)
	}()

	result, execErr := w.executor.Execute(jobCtx, job)
	cancel()
	<-heartbeatDone

	if execErr != nil {
		slog.Error("job execution failed", "worker_id", w.id, "job_id", job.ID, "error", execErr)
		if result == "" {
			result = models.JobFailed
		}
	}

	if _, err := w.store.Push(ctx, job.ID, w.id, result); err != nil {
		// A lease-expired push means the reaper already reclaimed this job;
		// nothing further to do from this worker's side.
		if !errors.Is(err, models.ErrLeaseExpired) && !errors.Is(err, models.ErrDuplicatePush) {
			slog.Error("push job result failed", "worker_id", w.id, "job_id", job.ID, "error", err)
		}
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.lastActivity = time.Now()
	w.mu.Unlock()

	return nil
}

// claimAny tries ClaimNext against each configured queue key in order,
// returning the first hit. This lets a single worker service several
// (role, mode) keys without a separate goroutine per key.
func (w *Worker) claimAny(ctx context.Context) (*models.Job, error) {
	for _, key := range w.keys {
		job, err := w.store.ClaimNext(ctx, key.Role, key.Mode, w.id, w.config.LeaseTTL, w.config.AgeThreshold)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNoJobsAvailable
}

func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, jobID, w.id, w.config.LeaseTTL); err != nil {
				if errors.Is(err, models.ErrLeaseExpired) {
					slog.Warn("heartbeat found lease already reclaimed", "worker_id", w.id, "job_id", jobID)
					return
				}
				slog.Error("heartbeat failed", "worker_id", w.id, "job_id", jobID, "error", err)
			}
		}
	}
}

func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}

// Health reports this worker's current state for PoolHealth aggregation.
func (w *Worker) Health() WorkerHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}
