// Package queue implements the Job Queue & Dispatch worker half (spec.md
// §4.6): a pool of goroutines that lease-claim jobs across the (role, mode)
// queue keys, heartbeat while processing, and push terminal results back
// through pkg/store.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// Sentinel errors for queue operations, mirroring the teacher's
// ErrNoSessionsAvailable/ErrAtCapacity pair (pkg/queue/types.go) generalized
// from a single session queue to the (role, mode)-keyed job queue.
var (
	ErrNoJobsAvailable = errors.New("no jobs available")
	ErrAtCapacity      = errors.New("at capacity")
)

// JobExecutor processes one claimed job to a terminal state. The
// Orchestrator (pkg/orchestrator) implements this, composing pkg/supervisor
// for sub-agent role jobs and pkg/decision for PM jobs.
type JobExecutor interface {
	Execute(ctx context.Context, job *models.Job) (models.JobState, error)
}

// WorkerStatus mirrors the teacher's idle/working pair.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// PoolHealth reports the worker pool's aggregate health (spec.md §6
// GET /jobs/health, [EXPANSION]).
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	QueueDepth       map[string]int `json:"queue_depth"` // state -> count, from store.StatusCounts
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth reports one worker's current state.
type WorkerHealth struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	CurrentJobID    string    `json:"current_job_id,omitempty"`
	JobsProcessed   int       `json:"jobs_processed"`
	LastActivity    time.Time `json:"last_activity"`
}
