package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// orphanState tracks reaper metrics (thread-safe), unchanged in shape from
// pkg/queue/orphan.go's orphanState.
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically calls store.ReapExpired, generalized from
// the teacher's ent-query-based orphan scan (pkg/queue/orphan.go
// detectAndRecoverOrphans) to the lease-deadline sweep already implemented
// in pkg/store.ReapExpired. All pods run this independently; the reap query
// is safe to run concurrently (FOR UPDATE SKIP LOCKED).
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.OrphanScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapOnce(ctx)
		}
	}
}

func (p *WorkerPool) reapOnce(ctx context.Context) {
	expired, err := p.store.ReapExpired(ctx, p.config.MaxAttempts)
	if err != nil {
		slog.Error("orphan reap failed", "error", err)
		return
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += len(expired)
	p.orphans.mu.Unlock()

	if len(expired) > 0 {
		slog.Warn("reaped expired job leases", "count", len(expired))
	}

	// A job that exhausted its attempt budget escalates its pipeline.
	for _, job := range expired {
		if job.State != models.JobFailed {
			continue
		}
		if err := p.store.UpdatePipelineState(ctx, job.PipelineID, models.PipelineEscalated); err != nil {
			slog.Error("escalate pipeline of exhausted job failed", "job_id", job.ID, "pipeline_id", job.PipelineID, "error", err)
		}
	}
}
