package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/models"
	"github.com/codeready-toolchain/tarsy/pkg/store"
)

// WorkerPool owns a fixed set of Workers, all polling the same ordered list
// of (role, mode) queue keys, plus a background reaper. Grounded on
// pkg/queue/pool.go's WorkerPool (spawn WorkerCount goroutines, idempotent
// Start, graceful Stop), generalized from a single session queue to the
// (role, mode) key space of spec.md §4.6.
//
// One worker polling every key (rather than one worker pinned to one key)
// was chosen over a per-key assignment so the pool's concurrency adapts
// automatically as pipelines move between roles — a fixed per-key split
// would leave coder workers idle while the qa queue backs up, and vice
// versa, for highly variable spec.md §4.8 pipelines.
type WorkerPool struct {
	podID    string
	store    *store.Store
	executor JobExecutor
	config   *config.QueueConfig
	keys     []models.QueueKey

	workers []*Worker

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex

	orphans orphanState
}

// NewWorkerPool builds a pool over the given (role, mode) keys. keys should
// list every key the Orchestrator (pkg/orchestrator) is prepared to execute,
// typically every worker-mode and reviewer-mode role pair from spec.md §3.
func NewWorkerPool(podID string, st *store.Store, executor JobExecutor, cfg *config.QueueConfig, keys []models.QueueKey) *WorkerPool {
	return &WorkerPool{
		podID:    podID,
		store:    st,
		executor: executor,
		config:   cfg,
		keys:     keys,
		stopCh:   make(chan struct{}),
	}
}

// Start spawns cfg.WorkerCount workers and the orphan reaper. Idempotent.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.started = true

	for i := 0; i < p.config.WorkerCount; i++ {
		id := fmt.Sprintf("%s-worker-%d", p.podID, i)
		w := NewWorker(id, p.store, p.executor, p.config, p.keys)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}

	p.wg.Add(1)
	go p.runOrphanDetection(ctx)

	return nil
}

// Stop signals every worker and the reaper to exit, waiting up to
// config.GracefulShutdownTimeout for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		for _, w := range p.workers {
			w.Stop()
		}
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.config.GracefulShutdownTimeout):
	}
}

// Health reports the pool's aggregate health for GET /jobs/health
// ([EXPANSION] per spec.md §6/§9).
func (p *WorkerPool) Health(ctx context.Context) (*PoolHealth, error) {
	counts, err := p.store.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	depth := make(map[string]int, len(counts))
	for state, n := range counts {
		depth[string(state)] = n
	}

	stats := make([]WorkerHealth, 0, len(p.workers))
	active := 0
	for _, w := range p.workers {
		h := w.Health()
		stats = append(stats, h)
		if h.Status == string(WorkerStatusWorking) {
			active++
		}
	}

	p.orphans.mu.Lock()
	lastScan := p.orphans.lastOrphanScan
	recovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	return &PoolHealth{
		IsHealthy:        true,
		PodID:            p.podID,
		ActiveWorkers:    active,
		TotalWorkers:     len(p.workers),
		QueueDepth:       depth,
		WorkerStats:      stats,
		LastOrphanScan:   lastScan,
		OrphansRecovered: recovered,
	}, nil
}
