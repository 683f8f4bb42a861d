package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolStartIsIdempotent(t *testing.T) {
	cfg := testQueueConfig()
	cfg.WorkerCount = 0
	cfg.OrphanScanInterval = time.Hour
	cfg.GracefulShutdownTimeout = time.Second

	pool := NewWorkerPool("pod-1", nil, nil, cfg, nil)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Start(context.Background())) // second call is a no-op
	assert.Empty(t, pool.workers)

	pool.Stop()
}

func TestWorkerPoolStopWithoutStartDoesNotBlock(t *testing.T) {
	cfg := testQueueConfig()
	pool := NewWorkerPool("pod-1", nil, nil, cfg, nil)
	pool.Stop()
}

func TestWorkerPoolOrphanStateStartsWithZeroScanTime(t *testing.T) {
	cfg := testQueueConfig()
	pool := NewWorkerPool("pod-1", nil, nil, cfg, nil)

	pool.orphans.mu.Lock()
	before := pool.orphans.lastOrphanScan
	pool.orphans.mu.Unlock()

	assert.True(t, before.IsZero())
}
