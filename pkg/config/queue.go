package config

import "time"

// QueueConfig contains queue and worker pool configuration. These values
// control how jobs are polled, leased, and processed — the tunables named
// in spec.md §6 "Configuration" (LEASE_TTL, MAX_ATTEMPTS, AGE_THRESHOLD,
// BACKEND_TIMEOUT), generalized from the teacher's single-session-type
// queue to the (role, mode)-keyed queue of spec.md §4.6.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentJobs is the configured global limit of concurrently
	// leased jobs across all replicas. Validate requires it to be positive;
	// the worker pool does not read it, so no such limit is enforced.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// PollInterval is the base interval for checking pending jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// LeaseTTL bounds how long a worker may hold a job before the reaper
	// reclaims it (spec.md §6 LEASE_TTL, default 5 min).
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// HeartbeatInterval is how often a worker refreshes LastHeartbeatAt
	// while processing, mirroring the lease so the reaper doesn't reclaim
	// a job that's still actively being worked.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// MaxAttempts is the reaper's retry budget before a job is failed
	// outright and its pipeline escalated (spec.md §6 MAX_ATTEMPTS).
	MaxAttempts int `yaml:"max_attempts"`

	// AgeThreshold is how long a job may sit pending before its effective
	// priority is promoted one tier (spec.md §6 AGE_THRESHOLD, §4.6).
	AgeThreshold time.Duration `yaml:"age_threshold"`

	// OrphanScanInterval is how often the reaper scans for expired leases.
	OrphanScanInterval time.Duration `yaml:"orphan_scan_interval"`

	// GracefulShutdownTimeout bounds how long Stop() waits for in-flight
	// jobs to finish before returning.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentJobs:       10,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		LeaseTTL:                5 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		MaxAttempts:             3,
		AgeThreshold:            60 * time.Second,
		OrphanScanInterval:      30 * time.Second,
		GracefulShutdownTimeout: 5 * time.Minute,
	}
}
