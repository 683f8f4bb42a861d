package config

import "fmt"

var validStages = map[BackendStage]bool{
	StageWriter:  true,
	StageAuditor: true,
	StageStamp:   true,
}

var validAdapterTypes = map[BackendAdapterType]bool{
	BackendAdapterGRPC: true,
	BackendAdapterMock: true,
}

// Validate checks a loaded Config for internally-consistent values,
// mirroring the teacher's pkg/config validator: fail fast on startup
// rather than surface a confusing error deep inside the worker pool.
func Validate(cfg *Config) error {
	if cfg.Queue != nil {
		if err := validateQueue(cfg.Queue); err != nil {
			return err
		}
	}
	if cfg.Escalation != nil {
		if err := validateEscalation(cfg.Escalation); err != nil {
			return err
		}
	}
	if cfg.Routing != nil {
		if err := validateRoutes(cfg.Routing); err != nil {
			return err
		}
	}
	return nil
}

func validateQueue(q *QueueConfig) error {
	if q.WorkerCount <= 0 {
		return NewValidationError("queue", "worker_count", fmt.Errorf("%w: must be > 0", ErrValidationFailed))
	}
	if q.MaxConcurrentJobs <= 0 {
		return NewValidationError("queue", "max_concurrent_jobs", fmt.Errorf("%w: must be > 0", ErrValidationFailed))
	}
	if q.LeaseTTL <= 0 {
		return NewValidationError("queue", "lease_ttl", fmt.Errorf("%w: must be > 0", ErrValidationFailed))
	}
	if q.HeartbeatInterval <= 0 || q.HeartbeatInterval >= q.LeaseTTL {
		return NewValidationError("queue", "heartbeat_interval", fmt.Errorf("%w: must be > 0 and < lease_ttl", ErrValidationFailed))
	}
	if q.MaxAttempts <= 0 {
		return NewValidationError("queue", "max_attempts", fmt.Errorf("%w: must be > 0", ErrValidationFailed))
	}
	return nil
}

func validateEscalation(e *EscalationConfig) error {
	if e.MaxReworkRounds <= 0 {
		return NewValidationError("escalation", "max_rework_rounds", fmt.Errorf("%w: must be > 0", ErrValidationFailed))
	}
	if e.MaxRewrites <= 0 {
		return NewValidationError("escalation", "max_rewrites", fmt.Errorf("%w: must be > 0", ErrValidationFailed))
	}
	if e.SignatureCacheCapacity < 4096 {
		return NewValidationError("escalation", "signature_cache_capacity", fmt.Errorf("%w: must be >= 4096", ErrValidationFailed))
	}
	return nil
}

func validateRoutes(r *BackendRoutingRegistry) error {
	for key, route := range r.GetAll() {
		if route.Type == "" {
			return NewValidationError("routing", fmt.Sprintf("%s/%s", key.Role, key.Stage),
				fmt.Errorf("%w: type", ErrMissingRequiredField))
		}
		if !validAdapterTypes[route.Type] {
			return NewValidationError("routing", fmt.Sprintf("%s/%s", key.Role, key.Stage),
				fmt.Errorf("%w: unknown adapter type %q", ErrValidationFailed, route.Type))
		}
		if !validStages[key.Stage] {
			return NewValidationError("routing", string(key.Stage),
				fmt.Errorf("%w: unknown stage", ErrValidationFailed))
		}
		if route.Type == BackendAdapterGRPC && route.Endpoint == "" {
			return NewValidationError("routing", fmt.Sprintf("%s/%s", key.Role, key.Stage),
				fmt.Errorf("%w: endpoint required for grpc adapter", ErrMissingRequiredField))
		}
	}
	return nil
}
