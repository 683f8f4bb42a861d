package api

import "time"

// pullJobResponse is returned by GET /jobs/pull (spec.md §6).
type pullJobResponse struct {
	JobID         string         `json:"job_id"`
	Payload       string         `json:"payload"`
	Context       map[string]any `json:"context,omitempty"`
	LeaseDeadline time.Time      `json:"lease_deadline"`
}

// pushJobResponse is returned by POST /jobs/push.
type pushJobResponse struct {
	NextJobs []string `json:"next_jobs"`
}

// createJobResponse is returned by POST /jobs/create.
type createJobResponse struct {
	JobID      string `json:"job_id"`
	PipelineID string `json:"pipeline_id"`
}

// jobResponse is the wire shape of a Job for GET /jobs/list and
// GET /pipelines/:id.
type jobResponse struct {
	ID           string     `json:"id"`
	PipelineID   string     `json:"pipeline_id"`
	ParentJobID  string     `json:"parent_job_id,omitempty"`
	Role         string     `json:"role"`
	Mode         string     `json:"mode"`
	Sequence     int        `json:"sequence"`
	State        string     `json:"state"`
	Priority     string     `json:"priority"`
	AttemptCount int        `json:"attempt_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LeasedAt     *time.Time `json:"leased_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// statusCountsResponse is returned by GET /jobs/status.
type statusCountsResponse struct {
	Counts map[string]int `json:"counts"`
}

// healthResponse is returned by GET /jobs/health ([EXPANSION]).
type healthResponse struct {
	IsHealthy        bool              `json:"is_healthy"`
	PodID            string            `json:"pod_id"`
	ActiveWorkers    int               `json:"active_workers"`
	TotalWorkers     int               `json:"total_workers"`
	QueueDepth       map[string]int    `json:"queue_depth"`
	LastOrphanScan   time.Time         `json:"last_orphan_scan"`
	OrphansRecovered int               `json:"orphans_recovered"`
	DatabaseHealthy  bool              `json:"database_healthy"`
	DatabaseError    string            `json:"database_error,omitempty"`
}

// pipelineResponse is returned by GET /pipelines/:id ([EXPANSION]).
type pipelineResponse struct {
	ID           string         `json:"id"`
	RootRequest  string         `json:"root_request"`
	SessionID    string         `json:"session_id"`
	State        string         `json:"state"`
	ReworkRounds map[string]int `json:"rework_rounds"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Jobs         []jobResponse  `json:"jobs"`
}

// errorResponse is the JSON body for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}
