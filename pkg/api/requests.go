package api

import "github.com/codeready-toolchain/tarsy/pkg/models"

// createJobRequest is the HTTP request body for POST /jobs/create
// (spec.md §6).
type createJobRequest struct {
	Role        string         `json:"role" binding:"required"`
	Mode        string         `json:"mode" binding:"required"`
	Payload     string         `json:"payload" binding:"required"`
	Context     map[string]any `json:"context,omitempty"`
	ParentJobID string         `json:"parent_job_id,omitempty"`
	Priority    string         `json:"priority,omitempty"`
}

func (r createJobRequest) toInput() CreateJobInput {
	priority := models.Priority(r.Priority)
	if priority == "" {
		priority = models.PriorityMedium
	}
	return CreateJobInput{
		Role:        models.Role(r.Role),
		Mode:        models.Mode(r.Mode),
		Payload:     []byte(r.Payload),
		Context:     r.Context,
		ParentJobID: r.ParentJobID,
		Priority:    priority,
	}
}

// pushJobRequest is the HTTP request body for POST /jobs/push.
type pushJobRequest struct {
	JobID    string `json:"job_id" binding:"required"`
	WorkerID string `json:"worker_id" binding:"required"`
	Result   string `json:"result" binding:"required"`
	Error    string `json:"error,omitempty"`
}

// cancelPipelineRequest is the HTTP request body for
// POST /pipelines/:id/cancel. It carries no fields today, reserved for a
// future cancellation reason.
type cancelPipelineRequest struct{}
