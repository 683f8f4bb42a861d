// Package api implements the Job Queue & Dispatch HTTP API (spec.md §6):
// GET /jobs/pull, POST /jobs/push, POST /jobs/create, GET /jobs/status,
// GET /jobs/list, plus the health/cancel/detail endpoints this expanded
// spec adds for operator visibility. Grounded on pkg/api/handlers.go's
// gin-based handler style (c.ShouldBindJSON/c.JSON/gin.H), which is the
// one pkg/api file whose import actually matches the gin-gonic/gin entry
// in go.mod — the rest of the teacher's pkg/api imports labstack/echo/v5,
// a dependency absent from go.mod, and is not followed here.
package api

import (
	"context"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// Scheduler is the orchestration hook the API layer calls into for
// everything beyond raw queue bookkeeping: creating the first job of a new
// pipeline, routing a finished job's result to its successors, and
// cooperative cancellation. pkg/orchestrator implements this; the interface
// lives here (not there) so pkg/api never needs to import pkg/orchestrator's
// concrete type, mirroring the teacher's services.* interface-at-the-consumer
// convention in pkg/api/handlers.go.
type Scheduler interface {
	// CreateJob creates a job per POST /jobs/create. When parentJobID is
	// empty a new Pipeline is created and payload becomes its root_request;
	// otherwise the job is attached to the parent's pipeline.
	CreateJob(ctx context.Context, in CreateJobInput) (*models.Job, error)

	// OnPush runs successor-scheduling for a job that just reached a
	// terminal state via POST /jobs/push, returning the IDs of any jobs it
	// created.
	OnPush(ctx context.Context, job *models.Job, result models.JobState) ([]string, error)

	// Cancel flips the cooperative cancellation flag for a pipeline
	// (spec.md §5).
	Cancel(ctx context.Context, pipelineID string) error
}

// CreateJobInput is the parsed form of POST /jobs/create's body.
type CreateJobInput struct {
	Role         models.Role
	Mode         models.Mode
	Payload      []byte
	Context      map[string]any
	ParentJobID  string
	Priority     models.Priority
}
