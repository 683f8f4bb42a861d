package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tarsy/pkg/database"
	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// pullJobHandler handles GET /jobs/pull?role=<r>&mode=<m>&worker_id=<w>.
// worker_id is an [EXPANSION] over spec.md's literal query params: a
// lease-holder identity is required to claim and later heartbeat/push a job,
// and external workers have no other way to supply one.
func (s *Server) pullJobHandler(c *gin.Context) {
	role := models.Role(c.Query("role"))
	mode := models.Mode(c.Query("mode"))
	workerID := c.Query("worker_id")
	if role == "" || mode == "" || workerID == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "role, mode and worker_id are required"})
		return
	}

	cfg := s.cfg.Queue
	job, err := s.store.ClaimNext(c.Request.Context(), role, mode, workerID, cfg.LeaseTTL, cfg.AgeThreshold)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		writeError(c, err)
		return
	}

	resp := pullJobResponse{
		JobID:   job.ID,
		Payload: string(job.Payload),
		Context: job.Context,
	}
	if job.LeaseDeadline != nil {
		resp.LeaseDeadline = *job.LeaseDeadline
	}
	c.JSON(http.StatusOK, resp)
}

// pushJobHandler handles POST /jobs/push.
func (s *Server) pushJobHandler(c *gin.Context) {
	var req pushJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result := models.JobState(req.Result)
	if !result.IsTerminal() {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "result must be a terminal job state"})
		return
	}

	job, err := s.store.Push(c.Request.Context(), req.JobID, req.WorkerID, result)
	if err != nil {
		writeError(c, err)
		return
	}

	nextJobs, err := s.scheduler.OnPush(c.Request.Context(), job, result)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pushJobResponse{NextJobs: nextJobs})
}

// createJobHandler handles POST /jobs/create.
func (s *Server) createJobHandler(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	job, err := s.scheduler.CreateJob(c.Request.Context(), req.toInput())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, createJobResponse{JobID: job.ID, PipelineID: job.PipelineID})
}

// jobStatusHandler handles GET /jobs/status.
func (s *Server) jobStatusHandler(c *gin.Context) {
	counts, err := s.store.StatusCounts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make(map[string]int, len(counts))
	for state, n := range counts {
		out[string(state)] = n
	}
	c.JSON(http.StatusOK, statusCountsResponse{Counts: out})
}

// listJobsHandler handles GET /jobs/list?pipeline_id=<p>.
func (s *Server) listJobsHandler(c *gin.Context) {
	pipelineID := c.Query("pipeline_id")
	if pipelineID == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "pipeline_id is required"})
		return
	}

	jobs, err := s.store.ListJobsByPipeline(c.Request.Context(), pipelineID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobResponses(jobs))
}

// jobsHealthHandler handles GET /jobs/health ([EXPANSION]).
func (s *Server) jobsHealthHandler(c *gin.Context) {
	resp := healthResponse{PodID: s.podID, DatabaseHealthy: true}

	if _, err := database.Health(c.Request.Context(), s.dbClient.DB()); err != nil {
		resp.DatabaseHealthy = false
		resp.DatabaseError = err.Error()
	}

	if s.workerPool != nil {
		poolHealth, err := s.workerPool.Health(c.Request.Context())
		if err != nil {
			resp.DatabaseHealthy = false
			resp.DatabaseError = err.Error()
		} else {
			resp.IsHealthy = poolHealth.IsHealthy && resp.DatabaseHealthy
			resp.ActiveWorkers = poolHealth.ActiveWorkers
			resp.TotalWorkers = poolHealth.TotalWorkers
			resp.QueueDepth = poolHealth.QueueDepth
			resp.LastOrphanScan = poolHealth.LastOrphanScan
			resp.OrphansRecovered = poolHealth.OrphansRecovered
		}
	} else {
		resp.IsHealthy = resp.DatabaseHealthy
	}

	status := http.StatusOK
	if !resp.IsHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func toJobResponses(jobs []*models.Job) []jobResponse {
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		jr := jobResponse{
			ID:           j.ID,
			PipelineID:   j.PipelineID,
			Role:         string(j.Role),
			Mode:         string(j.Mode),
			Sequence:     j.Sequence,
			State:        string(j.State),
			Priority:     string(j.Priority),
			AttemptCount: j.AttemptCount,
			CreatedAt:    j.CreatedAt,
			LeasedAt:     j.LeasedAt,
			FinishedAt:   j.FinishedAt,
		}
		if j.ParentJobID != nil {
			jr.ParentJobID = *j.ParentJobID
		}
		out = append(out, jr)
	}
	return out
}
