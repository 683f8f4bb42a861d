package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getPipelineHandler handles GET /pipelines/:id ([EXPANSION]): pipeline
// detail plus its job list, for operator visibility into escalated/blocked
// pipelines (spec.md §4.8).
func (s *Server) getPipelineHandler(c *gin.Context) {
	id := c.Param("id")

	pipeline, err := s.store.GetPipeline(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	jobs, err := s.store.ListJobsByPipeline(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	rounds := make(map[string]int, len(pipeline.ReworkRounds))
	for role, n := range pipeline.ReworkRounds {
		rounds[string(role)] = n
	}

	c.JSON(http.StatusOK, pipelineResponse{
		ID:           pipeline.ID,
		RootRequest:  pipeline.RootRequest,
		SessionID:    pipeline.SessionID,
		State:        string(pipeline.State),
		ReworkRounds: rounds,
		CreatedAt:    pipeline.CreatedAt,
		UpdatedAt:    pipeline.UpdatedAt,
		Jobs:         toJobResponses(jobs),
	})
}

// cancelPipelineHandler handles POST /pipelines/:id/cancel ([EXPANSION]),
// spec.md §5's cooperative cancel(pipeline_id).
func (s *Server) cancelPipelineHandler(c *gin.Context) {
	id := c.Param("id")

	if err := s.scheduler.Cancel(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pipeline_id": id, "state": "cancelled"})
}
