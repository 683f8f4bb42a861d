// Package api provides HTTP API handlers for TARSy.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/database"
	"github.com/codeready-toolchain/tarsy/pkg/queue"
	"github.com/codeready-toolchain/tarsy/pkg/store"
)

// Server is the Dispatch HTTP API server (spec.md §6). It owns no business
// logic of its own beyond request/response translation: job/pipeline
// bookkeeping goes through pkg/store directly, and pipeline-level scheduling
// decisions go through Scheduler (implemented by pkg/orchestrator).
type Server struct {
	cfg        *config.Config
	dbClient   *database.Client
	store      *store.Store
	workerPool *queue.WorkerPool
	scheduler  Scheduler
	podID      string

	router     *gin.Engine
	httpServer *http.Server
}

// NewServer wires a gin.Engine with the Dispatch HTTP API's routes,
// following cmd/tarsy/main.go's gin.Default()+router.GET(...) composition.
func NewServer(cfg *config.Config, dbClient *database.Client, st *store.Store, pool *queue.WorkerPool, scheduler Scheduler, podID string) *Server {
	s := &Server{
		cfg:        cfg,
		dbClient:   dbClient,
		store:      st,
		workerPool: pool,
		scheduler:  scheduler,
		podID:      podID,
	}
	s.router = gin.Default()
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/jobs/health", s.jobsHealthHandler)
	s.router.GET("/jobs/pull", s.pullJobHandler)
	s.router.POST("/jobs/push", s.pushJobHandler)
	s.router.POST("/jobs/create", s.createJobHandler)
	s.router.GET("/jobs/status", s.jobStatusHandler)
	s.router.GET("/jobs/list", s.listJobsHandler)
	s.router.GET("/pipelines/:id", s.getPipelineHandler)
	s.router.POST("/pipelines/:id/cancel", s.cancelPipelineHandler)
}

// Router exposes the underlying gin.Engine for ListenAndServe composition
// and for tests that drive requests with httptest.
func (s *Server) Router() *gin.Engine { return s.router }

// Start begins serving HTTP on addr. It blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health, mirroring pkg/api/handler_health.go's
// minimal database-reachability check.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
