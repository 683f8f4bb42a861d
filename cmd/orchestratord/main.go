// orchestratord runs the pipeline scheduler and execution engine: the
// Dispatch HTTP API, the in-process worker pool, and the orchestrator that
// ties job execution to the Decision Machine's verdict routing.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tarsy/pkg/api"
	"github.com/codeready-toolchain/tarsy/pkg/backend"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/database"
	"github.com/codeready-toolchain/tarsy/pkg/escalate"
	"github.com/codeready-toolchain/tarsy/pkg/eventlog"
	"github.com/codeready-toolchain/tarsy/pkg/models"
	"github.com/codeready-toolchain/tarsy/pkg/orchestrator"
	"github.com/codeready-toolchain/tarsy/pkg/persona"
	"github.com/codeready-toolchain/tarsy/pkg/queue"
	"github.com/codeready-toolchain/tarsy/pkg/store"
	"github.com/codeready-toolchain/tarsy/pkg/supervisor"
	"github.com/codeready-toolchain/tarsy/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// workerKeys lists every (role, mode) slot the Orchestrator is prepared to
// execute (spec.md §3's roles except Stamp, worker mode only — PM dispatch
// never creates a reviewer-mode job of its own).
func workerKeys() []models.QueueKey {
	roles := []models.Role{
		models.RolePM, models.RoleExcavator, models.RoleStrategist,
		models.RoleCoder, models.RoleQA, models.RoleReviewer,
		models.RoleResearcher, models.RoleAnalyst, models.RoleCouncil,
	}
	keys := make([]models.QueueKey, 0, len(roles))
	for _, r := range roles {
		keys = append(keys, models.QueueKey{Role: r, Mode: models.ModeWorker})
	}
	return keys
}

// runEscalationSnapshotLoop periodically persists the Escalator's in-memory
// records to the escalation_signatures table, mirroring pkg/queue's orphan
// reaper ticker so a restarted process can seed from approximate counts
// instead of starting every failure signature back at zero.
func runEscalationSnapshotLoop(ctx context.Context, st *store.Store, escalator *escalate.Escalator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rec := range escalator.Snapshot() {
				if err := st.SaveEscalationSnapshot(ctx, rec.Signature, rec); err != nil {
					log.Printf("Failed to persist escalation snapshot: %v", err)
				}
			}
		}
	}
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	podID := getEnv("POD_ID", version.AppName+"-1")
	ginMode := getEnv("GIN_MODE", "debug")
	gin.SetMode(ginMode)

	log.Printf("Starting %s", version.Full())
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("Connected to PostgreSQL, schema migrated")

	st := store.New(dbClient.DB())

	events, err := eventlog.Open(cfg.EventLogDir)
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}

	registry, err := backend.Build(cfg.Routing.GetAll())
	if err != nil {
		log.Fatalf("Failed to build backend registry: %v", err)
	}

	escalator := escalate.New(cfg.Escalation.SignatureCacheCapacity)
	snapshots, err := st.LoadEscalationSnapshots(ctx)
	if err != nil {
		log.Fatalf("Failed to load escalation snapshots: %v", err)
	}
	for _, snap := range snapshots {
		sig, err := store.ParseSignatureKey(snap.Signature)
		if err != nil {
			log.Printf("Skipping malformed escalation snapshot: %v", err)
			continue
		}
		rec := snap.Record
		rec.Signature = sig
		escalator.Seed(sig, rec)
	}
	log.Printf("Escalator seeded with %d persisted signatures", len(snapshots))

	personas := persona.NewLoader(cfg.PersonaDir)

	orch := orchestrator.New(st, nil, registry, events, cfg.Escalation, personas)
	sup := &supervisor.Supervisor{
		Registry:  registry,
		Escalator: escalator,
		Events:    events,
		Personas:  personas,
		Cancel:    orch,
		Config:    cfg.Escalation,
	}
	orch.Supervisor = sup

	pool := queue.NewWorkerPool(podID, st, orch, cfg.Queue, workerKeys())
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}
	defer pool.Stop()
	log.Printf("Worker pool started: %d workers across %d queue keys", cfg.Queue.WorkerCount, len(workerKeys()))

	go runEscalationSnapshotLoop(ctx, st, escalator, cfg.Escalation.SnapshotInterval)

	server := api.NewServer(cfg, dbClient, st, pool, orch, podID)
	log.Printf("HTTP server listening on :%s", httpPort)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during HTTP server shutdown: %v", err)
	}
}
