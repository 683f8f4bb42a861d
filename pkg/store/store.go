// Package store is the transactional persistence layer for Jobs, Pipelines,
// and escalation signatures (spec.md §3, §5). It replaces the teacher's
// Ent-backed pkg/services layer with direct database/sql queries over the
// jackc/pgx/v5 stdlib driver, keeping the teacher's own claim idiom from
// pkg/queue/worker.go: a transaction running `SELECT ... FOR UPDATE SKIP
// LOCKED` followed by a plain `UPDATE`, committed together.
//
// The Event Log (append-only JSONL) is deliberately NOT stored here — per
// spec.md §4.1/§6 it lives in flat files under events/stream/, owned by
// pkg/eventlog. Store only owns the row-shaped, transactionally-mutated
// state: Job leases and Pipeline rework counters.
package store

import (
	"database/sql"
	"strconv"
)

// Store wraps a *sql.DB connection pool.
type Store struct {
	db *sql.DB
}

// New creates a new Store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// idToString renders an opaque internal bigserial key as the stable string
// ID spec.md's data model names (Job.id, Pipeline.id are "stable opaque").
func idToString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// idFromString parses a stable string ID back to its internal key.
func idFromString(id string) (int64, error) {
	return strconv.ParseInt(id, 10, 64)
}
