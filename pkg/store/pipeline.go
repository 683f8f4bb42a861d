package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// CreatePipeline inserts a new Pipeline in the running state.
func (s *Store) CreatePipeline(ctx context.Context, rootRequest, sessionID string) (*models.Pipeline, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO pipelines (root_request, session_id, state, rework_rounds, created_at, updated_at)
		 VALUES ($1, $2, $3, '{}'::jsonb, $4, $4) RETURNING id`,
		rootRequest, sessionID, models.PipelineRunning, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	return &models.Pipeline{
		ID:           idToString(id),
		RootRequest:  rootRequest,
		SessionID:    sessionID,
		State:        models.PipelineRunning,
		ReworkRounds: map[models.Role]int{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetPipeline fetches a Pipeline by its string ID.
func (s *Store) GetPipeline(ctx context.Context, pipelineID string) (*models.Pipeline, error) {
	id, err := idFromString(pipelineID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pipeline id %q", models.ErrNotFound, pipelineID)
	}
	return s.scanPipeline(s.db.QueryRowContext(ctx,
		`SELECT id, root_request, session_id, state, rework_rounds, last_decision, created_at, updated_at
		 FROM pipelines WHERE id = $1`, id))
}

func (s *Store) scanPipeline(row *sql.Row) (*models.Pipeline, error) {
	var (
		id                                          int64
		rootRequest, sessionID, state, lastDecision string
		reworkRaw                                   []byte
		createdAt, updatedAt                        time.Time
	)
	if err := row.Scan(&id, &rootRequest, &sessionID, &state, &reworkRaw, &lastDecision, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("scan pipeline: %w", err)
	}
	rounds := map[models.Role]int{}
	if len(reworkRaw) > 0 {
		if err := json.Unmarshal(reworkRaw, &rounds); err != nil {
			return nil, fmt.Errorf("decode rework_rounds: %w", err)
		}
	}
	return &models.Pipeline{
		ID:           idToString(id),
		RootRequest:  rootRequest,
		SessionID:    sessionID,
		State:        models.PipelineState(state),
		ReworkRounds: rounds,
		LastDecision: models.DecisionAction(lastDecision),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// UpdatePipelineDecision atomically validates and records a Decision
// Machine transition (spec.md §4.7): the pipeline's last_decision column only
// ever advances along the allowed state graph edges from
// models.IsAllowedTransition, and a forbidden transition fails closed with
// models.ErrInvalidTransition instead of being silently recorded.
func (s *Store) UpdatePipelineDecision(ctx context.Context, pipelineID string, action models.DecisionAction) error {
	id, err := idFromString(pipelineID)
	if err != nil {
		return fmt.Errorf("%w: invalid pipeline id %q", models.ErrNotFound, pipelineID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT last_decision FROM pipelines WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return models.ErrNotFound
		}
		return fmt.Errorf("select last_decision: %w", err)
	}

	if !models.IsAllowedTransition(models.DecisionAction(current), action) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, action)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pipelines SET last_decision = $1, updated_at = $2 WHERE id = $3`,
		string(action), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update last_decision: %w", err)
	}

	return tx.Commit()
}

// UpdatePipelineState transitions a Pipeline to a new state.
func (s *Store) UpdatePipelineState(ctx context.Context, pipelineID string, state models.PipelineState) error {
	id, err := idFromString(pipelineID)
	if err != nil {
		return fmt.Errorf("%w: invalid pipeline id %q", models.ErrNotFound, pipelineID)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipelines SET state = $1, updated_at = $2 WHERE id = $3`,
		state, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update pipeline state: %w", err)
	}
	return requireOneRowAffected(res, models.ErrNotFound)
}

// IncrementReworkRound atomically bumps the rework counter for role within a
// pipeline and reports whether the pipeline is now over maxRounds
// (spec.md §3 "rework_rounds[role] ≤ MAX_REWORK_ROUNDS").
func (s *Store) IncrementReworkRound(ctx context.Context, pipelineID string, role models.Role, maxRounds int) (overCap bool, err error) {
	id, err := idFromString(pipelineID)
	if err != nil {
		return false, fmt.Errorf("%w: invalid pipeline id %q", models.ErrNotFound, pipelineID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var reworkRaw []byte
	err = tx.QueryRowContext(ctx, `SELECT rework_rounds FROM pipelines WHERE id = $1 FOR UPDATE`, id).Scan(&reworkRaw)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, models.ErrNotFound
		}
		return false, fmt.Errorf("select rework_rounds: %w", err)
	}

	rounds := map[models.Role]int{}
	if len(reworkRaw) > 0 {
		if err := json.Unmarshal(reworkRaw, &rounds); err != nil {
			return false, fmt.Errorf("decode rework_rounds: %w", err)
		}
	}
	rounds[role]++
	overCap = rounds[role] > maxRounds

	encoded, err := json.Marshal(rounds)
	if err != nil {
		return false, fmt.Errorf("encode rework_rounds: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pipelines SET rework_rounds = $1, updated_at = $2 WHERE id = $3`,
		encoded, time.Now().UTC(), id); err != nil {
		return false, fmt.Errorf("update rework_rounds: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit rework round: %w", err)
	}
	return overCap, nil
}

// CancelPipeline flips a pipeline to the cancelled marker state (spec.md §5
// cancel(pipeline_id)). It is a no-op returning nil if the pipeline is
// already in a terminal state, matching the at-least-once / idempotent-call
// expectations the rest of the dispatch API holds to.
func (s *Store) CancelPipeline(ctx context.Context, pipelineID string) error {
	id, err := idFromString(pipelineID)
	if err != nil {
		return fmt.Errorf("%w: invalid pipeline id %q", models.ErrNotFound, pipelineID)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipelines SET state = $1, updated_at = $2
		 WHERE id = $3 AND state NOT IN ($4, $5)`,
		models.PipelineCancelled, time.Now().UTC(), id, models.PipelineDone, models.PipelineCancelled)
	if err != nil {
		return fmt.Errorf("cancel pipeline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel pipeline rows affected: %w", err)
	}
	if n == 0 {
		// Either already cancelled/done (no-op) or the pipeline doesn't exist;
		// disambiguate with a lookup so callers still get ErrNotFound when due.
		if _, err := s.GetPipeline(ctx, pipelineID); err != nil {
			return err
		}
	}
	return nil
}

func requireOneRowAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
