package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// escalationSignatureKey renders a FailureSignature as the flat string the
// escalation_signatures table keys on, mirroring how pkg/escalate derives its
// in-memory map key (see pkg/escalate/escalator.go signatureKey).
func escalationSignatureKey(sig models.FailureSignature) string {
	return fmt.Sprintf("%s|%s|%s|%s", sig.ErrorKind, sig.MissingOutputFields, sig.Role, sig.PromptHash)
}

// SaveEscalationSnapshot upserts a FailureSignature's current EscalationRecord.
// This is a best-effort periodic snapshot (SPEC_FULL.md §9 Open Question
// resolution #3): the Escalator's authoritative state is its in-process LRU;
// this table only lets a restarted process recover approximate counts rather
// than silently resetting every signature to zero.
func (s *Store) SaveEscalationSnapshot(ctx context.Context, sig models.FailureSignature, rec models.EscalationRecord) error {
	switched, err := json.Marshal(rec.SwitchedRoles)
	if err != nil {
		return fmt.Errorf("encode switched_roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO escalation_signatures (signature, count, level, switched_roles, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (signature) DO UPDATE
		 SET count = EXCLUDED.count, level = EXCLUDED.level,
		     switched_roles = EXCLUDED.switched_roles, updated_at = EXCLUDED.updated_at`,
		escalationSignatureKey(sig), rec.Count, rec.Level, switched, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save escalation snapshot: %w", err)
	}
	return nil
}

// ParseSignatureKey reverses escalationSignatureKey, recovering the
// FailureSignature a persisted row was keyed on so the Escalator can Seed
// its map with the original struct rather than the flattened string. The
// four fields never contain "|" themselves (MissingOutputFields is already
// comma-joined, PromptHash is hex), so a 4-way split is unambiguous.
func ParseSignatureKey(key string) (models.FailureSignature, error) {
	parts := strings.SplitN(key, "|", 4)
	if len(parts) != 4 {
		return models.FailureSignature{}, fmt.Errorf("malformed escalation signature key: %q", key)
	}
	return models.FailureSignature{
		ErrorKind:           models.ErrorKind(parts[0]),
		MissingOutputFields: parts[1],
		Role:                models.Role(parts[2]),
		PromptHash:          parts[3],
	}, nil
}

// EscalationSnapshot is one row recovered from the escalation_signatures table
// at startup, keyed by the same flattened signature string persisted by
// SaveEscalationSnapshot.
type EscalationSnapshot struct {
	Signature string
	Record    models.EscalationRecord
}

// LoadEscalationSnapshots restores every persisted signature/record pair for
// the Escalator to seed its LRU from at startup.
func (s *Store) LoadEscalationSnapshots(ctx context.Context) ([]EscalationSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT signature, count, level, switched_roles FROM escalation_signatures`)
	if err != nil {
		return nil, fmt.Errorf("load escalation snapshots: %w", err)
	}
	defer rows.Close()

	var out []EscalationSnapshot
	for rows.Next() {
		var (
			sig          string
			count        int
			level        string
			switchedRaw  []byte
		)
		if err := rows.Scan(&sig, &count, &level, &switchedRaw); err != nil {
			return nil, fmt.Errorf("scan escalation snapshot: %w", err)
		}
		switched := map[string]bool{}
		if len(switchedRaw) > 0 {
			if err := json.Unmarshal(switchedRaw, &switched); err != nil {
				return nil, fmt.Errorf("decode switched_roles: %w", err)
			}
		}
		out = append(out, EscalationSnapshot{
			Signature: sig,
			Record: models.EscalationRecord{
				Count:         count,
				Level:         models.EscalationLevel(level),
				SwitchedRoles: switched,
			},
		})
	}
	return out, rows.Err()
}
