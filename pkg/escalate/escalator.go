// Package escalate implements the Failure Signature & Escalator (spec.md
// §4.4): a bounded map from FailureSignature to EscalationRecord driving the
// self_repair -> role_switch -> hard_fail retry ladder.
//
// The mutex-guarded map is grounded on pkg/runbook/cache.go's Cache
// (lazy-expiry, lock-around-map shape); the bounded-size eviction is
// grounded on the same orphan/lease bookkeeping discipline used by
// pkg/queue/orphan.go's orphanState (one small mutex-protected struct owning
// its own metrics/state). No third-party LRU library (e.g.
// hashicorp/golang-lru) appears anywhere in the retrieved pack, so the ring
// is hand-rolled over stdlib container/list, matching the size of the
// problem (a capacity-bounded map, not a general-purpose cache).
package escalate

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// Escalator owns the signature -> record map and its LRU eviction ring.
type Escalator struct {
	mu       sync.Mutex
	capacity int
	records  map[models.FailureSignature]*list.Element // element.Value is *entry
	order    *list.List                                // front = most recently used
}

type entry struct {
	sig models.FailureSignature
	rec models.EscalationRecord
}

// New builds an Escalator bounded to capacity entries. A non-positive
// capacity falls back to spec.md §4.4's stated floor of 4096.
func New(capacity int) *Escalator {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Escalator{
		capacity: capacity,
		records:  make(map[models.FailureSignature]*list.Element),
		order:    list.New(),
	}
}

// Seed repopulates the map from persisted snapshots (pkg/store's
// escalation_signatures table) at startup, per SPEC_FULL.md §9 Open
// Question resolution #3. Seeding does not evict; callers are expected to
// seed only at startup, before capacity pressure exists.
func (esc *Escalator) Seed(sig models.FailureSignature, rec models.EscalationRecord) {
	esc.mu.Lock()
	defer esc.mu.Unlock()
	if _, exists := esc.records[sig]; exists {
		return
	}
	el := esc.order.PushFront(&entry{sig: sig, rec: rec})
	esc.records[sig] = el
}

// Signature builds the FailureSignature spec.md §3 defines as the
// equivalence class over which retries collapse: (ErrorKind,
// MissingOutputFields, Role, PromptHash). missingFields need not be
// pre-sorted; Signature sorts and joins them so two failures that list the
// same missing fields in a different order still collapse to one signature.
func Signature(kind models.ErrorKind, missingFields []string, role models.Role, prompt string) models.FailureSignature {
	sorted := append([]string(nil), missingFields...)
	sort.Strings(sorted)
	return models.FailureSignature{
		ErrorKind:           kind,
		MissingOutputFields: strings.Join(sorted, ","),
		Role:                role,
		PromptHash:          promptHash(prompt),
	}
}

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Outcome is what the caller (pkg/supervisor) does next, derived from the
// escalation level reached by this failure.
type Outcome struct {
	Level       models.EscalationLevel
	Count       int
	RetryNotes  string // prior-error feedback appended to the prompt on self_repair
	SwitchRole  bool   // caller should assign an alternate persona/profile
	HardFail    bool   // caller must abort and surface BLOCKED
}

// Record processes one failure against its signature, per spec.md §4.4's
// five-step algorithm: lookup-or-insert, increment, transition, return.
// profile identifies the persona/profile the caller is about to retry with
// (used to enforce "role_switch at most once per profile"); it may be empty
// when the caller has not yet chosen an alternate profile.
func (esc *Escalator) Record(sig models.FailureSignature, errMsg string, profile string) Outcome {
	esc.mu.Lock()
	defer esc.mu.Unlock()

	el, ok := esc.records[sig]
	var e *entry
	if !ok {
		e = &entry{sig: sig, rec: models.EscalationRecord{Signature: sig, Count: 0, Level: models.LevelSelfRepair, SwitchedRoles: map[string]bool{}}}
		el = esc.order.PushFront(e)
		esc.records[sig] = el
		esc.evictIfOverCapacity()
	} else {
		e = el.Value.(*entry)
		esc.order.MoveToFront(el)
	}

	e.rec.Count++
	e.rec.Level = levelFor(e.rec.Count, e.rec.Level)
	if e.rec.SwitchedRoles == nil {
		e.rec.SwitchedRoles = map[string]bool{}
	}

	out := Outcome{Level: e.rec.Level, Count: e.rec.Count}
	switch e.rec.Level {
	case models.LevelSelfRepair:
		out.RetryNotes = errMsg
	case models.LevelRoleSwitch:
		if profile != "" && !e.rec.SwitchedRoles[profile] {
			e.rec.SwitchedRoles[profile] = true
			out.SwitchRole = true
		}
	case models.LevelHardFail:
		out.HardFail = true
	}
	return out
}

// levelFor computes the monotonic level transition from spec.md §4.4 step 4.
// prior guards the "terminal: once hard_fail, stays hard_fail" invariant —
// the ladder only moves forward even if count bookkeeping were ever replayed.
func levelFor(count int, prior models.EscalationLevel) models.EscalationLevel {
	var target models.EscalationLevel
	switch {
	case count <= 1:
		target = models.LevelSelfRepair
	case count == 2:
		target = models.LevelRoleSwitch
	default:
		target = models.LevelHardFail
	}
	if prior.AtLeast(target) {
		return prior
	}
	return target
}

// evictIfOverCapacity drops the least-recently-used record once the map
// exceeds capacity. Caller must hold esc.mu.
func (esc *Escalator) evictIfOverCapacity() {
	for len(esc.records) > esc.capacity {
		back := esc.order.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		delete(esc.records, e.sig)
		esc.order.Remove(back)
	}
}

// Lookup returns the current record for a signature without mutating it.
func (esc *Escalator) Lookup(sig models.FailureSignature) (models.EscalationRecord, bool) {
	esc.mu.Lock()
	defer esc.mu.Unlock()
	el, ok := esc.records[sig]
	if !ok {
		return models.EscalationRecord{}, false
	}
	esc.order.MoveToFront(el)
	return el.Value.(*entry).rec, true
}

// Len reports the current number of tracked signatures, for health/metrics
// reporting.
func (esc *Escalator) Len() int {
	esc.mu.Lock()
	defer esc.mu.Unlock()
	return len(esc.records)
}

// Snapshot returns every tracked (signature, record) pair for periodic
// persistence (pkg/store.SaveEscalationSnapshot), formatted for logging via
// fmt.Stringer-free direct field access rather than a custom String method —
// matching the plain-struct-return style the teacher uses elsewhere for
// health snapshots.
func (esc *Escalator) Snapshot() []models.EscalationRecord {
	esc.mu.Lock()
	defer esc.mu.Unlock()
	out := make([]models.EscalationRecord, 0, len(esc.records))
	for _, el := range esc.records {
		out = append(out, el.Value.(*entry).rec)
	}
	return out
}

// String implements a compact debug form, e.g. for structured log fields.
func (o Outcome) String() string {
	return fmt.Sprintf("level=%s count=%d switch=%v hard_fail=%v", o.Level, o.Count, o.SwitchRole, o.HardFail)
}
