// Package eventlog implements the append-only Event Log (spec.md §4.1): a
// durable, totally ordered record of every inter-role exchange, persisted as
// UTF-8 JSON-lines files keyed by calendar day under events/stream/.
//
// Grounded on the teacher's own flat-file discipline: pkg/database/client.go
// embeds migration files with go:embed and applies them one at a time in
// order; pkg/events/manager.go guards its connection/channel maps with a
// dedicated mutex per concern rather than one global lock. Here, each
// calendar-day file gets its own mutex, so concurrent appends to different
// days never contend and a slow fsync on one day never blocks another.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

const dayFileLayout = "2006-01-02"

// wireEvent is the on-disk JSON shape named in spec.md §6 "Event Log file
// format". Role fields are plain strings so a corrupt or forward-incompatible
// line fails to unmarshal cleanly rather than silently zero-valuing an enum.
type wireEvent struct {
	ID            int64          `json:"id"`
	Timestamp     time.Time      `json:"t"`
	PipelineID    string         `json:"pipeline_id"`
	JobID         string         `json:"job_id"`
	FromRole      string         `json:"from_role"`
	ToRole        *string        `json:"to_role,omitempty"`
	EventType     string         `json:"event_type"`
	ParentEventID *int64         `json:"parent_event_id,omitempty"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func toWire(e *models.Event) wireEvent {
	w := wireEvent{
		ID:            e.ID,
		Timestamp:     e.Timestamp,
		PipelineID:    e.PipelineID,
		JobID:         e.JobID,
		FromRole:      string(e.FromRole),
		EventType:     string(e.EventType),
		ParentEventID: e.ParentEventID,
		Content:       e.Content,
		Metadata:      e.Metadata,
	}
	if e.ToRole != nil {
		s := string(*e.ToRole)
		w.ToRole = &s
	}
	return w
}

func fromWire(w wireEvent) *models.Event {
	e := &models.Event{
		ID:            w.ID,
		Timestamp:     w.Timestamp,
		PipelineID:    w.PipelineID,
		JobID:         w.JobID,
		FromRole:      models.Role(w.FromRole),
		EventType:     models.EventType(w.EventType),
		ParentEventID: w.ParentEventID,
		Content:       w.Content,
		Metadata:      w.Metadata,
	}
	if w.ToRole != nil {
		r := models.Role(*w.ToRole)
		e.ToRole = &r
	}
	return e
}

// Log is the append-only event stream. Safe for concurrent use.
type Log struct {
	dir    string
	nextID atomic.Int64

	corruptLines atomic.Int64

	fileLocksMu sync.Mutex
	fileLocks   map[string]*sync.Mutex

	indexMu sync.RWMutex
	index   map[int64]*models.Event // id -> event, for Chain() walks
}

// Open creates (if needed) dir and its archive subdirectory, replays every
// existing day-file to rebuild the in-memory ID index, and returns a Log
// ready to Append. Replay cost is linear in total event count, acceptable at
// this system's scale (a single orchestration engine's own transcript, not a
// general-purpose log store).
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "archive"), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	l := &Log{
		dir:       dir,
		fileLocks: make(map[string]*sync.Mutex),
		index:     make(map[int64]*models.Event),
	}

	var maxID int64
	walk := func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var w wireEvent
			if err := json.Unmarshal(line, &w); err != nil {
				l.corruptLines.Add(1)
				continue
			}
			ev := fromWire(w)
			l.index[ev.ID] = ev
			if ev.ID > maxID {
				maxID = ev.ID
			}
		}
		return scanner.Err()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read event log dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		if err := walk(filepath.Join(dir, entry.Name())); err != nil {
			return nil, fmt.Errorf("replay %s: %w", entry.Name(), err)
		}
	}

	l.nextID.Store(maxID)
	return l, nil
}

// CorruptLines reports how many lines failed to parse during replay or read
// (spec.md §4.1 failure semantics). No HTTP endpoint reports it.
func (l *Log) CorruptLines() int64 { return l.corruptLines.Load() }

func (l *Log) lockFor(dayFile string) *sync.Mutex {
	l.fileLocksMu.Lock()
	defer l.fileLocksMu.Unlock()
	mu, ok := l.fileLocks[dayFile]
	if !ok {
		mu = &sync.Mutex{}
		l.fileLocks[dayFile] = mu
	}
	return mu
}

// Append assigns e a monotonic ID and timestamp and durably appends it to
// today's (UTC) day-file. Append failure is fatal to the caller per spec.md
// §4.1 — there is no silent drop or retry here; callers decide.
func (l *Log) Append(e *models.Event) (int64, error) {
	e.ID = l.nextID.Add(1)
	e.Timestamp = time.Now().UTC()

	dayFile := filepath.Join(l.dir, e.Timestamp.Format(dayFileLayout)+".jsonl")
	line, err := json.Marshal(toWire(e))
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')

	mu := l.lockFor(dayFile)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(dayFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open day file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync event append: %w", err)
	}

	l.indexMu.Lock()
	l.index[e.ID] = e
	l.indexMu.Unlock()

	return e.ID, nil
}

// Read streams every event recorded on the given UTC calendar day, in append
// order. Corrupt lines are skipped and counted rather than failing the read.
func (l *Log) Read(date time.Time) ([]*models.Event, error) {
	dayFile := filepath.Join(l.dir, date.UTC().Format(dayFileLayout)+".jsonl")
	f, err := os.Open(dayFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open day file: %w", err)
	}
	defer f.Close()

	var events []*models.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var w wireEvent
		if err := json.Unmarshal(line, &w); err != nil {
			l.corruptLines.Add(1)
			continue
		}
		events = append(events, fromWire(w))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan day file: %w", err)
	}
	return events, nil
}

// Chain walks ParentEventID backward from eventID until it reaches a root
// event (ParentEventID == nil), returning the chain in root-first order.
// Cycles are structurally impossible: ParentEventID always references a
// strictly earlier ID (see the Append contract), so the walk always
// terminates within len(index) steps.
func (l *Log) Chain(eventID int64) ([]*models.Event, error) {
	var chain []*models.Event

	l.indexMu.RLock()
	defer l.indexMu.RUnlock()

	current, ok := l.index[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: event %d", models.ErrNotFound, eventID)
	}

	seen := make(map[int64]bool)
	for {
		if seen[current.ID] {
			return nil, fmt.Errorf("cycle detected walking chain at event %d", current.ID)
		}
		seen[current.ID] = true
		chain = append(chain, current)

		if current.ParentEventID == nil {
			break
		}
		parent, ok := l.index[*current.ParentEventID]
		if !ok {
			return nil, fmt.Errorf("%w: parent event %d", models.ErrNotFound, *current.ParentEventID)
		}
		current = parent
	}

	sort.Slice(chain, func(i, j int) bool { return chain[i].ID < chain[j].ID })
	return chain, nil
}

// ArchiveOlderThan moves day-files older than cutoffDays (calendar days,
// UTC, relative to now) into the dir/archive subtree, per spec.md §6
// ARCHIVE_AFTER_DAYS. Archiving never touches today's file even if
// cutoffDays is 0.
func (l *Log) ArchiveOlderThan(cutoffDays int) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read event log dir: %w", err)
	}

	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -cutoffDays)
	today := now.Format(dayFileLayout) + ".jsonl"
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		day, err := time.Parse(dayFileLayout, entry.Name()[:len(entry.Name())-len(".jsonl")])
		if err != nil {
			continue
		}
		if day.After(cutoff) || entry.Name() == today {
			continue
		}

		src := filepath.Join(l.dir, entry.Name())
		dst := filepath.Join(l.dir, "archive", entry.Name())

		mu := l.lockFor(src)
		mu.Lock()
		err = os.Rename(src, dst)
		mu.Unlock()
		if err != nil {
			return fmt.Errorf("archive %s: %w", entry.Name(), err)
		}
	}
	return nil
}
