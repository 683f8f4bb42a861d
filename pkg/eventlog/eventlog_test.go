package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

func timeNow() time.Time { return time.Now() }

func appendRawLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
}

func newTestLog(t *testing.T) *Log {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	return l
}

func TestAppend_AssignsMonotonicIDs(t *testing.T) {
	l := newTestLog(t)

	id1, err := l.Append(&models.Event{PipelineID: "1", FromRole: models.RolePM, EventType: models.EventRequest, Content: "a"})
	require.NoError(t, err)
	id2, err := l.Append(&models.Event{PipelineID: "1", FromRole: models.RolePM, EventType: models.EventRequest, Content: "b"})
	require.NoError(t, err)

	assert.Greater(t, id2, id1)
}

func TestRead_ReturnsEventsInAppendOrder(t *testing.T) {
	l := newTestLog(t)

	for _, content := range []string{"one", "two", "three"} {
		_, err := l.Append(&models.Event{PipelineID: "1", FromRole: models.RoleCoder, EventType: models.EventResponse, Content: content})
		require.NoError(t, err)
	}

	events, err := l.Read(timeNow())
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "one", events[0].Content)
	assert.Equal(t, "two", events[1].Content)
	assert.Equal(t, "three", events[2].Content)
}

func TestChain_WalksParentsToRoot(t *testing.T) {
	l := newTestLog(t)

	rootID, err := l.Append(&models.Event{PipelineID: "1", FromRole: models.RolePM, EventType: models.EventRequest, Content: "root"})
	require.NoError(t, err)

	midID, err := l.Append(&models.Event{PipelineID: "1", FromRole: models.RoleCoder, EventType: models.EventResponse, Content: "mid", ParentEventID: &rootID})
	require.NoError(t, err)

	leafID, err := l.Append(&models.Event{PipelineID: "1", FromRole: models.RoleQA, EventType: models.EventResponse, Content: "leaf", ParentEventID: &midID})
	require.NoError(t, err)

	chain, err := l.Chain(leafID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, rootID, chain[0].ID)
	assert.Equal(t, midID, chain[1].ID)
	assert.Equal(t, leafID, chain[2].ID)
}

func TestChain_MissingEventReturnsNotFound(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Chain(999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOpen_ReplaysExistingFilesAndContinuesIDSequence(t *testing.T) {
	dir := t.TempDir()
	l1, err := Open(dir)
	require.NoError(t, err)

	_, err = l1.Append(&models.Event{PipelineID: "1", FromRole: models.RolePM, EventType: models.EventRequest, Content: "a"})
	require.NoError(t, err)
	lastID, err := l1.Append(&models.Event{PipelineID: "1", FromRole: models.RolePM, EventType: models.EventRequest, Content: "b"})
	require.NoError(t, err)

	l2, err := Open(dir)
	require.NoError(t, err)

	nextID, err := l2.Append(&models.Event{PipelineID: "1", FromRole: models.RolePM, EventType: models.EventRequest, Content: "c"})
	require.NoError(t, err)
	assert.Greater(t, nextID, lastID)

	chain, err := l2.Chain(lastID)
	require.NoError(t, err, "index should be rebuilt by replay")
	require.Len(t, chain, 1)
}

func TestRead_SkipsCorruptLinesAndCountsThem(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Append(&models.Event{PipelineID: "1", FromRole: models.RolePM, EventType: models.EventRequest, Content: "good"})
	require.NoError(t, err)

	day := filepath.Join(l.dir, timeNow().UTC().Format(dayFileLayout)+".jsonl")
	appendRawLine(t, day, "{not valid json")

	events, err := l.Read(timeNow())
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, int64(1), l.CorruptLines())
}

func TestArchiveOlderThan_LeavesTodayInPlace(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Append(&models.Event{PipelineID: "1", FromRole: models.RolePM, EventType: models.EventRequest, Content: "today"})
	require.NoError(t, err)

	err = l.ArchiveOlderThan(7)
	require.NoError(t, err)

	events, err := l.Read(timeNow())
	require.NoError(t, err)
	assert.Len(t, events, 1, "today's file must not be archived")
}
