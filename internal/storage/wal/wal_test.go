package wal

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

func newTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.wal")
	w, err := NewWAL(path, true)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, path
}

func testJob(id string, enabled bool) *types.ScheduledJob {
	last := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	return &types.ScheduledJob{
		ID:         types.JobID(id),
		Name:       "job " + id,
		Trigger:    types.Trigger{Cron: "*/5 * * * *"},
		Enabled:    enabled,
		LastResult: types.ResultOK,
		LastRunAt:  &last,
	}
}

func collect(t *testing.T, w *WAL, after uint64) []Event {
	t.Helper()
	var events []Event
	require.NoError(t, w.ReplayFrom(after, func(e Event) error {
		events = append(events, e)
		return nil
	}))
	return events
}

func TestAppendAndReplay(t *testing.T) {
	w, _ := newTestWAL(t)

	seq, err := w.Append(EventCreate, "a", testJob("a", false))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	seq, err = w.Append(EventEnable, "a", testJob("a", true))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	events := collect(t, w, 0)
	require.Len(t, events, 2)
	assert.Equal(t, EventCreate, events[0].Type)
	assert.Equal(t, EventEnable, events[1].Type)
	assert.True(t, events[1].Job.Enabled)
	assert.Equal(t, testJob("a", true), events[1].Job)
	assert.Equal(t, uint64(2), w.GetLastSeq())
}

func TestReplayFromSkipsCoveredRecords(t *testing.T) {
	w, _ := newTestWAL(t)
	for i := 0; i < 5; i++ {
		_, err := w.Append(EventExecute, "a", testJob("a", true))
		require.NoError(t, err)
	}

	events := collect(t, w, 3)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(4), events[0].Seq)
}

func TestReplayStopsOnHandlerError(t *testing.T) {
	w, _ := newTestWAL(t)
	_, _ = w.Append(EventCreate, "a", testJob("a", true))
	_, _ = w.Append(EventCreate, "b", testJob("b", true))

	boom := errors.New("boom")
	calls := 0
	err := w.Replay(func(Event) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.wal")
	w, err := NewWAL(path, false)
	require.NoError(t, err)
	_, _ = w.Append(EventCreate, "a", testJob("a", true))
	_, _ = w.Append(EventDisable, "a", testJob("a", false))
	require.NoError(t, w.Close())

	w, err = NewWAL(path, false)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, uint64(2), w.GetLastSeq())

	seq, err := w.Append(EventEnable, "a", testJob("a", true))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestChecksumMismatch(t *testing.T) {
	w, path := newTestWAL(t)
	_, err := w.Append(EventCreate, "a", testJob("a", true))
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"enabled":true`, `"enabled":false`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	err = w.Replay(func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	var ce *ChecksumError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, uint64(1), ce.Seq)
	assert.Contains(t, ce.Error(), "seq=1")
}

func TestCorruptedTail(t *testing.T) {
	w, path := newTestWAL(t)
	_, err := w.Append(EventCreate, "a", testJob("a", true))
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"type":"ENA`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	applied := 0
	err = w.Replay(func(Event) error { applied++; return nil })
	assert.ErrorIs(t, err, ErrCorruptedWAL)
	assert.Equal(t, 1, applied)

	var ce *CorruptionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, uint64(1), ce.Seq)

	_, err = NewWAL(path, false)
	assert.ErrorIs(t, err, ErrCorruptedWAL, "a damaged journal must not be appended to")
}

func TestRotateArchivesAndKeepsNumbering(t *testing.T) {
	w, path := newTestWAL(t)
	_, _ = w.Append(EventCreate, "a", testJob("a", true))
	_, _ = w.Append(EventExecute, "a", testJob("a", true))

	archive, err := w.Rotate()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(archive, ".gz"))

	archived, err := ReadEvents(archive)
	require.NoError(t, err)
	require.Len(t, archived, 2)
	assert.Equal(t, EventExecute, archived[1].Type)

	n, err := CountEvents(path)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	seq, err := w.Append(EventFinish, "a", testJob("a", true))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	assert.Len(t, collect(t, w, 0), 1)
}

func TestAdvanceTo(t *testing.T) {
	w, _ := newTestWAL(t)
	w.AdvanceTo(41)
	seq, err := w.Append(EventCreate, "a", testJob("a", true))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)

	w.AdvanceTo(10)
	assert.Equal(t, uint64(42), w.GetLastSeq())
}

func TestClosedWAL(t *testing.T) {
	w, _ := newTestWAL(t)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err := w.Append(EventCreate, "a", nil)
	assert.ErrorIs(t, err, ErrWALClosed)
	_, err = w.Rotate()
	assert.ErrorIs(t, err, ErrWALClosed)
}

// failingFile accepts writes and fails fsync.
type failingFile struct{ bytes.Buffer }

func (f *failingFile) Sync() error  { return errors.New("EIO") }
func (f *failingFile) Close() error { return nil }

func TestSyncFailure(t *testing.T) {
	f := &failingFile{}
	w := &WAL{file: f, encoder: json.NewEncoder(f), syncOnAppend: true, now: time.Now}

	_, err := w.Append(EventCreate, "a", testJob("a", true))
	assert.ErrorIs(t, err, ErrSyncFailed)
	assert.Equal(t, uint64(0), w.GetLastSeq(), "failed append does not consume a sequence number")
}

func TestValidateWAL(t *testing.T) {
	w, path := newTestWAL(t)
	_, _ = w.Append(EventCreate, "a", testJob("a", true))
	_, _ = w.Append(EventEnable, "a", testJob("a", true))
	assert.NoError(t, ValidateWAL(path))

	w.AdvanceTo(10)
	_, _ = w.Append(EventDisable, "a", testJob("a", false))
	err := ValidateWAL(path)
	assert.ErrorIs(t, err, ErrSequenceGap)
}

func TestDumpWAL(t *testing.T) {
	w, path := newTestWAL(t)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	_, _ = w.Append(EventEnable, "refill", testJob("refill", true))

	var out bytes.Buffer
	require.NoError(t, DumpWAL(path, &out))
	assert.Contains(t, out.String(), "[Seq:1] ENABLE refill at 2026-03-01T09:00:00Z enabled=true running=false result=OK")
}

func TestGetLastEventEmpty(t *testing.T) {
	_, path := newTestWAL(t)
	_, err := GetLastEvent(path)
	assert.ErrorIs(t, err, ErrEmptyWAL)
}
