package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

func job(id string, enabled bool, result types.LastResult) *types.ScheduledJob {
	next := time.Date(2026, 1, 5, 10, 15, 0, 0, time.UTC)
	return &types.ScheduledJob{
		ID:         types.JobID(id),
		Name:       "job " + id,
		Trigger:    types.Trigger{Cron: "*/15 * * * *"},
		Enabled:    enabled,
		LastResult: result,
		NextRunAt:  &next,
	}
}

func data(lastSeq uint64, jobs ...*types.ScheduledJob) types.SnapshotData {
	d := types.SnapshotData{
		Jobs:      make(map[types.JobID]*types.ScheduledJob),
		SchemaVer: SchemaVersion,
		LastSeq:   lastSeq,
	}
	for _, j := range jobs {
		d.Jobs[j.ID] = j
	}
	return d
}

// ============================================================================
// Basic behavior
// ============================================================================

func TestNewManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	m := NewManager(path)
	assert.Equal(t, path, m.GetPath())
	assert.False(t, m.Exists())
}

func TestWriteAndLoad(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "registry.json"))

	failed := job("sync-stock-levels", true, types.ResultError)
	failed.LastErrorMessage = "stock service unreachable"
	deleted := job("purge-order-history", false, types.ResultNone)
	deleted.Deleted = true
	original := data(100, job("refill-pick-locations", true, types.ResultOK), failed, deleted)

	require.NoError(t, m.Write(original))

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestWriteForcesSchemaVersion(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "registry.json"))
	d := data(1)
	d.SchemaVer = 0
	d.Jobs = nil
	require.NoError(t, m.Write(d))

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, loaded.SchemaVer)
	assert.NotNil(t, loaded.Jobs)
}

func TestAtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	m := NewManager(path)
	require.NoError(t, m.Write(data(50, job("old", true, types.ResultOK))))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.Write(data(100, job("new", true, types.ResultOK))))
	}()

	var loaded types.SnapshotData
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		d, err := m.Load()
		assert.NoError(t, err)
		loaded = d
	}()
	wg.Wait()

	// either the old or the new snapshot, never a torn one
	assert.True(t, loaded.LastSeq == 50 || loaded.LastSeq == 100, "got %d", loaded.LastSeq)

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file left behind")
}

func TestExists(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "registry.json"))
	assert.False(t, m.Exists())
	require.NoError(t, m.Write(data(0)))
	assert.True(t, m.Exists())
}

// ============================================================================
// Failures
// ============================================================================

func TestFirstBoot(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "missing.json"))

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, loaded.SchemaVer)
	assert.Equal(t, uint64(0), loaded.LastSeq)
	assert.NotNil(t, loaded.Jobs)
	assert.Empty(t, loaded.Jobs)
}

func TestVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	m := NewManager(path)

	d := data(0)
	d.SchemaVer = 2
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0644))

	_, err = m.Load()
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	m := NewManager(path)
	require.NoError(t, os.WriteFile(path, []byte(`{"jobs": {"a": {"id": "a", "enabled": tr`), 0644))

	_, err := m.Load()
	assert.ErrorIs(t, err, ErrCorruptedSnapshot)
}

func TestWriteFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	dir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(dir, 0555))
	defer os.Chmod(dir, 0755)

	m := NewManager(filepath.Join(dir, "registry.json"))
	assert.Error(t, m.Write(data(0)))
	assert.False(t, m.Exists())
}

// ============================================================================
// Backups
// ============================================================================

func TestWriteWithBackup(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "registry.json"))
	require.NoError(t, m.Write(data(50, job("a", true, types.ResultOK))))

	require.NoError(t, m.WriteWithBackup(data(100, job("b", false, types.ResultNone)), 3))

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), loaded.LastSeq)

	backups, err := m.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)

	old := NewManager(backups[0])
	prev, err := old.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(50), prev.LastSeq)
}

func TestWriteWithBackupPrunes(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "registry.json"))

	for i := 0; i < 6; i++ {
		require.NoError(t, m.WriteWithBackup(data(uint64(i)), 2))
		time.Sleep(time.Millisecond) // distinct backup names
	}

	backups, err := m.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 2)

	newest, err := NewManager(backups[1]).Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), newest.LastSeq)
}

func TestLargeSnapshot(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "registry.json"))

	large := data(10000)
	for i := 0; i < 1000; i++ {
		j := job(fmt.Sprintf("job-%04d", i), i%2 == 0, types.ResultOK)
		large.Jobs[j.ID] = j
	}

	start := time.Now()
	require.NoError(t, m.Write(large))
	t.Logf("write 1000 jobs: %v", time.Since(start))

	start = time.Now()
	loaded, err := m.Load()
	require.NoError(t, err)
	t.Logf("load 1000 jobs: %v", time.Since(start))

	assert.Len(t, loaded.Jobs, 1000)
	assert.Equal(t, large.LastSeq, loaded.LastSeq)
}

// ============================================================================
// Concurrency
// ============================================================================

func TestConcurrentWrites(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "registry.json"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.Write(data(uint64(i), job(fmt.Sprintf("job-%d", i), true, types.ResultOK))))
		}(i)
	}
	wg.Wait()

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Len(t, loaded.Jobs, 1)
}

func TestConcurrentReads(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, m.Write(data(100, job("a", true, types.ResultOK))))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loaded, err := m.Load()
			assert.NoError(t, err)
			assert.Equal(t, uint64(100), loaded.LastSeq)
			assert.Len(t, loaded.Jobs, 1)
		}()
	}
	wg.Wait()
}

func BenchmarkWrite(b *testing.B) {
	m := NewManager(filepath.Join(b.TempDir(), "registry.json"))
	d := data(100, job("a", true, types.ResultOK), job("b", false, types.ResultError))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := m.Write(d); err != nil {
			b.Fatal(err)
		}
	}
}
