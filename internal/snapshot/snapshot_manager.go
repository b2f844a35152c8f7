package snapshot

// ============================================================================
// Responsibilities:
// 1. Serialize the job registry to a JSON snapshot file
// 2. Write atomically (temp file + fsync + rename) so a crash never leaves a
//    half-written snapshot behind
// 3. Check the schema version on load
// 4. Record the journal sequence the snapshot covers, so replay can resume
//    right after it
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// SchemaVersion is the snapshot format this package reads and writes.
const SchemaVersion = 1

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
	ErrSnapshotNotFound    = errors.New("snapshot file not found")
)

// Manager reads and writes one snapshot file.
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager creates a manager for path.
func NewManager(path string) *Manager {
	return &Manager{
		path: path,
	}
}

// Write replaces the snapshot atomically.
//
// Flow:
//  1. write <path>.tmp and fsync it
//  2. rename it over <path>
func (m *Manager) Write(data types.SnapshotData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(data)
}

func (m *Manager) writeLocked(data types.SnapshotData) error {
	data.SchemaVer = SchemaVersion
	if data.Jobs == nil {
		data.Jobs = make(map[types.JobID]*types.ScheduledJob)
	}

	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := writeFileSync(tmpPath, jsonBytes); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads the snapshot. A missing file yields an empty snapshot (first
// boot); a damaged file or a different schema version is an error.
func (m *Manager) Load() (types.SnapshotData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var data types.SnapshotData

	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.SnapshotData{
				Jobs:      make(map[types.JobID]*types.ScheduledJob),
				SchemaVer: SchemaVersion,
			}, nil
		}
		return data, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}

	if data.SchemaVer != SchemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, SchemaVersion)
	}

	if data.Jobs == nil {
		data.Jobs = make(map[types.JobID]*types.ScheduledJob)
	}
	return data, nil
}

// Exists reports whether a snapshot file is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath returns the snapshot path.
func (m *Manager) GetPath() string {
	return m.path
}

// WriteWithBackup moves the current snapshot to <path>.<timestamp> before
// writing the new one and keeps only the newest keepBackups backups.
func (m *Manager) WriteWithBackup(data types.SnapshotData, keepBackups int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Exists() {
		backupPath := fmt.Sprintf("%s.%s", m.path, time.Now().Format("20060102_150405.000000000"))
		if err := os.Rename(m.path, backupPath); err != nil {
			return fmt.Errorf("failed to backup old snapshot: %w", err)
		}
	}

	if err := m.writeLocked(data); err != nil {
		return err
	}
	return m.pruneBackups(keepBackups)
}

// Backups lists backup files, oldest first.
func (m *Manager) Backups() ([]string, error) {
	matches, err := filepath.Glob(m.path + ".*")
	if err != nil {
		return nil, err
	}
	backups := matches[:0]
	for _, p := range matches {
		if strings.HasSuffix(p, ".tmp") {
			continue
		}
		backups = append(backups, p)
	}
	// timestamps sort lexically
	sort.Strings(backups)
	return backups, nil
}

func (m *Manager) pruneBackups(keep int) error {
	if keep < 0 {
		return nil
	}
	backups, err := m.Backups()
	if err != nil {
		return err
	}
	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil {
			return fmt.Errorf("failed to prune snapshot backup: %w", err)
		}
		backups = backups[1:]
	}
	return nil
}
