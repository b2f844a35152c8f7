package wal

// ============================================================================
// WAL core
// Responsibilities:
// 1. Append registry transitions to an append-only file
// 2. Replay them to rebuild the registry after a restart
// 3. Rotate (and gzip) the file once a snapshot covers its content
// 4. Keep sequence numbers monotonic across rotations so a snapshot's
//    LastSeq tells replay exactly which records are already applied
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// FileInterface is the subset of *os.File the WAL writes through.
// Tests substitute failing implementations.
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// WAL is a write-ahead log of registry transitions.
type WAL struct {
	mu           sync.Mutex
	file         FileInterface
	encoder      *json.Encoder
	path         string
	seq          uint64
	syncOnAppend bool
	closed       bool
	now          func() time.Time
}

/*
NewWAL creates or opens a WAL.

Behavior:
  - a missing file is created and numbering starts at 0
  - an existing file continues after its last record
  - the file is opened with O_APPEND so records are never overwritten

Set syncOnAppend to fsync after every record.
*/
func NewWAL(path string, syncOnAppend bool) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}

	var seq uint64
	last, err := GetLastEvent(path)
	switch {
	case err == nil:
		seq = last.Seq
	case errors.Is(err, ErrEmptyWAL):
	default:
		file.Close()
		return nil, err
	}

	return &WAL{
		file:         file,
		encoder:      json.NewEncoder(file),
		path:         path,
		seq:          seq,
		syncOnAppend: syncOnAppend,
		now:          time.Now,
	}, nil
}

// Path returns the active file path.
func (w *WAL) Path() string { return w.path }

// Append writes one event and returns its sequence number. The record is
// on disk (and fsynced when syncOnAppend is set) when Append returns.
func (w *WAL) Append(eventType EventType, jobID types.JobID, job *types.ScheduledJob) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWALClosed
	}

	event := Event{
		Seq:       w.seq + 1,
		Type:      eventType,
		JobID:     jobID,
		Job:       job,
		Timestamp: w.now().UnixMilli(),
	}
	event.Checksum = CalculateChecksum(event)

	if err := w.encoder.Encode(event); err != nil {
		return 0, fmt.Errorf("wal: append seq=%d: %w", event.Seq, err)
	}
	if w.syncOnAppend {
		if err := w.file.Sync(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrSyncFailed, err)
		}
	}
	w.seq = event.Seq
	return event.Seq, nil
}

// Replay applies every record in the active file.
func (w *WAL) Replay(handler EventHandler) error {
	return w.ReplayFrom(0, handler)
}

// ReplayFrom applies records with Seq > afterSeq, in order. It stops at the
// first corrupted record, checksum mismatch or handler error.
func (w *WAL) ReplayFrom(afterSeq uint64, handler EventHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer file.Close()

	return scanEvents(file, func(event Event) error {
		if event.Seq <= afterSeq {
			return nil
		}
		return handler(event)
	})
}

// AdvanceTo moves the sequence forward to at least seq. Used after loading a
// snapshot taken before the last rotation.
func (w *WAL) AdvanceTo(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq > w.seq {
		w.seq = seq
	}
}

// Rotate archives the active file as <path>.<timestamp>.gz and starts an
// empty one. Numbering continues; it is not reset.
func (w *WAL) Rotate() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return "", ErrWALClosed
	}
	if err := w.file.Sync(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	if err := w.file.Close(); err != nil {
		return "", err
	}

	stamp := w.now().Format("20060102_150405.000000000")
	plainPath := w.path + "." + stamp
	if err := os.Rename(w.path, plainPath); err != nil {
		return "", err
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return "", err
	}
	w.file = file
	w.encoder = json.NewEncoder(file)

	archive := plainPath + ".gz"
	if err := compressFile(plainPath, archive); err != nil {
		log.Warn("wal archive compression failed, keeping plain file", "path", plainPath, "error", err)
		return plainPath, nil
	}
	if err := os.Remove(plainPath); err != nil {
		return "", err
	}
	return archive, nil
}

// Close syncs and closes the file. A closed WAL cannot be reused.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return w.file.Close()
}

// GetLastSeq returns the sequence number of the last appended record.
func (w *WAL) GetLastSeq() uint64 {
	if w == nil {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}
