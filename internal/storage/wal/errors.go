package wal

// ============================================================================
// WAL Error Definitions
// ============================================================================

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptedWAL indicates a record that cannot be decoded.
	ErrCorruptedWAL = errors.New("wal: file is corrupted")

	// ErrChecksumMismatch indicates a record whose checksum does not match.
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")

	// ErrEmptyWAL indicates a file without records.
	ErrEmptyWAL = errors.New("wal: file is empty")

	// ErrWALClosed indicates an operation on a closed WAL.
	ErrWALClosed = errors.New("wal: already closed")

	// ErrSyncFailed indicates fsync failed.
	ErrSyncFailed = errors.New("wal: sync to disk failed")

	// ErrSequenceGap indicates records that are not consecutive.
	ErrSequenceGap = errors.New("wal: sequence gap")
)

// ChecksumError reports the record that failed verification.
type ChecksumError struct {
	Seq      uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("wal: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)", e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// CorruptionError reports an undecodable record.
type CorruptionError struct {
	Seq    uint64 // last good sequence number before the damage
	Offset int64  // byte offset in the file
	Cause  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wal: corrupted record after seq=%d at offset %d: %v", e.Seq, e.Offset, e.Cause)
}

// Unwrap matches both ErrCorruptedWAL and the decoder error.
func (e *CorruptionError) Unwrap() []error {
	return []error{ErrCorruptedWAL, e.Cause}
}
