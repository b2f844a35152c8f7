package wal

// ============================================================================
// WAL utilities
// ============================================================================

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

var log = slog.Default()

// scanEvents decodes and verifies records from r in order.
func scanEvents(r io.Reader, fn func(Event) error) error {
	decoder := json.NewDecoder(r)
	var lastSeq uint64

	for {
		var event Event
		err := decoder.Decode(&event)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &CorruptionError{Seq: lastSeq, Offset: decoder.InputOffset(), Cause: err}
		}
		if err := VerifyChecksum(event); err != nil {
			return err
		}
		lastSeq = event.Seq
		if err := fn(event); err != nil {
			return err
		}
	}
}

// openEvents opens a WAL file, transparently decompressing .gz archives.
func openEvents(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return file, nil
	}

	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("open wal archive %s: %w", path, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{gz, closerFunc(func() error {
		gz.Close()
		return file.Close()
	})}, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// ReadEvents returns every record of a WAL file or archive.
func ReadEvents(path string) ([]Event, error) {
	rc, err := openEvents(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var events []Event
	err = scanEvents(rc, func(e Event) error {
		events = append(events, e)
		return nil
	})
	return events, err
}

// GetLastEvent returns the last record of a WAL file. It returns
// ErrEmptyWAL for a file without records.
func GetLastEvent(path string) (*Event, error) {
	events, err := ReadEvents(path)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEmptyWAL
	}
	return &events[len(events)-1], nil
}

// CountEvents returns the number of records in a WAL file.
func CountEvents(path string) (int, error) {
	events, err := ReadEvents(path)
	return len(events), err
}

// ValidateWAL checks that every record decodes, verifies and follows its
// predecessor without a gap. All problems found are reported together.
func ValidateWAL(path string) error {
	rc, err := openEvents(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	var problems []error
	var prev uint64
	scanErr := scanEvents(rc, func(e Event) error {
		if prev != 0 && e.Seq != prev+1 {
			problems = append(problems, fmt.Errorf("%w: seq=%d follows seq=%d", ErrSequenceGap, e.Seq, prev))
		}
		prev = e.Seq
		return nil
	})
	if scanErr != nil {
		problems = append(problems, scanErr)
	}
	return errors.Join(problems...)
}

// DumpWAL writes one human-readable line per record.
func DumpWAL(path string, w io.Writer) error {
	events, err := ReadEvents(path)
	for _, e := range events {
		state := ""
		if e.Job != nil {
			state = fmt.Sprintf(" enabled=%t running=%t result=%s", e.Job.Enabled, e.Job.Running, e.Job.LastResult)
		}
		fmt.Fprintf(w, "[Seq:%d] %s %s at %s%s (checksum:0x%08x)\n",
			e.Seq, e.Type, e.JobID, time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339), state, e.Checksum)
	}
	return err
}

// compressFile gzips srcPath into dstPath.
func compressFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
