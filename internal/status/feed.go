package status

import (
	"fmt"
	"sync"
	"time"
)

// DefaultFeedCapacity is used when NewFeed is given a non-positive size.
const DefaultFeedCapacity = 200

// Feed is a bounded ring buffer of log-style status lines. Running job
// bodies write to it; the console reads the newest lines on every poll.
// Once full, the oldest line is overwritten.
type Feed struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
	now   func() time.Time
}

// NewFeed creates a feed that keeps the newest capacity lines.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &Feed{
		lines: make([]string, capacity),
		now:   time.Now,
	}
}

// Logf appends one timestamped line.
func (f *Feed) Logf(format string, args ...any) {
	line := f.now().Format("15:04:05") + " " + fmt.Sprintf(format, args...)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines[f.next] = line
	f.next = (f.next + 1) % len(f.lines)
	if f.next == 0 {
		f.full = true
	}
}

// Lines returns the buffered lines, oldest first.
func (f *Feed) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.full {
		return append([]string(nil), f.lines[:f.next]...)
	}
	out := make([]string, 0, len(f.lines))
	out = append(out, f.lines[f.next:]...)
	return append(out, f.lines[:f.next]...)
}

// Tail returns at most n of the newest lines, oldest first.
func (f *Feed) Tail(n int) []string {
	lines := f.Lines()
	if n >= 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Len returns the number of buffered lines.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return len(f.lines)
	}
	return f.next
}
