// ============================================================================
// Dispatch Queue - priority ordered work order queue
// ============================================================================
//
// Package: internal/dispatchqueue
// File: queue.go
//
// Ordering:
//   1. Priority descending (higher number = more urgent)
//   2. EnqueuedAt ascending (earlier wins ties)
//   3. Arrival sequence ascending (two entries stamped with the same instant)
//
//   Equal-urgency orders are served in submission order so they never starve,
//   while rush orders with a higher priority jump ahead.
//
// Storage:
//   entries is kept sorted in dispatch order. Enqueue binary-searches its
//   insertion point, Dequeue/Peek read index 0, Find/Remove scan front to back
//   so "first match" always means "first in dispatch order".
//
// Concurrency:
//   Queue is NOT safe for concurrent use. The owner (controller) serializes
//   every call with its own mutex.
//
// ============================================================================

package dispatchqueue

import (
	"sort"
	"time"
)

// Entry is a queued payload with its ordering keys.
type Entry[T any] struct {
	Payload    T
	Priority   int
	EnqueuedAt time.Time

	seq uint64
}

// Queue orders entries by priority, then by arrival.
type Queue[T any] struct {
	entries []Entry[T]
	seq     uint64
	now     func() time.Time
}

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithClock replaces the clock used to stamp EnqueuedAt.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(q *Queue[T]) {
		q.now = now
	}
}

// New creates an empty queue.
func New[T any](opts ...Option[T]) *Queue[T] {
	q := &Queue[T]{
		entries: make([]Entry[T], 0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// before reports whether a is dispatched ahead of b.
func before[T any](a, b Entry[T]) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.seq < b.seq
}

// Enqueue inserts payload at the position dictated by priority and arrival.
func (q *Queue[T]) Enqueue(payload T, priority int) {
	q.seq++
	e := Entry[T]{
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: q.now(),
		seq:        q.seq,
	}

	// first index whose entry is dispatched after e
	i := sort.Search(len(q.entries), func(i int) bool {
		return before(e, q.entries[i])
	})

	q.entries = append(q.entries, Entry[T]{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

// Dequeue removes and returns the most urgent, oldest entry.
// ok is false when the queue is empty.
func (q *Queue[T]) Dequeue() (Entry[T], bool) {
	if len(q.entries) == 0 {
		return Entry[T]{}, false
	}
	e := q.entries[0]
	q.entries[0] = Entry[T]{} // drop the payload reference
	q.entries = q.entries[1:]
	return e, true
}

// Peek returns the entry Dequeue would return, without removing it.
func (q *Queue[T]) Peek() (Entry[T], bool) {
	if len(q.entries) == 0 {
		return Entry[T]{}, false
	}
	return q.entries[0], true
}

// Remove deletes the first entry (in dispatch order) whose payload matches.
func (q *Queue[T]) Remove(match func(T) bool) bool {
	for i := range q.entries {
		if match(q.entries[i].Payload) {
			copy(q.entries[i:], q.entries[i+1:])
			q.entries[len(q.entries)-1] = Entry[T]{}
			q.entries = q.entries[:len(q.entries)-1]
			return true
		}
	}
	return false
}

// Find returns the first payload (in dispatch order) that matches.
func (q *Queue[T]) Find(match func(T) bool) (T, bool) {
	for i := range q.entries {
		if match(q.entries[i].Payload) {
			return q.entries[i].Payload, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int {
	return len(q.entries)
}

// IsEmpty reports whether the queue holds no entries.
func (q *Queue[T]) IsEmpty() bool {
	return len(q.entries) == 0
}

// Clear drops every entry.
func (q *Queue[T]) Clear() {
	q.entries = make([]Entry[T], 0)
}

// Entries returns a copy of the queue contents in dispatch order.
func (q *Queue[T]) Entries() []Entry[T] {
	out := make([]Entry[T], len(q.entries))
	copy(out, q.entries)
	return out
}
