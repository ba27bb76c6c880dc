// Package queue provides the per-session track queue.
package queue

import (
	"math/rand"

	"github.com/hiroq/otobox/internal/domain/track"
)

// Queue is an ordered collection of tracks, FIFO by default.
// It is not safe for concurrent use; the owning session serializes access.
// Identical tracks may coexist; no duplicate detection is performed.
type Queue struct {
	items []track.Track
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{items: make([]track.Track, 0)}
}

// Append adds a track to the tail.
func (q *Queue) Append(t track.Track) {
	q.items = append(q.items, t)
}

// AppendAll adds tracks to the tail, preserving their relative order.
func (q *Queue) AppendAll(ts []track.Track) {
	q.items = append(q.items, ts...)
}

// PushFront inserts a track at the head. Used for loop re-insertion.
func (q *Queue) PushFront(t track.Track) {
	q.items = append([]track.Track{t}, q.items...)
}

// PopFront removes and returns the head track.
func (q *Queue) PopFront() (track.Track, bool) {
	if len(q.items) == 0 {
		return track.Track{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// Peek returns up to n tracks from the head without removing them.
// The returned slice is a copy.
func (q *Queue) Peek(n int) []track.Track {
	if n > len(q.items) {
		n = len(q.items)
	}
	if n <= 0 {
		return nil
	}
	out := make([]track.Track, n)
	copy(out, q.items[:n])
	return out
}

// Shuffle randomizes the queue order.
func (q *Queue) Shuffle() {
	rand.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
}

// Clear removes all tracks and returns how many were removed.
func (q *Queue) Clear() int {
	n := len(q.items)
	q.items = q.items[:0]
	return n
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	return len(q.items)
}
