/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package keystore

import (
	"container/heap"
	"time"
)

// AccessWindow holds the grant times of a single key that are still inside the throttling window.
//
// The zero value is an empty window that was never granted.
type AccessWindow struct {
	accessTimes timeHeap
	newest      time.Time
}

// TryGrantAndRecord expires grants that left the window and then grants the access at t
// if the window has room for it. A denied access leaves the window unchanged apart from expiry.
func (w *AccessWindow) TryGrantAndRecord(t time.Time, cfg Config) bool {
	w.expire(t, cfg.Duration)
	if w.accessTimes.Len() >= cfg.Count {
		return false
	}
	heap.Push(&w.accessTimes, t)
	if t.After(w.newest) {
		w.newest = t
	}
	return true
}

// TryExpire removes grants that left the window by t and reports whether the window became empty.
func (w *AccessWindow) TryExpire(t time.Time, cfg Config) bool {
	w.expire(t, cfg.Duration)
	return w.accessTimes.Len() == 0
}

// OldestAccessTime returns the earliest grant time still in the window.
// The window must not be empty.
func (w *AccessWindow) OldestAccessTime() time.Time {
	return w.accessTimes[0]
}

// NewestAccessTime returns the latest grant time ever recorded in the window.
// The zero time means the window was never granted.
func (w *AccessWindow) NewestAccessTime() time.Time {
	return w.newest
}

// Len returns the number of grants in the window.
func (w *AccessWindow) Len() int {
	return w.accessTimes.Len()
}

// A grant at or before t-duration is out of the window.
func (w *AccessWindow) expire(t time.Time, duration time.Duration) {
	cutoff := t.Add(-duration)
	for w.accessTimes.Len() > 0 && !w.accessTimes[0].After(cutoff) {
		heap.Pop(&w.accessTimes)
	}
}

type timeHeap []time.Time

func (h timeHeap) Len() int           { return len(h) }
func (h timeHeap) Less(i, j int) bool { return h[i].Before(h[j]) }
func (h timeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timeHeap) Push(x interface{}) {
	*h = append(*h, x.(time.Time))
}

func (h *timeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
