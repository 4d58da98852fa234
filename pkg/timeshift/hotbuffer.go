// Package timeshift implements the bounded-retention timeshift ring: a
// hot in-memory buffer plus a cold on-disk index, with binary-search seek
// by wall-clock time. Grounded on
// flux-media-core/src/timeshift/storage.rs's HotBuffer/ColdIndex, ported
// from Arc<RwLock<VecDeque>> to an explicit mutex-guarded slice deque.
package timeshift

import (
	"sync"
	"time"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

// HotBuffer is a per-stream FIFO of full segments bounded by a max
// duration; oldest segments evict first.
type HotBuffer struct {
	mu         sync.RWMutex
	segments   []mediatypes.Segment
	maxDuration time.Duration
}

// NewHotBuffer creates a hot buffer retaining segments newer than
// maxDuration.
func NewHotBuffer(maxDuration time.Duration) *HotBuffer {
	return &HotBuffer{maxDuration: maxDuration}
}

// Append adds a new segment at the tail and evicts from the head any
// segments older than maxDuration, returning the evicted segments (the
// caller demotes these to the cold index).
func (h *HotBuffer) Append(seg mediatypes.Segment) []mediatypes.Segment {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.segments = append(h.segments, seg)
	return h.evictLocked()
}

func (h *HotBuffer) evictLocked() []mediatypes.Segment {
	cutoff := time.Now().Add(-h.maxDuration)
	i := 0
	for i < len(h.segments) && h.segments[i].StartTime.Before(cutoff) {
		i++
	}
	evicted := h.segments[:i]
	h.segments = h.segments[i:]
	return evicted
}

// BinarySearchByTime returns the index of the latest segment whose
// start_time <= target, or 0 if target is before every retained segment
// (classical lower_bound, answer = max(0, lb-1)).
func (h *HotBuffer) BinarySearchByTime(target time.Time) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return binarySearchByTime(h.segments, target)
}

func binarySearchByTime(segments []mediatypes.Segment, target time.Time) int {
	left, right := 0, len(segments)
	for left < right {
		mid := (left + right) / 2
		if segments[mid].StartTime.Before(target) {
			left = mid + 1
		} else {
			right = mid
		}
	}
	if left == 0 {
		return 0
	}
	return left - 1
}

// SegmentsFrom returns every retained segment from the one containing
// startTime onward, in sequence order.
func (h *HotBuffer) SegmentsFrom(startTime time.Time) []mediatypes.Segment {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.segments) == 0 {
		return nil
	}
	idx := binarySearchByTime(h.segments, startTime)
	out := make([]mediatypes.Segment, len(h.segments)-idx)
	copy(out, h.segments[idx:])
	return out
}

// Latest returns the last n segments (hot only).
func (h *HotBuffer) Latest(n int) []mediatypes.Segment {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n > len(h.segments) {
		n = len(h.segments)
	}
	start := len(h.segments) - n
	out := make([]mediatypes.Segment, n)
	copy(out, h.segments[start:])
	return out
}

// OldestStartTime returns the start time of the oldest retained segment,
// or the zero time if empty.
func (h *HotBuffer) OldestStartTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.segments) == 0 {
		return time.Time{}
	}
	return h.segments[0].StartTime
}

// Len returns the number of retained hot segments.
func (h *HotBuffer) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.segments)
}
