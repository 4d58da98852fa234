package timeshift

import (
	"sync"
	"time"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

// FileDeleter removes a persisted segment's bytes from storage. Satisfied
// by pkg/storage.Backend; declared here rather than imported to keep
// pkg/timeshift independent of the storage implementation.
type FileDeleter interface {
	Delete(path string) error
}

// ColdIndex holds lightweight metadata (no segment bytes) for segments
// demoted out of the hot buffer, ordered by start time.
type ColdIndex struct {
	mu          sync.RWMutex
	metadata    []mediatypes.SegmentMeta
	maxDuration time.Duration
	deleter     FileDeleter
}

// NewColdIndex creates a cold index retaining metadata for maxDuration,
// deleting evicted segments' files via deleter.
func NewColdIndex(maxDuration time.Duration, deleter FileDeleter) *ColdIndex {
	return &ColdIndex{maxDuration: maxDuration, deleter: deleter}
}

// Add inserts a new metadata entry at the tail.
func (c *ColdIndex) Add(meta mediatypes.SegmentMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata = append(c.metadata, meta)
}

// BinarySearchByTime returns the index of the latest entry whose
// start_time <= target (same lower_bound-minus-one rule as HotBuffer).
func (c *ColdIndex) BinarySearchByTime(target time.Time) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	left, right := 0, len(c.metadata)
	for left < right {
		mid := (left + right) / 2
		if c.metadata[mid].StartTime.Before(target) {
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

// MetadataFrom returns metadata entries from the one containing
// startTime onward.
func (c *ColdIndex) MetadataFrom(startTime time.Time) []mediatypes.SegmentMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.metadata) == 0 {
		return nil
	}
	idx := c.BinarySearchByTime(startTime)
	out := make([]mediatypes.SegmentMeta, len(c.metadata)-idx)
	copy(out, c.metadata[idx:])
	return out
}

// Cleanup removes every entry whose start_time is older than maxDuration,
// deleting each one's file via the configured deleter.
func (c *ColdIndex) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.maxDuration)
	i := 0
	for i < len(c.metadata) && c.metadata[i].StartTime.Before(cutoff) {
		if err := c.deleter.Delete(c.metadata[i].FilePath); err != nil {
			return err
		}
		i++
	}
	c.metadata = c.metadata[i:]
	return nil
}

// Len returns the number of retained metadata entries.
func (c *ColdIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.metadata)
}

// Get returns the metadata entry for sequence, if present.
func (c *ColdIndex) Get(sequence uint64) (mediatypes.SegmentMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.metadata {
		if m.Sequence == sequence {
			return m, true
		}
	}
	return mediatypes.SegmentMeta{}, false
}

// QueryRange returns every metadata entry whose start_time falls in
// [start, end].
func (c *ColdIndex) QueryRange(start, end time.Time) []mediatypes.SegmentMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []mediatypes.SegmentMeta
	for _, m := range c.metadata {
		if !m.StartTime.Before(start) && !m.StartTime.After(end) {
			out = append(out, m)
		}
	}
	return out
}
