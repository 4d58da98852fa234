package timeshift

import (
	"time"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

// Persister writes a segment's bytes to durable storage, returning the
// path the cold index should remember. Satisfied by
// pkg/storage.SegmentPersister.
type Persister interface {
	Put(streamID string, seq uint64, startTime time.Time, format mediatypes.SegmentFormat, data []byte) (path string, err error)
	Get(path string) ([]byte, error)
	FileDeleter
}

// Ring is one stream's timeshift buffer: a hot in-memory window plus a
// cold on-disk index, with the demotion of evicted hot segments to cold
// storage handled internally — a segment is never retained in both tiers
// at once.
//
// Go's garbage collector makes manual reference-counted snapshot reads
// unnecessary here: Latest/SegmentsFrom return slices that
// share the same backing byte arrays as the hot buffer, and a reader
// holding one keeps it alive independent of eviction — no explicit
// refcount is needed for that invariant to hold.
type Ring struct {
	streamID string
	hot      *HotBuffer
	cold     *ColdIndex
	persist  Persister
}

// NewRing creates a ring for streamID with the given hot/cold retention
// windows, persisting evicted hot segments via persist.
func NewRing(streamID string, hotWindow, coldWindow time.Duration, persist Persister) *Ring {
	return &Ring{
		streamID: streamID,
		hot:      NewHotBuffer(hotWindow),
		cold:     NewColdIndex(coldWindow, persist),
		persist:  persist,
	}
}

// Append pushes a new segment to the hot tail, demotes any hot segments
// it evicts to cold storage, and expires any cold entries outside the
// cold window.
func (r *Ring) Append(seg mediatypes.Segment) error {
	evicted := r.hot.Append(seg)
	for _, e := range evicted {
		path, err := r.persist.Put(r.streamID, e.Sequence, e.StartTime, e.Format, e.Bytes)
		if err != nil {
			return err
		}
		r.cold.Add(mediatypes.SegmentMeta{
			Sequence:    e.Sequence,
			StartTime:   e.StartTime,
			Duration:    e.Duration,
			FilePath:    path,
			Size:        int64(len(e.Bytes)),
			Format:      e.Format,
			HasKeyframe: e.HasKeyframe,
		})
	}
	return r.cold.Cleanup()
}

// SegmentRef is one result of Seek: either inline hot bytes, or a cold
// file reference the caller resolves via ReadBytes.
type SegmentRef struct {
	Meta  mediatypes.SegmentMeta
	Bytes []byte // set for hot segments; nil for cold (read via ring.ReadBytes(Meta.FilePath))
}

// Seek returns an iterator (as a slice) over segments from t onward:
// binary-search cold for the containing segment; if t falls inside the
// hot range, switch to the hot binary search; yields in sequence order.
func (r *Ring) Seek(t time.Time) []SegmentRef {
	hotOldest := r.hot.OldestStartTime()

	var out []SegmentRef
	if !hotOldest.IsZero() && !t.Before(hotOldest) {
		for _, seg := range r.hot.SegmentsFrom(t) {
			out = append(out, SegmentRef{
				Meta: mediatypes.SegmentMeta{
					Sequence:    seg.Sequence,
					StartTime:   seg.StartTime,
					Duration:    seg.Duration,
					Format:      seg.Format,
					HasKeyframe: seg.HasKeyframe,
					Size:        int64(len(seg.Bytes)),
				},
				Bytes: seg.Bytes,
			})
		}
		return out
	}

	for _, meta := range r.cold.MetadataFrom(t) {
		out = append(out, SegmentRef{Meta: meta})
	}
	for _, seg := range r.hot.Latest(r.hot.Len()) {
		out = append(out, SegmentRef{
			Meta: mediatypes.SegmentMeta{
				Sequence:    seg.Sequence,
				StartTime:   seg.StartTime,
				Duration:    seg.Duration,
				Format:      seg.Format,
				HasKeyframe: seg.HasKeyframe,
				Size:        int64(len(seg.Bytes)),
			},
			Bytes: seg.Bytes,
		})
	}
	return out
}

// ReadBytes resolves a cold SegmentRef's bytes from disk.
func (r *Ring) ReadBytes(ref SegmentRef) ([]byte, error) {
	if ref.Bytes != nil {
		return ref.Bytes, nil
	}
	return r.persist.Get(ref.Meta.FilePath)
}

// Latest returns the last n hot segments.
func (r *Ring) Latest(n int) []mediatypes.Segment {
	return r.hot.Latest(n)
}

// HotLen returns the number of segments currently retained in the hot
// buffer.
func (r *Ring) HotLen() int {
	return r.hot.Len()
}

// QuerySegments returns metadata for every segment (hot or cold) whose
// start_time falls in [start, end].
func (r *Ring) QuerySegments(start, end time.Time) []mediatypes.SegmentMeta {
	out := r.cold.QueryRange(start, end)
	for _, seg := range r.hot.SegmentsFrom(start) {
		if seg.StartTime.After(end) {
			break
		}
		out = append(out, mediatypes.SegmentMeta{
			Sequence:    seg.Sequence,
			StartTime:   seg.StartTime,
			Duration:    seg.Duration,
			Format:      seg.Format,
			HasKeyframe: seg.HasKeyframe,
			Size:        int64(len(seg.Bytes)),
		})
	}
	return out
}
