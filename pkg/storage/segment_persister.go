package storage

import (
	"strconv"
	"time"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

// SegmentPersister adapts a Backend's generic put/get/delete/list
// capability into the stream-sequence-and-time keying scheme
// pkg/timeshift.Ring needs, building keys per the
// "<stream_id>/<date>/<hour>/<unix_ts>.<ext>" layout. It satisfies
// timeshift.Persister.
type SegmentPersister struct {
	backend Backend
}

// NewSegmentPersister wraps backend for timeshift cold-storage use.
func NewSegmentPersister(backend Backend) *SegmentPersister {
	return &SegmentPersister{backend: backend}
}

// Put writes a segment's bytes under the canonical layout and returns the
// key the cold index should remember as the segment's FilePath.
func (p *SegmentPersister) Put(streamID string, seq uint64, startTime time.Time, format mediatypes.SegmentFormat, data []byte) (string, error) {
	key := SegmentKey(streamID, startTime, format)
	if err := p.backend.Put(key, data); err != nil {
		return "", err
	}
	return key, nil
}

// Get reads a previously-persisted segment's bytes back by key.
func (p *SegmentPersister) Get(key string) ([]byte, error) {
	return p.backend.Get(key)
}

// Delete removes a previously-persisted segment, satisfying
// timeshift.FileDeleter.
func (p *SegmentPersister) Delete(key string) error {
	return p.backend.Delete(key)
}

// SegmentKey builds the "<stream_id>/<YYYY-MM-DD>/<HH>/<unix_ts>.<ext>"
// key used for timeshift segment persistence.
func SegmentKey(streamID string, startTime time.Time, format mediatypes.SegmentFormat) string {
	ut := startTime.UTC()
	return streamID + "/" + ut.Format("2006-01-02") + "/" + ut.Format("15") + "/" +
		formatUnixTimestamp(ut) + "." + string(format)
}

// KeyframeKey builds the "<stream_id>/<unix_ts>.jpg" key used for
// keyframe snapshots, rooted under a separate keyframe directory from
// segment storage.
func KeyframeKey(streamID string, t time.Time) string {
	return streamID + "/" + formatUnixTimestamp(t.UTC()) + ".jpg"
}

func formatUnixTimestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
