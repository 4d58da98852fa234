package timeshift

import (
	"testing"
	"time"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	files map[string][]byte
}

func newMemPersister() *memPersister { return &memPersister{files: make(map[string][]byte)} }

func (m *memPersister) Put(streamID string, seq uint64, startTime time.Time, format mediatypes.SegmentFormat, data []byte) (string, error) {
	path := streamID + "/" + time.Unix(0, 0).Format("2006-01-02") + "/" + "seg"
	m.files[path] = append([]byte{}, data...)
	return path, nil
}

func (m *memPersister) Get(path string) ([]byte, error) { return m.files[path], nil }
func (m *memPersister) Delete(path string) error        { delete(m.files, path); return nil }

func TestHotBuffer_BinarySearch(t *testing.T) {
	h := NewHotBuffer(time.Hour)
	base := time.Unix(100, 0)

	for i, st := range []int64{100, 110, 120, 130, 140} {
		h.Append(mediatypes.Segment{Sequence: uint64(i), StartTime: base.Add(time.Duration(st-100) * time.Second), Duration: 10 * time.Second})
	}

	idx := h.BinarySearchByTime(base.Add(25 * time.Second))
	require.Equal(t, 2, idx) // segment with start_time=120

	idx = h.BinarySearchByTime(base.Add(-95 * time.Second)) // before range
	require.Equal(t, 0, idx)
}

func TestHotBuffer_Latest(t *testing.T) {
	h := NewHotBuffer(time.Hour)
	for i := 0; i < 10; i++ {
		h.Append(mediatypes.Segment{Sequence: uint64(i), StartTime: time.Now()})
	}
	require.Len(t, h.Latest(5), 5)
}

func TestRing_AppendDemotesToCold(t *testing.T) {
	persister := newMemPersister()
	r := NewRing("cam1", 0, time.Hour, persister) // hot window = 0 demotes immediately

	err := r.Append(mediatypes.Segment{Sequence: 0, StartTime: time.Now().Add(-time.Minute), Bytes: []byte("abc")})
	require.NoError(t, err)

	segs := r.QuerySegments(time.Now().Add(-time.Hour), time.Now())
	require.Len(t, segs, 1)
}
