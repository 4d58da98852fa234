package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDisk_PutGetDelete(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.Put("cam01/2026-07-30/14/100.ts", []byte("segment-bytes")))

	data, err := d.Get("cam01/2026-07-30/14/100.ts")
	require.NoError(t, err)
	require.Equal(t, []byte("segment-bytes"), data)

	require.NoError(t, d.Delete("cam01/2026-07-30/14/100.ts"))
	_, err = d.Get("cam01/2026-07-30/14/100.ts")
	require.Error(t, err)

	require.NoError(t, d.Delete("cam01/2026-07-30/14/100.ts"), "deleting an absent key is not an error")
}

func TestDisk_ListFiltersByTimeRange(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC)
	for _, offset := range []int64{0, 10, 20, 30} {
		ts := base.Add(time.Duration(offset) * time.Second)
		key := SegmentKey("cam01", ts, "ts")
		require.NoError(t, d.Put(key, []byte("x")))
	}

	entries, err := d.List("cam01", base.Add(5*time.Second), base.Add(25*time.Second))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestSegmentPersister_RoundTrip(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	require.NoError(t, err)
	p := NewSegmentPersister(d)

	start := time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC)
	key, err := p.Put("cam01", 42, start, "ts", []byte("payload"))
	require.NoError(t, err)
	require.Contains(t, key, "cam01/2026-07-30/14/")

	data, err := p.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)

	require.NoError(t, p.Delete(key))
}
