package relay

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
	"github.com/fluxmedia/flux-relay/pkg/stream"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	files map[string][]byte
}

func newMemPersister() *memPersister { return &memPersister{files: make(map[string][]byte)} }

func (p *memPersister) Put(streamID string, seq uint64, startTime time.Time, format mediatypes.SegmentFormat, data []byte) (string, error) {
	key := streamID + "/" + string(format)
	p.files[key] = data
	return key, nil
}
func (p *memPersister) Get(path string) ([]byte, error) { return p.files[path], nil }
func (p *memPersister) Delete(path string) error        { delete(p.files, path); return nil }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testStreamID() mediatypes.StreamId {
	return mediatypes.StreamId{Protocol: "rtsp", Path: "live/cam01"}
}

func TestCore_RegisterListUnregister(t *testing.T) {
	c := NewCore(time.Minute, time.Hour, newMemPersister(), []stream.Trigger{{Kind: stream.TriggerNever}}, 30, testLogger())
	id := testStreamID()

	require.NoError(t, c.RegisterStream(id, "rtsp://cam01/live", "rtsp"))
	require.Error(t, c.RegisterStream(id, "rtsp://cam01/live", "rtsp"), "duplicate registration must fail")

	streams := c.ListStreams()
	require.Len(t, streams, 1)
	require.Equal(t, id, streams[0])

	require.NoError(t, c.UnregisterStream(id))
	require.Empty(t, c.ListStreams())
}

func TestCore_AppendSegmentAndQuery(t *testing.T) {
	c := NewCore(time.Minute, time.Hour, newMemPersister(), nil, 30, testLogger())
	id := testStreamID()
	require.NoError(t, c.RegisterStream(id, "rtsp://cam01/live", "rtsp"))

	now := time.Now()
	seg := mediatypes.Segment{Sequence: 1, StartTime: now, Duration: 2 * time.Second, Bytes: []byte("seg-bytes"), HasKeyframe: true, Format: mediatypes.FormatTS}
	require.NoError(t, c.AppendSegment(id, seg, 10, 5))

	stats, err := c.Stats(id)
	require.NoError(t, err)
	require.Equal(t, uint64(10), stats.VideoPackets)
	require.Equal(t, uint64(5), stats.AudioPackets)
	require.Equal(t, 1, stats.HotSegments)

	metas, err := c.QuerySegments(id, now.Add(-time.Second), now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, metas, 1)

	bytes, err := c.GetSegmentBytes(id, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("seg-bytes"), bytes)

	snap, err := c.Snapshot(id)
	require.NoError(t, err)
	require.Equal(t, []byte("seg-bytes"), snap)
}

func TestCore_UnknownStreamIsNotFound(t *testing.T) {
	c := NewCore(time.Minute, time.Hour, newMemPersister(), nil, 30, testLogger())
	_, err := c.Stats(testStreamID())
	require.Error(t, err)
}

func TestCore_ViewerJoinLeave(t *testing.T) {
	c := NewCore(time.Minute, time.Hour, newMemPersister(), nil, 30, testLogger())
	id := testStreamID()
	require.NoError(t, c.RegisterStream(id, "rtsp://cam01/live", "rtsp"))

	require.NoError(t, c.AddViewer(id, mediatypes.ViewerContext{ClientID: "v1", PreferredProtocol: mediatypes.ProtocolHLS, JoinedAt: time.Now()}))
	stats, err := c.Stats(id)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ViewerCount)

	require.NoError(t, c.RemoveViewer(id, "v1"))
	stats, err = c.Stats(id)
	require.NoError(t, err)
	require.Equal(t, 0, stats.ViewerCount)
}
