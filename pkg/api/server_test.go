package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
	"github.com/fluxmedia/flux-relay/pkg/relay"
	"github.com/stretchr/testify/require"
)

type memPersister struct{ files map[string][]byte }

func newMemPersister() *memPersister { return &memPersister{files: make(map[string][]byte)} }

func (p *memPersister) Put(streamID string, seq uint64, startTime time.Time, format mediatypes.SegmentFormat, data []byte) (string, error) {
	key := streamID + "/" + string(format)
	p.files[key] = data
	return key, nil
}
func (p *memPersister) Get(path string) ([]byte, error) { return p.files[path], nil }
func (p *memPersister) Delete(path string) error        { delete(p.files, path); return nil }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestServer() (*Server, *relay.Core) {
	core := relay.NewCore(time.Minute, time.Hour, newMemPersister(), nil, 30, testLogger())
	return NewServer(core, nil, testLogger()), core
}

func TestServer_RegisterAndListStreams(t *testing.T) {
	s, _ := newTestServer()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/streams", s.handleStreams)
	mux.HandleFunc("/api/streams/", s.handleStream)

	body := strings.NewReader(`{"stream_id":"rtsp/live/cam01","ingress_url":"rtsp://cam01","protocol":"hls"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/streams", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/streams", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var ids []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	require.Equal(t, []string{"rtsp/live/cam01"}, ids)
}

func TestServer_StatsNotFound(t *testing.T) {
	s, _ := newTestServer()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/streams/", s.handleStream)

	req := httptest.NewRequest(http.MethodGet, "/api/streams/rtsp/missing/stats", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_QuerySegments(t *testing.T) {
	s, core := newTestServer()
	id := mediatypes.StreamId{Protocol: "rtsp", Path: "live/cam01"}
	require.NoError(t, core.RegisterStream(id, "rtsp://cam01", "rtsp"))

	now := time.Now()
	require.NoError(t, core.AppendSegment(id, mediatypes.Segment{
		Sequence: 1, StartTime: now, Duration: time.Second, Bytes: []byte("x"), Format: mediatypes.FormatTS,
	}, 1, 1))

	mux := http.NewServeMux()
	mux.HandleFunc("/api/streams/", s.handleStream)

	start := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
	end := strconv.FormatInt(now.Add(time.Minute).Unix(), 10)
	req := httptest.NewRequest(http.MethodGet,
		"/api/streams/rtsp/live/cam01/segments?start="+start+"&end="+end, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var metas []mediatypes.SegmentMeta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metas))
	require.Len(t, metas, 1)
}
