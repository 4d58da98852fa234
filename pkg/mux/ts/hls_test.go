package ts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlaylist_EmptyWindow(t *testing.T) {
	p := NewPlaylist(6)
	out := p.Generate(nil)

	require.Contains(t, out, "#EXTM3U")
	require.Contains(t, out, "#EXT-X-TARGETDURATION:6")
	require.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:0")
	require.False(t, strings.Contains(out, "#EXTINF"))
}

func TestPlaylist_WindowEviction(t *testing.T) {
	p := NewPlaylist(6)
	segs := []PlaylistSegment{
		{Sequence: 3, Duration: 6, Filename: "segment_3.ts"},
		{Sequence: 4, Duration: 6, Filename: "segment_4.ts"},
		{Sequence: 5, Duration: 6, Filename: "segment_5.ts"},
	}
	out := p.Generate(segs)

	require.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:3")
	require.Contains(t, out, "segment_3.ts")
	require.Contains(t, out, "segment_5.ts")
	require.NotContains(t, out, "segment_2.ts")
}

func TestGenerateMaster(t *testing.T) {
	out := GenerateMaster([]Variant{
		{BandwidthBps: 2000000, Width: 1920, Height: 1080, FrameRate: 30, PlaylistURL: "high.m3u8"},
		{BandwidthBps: 800000, Width: 1280, Height: 720, FrameRate: 30, PlaylistURL: "low.m3u8"},
	})

	require.Contains(t, out, "BANDWIDTH=2000000,RESOLUTION=1920x1080,FRAME-RATE=30")
	require.Contains(t, out, "high.m3u8")
	require.Contains(t, out, "low.m3u8")
}
