package ts

import (
	"fmt"
	"strings"
)

// PlaylistSegment is one entry in a media playlist.
type PlaylistSegment struct {
	Sequence uint64
	Duration float64 // seconds
	Filename string
}

// Playlist generates sliding-window HLS media playlists, generalizing
// flux-media-core/src/playback/hls.rs's HlsGenerator to operate on
// externally-owned segment lists rather than holding its own queue (the
// timeshift ring is this repo's source of truth for segment retention).
type Playlist struct {
	TargetDuration int // seconds, ceil(max segment duration)
	Version        int
}

// NewPlaylist creates a playlist generator with the given target duration.
func NewPlaylist(targetDurationSeconds int) *Playlist {
	return &Playlist{TargetDuration: targetDurationSeconds, Version: 3}
}

// Generate renders the media playlist text for the given sliding window
// of segments (oldest first). An empty window still yields a valid
// playlist with a media sequence of 0 and no #EXTINF lines.
func (p *Playlist) Generate(segments []PlaylistSegment) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", p.Version)
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", p.TargetDuration)

	mediaSequence := uint64(0)
	if len(segments) > 0 {
		mediaSequence = segments[0].Sequence
	}
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence)

	for _, seg := range segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration)
		fmt.Fprintf(&b, "%s\n", seg.Filename)
	}

	return b.String()
}

// Variant is one rendition of a master (multi-bitrate) playlist.
type Variant struct {
	BandwidthBps int
	Width        int
	Height       int
	FrameRate    float64
	PlaylistURL  string
}

// GenerateMaster renders a master playlist with one #EXT-X-STREAM-INF
// line per variant.
func GenerateMaster(variants []Variant) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, v := range variants {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,FRAME-RATE=%g\n",
			v.BandwidthBps, v.Width, v.Height, v.FrameRate)
		fmt.Fprintf(&b, "%s\n", v.PlaylistURL)
	}

	return b.String()
}
