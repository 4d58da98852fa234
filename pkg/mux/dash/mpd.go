// Package dash generates dynamic DASH MPD manifests. The
// muxer is manifest-only: ISOBMFF segment bytes are produced by the
// transcode component, not here, generalizing the sliding-window logic
// of pkg/mux/ts's HLS playlist onto a SegmentTemplate.
package dash

import (
	"fmt"
	"strings"
)

// Representation is one bitrate variant of the media.
type Representation struct {
	ID           string
	BandwidthBps int
	Width        int
	Height       int
	Codecs       string // RFC 6381 codec string, e.g. "avc1.64001f"
}

// MPD generates a dynamic (live) MPD with one AdaptationSet and one
// Representation per bitrate variant, a SegmentTemplate using $Number$,
// timescale 1000, and a fixed per-segment duration in milliseconds.
type MPD struct {
	MinBufferTimeSec   float64
	SegmentDurationMs  int
	TimescaleMs        int
	Representations    []Representation
}

// NewMPD creates an MPD generator for the given variants and fixed
// segment duration.
func NewMPD(segmentDurationMs int, reps []Representation) *MPD {
	return &MPD{
		MinBufferTimeSec:  2,
		SegmentDurationMs: segmentDurationMs,
		TimescaleMs:       1000,
		Representations:   reps,
	}
}

// Generate renders the MPD XML for the given start number (the oldest
// retained segment's sequence, mirroring HLS's media sequence).
func (m *MPD) Generate(startNumber uint64) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="dynamic" minBufferTime="PT%.1fS" profiles="urn:mpeg:dash:profile:isoff-live:2011">`+"\n", m.MinBufferTimeSec)
	b.WriteString("  <Period>\n")
	b.WriteString("    <AdaptationSet segmentAlignment=\"true\">\n")

	durationUnits := m.SegmentDurationMs * m.TimescaleMs / 1000
	fmt.Fprintf(&b, `      <SegmentTemplate media="$RepresentationID$/$Number$.m4s" initialization="$RepresentationID$/init.mp4" startNumber="%d" timescale="%d" duration="%d"/>`+"\n",
		startNumber, m.TimescaleMs, durationUnits)

	for _, r := range m.Representations {
		fmt.Fprintf(&b, `      <Representation id="%s" bandwidth="%d" width="%d" height="%d" codecs="%s"/>`+"\n",
			r.ID, r.BandwidthBps, r.Width, r.Height, r.Codecs)
	}

	b.WriteString("    </AdaptationSet>\n")
	b.WriteString("  </Period>\n")
	b.WriteString("</MPD>\n")
	return b.String()
}
