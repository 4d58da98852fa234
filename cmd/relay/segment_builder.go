package main

import (
	"sync"
	"time"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
	"github.com/fluxmedia/flux-relay/pkg/mux/ts"
	"github.com/fluxmedia/flux-relay/pkg/relay"
)

// segmentBuilder muxes a stream's depacketized access units into MPEG-TS
// and cuts segments on the spec's boundary rule (§4.5.2): a new segment
// starts on the first keyframe after min_duration has elapsed, force-cut
// at max_duration. min/max are derived from the configured target
// duration (half and double of it) since the platform's HLS config names
// only a single target, not separate min/max knobs.
type segmentBuilder struct {
	core *relay.Core
	id   mediatypes.StreamId
	muxer *ts.Muxer

	minDuration time.Duration
	maxDuration time.Duration

	mu          sync.Mutex
	buf         []byte
	seq         uint64
	segStart    time.Time
	hasKeyframe bool
	videoPkts   uint64
	audioPkts   uint64
}

func newSegmentBuilder(core *relay.Core, id mediatypes.StreamId, videoCodec, audioCodec mediatypes.Codec, targetDuration time.Duration) *segmentBuilder {
	return &segmentBuilder{
		core:        core,
		id:          id,
		muxer:       ts.NewMuxer(videoCodec, audioCodec),
		minDuration: targetDuration / 2,
		maxDuration: targetDuration * 2,
	}
}

func (b *segmentBuilder) addVideo(pkt *mediatypes.MediaPacket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.segStart.IsZero() {
		b.segStart = time.Now()
	}
	if pkt.IsKeyframe && len(b.buf) > 0 && time.Since(b.segStart) >= b.minDuration {
		b.flushLocked()
		b.segStart = time.Now()
	}

	for _, p := range b.muxer.MuxVideo(pkt.Payload, uint64(pkt.PTS), uint64(pkt.DTS), pkt.IsKeyframe) {
		b.buf = append(b.buf, p...)
	}
	b.videoPkts++
	if pkt.IsKeyframe {
		b.hasKeyframe = true
	}
	b.maybeForceCutLocked()
}

func (b *segmentBuilder) addAudio(pkt *mediatypes.MediaPacket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.segStart.IsZero() {
		b.segStart = time.Now()
	}
	for _, p := range b.muxer.MuxAudio(pkt.Payload, uint64(pkt.PTS)) {
		b.buf = append(b.buf, p...)
	}
	b.audioPkts++
	b.maybeForceCutLocked()
}

func (b *segmentBuilder) maybeForceCutLocked() {
	if !b.segStart.IsZero() && time.Since(b.segStart) >= b.maxDuration {
		b.flushLocked()
		b.segStart = time.Now()
	}
}

func (b *segmentBuilder) flushLocked() {
	if len(b.buf) == 0 {
		return
	}
	seg := mediatypes.Segment{
		Sequence:    b.seq,
		StartTime:   b.segStart,
		Duration:    time.Since(b.segStart),
		Bytes:       append([]byte(nil), b.buf...),
		HasKeyframe: b.hasKeyframe,
		Format:      mediatypes.FormatTS,
	}
	b.core.AppendSegment(b.id, seg, b.videoPkts, b.audioPkts)

	b.seq++
	b.buf = b.buf[:0]
	b.hasKeyframe = false
	b.videoPkts = 0
	b.audioPkts = 0
}

// flush force-cuts any partial segment, for use on ingress shutdown.
func (b *segmentBuilder) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// addRawTS appends an already-muxed transport-stream byte chunk directly
// (the SRT ingress path, which carries pre-packaged MPEG-TS rather than
// elementary-stream access units this builder would otherwise depacketize
// and remux).
func (b *segmentBuilder) addRawTS(chunk []byte, hasKeyframe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.segStart.IsZero() {
		b.segStart = time.Now()
	}
	b.buf = append(b.buf, chunk...)
	if hasKeyframe {
		b.hasKeyframe = true
	}
	b.maybeForceCutLocked()
	if time.Since(b.segStart) >= b.minDuration && hasKeyframe {
		b.flushLocked()
		b.segStart = time.Now()
	}
}
