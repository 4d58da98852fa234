// Package mediatypes holds the data model shared by every ingress, egress,
// timeshift, and stream-context package: StreamId, MediaPacket, Segment and
// the viewer/stream-context types that fan a single ingress out to many
// egress consumers.
package mediatypes

import (
	"fmt"
	"time"
)

// StreamId is the two-level identity {protocol, path}, rendered as
// "protocol/path" (e.g. "rtsp/live/cam01"). Immutable for a stream's
// lifetime.
type StreamId struct {
	Protocol string
	Path     string
}

func (s StreamId) String() string {
	return fmt.Sprintf("%s/%s", s.Protocol, s.Path)
}

// ParseStreamId parses the "protocol/path" rendering back into a StreamId.
func ParseStreamId(s string) (StreamId, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return StreamId{Protocol: s[:i], Path: s[i+1:]}, nil
		}
	}
	return StreamId{}, fmt.Errorf("mediatypes: invalid stream id %q: missing protocol/path separator", s)
}

// MediaKind distinguishes video from audio media packets.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// Codec identifies the elementary stream codec carried by a MediaPacket.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
	CodecAAC  Codec = "aac"
	CodecOpus Codec = "opus"
)

// MediaPacket is one reassembled access unit (video NAL/frame or audio AU),
// produced by a depacketizer/demuxer and owned transiently by whichever
// fan-out step holds it.
type MediaPacket struct {
	Payload    []byte
	PTS        uint32 // 90 kHz ticks
	DTS        uint32 // 90 kHz ticks
	IsKeyframe bool
	MediaKind  MediaKind
	Codec      Codec
}

// SegmentFormat names the container a Segment's bytes are encoded in.
type SegmentFormat string

const (
	FormatTS  SegmentFormat = "ts"
	FormatFLV SegmentFormat = "flv"
	FormatMP4 SegmentFormat = "mp4"
)

// Segment is a contiguous slice of one stream's egress output.
//
// Invariant: for a stream, sequence_i+1.StartTime >= sequence_i.StartTime +
// sequence_i.Duration - epsilon, and sequences are dense within the
// retention window.
type Segment struct {
	Sequence    uint64
	StartTime   time.Time
	Duration    time.Duration
	Bytes       []byte
	HasKeyframe bool
	Format      SegmentFormat
}

// SegmentMeta is a ColdIndex entry: the Segment's metadata with the payload
// living on disk under FilePath instead of in memory.
type SegmentMeta struct {
	Sequence    uint64
	StartTime   time.Time
	Duration    time.Duration
	FilePath    string
	Size        int64
	Format      SegmentFormat
	HasKeyframe bool
}

// ClientType is the rendering surface a viewer connected from.
type ClientType string

const (
	ClientWeb     ClientType = "web"
	ClientMobile  ClientType = "mobile"
	ClientNative  ClientType = "native"
	ClientUnknown ClientType = "unknown"
)

// Protocol is an egress delivery protocol a viewer is consuming.
type Protocol string

const (
	ProtocolFLV  Protocol = "flv"
	ProtocolHLS  Protocol = "hls"
	ProtocolDASH Protocol = "dash"
	ProtocolSRT  Protocol = "srt"
)

// ViewerContext is one connected viewer of a stream.
type ViewerContext struct {
	ClientID            string
	PreferredProtocol   Protocol
	ClientType          ClientType
	EstimatedBandwidth  *int64 // bps, nil if unknown
	JoinedAt            time.Time
}

// StreamMode is the current passthrough/transcode decision for a stream.
type StreamMode string

const (
	ModePassthrough StreamMode = "passthrough"
	ModeTranscode   StreamMode = "transcode"
	ModeAuto        StreamMode = "auto"
)
