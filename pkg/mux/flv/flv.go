// Package flv mux frames into FLV tags for low-latency HTTP-FLV egress.
package flv

import (
	"encoding/binary"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

// TagType is the FLV tag type byte.
type TagType uint8

const (
	TagAudio  TagType = 8
	TagVideo  TagType = 9
	TagScript TagType = 18
)

// Muxer turns media packets into an FLV byte stream: a 13-byte file
// header once, then one tag per frame, each followed by its own 4-byte
// previous-tag-size trailer.
type Muxer struct {
	headerSent bool
}

// NewMuxer creates an FLV muxer.
func NewMuxer() *Muxer {
	return &Muxer{}
}

// Header returns the 13-byte FLV file header (signature, version, A/V
// flags, data offset, and the leading previous-tag-size of 0). Call once
// per connection before any tags.
func (m *Muxer) Header() []byte {
	m.headerSent = true

	h := make([]byte, 13)
	copy(h[0:3], "FLV")
	h[3] = 1
	h[4] = 0x05 // audio + video present
	binary.BigEndian.PutUint32(h[5:9], 9)
	binary.BigEndian.PutUint32(h[9:13], 0)
	return h
}

// HeaderSent reports whether Header has been emitted on this muxer.
func (m *Muxer) HeaderSent() bool { return m.headerSent }

// MuxVideoTag frames a video AVCC payload as an FLV video tag. isAVCSeq
// marks an AVCDecoderConfigurationRecord (sent once before the first
// keyframe); otherwise frameType is keyframe(1) or interframe(2) per the
// packet's IsKeyframe flag.
func MuxVideoTag(payload []byte, timestamp uint32, isKeyframe, isAVCSeq bool, codec mediatypes.Codec) []byte {
	frameType := byte(0x20) // inter frame
	if isKeyframe {
		frameType = 0x10
	}
	codecID := byte(7) // AVC
	if codec == mediatypes.CodecH265 {
		codecID = 12 // HEVC (enhanced FLV convention)
	}

	avcPacketType := byte(1) // NALU
	if isAVCSeq {
		avcPacketType = 0
	}

	body := make([]byte, 0, 5+len(payload))
	body = append(body, frameType|codecID)
	body = append(body, avcPacketType, 0, 0, 0) // composition time = 0
	body = append(body, payload...)

	return buildTag(TagVideo, timestamp, body)
}

// MuxAudioTag frames an AAC payload as an FLV audio tag. isSeqHeader marks
// an AudioSpecificConfig (sent once).
func MuxAudioTag(payload []byte, timestamp uint32, isSeqHeader bool) []byte {
	soundFormat := byte(0xAF) // AAC, 44kHz, 16-bit, stereo (format nibble only soundFormat=10 matters)
	aacPacketType := byte(1)
	if isSeqHeader {
		aacPacketType = 0
	}

	body := make([]byte, 0, 2+len(payload))
	body = append(body, soundFormat, aacPacketType)
	body = append(body, payload...)

	return buildTag(TagAudio, timestamp, body)
}

// FrameAVCC assembles the AVCC-style payload MuxVideoTag expects from a
// depacketized NAL unit: a 4-byte big-endian length prefix per NAL, with
// any parameter sets (SPS/PPS, or VPS/SPS/PPS for HEVC) fused in front so
// a decoder joining on this keyframe has them without a separate sequence
// header. Pass no paramSets for non-keyframe NALUs.
func FrameAVCC(nalu []byte, paramSets ...[]byte) []byte {
	size := len(nalu) + 4
	for _, ps := range paramSets {
		size += len(ps) + 4
	}

	out := make([]byte, 0, size)
	for _, ps := range paramSets {
		out = appendNALU(out, ps)
	}
	return appendNALU(out, nalu)
}

// appendNALU appends a NALU with a 4-byte big-endian length prefix.
func appendNALU(dst, nalu []byte) []byte {
	length := uint32(len(nalu))
	dst = append(dst,
		byte(length>>24), byte(length>>16), byte(length>>8), byte(length),
	)
	return append(dst, nalu...)
}

// buildTag frames body as an 11-byte tag header + body + 4-byte previous
// tag size trailer.
func buildTag(tagType TagType, timestamp uint32, body []byte) []byte {
	dataSize := len(body)
	tag := make([]byte, 11+dataSize+4)

	tag[0] = byte(tagType)
	tag[1] = byte(dataSize >> 16)
	tag[2] = byte(dataSize >> 8)
	tag[3] = byte(dataSize)

	tag[4] = byte(timestamp >> 16)
	tag[5] = byte(timestamp >> 8)
	tag[6] = byte(timestamp)
	tag[7] = byte(timestamp >> 24)

	// stream ID: always 0, bytes 8-10 already zero

	copy(tag[11:11+dataSize], body)

	tagSize := uint32(11 + dataSize)
	binary.BigEndian.PutUint32(tag[11+dataSize:], tagSize)

	return tag
}
