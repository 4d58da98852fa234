// Package ts muxes elementary streams into MPEG-TS packets (PAT/PMT/PES)
// and generates HLS media/master playlists.
package ts

import (
	"fmt"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

const (
	packetSize = 188
	patPID     = 0x0000
	pmtPID     = 0x1000
)

// StreamType is the MPEG-TS PMT stream_type byte.
type StreamType byte

const (
	StreamTypeH264 StreamType = 0x1B
	StreamTypeH265 StreamType = 0x24
	StreamTypeAAC  StreamType = 0x0F
)

func streamTypeFor(codec mediatypes.Codec) StreamType {
	switch codec {
	case mediatypes.CodecH265:
		return StreamTypeH265
	case mediatypes.CodecAAC:
		return StreamTypeAAC
	default:
		return StreamTypeH264
	}
}

// Muxer packs video/audio frames into 188-byte MPEG-TS packets, sending
// PAT/PMT once, ahead of the first packets after creation or Reset; they
// are not re-sent periodically or on a codec change. Grounded on
// flux-media-core/src/playback/ts.rs, extended with a real CRC-32/MPEG-2
// (see crc32mpeg2.go) and stream types for H.265.
type Muxer struct {
	patPMTSent bool
	videoPID   uint16
	audioPID   uint16
	pcrPID     uint16

	videoCodec mediatypes.Codec
	audioCodec mediatypes.Codec

	ccPAT   uint8
	ccPMT   uint8
	ccVideo uint8
	ccAudio uint8
}

// NewMuxer creates a TS muxer with the conventional PID assignment
// (video=0x100, audio=0x101, PCR carried on the video PID).
func NewMuxer(videoCodec, audioCodec mediatypes.Codec) *Muxer {
	return &Muxer{
		videoPID:   0x100,
		audioPID:   0x101,
		pcrPID:     0x100,
		videoCodec: videoCodec,
		audioCodec: audioCodec,
	}
}

// Reset clears PAT/PMT-sent state and continuity counters, for a
// discontinuity (e.g. a passthrough/transcode mode switch must NOT call
// this — continuity is preserved across mode switches).
func (m *Muxer) Reset() {
	m.patPMTSent = false
	m.ccPAT, m.ccPMT, m.ccVideo, m.ccAudio = 0, 0, 0, 0
}

func (m *Muxer) generatePAT() []byte {
	pkt := make([]byte, packetSize)
	pkt[0] = 0x47
	pkt[1] = 0x40 // payload_unit_start_indicator
	pkt[2] = 0x00
	pkt[3] = 0x10 | (m.ccPAT & 0x0F)
	m.ccPAT = (m.ccPAT + 1) & 0x0F

	section := []byte{
		0x00,                   // table_id
		0xB0, 0x0D,             // section_syntax_indicator | section_length=13
		0x00, 0x01,             // transport_stream_id
		0xC1,                   // version 0, current_next_indicator=1
		0x00,                   // section_number
		0x00,                   // last_section_number
		0x00, 0x01,             // program_number
		byte(0xE0 | (pmtPID >> 8)), byte(pmtPID & 0xFF), // PMT PID
	}
	crc := crc32MPEG2(section)

	off := 4
	off += copy(pkt[off:], []byte{0x00}) // pointer field
	off += copy(pkt[off:], section)
	pkt[off] = byte(crc >> 24)
	pkt[off+1] = byte(crc >> 16)
	pkt[off+2] = byte(crc >> 8)
	pkt[off+3] = byte(crc)
	off += 4

	for i := off; i < packetSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

func (m *Muxer) generatePMT() []byte {
	pkt := make([]byte, packetSize)
	pkt[0] = 0x47
	pkt[1] = 0x50
	pkt[2] = byte(pmtPID >> 8)
	pkt[3] = byte(pmtPID&0xFF) | 0x10 | (m.ccPMT & 0x0F)
	m.ccPMT = (m.ccPMT + 1) & 0x0F

	videoStreamType := streamTypeFor(m.videoCodec)

	section := []byte{
		0x02, // table_id (PMT)
		0xB0, 0x17,
		0x00, 0x01, // program_number
		0xC1,
		0x00,
		0x00,
		byte(0xE0 | (m.pcrPID >> 8)), byte(m.pcrPID & 0xFF),
		0xF0, 0x00, // program_info_length
		byte(videoStreamType), byte(0xE0 | (m.videoPID >> 8)), byte(m.videoPID & 0xFF), 0xF0, 0x00,
		byte(StreamTypeAAC), byte(0xE0 | (m.audioPID >> 8)), byte(m.audioPID & 0xFF), 0xF0, 0x00,
	}
	crc := crc32MPEG2(section)

	off := 4
	off += copy(pkt[off:], []byte{0x00})
	off += copy(pkt[off:], section)
	pkt[off] = byte(crc >> 24)
	pkt[off+1] = byte(crc >> 16)
	pkt[off+2] = byte(crc >> 8)
	pkt[off+3] = byte(crc)
	off += 4

	for i := off; i < packetSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// pesHeader builds the PES packet (start code + stream id + header flags
// + 5-byte PTS/DTS + payload), stream_id 0xE0 for video, 0xC0 for audio.
func pesHeader(streamID byte, data []byte, pts, dts uint64, hasDTS bool) []byte {
	pes := make([]byte, 0, 19+len(data))
	pes = append(pes, 0x00, 0x00, 0x01, streamID)
	pes = append(pes, 0x00, 0x00) // PES packet length = 0 (unbounded)
	pes = append(pes, 0x80)

	if hasDTS {
		pes = append(pes, 0xC0, 10)
		pes = appendTimestamp(pes, 0x3, pts)
		pes = appendTimestamp(pes, 0x1, dts)
	} else {
		pes = append(pes, 0x80, 5)
		pes = appendTimestamp(pes, 0x2, pts)
	}

	pes = append(pes, data...)
	return pes
}

func appendTimestamp(buf []byte, marker byte, ts uint64) []byte {
	b0 := (marker << 4) | byte((ts>>30)&0x07)<<1 | 0x01
	b12 := uint16((ts>>15)&0x7FFF)<<1 | 1
	b34 := uint16(ts&0x7FFF)<<1 | 1
	return append(buf, b0, byte(b12>>8), byte(b12), byte(b34>>8), byte(b34))
}

// MuxVideo packs one video access unit into TS packets, prefixed by
// PAT/PMT if not already sent this session. On a keyframe the first
// packet carries the random-access flag and a PCR derived from pts.
func (m *Muxer) MuxVideo(data []byte, pts, dts uint64, isKeyframe bool) [][]byte {
	var out [][]byte
	if !m.patPMTSent {
		out = append(out, m.generatePAT(), m.generatePMT())
		m.patPMTSent = true
	}

	pes := pesHeader(0xE0, data, pts, dts, true)
	out = append(out, m.packetize(&m.ccVideo, m.videoPID, pes, isKeyframe, isKeyframe, pts)...)
	return out
}

// MuxAudio packs one audio access unit into TS packets.
func (m *Muxer) MuxAudio(data []byte, pts uint64) [][]byte {
	var out [][]byte
	if !m.patPMTSent {
		out = append(out, m.generatePAT(), m.generatePMT())
		m.patPMTSent = true
	}

	pes := pesHeader(0xC0, data, pts, 0, false)
	out = append(out, m.packetize(&m.ccAudio, m.audioPID, pes, false, false, pts)...)
	return out
}

// packetize splits pesData into 188-byte TS packets on pid, setting the
// adaptation field with random_access_indicator and a PCR on the first
// packet when withPCR is set.
func (m *Muxer) packetize(cc *uint8, pid uint16, pesData []byte, randomAccess, withPCR bool, pcrBase uint64) [][]byte {
	var packets [][]byte
	offset := 0
	first := true

	for offset < len(pesData) {
		pkt := make([]byte, packetSize)
		pkt[0] = 0x47

		headerLen := 4
		pkt[1] = byte(pid>>8) & 0x1F
		if first {
			pkt[1] |= 0x40 // payload_unit_start_indicator
		}
		pkt[2] = byte(pid & 0xFF)

		adaptationFieldControl := byte(0x10) // payload only
		if first && (randomAccess || withPCR) {
			adaptationFieldControl = 0x30 // adaptation field + payload
		}
		pkt[3] = adaptationFieldControl | (*cc & 0x0F)
		*cc = (*cc + 1) & 0x0F

		if first && (randomAccess || withPCR) {
			afLen := byte(1)
			afFlags := byte(0)
			if randomAccess {
				afFlags |= 0x40
			}
			if withPCR {
				afFlags |= 0x10
				afLen += 6
			}
			pkt[headerLen] = afLen
			pkt[headerLen+1] = afFlags
			headerLen += 2

			if withPCR {
				pcr27 := pcrBase * 300
				base := (pcr27 / 300) & 0x1FFFFFFFF
				ext := uint16(pcr27 % 300)
				pkt[headerLen] = byte(base >> 25)
				pkt[headerLen+1] = byte(base >> 17)
				pkt[headerLen+2] = byte(base >> 9)
				pkt[headerLen+3] = byte(base >> 1)
				pkt[headerLen+4] = byte(base<<7) | 0x7E | byte(ext>>8)
				pkt[headerLen+5] = byte(ext)
				headerLen += 6
			}
		}

		payloadSpace := packetSize - headerLen
		chunk := len(pesData) - offset
		if chunk > payloadSpace {
			chunk = payloadSpace
		}
		copy(pkt[headerLen:], pesData[offset:offset+chunk])
		offset += chunk

		for i := headerLen + chunk; i < packetSize; i++ {
			pkt[i] = 0xFF
		}

		packets = append(packets, pkt)
		first = false
	}

	return packets
}

// SegmentFilename returns the conventional segment filename for sequence.
func SegmentFilename(sequence uint64) string {
	return fmt.Sprintf("segment_%d.ts", sequence)
}
