// Package rtp implements RTP depacketization for the codecs this platform
// ingests: H.264 (RFC 6184), H.265 (RFC 7798), and AAC-hbr (RFC 3640). Each
// processor consumes *rtp.Packet (pion/rtp's header parse) and emits
// reassembled mediatypes.MediaPacket access units.
package rtp

import (
	"encoding/binary"
	"fmt"

	pionrtp "github.com/pion/rtp"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

const (
	// H.264 NAL Unit types (RFC 6184)
	NALUTypeUnspecified = 0
	NALUTypePFrame      = 1
	NALUTypeIFrame      = 5
	NALUTypeSEI         = 6
	NALUTypeSPS         = 7
	NALUTypePPS         = 8
	NALUTypeAUD         = 9
	NALUTypeSTAPA       = 24 // Single-Time Aggregation Packet
	NALUTypeFUA         = 28 // Fragmentation Unit A
	NALUTypeFUB         = 29 // Fragmentation Unit B (unsupported, discarded)
)

// H264Processor handles H.264 RTP depacketization (RFC 6184).
type H264Processor struct {
	buffer      []byte // accumulates a fragmented NALU across FU-A packets
	fragTS      uint32
	fragmenting bool
	sps         []byte
	pps         []byte

	// OnFrame is called once per emitted access unit.
	OnFrame func(pkt *mediatypes.MediaPacket)
}

// NewH264Processor creates a new H.264 RTP processor.
func NewH264Processor() *H264Processor {
	return &H264Processor{
		buffer: make([]byte, 0, 1024*1024),
	}
}

// ProcessPacket processes an RTP packet containing H.264 data.
func (p *H264Processor) ProcessPacket(packet *pionrtp.Packet) error {
	if len(packet.Payload) == 0 {
		return nil
	}

	payload := packet.Payload
	naluType := payload[0] & 0x1F

	switch naluType {
	case NALUTypeFUA:
		return p.processFUA(packet)
	case NALUTypeSTAPA:
		return p.processSTAPA(packet)
	case NALUTypeFUB:
		return nil // FU-B is vanishingly rare in practice; discard per spec
	default:
		return p.processSingleNALU(packet)
	}
}

// processFUA handles fragmented NAL units (FU-A).
func (p *H264Processor) processFUA(packet *pionrtp.Packet) error {
	if len(packet.Payload) < 2 {
		return fmt.Errorf("h264: FU-A packet too short")
	}

	fuIndicator := packet.Payload[0]
	fuHeader := packet.Payload[1]
	payload := packet.Payload[2:]

	start := (fuHeader & 0x80) != 0
	end := (fuHeader & 0x40) != 0
	naluType := fuHeader & 0x1F

	if start {
		p.buffer = p.buffer[:0]
		p.fragTS = packet.Timestamp
		p.fragmenting = true

		nalHeader := (fuIndicator & 0xE0) | naluType
		p.buffer = append(p.buffer, nalHeader)
	} else if !p.fragmenting || packet.Timestamp != p.fragTS {
		// Timestamp mismatch mid-fragment: drop the partial NALU and wait
		// for the next start bit.
		p.fragmenting = false
		p.buffer = p.buffer[:0]
		return nil
	}

	p.buffer = append(p.buffer, payload...)

	if end {
		p.fragmenting = false
		return p.emitNALU(p.buffer, naluType, packet.Timestamp, true)
	}

	return nil
}

// processSTAPA handles aggregated packets (STAP-A).
func (p *H264Processor) processSTAPA(packet *pionrtp.Packet) error {
	payload := packet.Payload[1:] // skip STAP-A header byte

	for len(payload) > 2 {
		naluSize := binary.BigEndian.Uint16(payload[:2])
		payload = payload[2:]

		if len(payload) < int(naluSize) {
			return fmt.Errorf("h264: STAP-A NALU size exceeds payload")
		}

		nalu := payload[:naluSize]
		payload = payload[naluSize:]

		naluType := nalu[0] & 0x1F
		p.storeParamSet(naluType, nalu)

		if err := p.emitNALU(nalu, naluType, packet.Timestamp, true); err != nil {
			return err
		}
	}

	return nil
}

// processSingleNALU handles single NAL units.
func (p *H264Processor) processSingleNALU(packet *pionrtp.Packet) error {
	nalu := packet.Payload
	naluType := nalu[0] & 0x1F
	return p.emitNALU(nalu, naluType, packet.Timestamp, true)
}

func (p *H264Processor) storeParamSet(naluType uint8, nalu []byte) {
	if naluType == NALUTypeSPS {
		p.sps = append([]byte(nil), nalu...)
	} else if naluType == NALUTypePPS {
		p.pps = append([]byte(nil), nalu...)
	}
}

// emitNALU emits a complete NALU as a MediaPacket, bare (no AVCC length
// prefix, no parameter-set fusion): those are framing concerns for
// whichever mux layer consumes the packet, not this depacketizer.
func (p *H264Processor) emitNALU(nalu []byte, naluType uint8, ts uint32, final bool) error {
	p.storeParamSet(naluType, nalu)

	isKeyframe := naluType == NALUTypeIFrame

	if p.OnFrame != nil && final {
		p.OnFrame(&mediatypes.MediaPacket{
			Payload:    nalu,
			PTS:        ts,
			DTS:        ts,
			IsKeyframe: isKeyframe,
			MediaKind:  mediatypes.MediaVideo,
			Codec:      mediatypes.CodecH264,
		})
	}

	return nil
}

// GetSPS returns the stored SPS.
func (p *H264Processor) GetSPS() []byte { return p.sps }

// GetPPS returns the stored PPS.
func (p *H264Processor) GetPPS() []byte { return p.pps }
