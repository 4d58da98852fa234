package rtp

import (
	"encoding/binary"
	"fmt"

	pionrtp "github.com/pion/rtp"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

const (
	// H.265 NAL unit types of interest (RFC 7798).
	H265NALTypeAP  = 48 // Aggregation Packet
	H265NALTypeFU  = 49 // Fragmentation Unit

	h265IDRWRadl = 19
	h265IDRNLP   = 20
	h265CRANUT   = 21
	h265VPS      = 32
	h265SPS      = 33
	h265PPS      = 34
)

// H265Processor handles H.265/HEVC RTP depacketization (RFC 7798): the
// teacher never shipped one, so this follows the H.264 processor's shape
// generalized to the 2-byte NAL/FU header layout RFC 7798 uses instead of
// H.264's 1-byte header.
type H265Processor struct {
	buffer      []byte
	fragTS      uint32
	fragmenting bool
	vps         []byte
	sps         []byte
	pps         []byte

	OnFrame func(pkt *mediatypes.MediaPacket)
}

// NewH265Processor creates a new H.265 RTP processor.
func NewH265Processor() *H265Processor {
	return &H265Processor{
		buffer: make([]byte, 0, 1024*1024),
	}
}

func h265NALType(header uint16) uint8 {
	return uint8((header >> 9) & 0x3F)
}

// ProcessPacket processes an RTP packet containing H.265 data.
func (p *H265Processor) ProcessPacket(packet *pionrtp.Packet) error {
	if len(packet.Payload) < 2 {
		return nil
	}

	header := binary.BigEndian.Uint16(packet.Payload[:2])
	naluType := h265NALType(header)

	switch naluType {
	case H265NALTypeFU:
		return p.processFU(packet, header)
	case H265NALTypeAP:
		return p.processAP(packet)
	default:
		return p.processSingleNALU(packet, naluType)
	}
}

func (p *H265Processor) processSingleNALU(packet *pionrtp.Packet, naluType uint8) error {
	return p.emitNALU(packet.Payload, naluType, packet.Timestamp)
}

func (p *H265Processor) processAP(packet *pionrtp.Packet) error {
	payload := packet.Payload[2:] // skip the 2-byte AP payload header

	for len(payload) > 2 {
		size := binary.BigEndian.Uint16(payload[:2])
		payload = payload[2:]

		if len(payload) < int(size) {
			return fmt.Errorf("h265: AP NALU size exceeds payload")
		}

		nalu := payload[:size]
		payload = payload[size:]

		if len(nalu) < 2 {
			continue
		}
		naluType := h265NALType(binary.BigEndian.Uint16(nalu[:2]))
		if err := p.emitNALU(nalu, naluType, packet.Timestamp); err != nil {
			return err
		}
	}

	return nil
}

func (p *H265Processor) processFU(packet *pionrtp.Packet, payloadHeader uint16) error {
	if len(packet.Payload) < 3 {
		return fmt.Errorf("h265: FU packet too short")
	}

	fuHeader := packet.Payload[2]
	payload := packet.Payload[3:]

	start := (fuHeader & 0x80) != 0
	end := (fuHeader & 0x40) != 0
	fuType := fuHeader & 0x3F

	if start {
		p.buffer = p.buffer[:0]
		p.fragTS = packet.Timestamp
		p.fragmenting = true

		// Rebuild the 2-byte NAL/payload header with FuType substituted
		// for the aggregated nal_type field (bits 9-14).
		reconstructed := (payloadHeader &^ (0x3F << 9)) | (uint16(fuType) << 9)
		p.buffer = append(p.buffer, byte(reconstructed>>8), byte(reconstructed))
	} else if !p.fragmenting || packet.Timestamp != p.fragTS {
		p.fragmenting = false
		p.buffer = p.buffer[:0]
		return nil
	}

	p.buffer = append(p.buffer, payload...)

	if end {
		p.fragmenting = false
		return p.emitNALU(p.buffer, fuType, packet.Timestamp)
	}

	return nil
}

func (p *H265Processor) storeParamSet(naluType uint8, nalu []byte) {
	switch naluType {
	case h265VPS:
		p.vps = append([]byte(nil), nalu...)
	case h265SPS:
		p.sps = append([]byte(nil), nalu...)
	case h265PPS:
		p.pps = append([]byte(nil), nalu...)
	}
}

// emitNALU emits a complete NALU as a MediaPacket, bare (no AVCC length
// prefix, no VPS/SPS/PPS fusion): those are framing concerns for
// whichever mux layer consumes the packet, not this depacketizer.
func (p *H265Processor) emitNALU(nalu []byte, naluType uint8, ts uint32) error {
	p.storeParamSet(naluType, nalu)

	isKeyframe := naluType == h265IDRWRadl || naluType == h265IDRNLP || naluType == h265CRANUT ||
		naluType == h265VPS || naluType == h265SPS || naluType == h265PPS

	if p.OnFrame != nil {
		p.OnFrame(&mediatypes.MediaPacket{
			Payload:    nalu,
			PTS:        ts,
			DTS:        ts,
			IsKeyframe: isKeyframe,
			MediaKind:  mediatypes.MediaVideo,
			Codec:      mediatypes.CodecH265,
		})
	}

	return nil
}

// GetVPS returns the stored VPS.
func (p *H265Processor) GetVPS() []byte { return p.vps }

// GetSPS returns the stored SPS.
func (p *H265Processor) GetSPS() []byte { return p.sps }

// GetPPS returns the stored PPS.
func (p *H265Processor) GetPPS() []byte { return p.pps }
