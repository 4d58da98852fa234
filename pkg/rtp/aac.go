package rtp

import (
	"encoding/binary"
	"fmt"

	pionrtp "github.com/pion/rtp"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

const (
	// AACClockRate is the default RTP clock rate for AAC-hbr audio.
	AACClockRate = 48000
	// AUTime is the number of samples per AAC frame.
	AUTime = 1024
)

// AACProcessor handles AAC-hbr RTP depacketization (RFC 3640).
type AACProcessor struct {
	// OnFrame is called once per access unit extracted from a packet.
	OnFrame func(pkt *mediatypes.MediaPacket)
}

// NewAACProcessor creates a new AAC RTP processor.
func NewAACProcessor() *AACProcessor {
	return &AACProcessor{}
}

// ProcessPacket processes an RTP packet containing AAC-hbr data: a 16-bit
// AU-headers-length, then that many bits of 16-bit AU headers (13-bit size
// + 3-bit index/index-delta), then the concatenated AU payloads.
func (p *AACProcessor) ProcessPacket(packet *pionrtp.Packet) error {
	if len(packet.Payload) < 2 {
		return fmt.Errorf("aac: packet too short")
	}

	payload := packet.Payload

	auHeadersLength := binary.BigEndian.Uint16(payload[:2])
	auHeadersLengthBytes := (auHeadersLength + 7) / 8

	if len(payload) < int(2+auHeadersLengthBytes) {
		return fmt.Errorf("aac: packet malformed, AU-headers-length exceeds payload")
	}

	auHeaders := payload[2 : 2+auHeadersLengthBytes]
	auData := payload[2+auHeadersLengthBytes:]

	offset := 0
	for len(auHeaders) >= 2 {
		auSize := int(binary.BigEndian.Uint16(auHeaders[:2]) >> 3)
		auHeaders = auHeaders[2:]

		if offset+auSize > len(auData) {
			break
		}

		frame := auData[offset : offset+auSize]
		offset += auSize

		if p.OnFrame != nil && len(frame) > 0 {
			p.OnFrame(&mediatypes.MediaPacket{
				Payload:    append([]byte(nil), frame...),
				PTS:        packet.Timestamp,
				DTS:        packet.Timestamp,
				IsKeyframe: false,
				MediaKind:  mediatypes.MediaAudio,
				Codec:      mediatypes.CodecAAC,
			})
		}
	}

	return nil
}
