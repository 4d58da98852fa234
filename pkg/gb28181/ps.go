// Package gb28181 implements the GB28181 ingress surface: a MPEG-PS
// demuxer, a minimal SIP/2.0 endpoint, permissive Catalog/DeviceInfo XML
// parsing, and a device registry with keepalive expiry.
package gb28181

import (
	"encoding/binary"
	"fmt"
)

// PS start-code stream IDs (ISO/IEC 13818-1).
const (
	psPackHeader        = 0xBA
	psSystemHeader      = 0xBB
	psProgramStreamMap  = 0xBC
	psVideoStreamMin    = 0xE0
	psVideoStreamMax    = 0xEF
	psAudioStreamMin    = 0xC0
	psAudioStreamMax    = 0xDF
)

// PESUnit is one demuxed elementary-stream payload slice, plus which queue
// (video/audio) it belongs to.
type PESUnit struct {
	IsVideo bool
	Payload []byte
}

// Demuxer walks an MPEG Program Stream buffer, emitting PES payload slices
// for the video and audio elementary streams it finds. It does not buffer
// partial input across calls: callers feed it complete PS buffers (e.g. one
// GB28181 RTP payload's worth, concatenated as needed by the caller).
type Demuxer struct {
	OnPESUnit func(u PESUnit)
}

// NewDemuxer creates a PS demuxer.
func NewDemuxer() *Demuxer {
	return &Demuxer{}
}

// Feed scans buf left to right for 4-byte start codes (00 00 01 xx) and
// dispatches each recognized unit.
func (d *Demuxer) Feed(buf []byte) error {
	i := 0
	for i+4 <= len(buf) {
		if buf[i] != 0x00 || buf[i+1] != 0x00 || buf[i+2] != 0x01 {
			i++
			continue
		}

		streamID := buf[i+3]
		switch {
		case streamID == psPackHeader:
			n, err := packHeaderLen(buf[i:])
			if err != nil {
				return err
			}
			i += n

		case streamID == psSystemHeader:
			n, err := sizedHeaderLen(buf[i:])
			if err != nil {
				return err
			}
			i += n

		case streamID == psProgramStreamMap:
			n, err := sizedHeaderLen(buf[i:])
			if err != nil {
				return err
			}
			i += n

		case streamID >= psVideoStreamMin && streamID <= psVideoStreamMax:
			n, payload, err := pesUnit(buf[i:])
			if err != nil {
				return err
			}
			if d.OnPESUnit != nil && len(payload) > 0 {
				d.OnPESUnit(PESUnit{IsVideo: true, Payload: payload})
			}
			i += n

		case streamID >= psAudioStreamMin && streamID <= psAudioStreamMax:
			n, payload, err := pesUnit(buf[i:])
			if err != nil {
				return err
			}
			if d.OnPESUnit != nil && len(payload) > 0 {
				d.OnPESUnit(PESUnit{IsVideo: false, Payload: payload})
			}
			i += n

		default:
			i += 4
		}
	}

	return nil
}

// packHeaderLen returns the byte length of a pack header: fixed 14 bytes
// plus a stuffing length in the low 3 bits of byte 13.
func packHeaderLen(buf []byte) (int, error) {
	if len(buf) < 14 {
		return 0, fmt.Errorf("gb28181: pack header truncated")
	}
	stuffing := int(buf[13] & 0x07)
	total := 14 + stuffing
	if len(buf) < total {
		return 0, fmt.Errorf("gb28181: pack header stuffing exceeds buffer")
	}
	return total, nil
}

// sizedHeaderLen returns the byte length of a unit whose body length is a
// 16-bit big-endian value at offset 4 (system header, program stream map).
func sizedHeaderLen(buf []byte) (int, error) {
	if len(buf) < 6 {
		return 0, fmt.Errorf("gb28181: header truncated")
	}
	length := binary.BigEndian.Uint16(buf[4:6])
	total := 6 + int(length)
	if len(buf) < total {
		return 0, fmt.Errorf("gb28181: header length exceeds buffer")
	}
	return total, nil
}

// pesUnit parses a PES packet starting at buf[0:4]=start code, returning
// the total bytes consumed and the elementary-stream payload. A PES length
// of 0 means "unbounded until the next start code"; in that case the
// payload runs to the end of buf (the caller is expected to hand us one
// complete unit at a time when length is 0).
func pesUnit(buf []byte) (int, []byte, error) {
	if len(buf) < 6 {
		return 0, nil, fmt.Errorf("gb28181: PES header truncated")
	}

	pesLength := int(binary.BigEndian.Uint16(buf[4:6]))

	if len(buf) < 9 {
		return 0, nil, fmt.Errorf("gb28181: PES optional header truncated")
	}
	headerDataLength := int(buf[8])
	payloadStart := 9 + headerDataLength

	if pesLength == 0 {
		if len(buf) < payloadStart {
			return 0, nil, fmt.Errorf("gb28181: PES payload offset exceeds buffer")
		}
		return len(buf), buf[payloadStart:], nil
	}

	total := 6 + pesLength
	if len(buf) < total || total < payloadStart {
		return 0, nil, fmt.Errorf("gb28181: PES length exceeds buffer")
	}
	return total, buf[payloadStart:total], nil
}
