package rtp

import (
	"testing"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

func TestH264Processor_FUAReassembly(t *testing.T) {
	var got *mediatypes.MediaPacket
	p := NewH264Processor()
	p.OnFrame = func(pkt *mediatypes.MediaPacket) { got = pkt }

	start := &pionrtp.Packet{
		Header:  pionrtp.Header{Timestamp: 2000},
		Payload: []byte{0x7C, 0x85, 0x01, 0x02, 0x03},
	}
	end := &pionrtp.Packet{
		Header:  pionrtp.Header{Timestamp: 2000},
		Payload: []byte{0x7C, 0x45, 0x04, 0x05, 0x06},
	}

	require.NoError(t, p.ProcessPacket(start))
	require.Nil(t, got, "no frame should be emitted until the end fragment")

	require.NoError(t, p.ProcessPacket(end))
	require.NotNil(t, got)

	want := []byte{0x65, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	require.Equal(t, want, got.Payload)
	require.True(t, got.IsKeyframe)
	require.Equal(t, uint32(2000), got.PTS)
}

func TestH264Processor_TimestampMismatchDropsPartial(t *testing.T) {
	var frames int
	p := NewH264Processor()
	p.OnFrame = func(pkt *mediatypes.MediaPacket) { frames++ }

	start := &pionrtp.Packet{
		Header:  pionrtp.Header{Timestamp: 2000},
		Payload: []byte{0x7C, 0x85, 0x01, 0x02},
	}
	otherTS := &pionrtp.Packet{
		Header:  pionrtp.Header{Timestamp: 3000},
		Payload: []byte{0x7C, 0x45, 0x04, 0x05},
	}

	require.NoError(t, p.ProcessPacket(start))
	require.NoError(t, p.ProcessPacket(otherTS))
	require.Equal(t, 0, frames, "fragment from a different access unit must be dropped, not merged")
}

func TestH264Processor_SingleNALUEmitsImmediately(t *testing.T) {
	var got *mediatypes.MediaPacket
	p := NewH264Processor()
	p.OnFrame = func(pkt *mediatypes.MediaPacket) { got = pkt }

	pkt := &pionrtp.Packet{
		Header:  pionrtp.Header{Timestamp: 1000},
		Payload: []byte{0x41, 0xAA, 0xBB}, // type 1, P-frame
	}
	require.NoError(t, p.ProcessPacket(pkt))
	require.NotNil(t, got)
	require.False(t, got.IsKeyframe)
}
