package flv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMuxer_Header(t *testing.T) {
	m := NewMuxer()
	require.False(t, m.HeaderSent())

	h := m.Header()
	require.True(t, m.HeaderSent())

	require.Len(t, h, 13)
	require.Equal(t, "FLV", string(h[0:3]))
	require.Equal(t, byte(1), h[3])
	require.Equal(t, byte(0x05), h[4])
}

func TestMuxVideoTag(t *testing.T) {
	payload := []byte{0x17, 0x01, 0x00, 0x00, 0x00}
	tag := MuxVideoTag(payload, 1000, true, false, 0)

	require.Equal(t, byte(TagVideo), tag[0])

	dataSize := int(tag[1])<<16 | int(tag[2])<<8 | int(tag[3])
	require.Equal(t, 5+len(payload), dataSize)

	ts := uint32(tag[4])<<16 | uint32(tag[5])<<8 | uint32(tag[6]) | uint32(tag[7])<<24
	require.Equal(t, uint32(1000), ts)

	require.Equal(t, byte(0x17), tag[11]) // keyframe nibble | AVC codec id
}

func TestMuxAudioTag(t *testing.T) {
	payload := []byte{0x01, 0x02}
	tag := MuxAudioTag(payload, 500, false)

	require.Equal(t, byte(TagAudio), tag[0])
	dataSize := int(tag[1])<<16 | int(tag[2])<<8 | int(tag[3])
	require.Equal(t, 2+len(payload), dataSize)
}
