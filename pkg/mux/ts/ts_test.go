package ts

import (
	"testing"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
	"github.com/stretchr/testify/require"
)

func TestMuxer_PATPMTSentOnce(t *testing.T) {
	m := NewMuxer(mediatypes.CodecH264, mediatypes.CodecAAC)

	packets := m.MuxVideo([]byte{0x00, 0x00, 0x00, 0x01, 0x67}, 90000, 90000, true)
	require.GreaterOrEqual(t, len(packets), 3)
	require.True(t, m.patPMTSent)

	for _, p := range packets {
		require.Len(t, p, packetSize)
		require.Equal(t, byte(0x47), p[0])
	}

	// Second call must not re-send PAT/PMT.
	packets2 := m.MuxVideo([]byte{0x01, 0x02}, 93000, 93000, false)
	require.Len(t, packets2, 1)
}

func TestCRC32MPEG2_Deterministic(t *testing.T) {
	a := crc32MPEG2([]byte{0x00, 0xB0, 0x0D})
	b := crc32MPEG2([]byte{0x00, 0xB0, 0x0D})
	require.Equal(t, a, b)

	c := crc32MPEG2([]byte{0x00, 0xB0, 0x0E})
	require.NotEqual(t, a, c)
}

func TestMuxer_Reset(t *testing.T) {
	m := NewMuxer(mediatypes.CodecH264, mediatypes.CodecAAC)
	m.MuxVideo([]byte{0x01}, 0, 0, true)
	require.True(t, m.patPMTSent)

	m.Reset()
	require.False(t, m.patPMTSent)
	require.Equal(t, uint8(0), m.ccVideo)
}
