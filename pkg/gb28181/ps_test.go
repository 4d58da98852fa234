package gb28181

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func pesPacket(streamID byte, payload []byte) []byte {
	body := append([]byte{0x80, 0x00, 0x00}, payload...) // flags, flags2, headerDataLength=0
	pesLength := len(body)
	buf := []byte{0x00, 0x00, 0x01, streamID, byte(pesLength >> 8), byte(pesLength)}
	return append(buf, body...)
}

func TestDemuxer_Feed_EmitsVideoAndAudioPESUnits(t *testing.T) {
	packHeader := append([]byte{0x00, 0x00, 0x01, psPackHeader}, make([]byte, 10)...)
	video := pesPacket(psVideoStreamMin, []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0xAA})
	audio := pesPacket(psAudioStreamMin, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	var units []PESUnit
	d := NewDemuxer()
	d.OnPESUnit = func(u PESUnit) { units = append(units, u) }

	buf := append(append(packHeader, video...), audio...)
	require.NoError(t, d.Feed(buf))

	require.Len(t, units, 2)
	require.True(t, units[0].IsVideo)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0xAA}, units[0].Payload)
	require.False(t, units[1].IsVideo)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, units[1].Payload)
}

func TestDemuxer_Feed_SkipsSystemHeaderAndProgramStreamMap(t *testing.T) {
	sysHeader := []byte{0x00, 0x00, 0x01, psSystemHeader, 0x00, 0x03, 0xAA, 0xBB, 0xCC}
	psm := []byte{0x00, 0x00, 0x01, psProgramStreamMap, 0x00, 0x02, 0x11, 0x22}
	video := pesPacket(psVideoStreamMin, []byte{0x01})

	var units []PESUnit
	d := NewDemuxer()
	d.OnPESUnit = func(u PESUnit) { units = append(units, u) }

	buf := append(append(sysHeader, psm...), video...)
	require.NoError(t, d.Feed(buf))
	require.Len(t, units, 1)
	require.True(t, units[0].IsVideo)
}

func TestPackHeaderLen_TruncatedReturnsError(t *testing.T) {
	_, err := packHeaderLen([]byte{0x00, 0x00, 0x01, psPackHeader})
	require.Error(t, err)
}

func TestPESUnit_ZeroLengthRunsToBufferEnd(t *testing.T) {
	// pesLength=0 means "unbounded"; payload should run to end of buf.
	buf := []byte{0x00, 0x00, 0x01, psVideoStreamMin, 0x00, 0x00, 0x80, 0x00, 0x00, 0xFE, 0xED}
	n, payload, err := pesUnit(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, []byte{0xFE, 0xED}, payload)
}

func TestDemuxer_Feed_SkipsUnrecognizedStreamID(t *testing.T) {
	junk := []byte{0x00, 0x00, 0x01, 0x00} // below audio/video/pack ranges
	video := pesPacket(psVideoStreamMin, []byte{0x42})

	var units []PESUnit
	d := NewDemuxer()
	d.OnPESUnit = func(u PESUnit) { units = append(units, u) }

	require.NoError(t, d.Feed(append(junk, video...)))
	require.Len(t, units, 1)
}
