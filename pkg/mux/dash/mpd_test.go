package dash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMPD_Generate(t *testing.T) {
	m := NewMPD(2000, []Representation{
		{ID: "high", BandwidthBps: 2000000, Width: 1920, Height: 1080, Codecs: "avc1.64001f"},
		{ID: "low", BandwidthBps: 800000, Width: 1280, Height: 720, Codecs: "avc1.4d0020"},
	})

	out := m.Generate(3)

	require.Contains(t, out, `type="dynamic"`)
	require.Contains(t, out, `startNumber="3"`)
	require.Contains(t, out, `timescale="1000"`)
	require.Contains(t, out, `duration="2000"`)
	require.Contains(t, out, `id="high"`)
	require.Contains(t, out, `id="low"`)
}
