package srt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCongestionController_AIMDOnLoss(t *testing.T) {
	c := NewCongestionController(10, 100)
	c.cwnd = 10
	c.ssthresh = 50

	c.OnACK(5) // SlowStart: cwnd += 5
	require.Equal(t, SlowStart, c.State())
	require.InDelta(t, 15, c.cwnd, 0.001)

	c.OnLoss() // ssthresh = max(cwnd/2, 2) = 7, cwnd = 7, state = FastRecovery
	require.Equal(t, FastRecovery, c.State())
	require.InDelta(t, 7, c.ssthresh, 0.001)
	require.InDelta(t, 7, c.cwnd, 0.001)

	c.OnACK(1) // next ACK exits FastRecovery into CongestionAvoidance, cwnd unchanged
	require.Equal(t, CongestionAvoidance, c.State())
	require.InDelta(t, 7, c.cwnd, 0.001)
}

func TestCongestionController_CWndClamped(t *testing.T) {
	c := NewCongestionController(2, 20)
	for i := 0; i < 100; i++ {
		c.OnACK(50)
	}
	require.LessOrEqual(t, c.CWnd(), uint32(20))
	require.GreaterOrEqual(t, c.CWnd(), uint32(2))
}

func TestRTTStatistics_RFC6298(t *testing.T) {
	var r RTTStatistics
	r.Update(100 * time.Millisecond)
	require.Equal(t, 100*time.Millisecond, r.SRTT())

	r.Update(200 * time.Millisecond)
	require.Greater(t, r.SRTT(), 100*time.Millisecond)
}

func TestRTO_DefaultAndClamp(t *testing.T) {
	var r RTTStatistics
	require.Equal(t, time.Second, r.RTO())

	r.Update(1 * time.Millisecond)
	require.GreaterOrEqual(t, r.RTO(), 200*time.Millisecond)
}
