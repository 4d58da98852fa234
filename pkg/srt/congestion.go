package srt

import (
	"math"
	"time"
)

// CongestionState is the AIMD state machine's current phase.
type CongestionState int

const (
	SlowStart CongestionState = iota
	CongestionAvoidance
	FastRecovery
)

func (s CongestionState) String() string {
	switch s {
	case SlowStart:
		return "slow_start"
	case CongestionAvoidance:
		return "congestion_avoidance"
	case FastRecovery:
		return "fast_recovery"
	default:
		return "unknown"
	}
}

// CongestionController implements the AIMD slow-start / congestion-
// avoidance / fast-recovery state machine.
type CongestionController struct {
	cwnd      float64
	ssthresh  float64
	state     CongestionState
	maxWindow uint32
	lossCount uint32
	rtt       RTTStatistics
}

// NewCongestionController creates a controller with the given initial
// window and max window; ssthresh starts at max_window/2 per the original
// implementation this is grounded on.
func NewCongestionController(initialWindow, maxWindow uint32) *CongestionController {
	return &CongestionController{
		cwnd:      float64(initialWindow),
		ssthresh:  float64(maxWindow) / 2,
		state:     SlowStart,
		maxWindow: maxWindow,
	}
}

// CWnd returns the current congestion window, clamped to [2, maxWindow].
func (c *CongestionController) CWnd() uint32 {
	w := c.cwnd
	if w > float64(c.maxWindow) {
		w = float64(c.maxWindow)
	}
	if w < 2 {
		w = 2
	}
	return uint32(w)
}

// SSThresh returns the current slow-start threshold.
func (c *CongestionController) SSThresh() float64 { return c.ssthresh }

// State returns the current congestion-control state.
func (c *CongestionController) State() CongestionState { return c.state }

// OnACK advances the congestion window on a fresh (non-duplicate) ACK
// covering ackedPackets newly-acknowledged packets.
func (c *CongestionController) OnACK(ackedPackets float64) {
	switch c.state {
	case SlowStart:
		c.cwnd += ackedPackets
		if c.cwnd >= c.ssthresh {
			c.state = CongestionAvoidance
		}
	case CongestionAvoidance:
		if c.cwnd > 0 {
			c.cwnd += ackedPackets / c.cwnd
		}
	case FastRecovery:
		c.state = CongestionAvoidance
	}

	if c.cwnd > float64(c.maxWindow) {
		c.cwnd = float64(c.maxWindow)
	}
	if c.cwnd < 2 {
		c.cwnd = 2
	}
}

// OnLoss handles a detected loss event (NAK or retransmit timeout).
func (c *CongestionController) OnLoss() {
	c.lossCount++
	switch c.state {
	case FastRecovery:
		// Already recovering from a prior loss: decay further rather than
		// reset ssthresh again, matching the more conservative behavior
		// of repeated losses within one recovery window.
		c.cwnd *= 0.75
		if c.cwnd < 2 {
			c.cwnd = 2
		}
	default:
		c.ssthresh = math.Floor(c.cwnd / 2)
		if c.ssthresh < 2 {
			c.ssthresh = 2
		}
		c.cwnd = c.ssthresh
		c.state = FastRecovery
	}
}

// LossCount returns the number of loss events observed.
func (c *CongestionController) LossCount() uint32 { return c.lossCount }

// ResetLossCount zeroes the loss counter (used for a sliding loss-rate
// window by the statistics collector).
func (c *CongestionController) ResetLossCount() { c.lossCount = 0 }

// RTTStats returns the underlying RTT/RTO estimator for direct sampling.
func (c *CongestionController) RTTStats() *RTTStatistics { return &c.rtt }

// RTTStatistics implements RFC 6298's SRTT/RTTVAR/RTO computation.
type RTTStatistics struct {
	srtt        time.Duration
	rttvar      time.Duration
	minRTT      time.Duration
	maxRTT      time.Duration
	sampleCount int
}

// Update folds a new RTT sample R into the estimator.
func (r *RTTStatistics) Update(sample time.Duration) {
	if r.sampleCount == 0 {
		r.srtt = sample
		r.rttvar = sample / 2
	} else {
		diff := r.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		r.rttvar = (r.rttvar*3 + diff) / 4
		r.srtt = (r.srtt*7 + sample) / 8
	}
	r.sampleCount++

	if r.minRTT == 0 || sample < r.minRTT {
		r.minRTT = sample
	}
	if sample > r.maxRTT {
		r.maxRTT = sample
	}
}

// SRTT returns the smoothed RTT estimate.
func (r *RTTStatistics) SRTT() time.Duration { return r.srtt }

// RTO computes the retransmission timeout, clamped to [200ms, 60s], per
// RFC 6298. Returns 1s if no samples have been observed yet.
func (r *RTTStatistics) RTO() time.Duration {
	if r.sampleCount == 0 {
		return time.Second
	}
	rto := r.srtt + 4*r.rttvar
	if rto < 200*time.Millisecond {
		rto = 200 * time.Millisecond
	}
	if rto > 60*time.Second {
		rto = 60 * time.Second
	}
	return rto
}

// SampleCount returns how many RTT samples have been folded in.
func (r *RTTStatistics) SampleCount() int { return r.sampleCount }
