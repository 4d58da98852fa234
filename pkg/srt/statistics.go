package srt

import (
	"sync"
	"time"
)

// ConnectionStats is a point-in-time snapshot of one connection's counters.
type ConnectionStats struct {
	PacketsSent         uint64
	PacketsSentUnique   uint64
	PacketsRetransmitted uint64
	PacketsReceived     uint64
	PacketsReceivedUnique uint64
	PacketsDuplicate    uint64
	BytesSent           uint64
	BytesReceived       uint64
	PacketsLost         uint64
	LossRate            float64

	SRTT     time.Duration
	SendRateBps int64
	RecvRateBps int64
	EstimatedBandwidthBps int64

	CWnd            uint32
	SSThresh        float64
	CongestionState string
	SendBufferSize  int
	RecvBufferSize  int
}

// rateSample is one second-bucket of byte counts for the sliding
// send/receive rate windows.
type rateSample struct {
	second int64
	bytes  uint64
}

// Statistics accumulates ConnectionStats' counters live, for one connection.
// Send/receive rates are measured over a sliding window of the last few
// one-second buckets; estimated bandwidth is min(send_rate, recv_rate)
// over that same window.
type Statistics struct {
	mu sync.Mutex

	packetsSent          uint64
	packetsSentUnique    uint64
	packetsRetransmitted uint64
	packetsReceived      uint64
	packetsReceivedUnique uint64
	packetsDuplicate     uint64
	bytesSent            uint64
	bytesReceived        uint64
	packetsLost          uint64
	ackedTotal           uint64

	sendWindow []rateSample
	recvWindow []rateSample

	windowSize int
}

// NewStatistics creates a statistics collector with a 5-second sliding
// rate window.
func NewStatistics() *Statistics {
	return &Statistics{windowSize: 5}
}

// RecordSent accounts for a newly-transmitted (non-retransmit) packet.
func (s *Statistics) RecordSent(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetsSent++
	s.packetsSentUnique++
	s.bytesSent += uint64(n)
	s.pushSample(&s.sendWindow, n)
}

// RecordRetransmit accounts for a retransmitted packet.
func (s *Statistics) RecordRetransmit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetsSent++
	s.packetsRetransmitted++
	s.bytesSent += uint64(n)
	s.pushSample(&s.sendWindow, n)
}

// RecordACK accounts for ackedCount newly-acknowledged packets.
func (s *Statistics) RecordACK(ackedCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackedTotal += uint64(ackedCount)
}

// RecordReceived accounts for an inbound data packet.
func (s *Statistics) RecordReceived(n int, duplicate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetsReceived++
	s.bytesReceived += uint64(n)
	if duplicate {
		s.packetsDuplicate++
	} else {
		s.packetsReceivedUnique++
	}
	s.pushSample(&s.recvWindow, n)
}

// RecordLoss accounts for n newly-detected lost packets (NAK or timeout).
func (s *Statistics) RecordLoss(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetsLost += uint64(n)
}

// pushSample appends a one-second bucket to window, keyed by wall-clock
// second, coalescing samples landing in the same second and evicting
// buckets older than windowSize seconds.
func (s *Statistics) pushSample(window *[]rateSample, n int) {
	sec := time.Now().Unix()
	w := *window
	if len(w) > 0 && w[len(w)-1].second == sec {
		w[len(w)-1].bytes += uint64(n)
	} else {
		w = append(w, rateSample{second: sec, bytes: uint64(n)})
	}

	cutoff := sec - int64(s.windowSize)
	i := 0
	for i < len(w) && w[i].second < cutoff {
		i++
	}
	*window = w[i:]
}

func windowRateBps(window []rateSample, windowSize int) int64 {
	if len(window) == 0 {
		return 0
	}
	var total uint64
	for _, s := range window {
		total += s.bytes
	}
	span := len(window)
	if span > windowSize {
		span = windowSize
	}
	if span == 0 {
		span = 1
	}
	return int64(total*8) / int64(span)
}

// Snapshot returns the current counters plus derived rates. CWnd,
// SSThresh, CongestionState, and buffer sizes are filled in by the
// owning Connection.
func (s *Statistics) Snapshot() ConnectionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lossRate float64
	if s.packetsSent > 0 {
		lossRate = float64(s.packetsLost) / float64(s.packetsSent)
	}

	sendRate := windowRateBps(s.sendWindow, s.windowSize)
	recvRate := windowRateBps(s.recvWindow, s.windowSize)
	estBandwidth := sendRate
	if recvRate < estBandwidth {
		estBandwidth = recvRate
	}

	return ConnectionStats{
		PacketsSent:           s.packetsSent,
		PacketsSentUnique:     s.packetsSentUnique,
		PacketsRetransmitted:  s.packetsRetransmitted,
		PacketsReceived:       s.packetsReceived,
		PacketsReceivedUnique: s.packetsReceivedUnique,
		PacketsDuplicate:      s.packetsDuplicate,
		BytesSent:             s.bytesSent,
		BytesReceived:         s.bytesReceived,
		PacketsLost:           s.packetsLost,
		LossRate:              lossRate,
		SendRateBps:           sendRate,
		RecvRateBps:           recvRate,
		EstimatedBandwidthBps: estBandwidth,
	}
}
