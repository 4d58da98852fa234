package srt

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// SocketState is the lifecycle state of an SRT connection.
type SocketState int

const (
	StateInit SocketState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// Connection is one SRT socket: handshake state plus send/receive buffers,
// congestion controller, and statistics, all owned exclusively by this
// connection (no independently-shared CC/statistics objects).
type Connection struct {
	mu sync.Mutex

	LocalID    uint32
	RemoteID   uint32
	RemoteAddr *net.UDPAddr
	State      SocketState

	sendBuf *SendBuffer
	recvBuf *ReceiveBuffer
	cc      *CongestionController
	stats   *Statistics

	sendSeq          uint32
	keepaliveDeadline time.Time
	lastDataSentAt    time.Time
	lastDataRecvAt    time.Time

	keepaliveInterval time.Duration
	connectionTimeout time.Duration
}

// NewConnection creates a connected SRT socket (post-handshake).
func NewConnection(localID, remoteID uint32, remoteAddr *net.UDPAddr, initialSendSeq, maxWindow uint32, keepaliveInterval, connectionTimeout time.Duration) *Connection {
	now := time.Now()
	return &Connection{
		LocalID:           localID,
		RemoteID:          remoteID,
		RemoteAddr:        remoteAddr,
		State:             StateConnected,
		sendBuf:           NewSendBuffer(8192),
		recvBuf:           NewReceiveBuffer(0, 8192),
		cc:                NewCongestionController(16, maxWindow),
		stats:             NewStatistics(),
		sendSeq:           initialSendSeq,
		lastDataSentAt:    now,
		lastDataRecvAt:    now,
		keepaliveDeadline: now.Add(connectionTimeout),
		keepaliveInterval: keepaliveInterval,
		connectionTimeout: connectionTimeout,
	}
}

// Send assigns the next sequence, inserts into the send buffer, and
// returns the DataPacket to transmit. Returns an error if the send buffer
// is full (BackpressureDrop at the caller).
func (c *Connection) Send(payload []byte) (*DataPacket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.sendSeq
	c.sendSeq++

	if !c.sendBuf.Insert(seq, payload) {
		return nil, fmt.Errorf("srt: send buffer full")
	}

	c.lastDataSentAt = time.Now()
	c.stats.RecordSent(len(payload))

	return &DataPacket{
		Sequence:     seq,
		Timestamp:    uint32(time.Now().UnixMicro()),
		DestSocketID: c.RemoteID,
		Payload:      payload,
	}, nil
}

// OnACK processes an ACK for every sequence <= ackSeq: drops it from the
// send buffer, folds any fresh (non-retransmitted) RTT samples into the
// congestion controller's RTT estimator, and advances cwnd.
func (c *Connection) OnACK(ackSeq uint32, ackedCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	samples := c.sendBuf.AckRange(ackSeq)
	for _, rtt := range samples {
		c.cc.RTTStats().Update(rtt)
	}
	if ackedCount > 0 {
		c.cc.OnACK(float64(ackedCount))
	}
	c.stats.RecordACK(ackedCount)
}

// OnNAK retransmits every listed sequence still in the send buffer and
// records a loss event.
func (c *Connection) OnNAK(seqs []uint32) []*DataPacket {
	c.mu.Lock()
	defer c.mu.Unlock()

	var retx []*DataPacket
	for _, seq := range seqs {
		item, ok := c.sendBuf.Get(seq)
		if !ok {
			continue
		}
		c.sendBuf.MarkRetransmitted(seq)
		c.stats.RecordRetransmit(len(item.Payload))
		retx = append(retx, &DataPacket{
			Sequence:     seq,
			Timestamp:    uint32(time.Now().UnixMicro()),
			DestSocketID: c.RemoteID,
			Payload:      item.Payload,
		})
	}
	if len(retx) > 0 {
		c.cc.OnLoss()
		c.stats.RecordLoss(len(retx))
	}
	return retx
}

// SweepTimeouts retransmits every send-buffer entry whose RTO has elapsed.
func (c *Connection) SweepTimeouts() []*DataPacket {
	c.mu.Lock()
	defer c.mu.Unlock()

	rto := c.cc.RTTStats().RTO()
	seqs := c.sendBuf.TimedOut(rto)
	if len(seqs) == 0 {
		return nil
	}

	var retx []*DataPacket
	for _, seq := range seqs {
		item, ok := c.sendBuf.Get(seq)
		if !ok {
			continue
		}
		c.stats.RecordRetransmit(len(item.Payload))
		retx = append(retx, &DataPacket{
			Sequence:     seq,
			Timestamp:    uint32(time.Now().UnixMicro()),
			DestSocketID: c.RemoteID,
			Payload:      item.Payload,
		})
	}
	c.cc.OnLoss()
	c.stats.RecordLoss(len(retx))
	return retx
}

// OnDataReceived places an incoming data packet into the receive buffer
// and returns newly-deliverable contiguous payloads in order.
func (c *Connection) OnDataReceived(seq uint32, payload []byte) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastDataRecvAt = time.Now()
	c.keepaliveDeadline = time.Now().Add(c.connectionTimeout)

	_, duplicate := c.recvBuf.Insert(seq, payload)
	c.stats.RecordReceived(len(payload), duplicate)

	return c.recvBuf.PopContiguous()
}

// MissingSeqs returns the gap sequences to NAK.
func (c *Connection) MissingSeqs() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvBuf.MissingRange()
}

// NextExpectedSeq returns the receive side's next expected sequence, for
// periodic ACK type_specific_info (= next_expected_recv_seq - 1).
func (c *Connection) NextExpectedSeq() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvBuf.NextExpectedSeq()
}

// NeedsKeepalive reports whether keepaliveInterval has elapsed since the
// last data sent.
func (c *Connection) NeedsKeepalive(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastDataSentAt) >= c.keepaliveInterval
}

// IsTimedOut reports whether the connection has exceeded its keepalive
// deadline and should be torn down.
func (c *Connection) IsTimedOut(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.After(c.keepaliveDeadline)
}

// Close transitions the connection to closed.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.State = StateClosed
}

// Snapshot returns a read-only statistics snapshot plus current cwnd/ssthresh.
func (c *Connection) Snapshot() ConnectionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats.Snapshot()
	s.CWnd = c.cc.CWnd()
	s.SSThresh = c.cc.SSThresh()
	s.CongestionState = c.cc.State().String()
	s.SendBufferSize = c.sendBuf.Len()
	s.RecvBufferSize = c.recvBuf.Len()
	s.SRTT = c.cc.RTTStats().SRTT()
	return s
}
