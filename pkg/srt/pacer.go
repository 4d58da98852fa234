package srt

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Pacer caps SRT egress to a target bitrate with a token bucket: tokens
// refill at target_bps/8 bytes/sec, bucket capacity is 2 seconds' worth.
// Unlike an RTP-timestamp pacer that reconstructs wall-clock delay from
// codec frame timestamps, this paces by byte budget, which is the right
// primitive for a raw reliability-layer egress rather than a specific
// codec's frame cadence.
type Pacer struct {
	logger  *slog.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	packets chan pacedPacket

	bytesSent   atomic.Uint64
	packetsSent atomic.Uint64
	dropped     atomic.Uint64
}

type pacedPacket struct {
	payload []byte
	send    func([]byte) error
}

// NewPacer creates a pacer targeting targetBps bits/sec.
func NewPacer(targetBps int, logger *slog.Logger) *Pacer {
	ctx, cancel := context.WithCancel(context.Background())

	bytesPerSec := rate.Limit(targetBps / 8)
	burst := targetBps / 8 * 2 // 2 seconds' worth of bytes

	return &Pacer{
		logger:  logger,
		limiter: rate.NewLimiter(bytesPerSec, burst),
		ctx:     ctx,
		cancel:  cancel,
		packets: make(chan pacedPacket, 256),
	}
}

// Start begins the pacing loop.
func (p *Pacer) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop cancels the pacing loop and waits for it to exit.
func (p *Pacer) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Enqueue submits payload for paced delivery via send. Returns false
// (a BackpressureDrop) if the internal queue is full.
func (p *Pacer) Enqueue(payload []byte, send func([]byte) error) bool {
	select {
	case p.packets <- pacedPacket{payload: payload, send: send}:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

func (p *Pacer) loop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case pkt := <-p.packets:
			if err := p.limiter.WaitN(p.ctx, len(pkt.payload)); err != nil {
				return
			}
			if err := pkt.send(pkt.payload); err != nil {
				p.logger.Warn("srt pacer send failed", "error", err)
				continue
			}
			p.bytesSent.Add(uint64(len(pkt.payload)))
			p.packetsSent.Add(1)
		}
	}
}

// Stats reports pacer counters.
type PacerStats struct {
	BytesSent   uint64
	PacketsSent uint64
	Dropped     uint64
}

// Stats returns a snapshot of the pacer's counters.
func (p *Pacer) Stats() PacerStats {
	return PacerStats{
		BytesSent:   p.bytesSent.Load(),
		PacketsSent: p.packetsSent.Load(),
		Dropped:     p.dropped.Load(),
	}
}
