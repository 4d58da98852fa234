package srt

import (
	"sort"
	"sync"
	"time"
)

// SendBufferItem is one outstanding (unacknowledged) outbound packet.
type SendBufferItem struct {
	Sequence      uint32
	Payload       []byte
	FirstSendTime time.Time
	RetxCount     int
}

// SendBuffer holds outstanding packets for retransmission, keyed by
// sequence (grounded on flux-srt's BTreeMap<seq, item> shape).
type SendBuffer struct {
	mu      sync.Mutex
	items   map[uint32]*SendBufferItem
	maxSize int
}

// NewSendBuffer creates a bounded send buffer.
func NewSendBuffer(maxSize int) *SendBuffer {
	return &SendBuffer{items: make(map[uint32]*SendBufferItem), maxSize: maxSize}
}

// Insert adds a newly-sent packet. Returns false if the buffer is full
// (the caller should treat this as back-pressure).
func (b *SendBuffer) Insert(seq uint32, payload []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.maxSize {
		return false
	}
	b.items[seq] = &SendBufferItem{
		Sequence:      seq,
		Payload:       payload,
		FirstSendTime: time.Now(),
	}
	return true
}

// AckRange drops every entry with sequence <= upTo and returns the RTT
// samples (now - FirstSendTime) for entries that were never retransmitted
// (Karn's rule: a retransmitted packet's ACK cannot be attributed to
// either transmission unambiguously).
func (b *SendBuffer) AckRange(upTo uint32) []time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var samples []time.Duration
	for seq, item := range b.items {
		if seq <= upTo {
			if item.RetxCount == 0 {
				samples = append(samples, now.Sub(item.FirstSendTime))
			}
			delete(b.items, seq)
		}
	}
	return samples
}

// Get returns the outstanding item for seq, for retransmission on NAK.
func (b *SendBuffer) Get(seq uint32) (*SendBufferItem, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.items[seq]
	return item, ok
}

// MarkRetransmitted increments retx_count and resets the send timer.
func (b *SendBuffer) MarkRetransmitted(seq uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if item, ok := b.items[seq]; ok {
		item.RetxCount++
		item.FirstSendTime = time.Now()
	}
}

// TimedOut returns sequences whose entry has exceeded rto since its last
// (re)send, marking each retransmitted as a side effect.
func (b *SendBuffer) TimedOut(rto time.Duration) []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var seqs []uint32
	for seq, item := range b.items {
		if now.Sub(item.FirstSendTime) > rto {
			seqs = append(seqs, seq)
			item.RetxCount++
			item.FirstSendTime = now
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

// Len returns the number of outstanding packets.
func (b *SendBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// ReceiveBuffer reorders incoming packets and delivers contiguous runs
// starting at next_expected_recv_seq.
type ReceiveBuffer struct {
	mu       sync.Mutex
	items    map[uint32][]byte
	nextSeq  uint32
	maxSize  int
}

// NewReceiveBuffer creates a receive buffer expecting initialSeq first.
func NewReceiveBuffer(initialSeq uint32, maxSize int) *ReceiveBuffer {
	return &ReceiveBuffer{
		items:   make(map[uint32][]byte),
		nextSeq: initialSeq,
		maxSize: maxSize,
	}
}

// Insert places an out-of-order packet into the buffer. Packets older than
// next_expected_recv_seq are already delivered and are dropped (reported
// as duplicates by the caller's statistics).
func (r *ReceiveBuffer) Insert(seq uint32, payload []byte) (inserted, duplicate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seq < r.nextSeq {
		return false, true
	}
	if len(r.items) >= r.maxSize {
		return false, false
	}
	if _, exists := r.items[seq]; exists {
		return false, true
	}
	r.items[seq] = payload
	return true, false
}

// PopContiguous pops and returns every payload starting at
// next_expected_recv_seq while the buffer holds the next expected
// sequence, advancing the expected sequence as it goes.
func (r *ReceiveBuffer) PopContiguous() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out [][]byte
	for {
		data, ok := r.items[r.nextSeq]
		if !ok {
			break
		}
		delete(r.items, r.nextSeq)
		out = append(out, data)
		r.nextSeq++
	}
	return out
}

// NextExpectedSeq returns the next sequence the buffer expects to deliver.
func (r *ReceiveBuffer) NextExpectedSeq() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextSeq
}

// MissingRange walks [next_expected_recv_seq, maxSeqInBuffer) and returns
// the sequences that have not yet arrived, for NAK generation.
func (r *ReceiveBuffer) MissingRange() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) == 0 {
		return nil
	}
	maxSeq := r.nextSeq
	for seq := range r.items {
		if seq > maxSeq {
			maxSeq = seq
		}
	}

	var missing []uint32
	for seq := r.nextSeq; seq < maxSeq; seq++ {
		if _, ok := r.items[seq]; !ok {
			missing = append(missing, seq)
		}
	}
	return missing
}

// Len returns the number of buffered (not-yet-delivered) packets.
func (r *ReceiveBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
