package mqtt

import (
	"sync"
	"time"
)

// inflightQoS1 tracks a QoS 1 publish this session has sent to a
// subscriber and is waiting on a PUBACK for.
type inflightQoS1 struct {
	packet    []byte
	sentAt    time.Time
	retries   int
}

// inflightQoS2Stage is where a QoS 2 exchange currently sits.
type inflightQoS2Stage int

const (
	stageAwaitingPubRec inflightQoS2Stage = iota
	stageAwaitingPubComp
)

type inflightQoS2 struct {
	packet  []byte
	stage   inflightQoS2Stage
	sentAt  time.Time
	retries int
}

// incomingQoS2 tracks a QoS 2 publish this session is receiving, between
// PUBREC and PUBCOMP, so a duplicate PUBLISH isn't delivered twice.
type incomingQoS2 struct {
	received bool
}

// Session holds one client's per-connection MQTT state: the outgoing
// packet-identifier space, in-flight QoS 1/2 deliveries, and in-progress
// incoming QoS 2 receives. Grounded on flux-mqtt/src/handler.rs's
// per-session retry bookkeeping, reimplemented here without the
// ntex_mqtt framework it was built on.
type Session struct {
	mu sync.Mutex

	ClientID     string
	CleanSession bool
	KeepAlive    time.Duration

	nextPacketID uint16

	outQoS1 map[uint16]*inflightQoS1
	outQoS2 map[uint16]*inflightQoS2
	inQoS2  map[uint16]*incomingQoS2

	Subscriptions map[string]QoS

	lastActivity time.Time
}

// NewSession creates a fresh session for clientID.
func NewSession(clientID string, cleanSession bool, keepAlive time.Duration) *Session {
	return &Session{
		ClientID:      clientID,
		CleanSession:  cleanSession,
		KeepAlive:     keepAlive,
		nextPacketID:  1,
		outQoS1:       make(map[uint16]*inflightQoS1),
		outQoS2:       make(map[uint16]*inflightQoS2),
		inQoS2:        make(map[uint16]*incomingQoS2),
		Subscriptions: make(map[string]QoS),
		lastActivity:  time.Now(),
	}
}

// Touch records activity for keepalive purposes.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// IsExpired reports whether the client has exceeded 1.5x its keepalive
// interval without activity, the conventional MQTT keepalive grace
// period.
func (s *Session) IsExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.KeepAlive <= 0 {
		return false
	}
	return now.Sub(s.lastActivity) > s.KeepAlive+s.KeepAlive/2
}

// nextID allocates the next packet identifier, wrapping past zero since
// packet ID 0 is reserved.
func (s *Session) nextID() uint16 {
	id := s.nextPacketID
	s.nextPacketID++
	if s.nextPacketID == 0 {
		s.nextPacketID = 1
	}
	return id
}

// Subscribe records a subscription at the granted QoS.
func (s *Session) Subscribe(filter string, qos QoS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions[filter] = qos
}

// Unsubscribe removes a subscription.
func (s *Session) Unsubscribe(filter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Subscriptions, filter)
}

// DeliverQoS0 requires no bookkeeping: fire-and-forget, at-most-once.
// Present for symmetry with DeliverQoS1/DeliverQoS2 and to document that
// this path deliberately tracks nothing.
func (s *Session) DeliverQoS0() {}

// DeliverQoS1 records an at-least-once publish as in-flight pending
// PUBACK and returns its allocated packet identifier. The caller sends
// packet as-is; DueRetransmits re-sends it with Dup set until acked.
func (s *Session) DeliverQoS1(buildPublish func(packetID uint16) []byte) (uint16, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID()
	pkt := buildPublish(id)
	s.outQoS1[id] = &inflightQoS1{packet: pkt, sentAt: time.Now()}
	return id, pkt
}

// OnPubAck completes a QoS 1 delivery.
func (s *Session) OnPubAck(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outQoS1, packetID)
}

// DeliverQoS2 records an exactly-once publish awaiting PUBREC and
// returns its packet identifier and wire bytes.
func (s *Session) DeliverQoS2(buildPublish func(packetID uint16) []byte) (uint16, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID()
	pkt := buildPublish(id)
	s.outQoS2[id] = &inflightQoS2{packet: pkt, stage: stageAwaitingPubRec, sentAt: time.Now()}
	return id, pkt
}

// OnPubRec advances a QoS 2 delivery from PUBREC to awaiting PUBCOMP and
// returns the PUBREL packet to send, or nil if packetID is unknown.
func (s *Session) OnPubRec(packetID uint16) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.outQoS2[packetID]
	if !ok {
		return nil
	}
	entry.stage = stageAwaitingPubComp
	entry.sentAt = time.Now()
	return EncodePacketIDOnly(PacketPubRel, packetID)
}

// OnPubComp completes a QoS 2 delivery.
func (s *Session) OnPubComp(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outQoS2, packetID)
}

// BeginIncomingQoS2 records receipt of an inbound QoS 2 PUBLISH so a
// retransmitted duplicate (Dup set, same packetID) is not delivered to
// subscribers twice. It reports whether this is the first time
// packetID has been seen.
func (s *Session) BeginIncomingQoS2(packetID uint16) (firstTime bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.inQoS2[packetID]; ok && entry.received {
		return false
	}
	s.inQoS2[packetID] = &incomingQoS2{received: true}
	return true
}

// CompleteIncomingQoS2 clears bookkeeping for an inbound QoS 2 publish
// once its PUBREL/PUBCOMP handshake finishes.
func (s *Session) CompleteIncomingQoS2(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inQoS2, packetID)
}

// DueRetransmits returns the wire bytes of every in-flight QoS 1/2
// packet that has waited longer than retryInterval without
// acknowledgment, with Dup set, and bumps their retry counters. Grounded
// on flux-srt/src/buffer.rs's SendBuffer.retransmit_due sweep pattern,
// applied here to MQTT's publish-retry obligation instead of SRT's ARQ.
func (s *Session) DueRetransmits(retryInterval time.Duration, now time.Time) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due [][]byte
	for _, entry := range s.outQoS1 {
		if now.Sub(entry.sentAt) >= retryInterval {
			entry.sentAt = now
			entry.retries++
			due = append(due, setDupFlag(entry.packet))
		}
	}
	for id, entry := range s.outQoS2 {
		if entry.stage == stageAwaitingPubRec && now.Sub(entry.sentAt) >= retryInterval {
			entry.sentAt = now
			entry.retries++
			due = append(due, setDupFlag(entry.packet))
		}
		// PUBREL retransmits use the same timer; PUBREL has no dup bit.
		if entry.stage == stageAwaitingPubComp && now.Sub(entry.sentAt) >= retryInterval {
			entry.sentAt = now
			entry.retries++
			due = append(due, EncodePacketIDOnly(PacketPubRel, id))
		}
	}
	return due
}

// setDupFlag sets the DUP bit (bit 3) of a PUBLISH packet's fixed-header
// byte in place on a copy.
func setDupFlag(pkt []byte) []byte {
	if len(pkt) == 0 {
		return pkt
	}
	out := make([]byte, len(pkt))
	copy(out, pkt)
	out[0] |= 0x08
	return out
}

// PendingCount reports the number of in-flight QoS 1 and QoS 2
// deliveries, used for metrics and backpressure decisions.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outQoS1) + len(s.outQoS2)
}
