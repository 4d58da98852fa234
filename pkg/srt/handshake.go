package srt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

// HandshakeType enumerates the 4-way handshake steps.
type HandshakeType int32

const (
	HandshakeInduction  HandshakeType = 1
	HandshakeConclusion HandshakeType = -1
	HandshakeAgreement  HandshakeType = -2
)

// HandshakePacket is the fixed-layout handshake payload carried inside a
// ControlPacket of type Handshake.
type HandshakePacket struct {
	Version                 uint32
	InitialPacketSequence   uint32
	MaxFlowWindowSize       uint32
	HandshakeType           HandshakeType
	SocketID                uint32
	SynCookie               uint32
}

const handshakePacketSize = 24

// Serialize encodes a HandshakePacket.
func (h *HandshakePacket) Serialize() []byte {
	out := make([]byte, handshakePacketSize)
	binary.BigEndian.PutUint32(out[0:4], h.Version)
	binary.BigEndian.PutUint32(out[4:8], h.InitialPacketSequence)
	binary.BigEndian.PutUint32(out[8:12], h.MaxFlowWindowSize)
	binary.BigEndian.PutUint32(out[12:16], uint32(h.HandshakeType))
	binary.BigEndian.PutUint32(out[16:20], h.SocketID)
	binary.BigEndian.PutUint32(out[20:24], h.SynCookie)
	return out
}

// ParseHandshakePacket decodes a HandshakePacket.
func ParseHandshakePacket(buf []byte) (*HandshakePacket, error) {
	if len(buf) < handshakePacketSize {
		return nil, fmt.Errorf("srt: handshake packet too short")
	}
	return &HandshakePacket{
		Version:               binary.BigEndian.Uint32(buf[0:4]),
		InitialPacketSequence: binary.BigEndian.Uint32(buf[4:8]),
		MaxFlowWindowSize:     binary.BigEndian.Uint32(buf[8:12]),
		HandshakeType:         HandshakeType(int32(binary.BigEndian.Uint32(buf[12:16]))),
		SocketID:              binary.BigEndian.Uint32(buf[16:20]),
		SynCookie:             binary.BigEndian.Uint32(buf[20:24]),
	}, nil
}

// HandshakeState tracks one peer's progress through the 4-way handshake.
type HandshakeState int

const (
	StateIdle HandshakeState = iota
	StateInductionSent
	StateInductionReceived
	StateConclusionSent
	StateHandshakeDone
)

// pendingHandshake is the small per-peer SYN-cookie state the server holds
// between Induction and Conclusion.
type pendingHandshake struct {
	cookie    uint32
	state     HandshakeState
	createdAt time.Time
}

// CookieJar mints and verifies SYN cookies derived from a server secret and
// the peer's UDP address (IP:port), and keeps one small pending record per
// peer from Induction until Conclusion, the handshake timeout, or Sweep.
type CookieJar struct {
	secret []byte

	mu      sync.Mutex
	pending map[string]*pendingHandshake
	timeout time.Duration
}

// NewCookieJar creates a cookie jar with the given handshake timeout.
func NewCookieJar(secret []byte, timeout time.Duration) *CookieJar {
	return &CookieJar{
		secret:  secret,
		pending: make(map[string]*pendingHandshake),
		timeout: timeout,
	}
}

func peerKey(addr *net.UDPAddr) string {
	return addr.String()
}

// MintCookie derives a cookie for addr from an HMAC of the server secret
// and the address, and records a pending Induction for it.
func (j *CookieJar) MintCookie(addr *net.UDPAddr) uint32 {
	mac := hmac.New(sha256.New, j.secret)
	mac.Write([]byte(addr.String()))
	sum := mac.Sum(nil)
	cookie := binary.BigEndian.Uint32(sum[:4])

	j.mu.Lock()
	defer j.mu.Unlock()
	j.pending[peerKey(addr)] = &pendingHandshake{
		cookie:    cookie,
		state:     StateInductionReceived,
		createdAt: time.Now(),
	}
	return cookie
}

// VerifyConclusion checks that addr has a pending Induction whose cookie
// matches the one carried by the peer's Conclusion. A peer with no prior
// Induction, or a mismatched cookie, is ignored.
func (j *CookieJar) VerifyConclusion(addr *net.UDPAddr, cookie uint32) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	key := peerKey(addr)
	p, ok := j.pending[key]
	if !ok {
		return false
	}
	if time.Since(p.createdAt) > j.timeout {
		delete(j.pending, key)
		return false
	}
	if p.cookie != cookie {
		return false
	}
	p.state = StateHandshakeDone
	delete(j.pending, key)
	return true
}

// Sweep removes pending Induction records older than the handshake
// timeout.
func (j *CookieJar) Sweep(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for key, p := range j.pending {
		if now.Sub(p.createdAt) > j.timeout {
			delete(j.pending, key)
		}
	}
}

// BuildInductionRequest constructs step 1 of the handshake (client -> server).
func BuildInductionRequest(socketID, initialSeq uint32) *HandshakePacket {
	return &HandshakePacket{
		Version:               SRTVersion,
		InitialPacketSequence: initialSeq,
		MaxFlowWindowSize:     8192,
		HandshakeType:         HandshakeInduction,
		SocketID:              socketID,
		SynCookie:              0,
	}
}

// BuildInductionResponse constructs step 2 (server -> client): the minted
// SYN cookie.
func BuildInductionResponse(serverSocketID, cookie uint32) *HandshakePacket {
	return &HandshakePacket{
		Version:       SRTVersion,
		HandshakeType: HandshakeAgreement,
		SocketID:      serverSocketID,
		SynCookie:     cookie,
	}
}

// BuildConclusionRequest constructs step 3 (client -> server): the echoed
// cookie and the client's initial send sequence.
func BuildConclusionRequest(clientSocketID, cookie, initialSeq uint32) *HandshakePacket {
	return &HandshakePacket{
		Version:               SRTVersion,
		InitialPacketSequence: initialSeq,
		HandshakeType:         HandshakeConclusion,
		SocketID:              clientSocketID,
		SynCookie:              cookie,
	}
}

// BuildConclusionResponse constructs step 4 (server -> client): echoes the
// client's initial sequence back so both sides agree on the starting seq.
func BuildConclusionResponse(serverSocketID, echoedInitialSeq uint32) *HandshakePacket {
	return &HandshakePacket{
		Version:               SRTVersion,
		InitialPacketSequence: echoedInitialSeq,
		HandshakeType:         HandshakeAgreement,
		SocketID:              serverSocketID,
	}
}

// SRTVersion is the protocol version this subset implements.
const SRTVersion = 0x00010400
