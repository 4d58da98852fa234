package srt

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandshakePacket_SerializeParseRoundtrip(t *testing.T) {
	hs := &HandshakePacket{
		Version:               SRTVersion,
		InitialPacketSequence: 12345,
		MaxFlowWindowSize:     8192,
		HandshakeType:         HandshakeConclusion,
		SocketID:              9,
		SynCookie:             0xdeadbeef,
	}
	out, err := ParseHandshakePacket(hs.Serialize())
	require.NoError(t, err)
	require.Equal(t, hs, out)
}

func TestParseHandshakePacket_TooShort(t *testing.T) {
	_, err := ParseHandshakePacket([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestCookieJar_MintVerifyConclusion(t *testing.T) {
	jar := NewCookieJar([]byte("secret"), time.Second)
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}

	cookie := jar.MintCookie(addr)
	require.True(t, jar.VerifyConclusion(addr, cookie))

	// consumed on success: a second verify with no new induction fails.
	require.False(t, jar.VerifyConclusion(addr, cookie))
}

func TestCookieJar_VerifyConclusion_WrongCookie(t *testing.T) {
	jar := NewCookieJar([]byte("secret"), time.Second)
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}

	jar.MintCookie(addr)
	require.False(t, jar.VerifyConclusion(addr, 0xffffffff))
}

func TestCookieJar_VerifyConclusion_NoPriorInduction(t *testing.T) {
	jar := NewCookieJar([]byte("secret"), time.Second)
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5001}

	require.False(t, jar.VerifyConclusion(addr, 0))
}

func TestCookieJar_Sweep_ExpiresStalePending(t *testing.T) {
	jar := NewCookieJar([]byte("secret"), 10*time.Millisecond)
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.3"), Port: 5002}

	cookie := jar.MintCookie(addr)
	jar.Sweep(time.Now().Add(time.Hour))

	require.False(t, jar.VerifyConclusion(addr, cookie))
}

func TestBuildHandshake_InductionConclusionAgreement(t *testing.T) {
	req := BuildInductionRequest(1, 100)
	require.Equal(t, HandshakeInduction, req.HandshakeType)

	resp := BuildInductionResponse(2, 0xcafe)
	require.Equal(t, HandshakeAgreement, resp.HandshakeType)
	require.Equal(t, uint32(0xcafe), resp.SynCookie)

	concl := BuildConclusionRequest(1, 0xcafe, 100)
	require.Equal(t, HandshakeConclusion, concl.HandshakeType)

	ack := BuildConclusionResponse(2, 100)
	require.Equal(t, uint32(100), ack.InitialPacketSequence)
}
