package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSession_QoS1RetransmitsUntilAcked(t *testing.T) {
	s := NewSession("client-1", true, 60*time.Second)

	id, pkt := s.DeliverQoS1(func(id uint16) []byte {
		return EncodePublish("sensor/temp", id, []byte("22"), QoS1, false, false)
	})
	require.NotZero(t, id)
	require.Zero(t, pkt[0]&0x08, "first send must not have Dup set")
	require.Equal(t, 1, s.PendingCount())

	due := s.DueRetransmits(0, time.Now().Add(time.Second))
	require.Len(t, due, 1)
	require.NotZero(t, due[0][0]&0x08, "retransmit must set Dup")

	s.OnPubAck(id)
	require.Equal(t, 0, s.PendingCount())

	require.Empty(t, s.DueRetransmits(0, time.Now().Add(time.Second)))
}

func TestSession_QoS2Handshake(t *testing.T) {
	s := NewSession("client-1", true, 60*time.Second)

	id, _ := s.DeliverQoS2(func(id uint16) []byte {
		return EncodePublish("sensor/temp", id, []byte("22"), QoS2, false, false)
	})
	require.Equal(t, 1, s.PendingCount())

	pubrel := s.OnPubRec(id)
	require.NotNil(t, pubrel)
	require.Equal(t, 1, s.PendingCount(), "still pending until PUBCOMP")

	s.OnPubComp(id)
	require.Equal(t, 0, s.PendingCount())
}

func TestSession_IncomingQoS2DedupesDuplicateDelivery(t *testing.T) {
	s := NewSession("client-1", true, 60*time.Second)

	require.True(t, s.BeginIncomingQoS2(5))
	require.False(t, s.BeginIncomingQoS2(5), "duplicate PUBLISH with same packet ID must not re-deliver")

	s.CompleteIncomingQoS2(5)
	require.True(t, s.BeginIncomingQoS2(5), "packet ID is free for reuse after PUBCOMP")
}

func TestSession_KeepaliveExpiry(t *testing.T) {
	s := NewSession("client-1", true, 10*time.Second)
	now := time.Now()
	s.Touch(now)

	require.False(t, s.IsExpired(now.Add(12*time.Second)))
	require.True(t, s.IsExpired(now.Add(16*time.Second)))
}
