package mqtt

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testBrokerLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestBroker(t *testing.T, cfg BrokerConfig) (*Broker, func()) {
	t.Helper()
	b := NewBroker(cfg, testBrokerLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	b.listener = ln
	b.cfg.ListenAddr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	b.wg.Add(1)
	go b.retrySweepLoop(ctx)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			b.wg.Add(1)
			go b.handleConn(ctx, conn)
		}
	}()

	return b, func() {
		cancel()
		ln.Close()
	}
}

// buildConnect hand-assembles a minimal CONNECT packet; this package only
// implements the broker side (ParseConnect/EncodeConnAck), not a client
// encoder, so tests that speak the client role build the wire bytes
// directly from the same varint/UTF-8 helpers the broker uses to decode.
func buildConnect(clientID string, cleanSession bool, keepAlive uint16) []byte {
	var body []byte
	body = appendUTF8(body, "MQTT")
	body = append(body, 4) // protocol level 3.1.1
	flags := byte(0)
	if cleanSession {
		flags |= 0x02
	}
	body = append(body, flags)
	body = appendUint16(body, keepAlive)
	body = appendUTF8(body, clientID)

	header := EncodeFixedHeader(PacketConnect, false, 0, false, len(body))
	return append(header, body...)
}

func buildSubscribe(packetID uint16, filters []SubscribeFilter) []byte {
	body := appendUint16(nil, packetID)
	for _, f := range filters {
		body = appendUTF8(body, f.Filter)
		body = append(body, byte(f.QoS))
	}
	header := EncodeFixedHeader(PacketSubscribe, false, 0, false, len(body))
	return append(header, body...)
}

func dialAndConnect(t *testing.T, addr, clientID string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	_, err = conn.Write(buildConnect(clientID, true, 60))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	fh, err := ReadFixedHeader(r)
	require.NoError(t, err)
	require.Equal(t, PacketConnAck, fh.Type)
	body := make([]byte, fh.RemainingLength)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	return conn
}

func TestBroker_ConnectSubscribePublishDeliver(t *testing.T) {
	b, stop := startTestBroker(t, BrokerConfig{RetryInterval: time.Hour})
	defer stop()

	sub := dialAndConnect(t, b.cfg.ListenAddr, "subscriber")
	defer sub.Close()

	_, err := sub.Write(buildSubscribe(1, []SubscribeFilter{{Filter: "sensors/+/temp", QoS: QoS0}}))
	require.NoError(t, err)

	r := bufio.NewReader(sub)
	sub.SetReadDeadline(time.Now().Add(2 * time.Second))
	fh, err := ReadFixedHeader(r)
	require.NoError(t, err)
	require.Equal(t, PacketSubAck, fh.Type)
	io.CopyN(io.Discard, r, int64(fh.RemainingLength))

	pub := dialAndConnect(t, b.cfg.ListenAddr, "publisher")
	defer pub.Close()
	_, err = pub.Write(EncodePublish("sensors/porch/temp", 0, []byte("21.5"), QoS0, false, false))
	require.NoError(t, err)

	sub.SetReadDeadline(time.Now().Add(2 * time.Second))
	fh, err = ReadFixedHeader(r)
	require.NoError(t, err)
	require.Equal(t, PacketPublish, fh.Type)
}

func TestBroker_ACLDeniesPublish(t *testing.T) {
	acl := NewACL([]Rule{
		{TopicPattern: "restricted/#", Action: ActionPublish, Permission: PermissionDeny, Priority: 0},
	})
	b, stop := startTestBroker(t, BrokerConfig{RetryInterval: time.Hour, ACL: acl})
	defer stop()

	pub := dialAndConnect(t, b.cfg.ListenAddr, "publisher")
	defer pub.Close()

	_, err := pub.Write(EncodePublish("restricted/topic", 0, []byte("x"), QoS0, false, false))
	require.NoError(t, err)

	// No crash, no panic: the denied publish is dropped server-side. Give
	// the broker a moment to process it, then confirm the metrics counter
	// recorded the drop.
	time.Sleep(50 * time.Millisecond)
	require.Contains(t, b.MetricsSnapshot(), "mqtt_messages_dropped_total 1")
}

func TestBroker_SecondConnectEvictsFirst(t *testing.T) {
	b, stop := startTestBroker(t, BrokerConfig{RetryInterval: time.Hour})
	defer stop()

	first := dialAndConnect(t, b.cfg.ListenAddr, "dup-client")
	defer first.Close()
	second := dialAndConnect(t, b.cfg.ListenAddr, "dup-client")
	defer second.Close()

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err := first.Read(buf)
	require.Error(t, err, "evicted connection should be closed by the broker")
}
