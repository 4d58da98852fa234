package mqtt

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedHeader_RoundTrip(t *testing.T) {
	header := EncodeFixedHeader(PacketPublish, false, QoS1, true, 300)
	header = append(header, make([]byte, 300)...)

	r := bufio.NewReader(bytes.NewReader(header))
	fh, err := ReadFixedHeader(r)
	require.NoError(t, err)
	require.Equal(t, PacketPublish, fh.Type)
	require.Equal(t, QoS1, fh.QoS)
	require.True(t, fh.Retain)
	require.Equal(t, 300, fh.RemainingLength)
}

func TestConnect_RoundTrip(t *testing.T) {
	body := appendUTF8(nil, "MQTT")
	body = append(body, 4)    // protocol level
	body = append(body, 0xC2) // clean session + username + password
	body = appendUint16(body, 60)
	body = appendUTF8(body, "client-1")
	body = appendUTF8(body, "user")
	body = appendUTF8(body, "pass")

	p, err := ParseConnect(body)
	require.NoError(t, err)
	require.Equal(t, "MQTT", p.ProtocolName)
	require.True(t, p.CleanSession)
	require.Equal(t, "client-1", p.ClientID)
	require.Equal(t, "user", p.Username)
	require.Equal(t, "pass", p.Password)
}

func TestPublish_RoundTrip(t *testing.T) {
	raw := EncodePublish("sensor/room1/data", 42, []byte("payload"), QoS1, false, false)

	r := bufio.NewReader(bytes.NewReader(raw))
	fh, err := ReadFixedHeader(r)
	require.NoError(t, err)

	body := make([]byte, fh.RemainingLength)
	_, err = r.Read(body)
	require.NoError(t, err)

	p, err := ParsePublish(fh, body)
	require.NoError(t, err)
	require.Equal(t, "sensor/room1/data", p.Topic)
	require.Equal(t, uint16(42), p.PacketID)
	require.Equal(t, []byte("payload"), p.Payload)
}

func TestSubscribe_RoundTrip(t *testing.T) {
	body := appendUint16(nil, 7)
	body = appendUTF8(body, "sensor/#")
	body = append(body, byte(QoS1))

	p, err := ParseSubscribe(body)
	require.NoError(t, err)
	require.Equal(t, uint16(7), p.PacketID)
	require.Len(t, p.Filters, 1)
	require.Equal(t, "sensor/#", p.Filters[0].Filter)
	require.Equal(t, QoS1, p.Filters[0].QoS)
}
