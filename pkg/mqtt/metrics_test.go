package mqtt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.MessagePublished(QoS1, 10)
	m.MessageDelivered(10)
	m.MessageDropped()

	out := m.Snapshot(3)
	require.Contains(t, out, "mqtt_connections_current 1")
	require.Contains(t, out, "mqtt_connections_total 2")
	require.Contains(t, out, "mqtt_connections_peak 2")
	require.Contains(t, out, "mqtt_messages_published_total 1")
	require.Contains(t, out, "mqtt_messages_qos1_total 1")
	require.Contains(t, out, "mqtt_messages_dropped_total 1")
	require.Contains(t, out, "mqtt_retained_messages 3")
	require.True(t, strings.Contains(out, "# TYPE mqtt_uptime_seconds gauge"))
}
