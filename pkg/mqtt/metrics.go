package mqtt

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics accumulates broker-wide counters using atomic fields, the same
// lock-free counting style used for per-stream packet/frame counters
// elsewhere in this repo, and renders them as a hand-rolled Prometheus
// text-exposition snapshot.
type Metrics struct {
	startTime time.Time

	connectionsCurrent atomic.Int64
	connectionsTotal    atomic.Uint64
	connectionsPeak     atomic.Int64

	messagesPublished atomic.Uint64
	messagesReceived  atomic.Uint64
	messagesDropped   atomic.Uint64

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	qos0Count atomic.Uint64
	qos1Count atomic.Uint64
	qos2Count atomic.Uint64

	subscriptionsCurrent atomic.Int64
}

// NewMetrics creates an empty metrics accumulator stamped with the
// current time as its uptime reference.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// ConnectionOpened records a new client connection.
func (m *Metrics) ConnectionOpened() {
	m.connectionsTotal.Add(1)
	cur := m.connectionsCurrent.Add(1)
	for {
		peak := m.connectionsPeak.Load()
		if cur <= peak || m.connectionsPeak.CompareAndSwap(peak, cur) {
			return
		}
	}
}

// ConnectionClosed records a client disconnection.
func (m *Metrics) ConnectionClosed() {
	m.connectionsCurrent.Add(-1)
}

// MessagePublished records an accepted PUBLISH at the given QoS and
// payload size.
func (m *Metrics) MessagePublished(qos QoS, payloadBytes int) {
	m.messagesPublished.Add(1)
	m.bytesReceived.Add(uint64(payloadBytes))
	switch qos {
	case QoS0:
		m.qos0Count.Add(1)
	case QoS1:
		m.qos1Count.Add(1)
	case QoS2:
		m.qos2Count.Add(1)
	}
}

// MessageDropped records a publish rejected by ACL or otherwise discarded
// before fan-out.
func (m *Metrics) MessageDropped() {
	m.messagesDropped.Add(1)
}

// MessageDelivered records a publish forwarded to a subscriber.
func (m *Metrics) MessageDelivered(payloadBytes int) {
	m.messagesReceived.Add(1)
	m.bytesSent.Add(uint64(payloadBytes))
}

// SubscriptionAdded/Removed track the current subscription count.
func (m *Metrics) SubscriptionAdded()   { m.subscriptionsCurrent.Add(1) }
func (m *Metrics) SubscriptionRemoved() { m.subscriptionsCurrent.Add(-1) }

// Snapshot renders the current counters as Prometheus text-exposition
// format (the `# TYPE` / `# HELP` + `metric{} value` convention), with a
// retainedCount supplied by the caller since retained-message storage is
// owned by RetainedStore, not Metrics.
func (m *Metrics) Snapshot(retainedCount int) string {
	var b strings.Builder

	writeGauge := func(name, help string, value float64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n", name, help, name, name, value)
	}
	writeCounter := func(name, help string, value uint64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, value)
	}

	writeGauge("mqtt_connections_current", "Currently connected MQTT clients.", float64(m.connectionsCurrent.Load()))
	writeCounter("mqtt_connections_total", "Total MQTT connections accepted.", m.connectionsTotal.Load())
	writeGauge("mqtt_connections_peak", "Peak concurrent MQTT connections.", float64(m.connectionsPeak.Load()))

	writeCounter("mqtt_messages_published_total", "Total PUBLISH packets accepted from clients.", m.messagesPublished.Load())
	writeCounter("mqtt_messages_received_total", "Total PUBLISH packets forwarded to subscribers.", m.messagesReceived.Load())
	writeCounter("mqtt_messages_dropped_total", "Total PUBLISH packets dropped (ACL denial or backpressure).", m.messagesDropped.Load())

	writeCounter("mqtt_bytes_sent_total", "Total payload bytes delivered to subscribers.", m.bytesSent.Load())
	writeCounter("mqtt_bytes_received_total", "Total payload bytes accepted from publishers.", m.bytesReceived.Load())

	writeCounter("mqtt_messages_qos0_total", "Total QoS 0 publishes.", m.qos0Count.Load())
	writeCounter("mqtt_messages_qos1_total", "Total QoS 1 publishes.", m.qos1Count.Load())
	writeCounter("mqtt_messages_qos2_total", "Total QoS 2 publishes.", m.qos2Count.Load())

	writeGauge("mqtt_retained_messages", "Current retained message count.", float64(retainedCount))
	writeGauge("mqtt_subscriptions_current", "Current subscription count.", float64(m.subscriptionsCurrent.Load()))
	writeGauge("mqtt_uptime_seconds", "Broker uptime in seconds.", time.Since(m.startTime).Seconds())

	return b.String()
}
