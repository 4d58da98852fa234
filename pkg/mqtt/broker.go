package mqtt

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BrokerConfig configures a Broker's listener and policy.
type BrokerConfig struct {
	ListenAddr    string
	RetryInterval time.Duration // QoS 1/2 redelivery sweep period
	ACL           *ACL          // nil means allow everything
}

// Broker is a minimal MQTT 3.1.1 broker core: one goroutine accepts
// connections, one goroutine per client reads and dispatches packets
// (spec's "one logical task per long-lived I/O entity" rule, the same
// shape as gb28181.Endpoint.ServeOne and rtsp.Client's read loop), and a
// shared retry-sweep goroutine redelivers unacknowledged QoS 1/2
// publishes. Grounded on flux-mqtt/src/handler.rs's broker loop, with the
// ntex_mqtt-specific transport replaced by net.Listener + bufio.
type Broker struct {
	cfg     BrokerConfig
	logger  *slog.Logger
	audit   zerolog.Logger // per-event connect/disconnect/publish/ACL-deny trail
	matcher *TopicMatcher
	retain  *RetainedStore
	metrics *Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	conns    map[string]net.Conn

	listener net.Listener
	wg       sync.WaitGroup
}

// NewBroker creates a broker with the given configuration.
func NewBroker(cfg BrokerConfig, logger *slog.Logger) *Broker {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	return &Broker{
		cfg:      cfg,
		logger:   logger.With("component", "mqtt_broker"),
		audit:    zerolog.New(os.Stdout).With().Timestamp().Str("component", "mqtt_broker_audit").Logger(),
		matcher:  NewTopicMatcher(),
		retain:   NewRetainedStore(),
		metrics:  NewMetrics(),
		sessions: make(map[string]*Session),
		conns:    make(map[string]net.Conn),
	}
}

// Serve binds the listen address and accepts connections until ctx is
// canceled.
func (b *Broker) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("mqtt: listen: %w", err)
	}
	b.listener = ln
	b.logger.Info("mqtt broker listening", "addr", b.cfg.ListenAddr)

	b.wg.Add(1)
	go b.retrySweepLoop(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			b.logger.Warn("accept error", "error", err)
			continue
		}
		b.wg.Add(1)
		go b.handleConn(ctx, conn)
	}

	b.wg.Wait()
	return nil
}

// Close closes the listener so no new connections are accepted; it does
// not close client connections or wait for their loops to exit.
func (b *Broker) Close() error {
	if b.listener != nil {
		return b.listener.Close()
	}
	return nil
}

func (b *Broker) handleConn(ctx context.Context, conn net.Conn) {
	defer b.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)

	fh, err := ReadFixedHeader(r)
	if err != nil || fh.Type != PacketConnect {
		b.logger.Debug("connection did not open with CONNECT", "error", err)
		return
	}
	body := make([]byte, fh.RemainingLength)
	if _, err := readFull(r, body); err != nil {
		return
	}
	connect, err := ParseConnect(body)
	if err != nil {
		b.logger.Debug("malformed CONNECT", "error", err)
		return
	}

	session := NewSession(connect.ClientID, connect.CleanSession, time.Duration(connect.KeepAlive)*time.Second)
	session.Touch(time.Now())

	b.mu.Lock()
	if old, ok := b.conns[connect.ClientID]; ok {
		old.Close() // MQTT: a second CONNECT for the same client ID evicts the first
	}
	b.sessions[connect.ClientID] = session
	b.conns[connect.ClientID] = conn
	b.mu.Unlock()
	b.metrics.ConnectionOpened()

	defer func() {
		b.mu.Lock()
		if b.conns[connect.ClientID] == conn {
			delete(b.conns, connect.ClientID)
			delete(b.sessions, connect.ClientID)
		}
		b.mu.Unlock()
		b.matcher.RemoveClient(connect.ClientID)
		b.metrics.ConnectionClosed()
		b.audit.Info().Str("event", "disconnect").Str("client_id", connect.ClientID).Msg("client disconnected")
	}()

	if _, err := conn.Write(EncodeConnAck(!connect.CleanSession, ConnAckAccepted)); err != nil {
		return
	}
	b.logger.Debug("client connected", "client_id", connect.ClientID)
	b.audit.Info().Str("event", "connect").Str("client_id", connect.ClientID).
		Bool("clean_session", connect.CleanSession).Msg("client connected")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fh, err := ReadFixedHeader(r)
		if err != nil {
			return
		}
		body := make([]byte, fh.RemainingLength)
		if _, err := readFull(r, body); err != nil {
			return
		}
		session.Touch(time.Now())

		if err := b.dispatch(conn, session, fh, body); err != nil {
			b.logger.Debug("dispatch error, closing connection", "client_id", connect.ClientID, "error", err)
			return
		}
		if fh.Type == PacketDisconnect {
			return
		}
	}
}

func (b *Broker) dispatch(conn net.Conn, session *Session, fh FixedHeader, body []byte) error {
	switch fh.Type {
	case PacketPublish:
		return b.handlePublish(conn, session, fh, body)
	case PacketPubAck:
		id, err := readPacketID(body)
		if err != nil {
			return err
		}
		session.OnPubAck(id)
	case PacketPubRec:
		id, err := readPacketID(body)
		if err != nil {
			return err
		}
		if pubrel := session.OnPubRec(id); pubrel != nil {
			_, err = conn.Write(pubrel)
			return err
		}
	case PacketPubRel:
		id, err := readPacketID(body)
		if err != nil {
			return err
		}
		session.CompleteIncomingQoS2(id)
		_, err = conn.Write(EncodePacketIDOnly(PacketPubComp, id))
		return err
	case PacketPubComp:
		id, err := readPacketID(body)
		if err != nil {
			return err
		}
		session.OnPubComp(id)
	case PacketSubscribe:
		return b.handleSubscribe(conn, session, body)
	case PacketUnsubscribe:
		return b.handleUnsubscribe(conn, session, body)
	case PacketPingReq:
		_, err := conn.Write(EncodePingResp())
		return err
	case PacketDisconnect:
		return nil
	default:
		return fmt.Errorf("mqtt: unexpected packet type %d from client", fh.Type)
	}
	return nil
}

func (b *Broker) handlePublish(conn net.Conn, session *Session, fh FixedHeader, body []byte) error {
	pub, err := ParsePublish(fh, body)
	if err != nil {
		return err
	}

	switch pub.QoS {
	case QoS1:
		if _, err := conn.Write(EncodePacketIDOnly(PacketPubAck, pub.PacketID)); err != nil {
			return err
		}
	case QoS2:
		if _, err := conn.Write(EncodePacketIDOnly(PacketPubRec, pub.PacketID)); err != nil {
			return err
		}
	}

	if b.cfg.ACL != nil && !b.cfg.ACL.CheckPublish(session.ClientID, "", pub.Topic) {
		b.metrics.MessageDropped()
		b.audit.Warn().Str("event", "acl_deny_publish").Str("client_id", session.ClientID).
			Str("topic", pub.Topic).Msg("publish denied by ACL")
		return nil
	}

	if pub.QoS == QoS2 {
		if !session.BeginIncomingQoS2(pub.PacketID) {
			return nil // duplicate redelivery, already forwarded once
		}
	}

	b.metrics.MessagePublished(pub.QoS, len(pub.Payload))
	b.audit.Info().Str("event", "publish").Str("client_id", session.ClientID).
		Str("topic", pub.Topic).Int("qos", int(pub.QoS)).Int("payload_bytes", len(pub.Payload)).
		Msg("message published")
	if pub.Retain {
		b.retain.Publish(pub.Topic, pub.Payload, pub.QoS)
	}
	b.fanOut(pub.Topic, pub.Payload, pub.QoS, pub.Retain)
	return nil
}

// fanOut delivers a publish to every subscriber whose filter matches
// topic, at the minimum of the publisher's QoS and the subscriber's
// granted QoS, per MQTT's QoS-downgrade-on-delivery rule.
func (b *Broker) fanOut(topic string, payload []byte, qos QoS, retain bool) {
	clientIDs := b.matcher.FindMatchingClients(topic)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clientID := range clientIDs {
		session, ok := b.sessions[clientID]
		conn, connOK := b.conns[clientID]
		if !ok || !connOK {
			continue
		}
		effectiveQoS := qos
		if granted, ok := session.Subscriptions[filterFor(session, topic)]; ok && granted < effectiveQoS {
			effectiveQoS = granted
		}

		switch effectiveQoS {
		case QoS0:
			conn.Write(EncodePublish(topic, 0, payload, QoS0, false, false))
		case QoS1:
			_, pkt := session.DeliverQoS1(func(id uint16) []byte {
				return EncodePublish(topic, id, payload, QoS1, false, false)
			})
			conn.Write(pkt)
		case QoS2:
			_, pkt := session.DeliverQoS2(func(id uint16) []byte {
				return EncodePublish(topic, id, payload, QoS2, false, false)
			})
			conn.Write(pkt)
		}
		b.metrics.MessageDelivered(len(payload))
	}
}

// filterFor finds the subscription filter under which clientID matched
// topic, so the granted QoS for that specific subscription applies. When
// multiple filters match, the highest granted QoS per MQTT §4.3 wins;
// here we take the first match for simplicity since overlapping
// subscriptions are uncommon in this broker's camera/sensor topic space.
func filterFor(session *Session, topic string) string {
	for filter := range session.Subscriptions {
		if TopicMatches(filter, topic) {
			return filter
		}
	}
	return topic
}

func (b *Broker) handleSubscribe(conn net.Conn, session *Session, body []byte) error {
	sub, err := ParseSubscribe(body)
	if err != nil {
		return err
	}

	codes := make([]SubAckReturnCode, len(sub.Filters))
	for i, f := range sub.Filters {
		if !ValidateFilter(f.Filter) || (b.cfg.ACL != nil && !b.cfg.ACL.CheckSubscribe(session.ClientID, "", f.Filter)) {
			codes[i] = SubAckFailure
			b.audit.Warn().Str("event", "acl_deny_subscribe").Str("client_id", session.ClientID).
				Str("filter", f.Filter).Msg("subscribe denied by ACL")
			continue
		}
		b.matcher.Subscribe(session.ClientID, f.Filter)
		session.Subscribe(f.Filter, f.QoS)
		b.metrics.SubscriptionAdded()
		codes[i] = SubAckReturnCode(f.QoS)

		for _, retained := range b.retain.Matching(f.Filter) {
			conn.Write(EncodePublish(retained.Topic, 0, retained.Payload, QoS0, true, false))
		}
	}

	_, err = conn.Write(EncodeSubAck(sub.PacketID, codes))
	return err
}

func (b *Broker) handleUnsubscribe(conn net.Conn, session *Session, body []byte) error {
	packetID, filters, err := ParseUnsubscribe(body)
	if err != nil {
		return err
	}
	for _, f := range filters {
		b.matcher.Unsubscribe(session.ClientID, f)
		session.Unsubscribe(f)
		b.metrics.SubscriptionRemoved()
	}
	_, err = conn.Write(EncodeUnsubAck(packetID))
	return err
}

// MetricsSnapshot renders the broker's current Prometheus text-exposition
// metrics.
func (b *Broker) MetricsSnapshot() string {
	return b.metrics.Snapshot(b.retain.Count())
}

// retrySweepLoop periodically redelivers QoS 1/2 publishes that haven't
// been acknowledged within cfg.RetryInterval.
func (b *Broker) retrySweepLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweepOnce(time.Now())
		}
	}
}

func (b *Broker) sweepOnce(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for clientID, session := range b.sessions {
		conn, ok := b.conns[clientID]
		if !ok {
			continue
		}
		if session.IsExpired(now) {
			conn.Close()
			continue
		}
		for _, pkt := range session.DueRetransmits(b.cfg.RetryInterval, now) {
			conn.Write(pkt)
		}
	}
}

func readPacketID(body []byte) (uint16, error) {
	c := &byteCursor{buf: body}
	return c.readUint16()
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, fmt.Errorf("mqtt: short read")
		}
	}
	return n, nil
}
