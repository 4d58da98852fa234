package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/fluxmedia/flux-relay/pkg/config"
	"github.com/fluxmedia/flux-relay/pkg/logger"
	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
	"github.com/fluxmedia/flux-relay/pkg/relay"
	"github.com/fluxmedia/flux-relay/pkg/srt"

	"github.com/google/uuid"
)

// runSRTIngress binds sc.IngressURL (an ":port" listen address) as an SRT
// listener: it runs the 4-way induction/conclusion handshake per
// connecting peer, then reassembles each connection's reliable byte
// stream. SRT conventionally carries an already-packaged MPEG-TS stream,
// so reassembled chunks are appended as segments directly rather than
// re-depacketized, mirroring the GB28181/RTSP workers' "decode once"
// shape without a redundant remux step.
//
// Sessions are keyed by peer address rather than SRT socket ID: every
// connecting peer's data packets carry the same dest socket ID (this
// listener's own), so the socket ID alone can't disambiguate concurrent
// callers.
func runSRTIngress(ctx context.Context, core *relay.Core, id mediatypes.StreamId, sc config.StreamConfig, cfg *config.Config, log *logger.Logger) error {
	addr, err := net.ResolveUDPAddr("udp", sc.IngressURL)
	if err != nil {
		return fmt.Errorf("srt resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("srt listen: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	core.SetIngressStopper(id, func() {
		cancel()
		conn.Close()
	})

	cookies := srt.NewCookieJar(srtCookieSecret(), cfg.SRT.ConnectionTimeout)
	builder := newSegmentBuilder(core, id, mediatypes.CodecH264, mediatypes.CodecAAC, cfg.HLS.TargetDuration)

	sessions := make(map[string]*srt.Connection)
	localSocketID := socketIDFromUUID()

	go func() {
		defer conn.Close()
		defer builder.flush()

		sweepTicker := time.NewTicker(time.Second)
		defer sweepTicker.Stop()
		go func() {
			for {
				select {
				case <-workerCtx.Done():
					return
				case now := <-sweepTicker.C:
					cookies.Sweep(now)
					for peerKey, c := range sessions {
						if c.IsTimedOut(now) {
							c.Close()
							delete(sessions, peerKey)
						}
					}
				}
			}
		}()

		buf := make([]byte, 1500)
		for {
			select {
			case <-workerCtx.Done():
				return
			default:
			}
			conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				if workerCtx.Err() != nil {
					return
				}
				continue
			}
			data := buf[:n]

			if srt.IsControl(data) {
				handleSRTControl(conn, peer, data, cookies, sessions, localSocketID, cfg, log)
				continue
			}

			pkt, err := srt.ParseDataPacket(data)
			if err != nil {
				log.Warn("srt data parse failed", "error", err)
				continue
			}
			c, ok := sessions[peer.String()]
			if !ok {
				continue
			}
			for _, payload := range c.OnDataReceived(pkt.Sequence, pkt.Payload) {
				builder.addRawTS(payload, true)
			}
		}
	}()

	log.Info("srt ingress started", "listen_addr", sc.IngressURL)
	return nil
}

func handleSRTControl(conn *net.UDPConn, peer *net.UDPAddr, data []byte, cookies *srt.CookieJar, sessions map[string]*srt.Connection, localSocketID uint32, cfg *config.Config, log *logger.Logger) {
	cp, err := srt.ParseControlPacket(data)
	if err != nil {
		log.Warn("srt control parse failed", "error", err)
		return
	}
	if cp.Type != srt.ControlHandshake {
		return
	}
	hs, err := srt.ParseHandshakePacket(cp.Payload)
	if err != nil {
		log.Warn("srt handshake parse failed", "error", err)
		return
	}

	switch hs.HandshakeType {
	case srt.HandshakeInduction:
		cookie := cookies.MintCookie(peer)
		resp := srt.BuildInductionResponse(localSocketID, cookie)
		conn.WriteToUDP(wrapHandshake(resp, localSocketID), peer)

	case srt.HandshakeConclusion:
		if !cookies.VerifyConclusion(peer, hs.SynCookie) {
			log.Warn("srt conclusion cookie mismatch", "peer", peer.String())
			return
		}
		c := srt.NewConnection(localSocketID, hs.SocketID, peer, 0, cfg.SRT.MaxFlowWindow, cfg.SRT.KeepaliveInterval, cfg.SRT.ConnectionTimeout)
		sessions[peer.String()] = c
		resp := srt.BuildConclusionResponse(localSocketID, hs.InitialPacketSequence)
		conn.WriteToUDP(wrapHandshake(resp, localSocketID), peer)
		log.Info("srt connection established", "peer", peer.String())
	}
}

// wrapHandshake wraps a HandshakePacket in the ControlPacket envelope it
// travels in on the wire.
func wrapHandshake(hs *srt.HandshakePacket, destSocketID uint32) []byte {
	cp := &srt.ControlPacket{
		Type:         srt.ControlHandshake,
		DestSocketID: destSocketID,
		Payload:      hs.Serialize(),
	}
	return cp.Serialize()
}

func srtCookieSecret() []byte {
	id := uuid.New()
	return id[:]
}

// socketIDFromUUID derives this listener's SRT local socket ID from a
// random UUID (google/uuid, which also supplies srtCookieSecret's random
// bytes), since the protocol only requires the value be unique per
// listener, not globally structured.
func socketIDFromUUID() uint32 {
	id := uuid.New()
	return binary.BigEndian.Uint32(id[:4])
}
