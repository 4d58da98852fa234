package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fluxmedia/flux-relay/pkg/config"
	"github.com/fluxmedia/flux-relay/pkg/gb28181"
	"github.com/fluxmedia/flux-relay/pkg/logger"
	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
	"github.com/fluxmedia/flux-relay/pkg/relay"

	pionrtp "github.com/pion/rtp"
)

// runGB28181Ingress starts a SIP/2.0 endpoint bound at sc.IngressURL
// (reused as the listen address), whose registry records devices as they
// send REGISTER, and on
// INVITE opens a UDP media socket that demuxes the incoming MPEG-PS RTP
// payloads and appends TS segments to core. The PS elementary streams are
// forwarded into the TS muxer as opaque access units (no H.264/AAC
// re-depacketization; GB28181 devices typically already deliver
// NAL-aligned PES payloads, matching the RTSP ingress pipeline's
// "depacketize once, mux once" shape).
func runGB28181Ingress(ctx context.Context, core *relay.Core, id mediatypes.StreamId, sc config.StreamConfig, cfg *config.Config, log *logger.Logger) error {
	registry := gb28181.NewRegistry()
	endpoint, err := gb28181.NewEndpoint(sc.IngressURL, registry, log.Logger)
	if err != nil {
		return fmt.Errorf("gb28181 endpoint: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	core.SetIngressStopper(id, func() {
		cancel()
		endpoint.Close()
	})

	builder := newSegmentBuilder(core, id, mediatypes.CodecH264, mediatypes.CodecAAC, cfg.HLS.TargetDuration)

	endpoint.OnInvite = func(deviceID string, req *gb28181.Message) (int, uint32, error) {
		mediaConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
		if err != nil {
			return 0, 0, err
		}
		port := mediaConn.LocalAddr().(*net.UDPAddr).Port

		go runGB28181Media(workerCtx, mediaConn, builder, log.With("device_id", deviceID))

		return port, deviceSSRC(deviceID), nil
	}

	go func() {
		defer endpoint.Close()
		for {
			select {
			case <-workerCtx.Done():
				return
			default:
			}
			if err := endpoint.ServeOne(); err != nil && workerCtx.Err() == nil {
				log.Warn("gb28181 endpoint read failed", "error", err)
				return
			}
		}
	}()

	log.Info("gb28181 ingress started", "listen_addr", sc.IngressURL)
	return nil
}

// runGB28181Media reads RTP/PS datagrams from conn and feeds their PES
// payloads into builder via a fresh demuxer bound to this media session.
func runGB28181Media(ctx context.Context, conn *net.UDPConn, builder *segmentBuilder, log *logger.Logger) {
	defer conn.Close()
	defer builder.flush()

	demuxer := gb28181.NewDemuxer()
	demuxer.OnPESUnit = func(u gb28181.PESUnit) {
		pkt := &mediatypes.MediaPacket{
			Payload:    u.Payload,
			IsKeyframe: u.IsVideo && looksLikeIDR(u.Payload),
			MediaKind:  mediaKindFor(u.IsVideo),
			Codec:      mediatypes.CodecH264,
		}
		if u.IsVideo {
			pkt.Codec = mediatypes.CodecH264
			builder.addVideo(pkt)
		} else {
			pkt.Codec = mediatypes.CodecAAC
			builder.addAudio(pkt)
		}
	}

	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		var rtpPkt pionrtp.Packet
		if err := rtpPkt.Unmarshal(buf[:n]); err != nil {
			log.Warn("gb28181 rtp unmarshal failed", "error", err)
			continue
		}
		if err := demuxer.Feed(rtpPkt.Payload); err != nil {
			log.Warn("gb28181 ps demux failed", "error", err)
		}
	}
}

func mediaKindFor(isVideo bool) mediatypes.MediaKind {
	if isVideo {
		return mediatypes.MediaVideo
	}
	return mediatypes.MediaAudio
}

// looksLikeIDR checks the first NAL unit's type for an IDR slice, used as
// the PS payload's keyframe signal since the demuxer doesn't carry one.
func looksLikeIDR(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	return payload[0]&0x1F == 5
}

// deviceSSRC derives a stable SSRC from deviceID, returned to the SIP
// endpoint's INVITE handler; that handler's 200 OK carries no SDP body, so
// the SSRC is not sent to the device. GB28181 only requires the value be consistent for the session, not
// globally unique.
func deviceSSRC(deviceID string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(deviceID); i++ {
		h ^= uint32(deviceID[i])
		h *= 16777619
	}
	return h
}
