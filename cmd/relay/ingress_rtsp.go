package main

import (
	"context"

	"github.com/fluxmedia/flux-relay/pkg/config"
	"github.com/fluxmedia/flux-relay/pkg/logger"
	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
	"github.com/fluxmedia/flux-relay/pkg/relay"
	"github.com/fluxmedia/flux-relay/pkg/rtp"
	"github.com/fluxmedia/flux-relay/pkg/rtsp"

	pionrtp "github.com/pion/rtp"
)

// runRTSPIngress pulls an RTSP stream, depacketizes H.264 video and AAC
// audio, and feeds reassembled access units into a segment builder that
// appends to core. It runs in a background goroutine; SetIngressStopper
// attaches a cancel so UnregisterStream can tear it down.
func runRTSPIngress(ctx context.Context, core *relay.Core, id mediatypes.StreamId, sc config.StreamConfig, cfg *config.Config, log *logger.Logger) {
	workerCtx, cancel := context.WithCancel(ctx)
	core.SetIngressStopper(id, cancel)

	go func() {
		defer cancel()

		client := rtsp.NewClient(sc.IngressURL, log.Logger)
		if err := client.Connect(workerCtx); err != nil {
			log.Error("rtsp connect failed", "error", err)
			return
		}
		defer client.Close()

		builder := newSegmentBuilder(core, id, mediatypes.CodecH264, mediatypes.CodecAAC, cfg.HLS.TargetDuration)

		h264Proc := rtp.NewH264Processor()
		h264Proc.OnFrame = func(pkt *mediatypes.MediaPacket) {
			builder.addVideo(pkt)
		}
		aacProc := rtp.NewAACProcessor()
		aacProc.OnFrame = func(pkt *mediatypes.MediaPacket) {
			builder.addAudio(pkt)
		}

		client.OnRTPPacket = func(channel byte, packet *pionrtp.Packet) {
			ch, ok := client.Channels[channel]
			if !ok {
				return
			}
			switch ch.MediaType {
			case "video":
				if err := h264Proc.ProcessPacket(packet); err != nil {
					log.Warn("h264 depacketize failed", "error", err)
				}
			case "audio":
				if err := aacProc.ProcessPacket(packet); err != nil {
					log.Warn("aac depacketize failed", "error", err)
				}
			}
		}

		if err := client.SetupTracks(workerCtx); err != nil {
			log.Error("rtsp setup failed", "error", err)
			return
		}
		if err := client.Play(workerCtx); err != nil {
			log.Error("rtsp play failed", "error", err)
			return
		}

		log.Info("rtsp ingress started", "url", sc.IngressURL)
		if err := client.ReadPackets(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Error("rtsp read loop stopped", "error", err)
		}
	}()
}
