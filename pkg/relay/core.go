// Package relay implements the core orchestration and external surface:
// registering streams, fanning live packets into the timeshift ring, and
// answering the stream registry/query/stats operations the HTTP/control
// plane consumes. Core wires one ingress-agnostic entity per stream to a
// stream context and a timeshift ring.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxmedia/flux-relay/pkg/ferrors"
	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
	"github.com/fluxmedia/flux-relay/pkg/stream"
	"github.com/fluxmedia/flux-relay/pkg/timeshift"
)

// StatsSnapshot is the result of a stream/connection stats query.
type StatsSnapshot struct {
	StreamID       string
	Protocol       string
	Mode           mediatypes.StreamMode
	Uptime         time.Duration
	VideoPackets   uint64
	AudioPackets   uint64
	HotSegments    int
	ViewerCount    int
}

// entity is one registered stream's live orchestration state: the ingress
// identity, a viewer-aware stream context, a transcode-trigger processor,
// and the timeshift ring holding its segments.
type entity struct {
	id         mediatypes.StreamId
	ingressURL string
	protocol   string // ingress protocol tag: rtsp, gb28181, srt

	streamCtx *stream.Context
	processor *stream.Processor
	ring      *timeshift.Ring

	videoPackets atomic.Uint64
	audioPackets atomic.Uint64
	startTime    time.Time

	stopIngress func()
}

// Core is the relay's central orchestrator: a registry of live stream
// entities plus the query surface exposed to the external API.
type Core struct {
	mu       sync.RWMutex
	entities map[string]*entity
	logger   *slog.Logger

	detector *stream.Detector
	triggers []stream.Trigger
	transcodeQueue *TranscodeQueue

	hotWindow  time.Duration
	coldWindow time.Duration
	persist    timeshift.Persister
}

// NewCore creates a Core. persist backs every registered stream's cold
// timeshift storage (typically *storage.SegmentPersister wrapping a
// storage.Backend). transcodeCommandsPerMinute bounds how fast Auto-mode
// trigger fires may dispatch external transcode-start commands.
func NewCore(hotWindow, coldWindow time.Duration, persist timeshift.Persister, triggers []stream.Trigger, transcodeCommandsPerMinute float64, logger *slog.Logger) *Core {
	tq := NewTranscodeQueue(transcodeCommandsPerMinute, logger.With("component", "transcode_queue"))
	tq.Start()

	return &Core{
		entities:       make(map[string]*entity),
		logger:         logger.With("component", "relay_core"),
		detector:       stream.NewDetector(logger.With("component", "trigger_detector")),
		triggers:       triggers,
		transcodeQueue: tq,
		hotWindow:      hotWindow,
		coldWindow:     coldWindow,
		persist:        persist,
	}
}

// Close stops the core's background workers (currently just the transcode
// dispatch queue).
func (c *Core) Close() {
	c.transcodeQueue.Stop()
}

// TranscodeQueueStats reports the transcode dispatch queue's counters.
func (c *Core) TranscodeQueueStats() TranscodeQueueStats {
	return c.transcodeQueue.Stats()
}

// RegisterStream adds a new stream entity under id, pulling from
// ingressURL over protocol. Returns a ferrors.Error(KindProtocolError) if
// id is already registered.
func (c *Core) RegisterStream(id mediatypes.StreamId, ingressURL string, protocol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := id.String()
	if _, exists := c.entities[key]; exists {
		return ferrors.ProtocolError("relay.RegisterStream", fmt.Errorf("stream %s already registered", key))
	}

	streamCtx := stream.NewContext(key, mediatypes.ModeAuto)
	onModeChange := func(mode mediatypes.StreamMode) {
		if mode != mediatypes.ModeTranscode {
			return
		}
		variants := streamCtx.RequestedVariants()
		c.transcodeQueue.Submit(TranscodeCommand{
			StreamID: key,
			Variants: variants,
			Execute: func(ctx context.Context) error {
				c.logger.Info("dispatching external transcode start", "stream_id", key, "variants", variants)
				return nil
			},
		})
	}
	e := &entity{
		id:         id,
		ingressURL: ingressURL,
		protocol:   protocol,
		streamCtx:  streamCtx,
		processor:  stream.NewProcessor(streamCtx, c.detector, c.triggers, c.logger.With("stream_id", key), onModeChange),
		ring:       timeshift.NewRing(key, c.hotWindow, c.coldWindow, c.persist),
		startTime:  time.Now(),
	}
	c.entities[key] = e
	c.logger.Info("stream registered", "stream_id", key, "protocol", protocol, "ingress_url", ingressURL)
	return nil
}

// UnregisterStream removes a stream entity, stopping its ingress runner
// if one was attached via SetIngressStopper.
func (c *Core) UnregisterStream(id mediatypes.StreamId) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := id.String()
	e, ok := c.entities[key]
	if !ok {
		return ferrors.NotFound("relay.UnregisterStream", fmt.Errorf("stream %s not found", key))
	}
	if e.stopIngress != nil {
		e.stopIngress()
	}
	delete(c.entities, key)
	c.logger.Info("stream unregistered", "stream_id", key)
	return nil
}

// SetIngressStopper attaches the function that tears down id's ingress
// worker (an RTSP puller, GB28181 invite session, or SRT listener started
// by the caller), invoked on UnregisterStream.
func (c *Core) SetIngressStopper(id mediatypes.StreamId, stop func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[id.String()]
	if !ok {
		return ferrors.NotFound("relay.SetIngressStopper", fmt.Errorf("stream %s not found", id.String()))
	}
	e.stopIngress = stop
	return nil
}

// ListStreams returns every registered stream ID.
func (c *Core) ListStreams() []mediatypes.StreamId {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]mediatypes.StreamId, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e.id)
	}
	return out
}

// AppendSegment feeds a newly-muxed segment into id's timeshift ring and
// updates its packet counters, the feed path from whatever protocol
// egress pipeline muxed it (pkg/mux/flv or pkg/mux/ts).
func (c *Core) AppendSegment(id mediatypes.StreamId, seg mediatypes.Segment, videoPackets, audioPackets uint64) error {
	e, err := c.get(id)
	if err != nil {
		return err
	}
	e.videoPackets.Add(videoPackets)
	e.audioPackets.Add(audioPackets)
	if err := e.ring.Append(seg); err != nil {
		return ferrors.Internal("relay.AppendSegment", err)
	}
	return nil
}

// Snapshot returns the bytes of the latest keyframe-bearing segment in
// id's hot buffer. This repo performs no video encoding, so the bytes
// returned are the raw keyframe segment payload, suitable for handing to
// an external JPEG encoder hook rather than serving directly as a JPEG.
func (c *Core) Snapshot(id mediatypes.StreamId) ([]byte, error) {
	e, err := c.get(id)
	if err != nil {
		return nil, err
	}
	for _, seg := range reverse(e.ring.Latest(32)) {
		if seg.HasKeyframe {
			return seg.Bytes, nil
		}
	}
	return nil, ferrors.NotFound("relay.Snapshot", fmt.Errorf("no keyframe segment available for %s", id))
}

// QuerySegments returns metadata for every segment of id in [start, end].
func (c *Core) QuerySegments(id mediatypes.StreamId, start, end time.Time) ([]mediatypes.SegmentMeta, error) {
	e, err := c.get(id)
	if err != nil {
		return nil, err
	}
	return e.ring.QuerySegments(start, end), nil
}

// GetSegmentBytes resolves one segment's bytes by sequence number,
// reading through to cold storage if it has been demoted out of the hot
// buffer.
func (c *Core) GetSegmentBytes(id mediatypes.StreamId, sequence uint64) ([]byte, error) {
	e, err := c.get(id)
	if err != nil {
		return nil, err
	}
	for _, seg := range e.ring.Latest(e.ring.HotLen()) {
		if seg.Sequence == sequence {
			return seg.Bytes, nil
		}
	}
	for _, meta := range e.ring.QuerySegments(time.Time{}, time.Now()) {
		if meta.Sequence == sequence {
			bytes, err := e.ring.ReadBytes(timeshift.SegmentRef{Meta: meta})
			if err != nil {
				return nil, ferrors.Internal("relay.GetSegmentBytes", err)
			}
			return bytes, nil
		}
	}
	return nil, ferrors.NotFound("relay.GetSegmentBytes", fmt.Errorf("sequence %d not found for %s", sequence, id))
}

// Stats returns a stats snapshot for id.
func (c *Core) Stats(id mediatypes.StreamId) (StatsSnapshot, error) {
	e, err := c.get(id)
	if err != nil {
		return StatsSnapshot{}, err
	}
	return StatsSnapshot{
		StreamID:     id.String(),
		Protocol:     e.protocol,
		Mode:         e.processor.EffectiveMode(),
		Uptime:       time.Since(e.startTime),
		VideoPackets: e.videoPackets.Load(),
		AudioPackets: e.audioPackets.Load(),
		HotSegments:  e.ring.HotLen(),
		ViewerCount:  e.streamCtx.ClientCount(),
	}, nil
}

// AddViewer registers a viewer join against id's stream context,
// re-evaluating the transcode trigger if the stream is in Auto mode.
func (c *Core) AddViewer(id mediatypes.StreamId, viewer mediatypes.ViewerContext) error {
	e, err := c.get(id)
	if err != nil {
		return err
	}
	e.processor.OnViewerJoin(viewer)
	return nil
}

// RemoveViewer unregisters a viewer from id's stream context.
func (c *Core) RemoveViewer(id mediatypes.StreamId, clientID string) error {
	e, err := c.get(id)
	if err != nil {
		return err
	}
	e.processor.OnViewerLeave(clientID)
	return nil
}

func (c *Core) get(id mediatypes.StreamId) (*entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[id.String()]
	if !ok {
		return nil, ferrors.NotFound("relay.get", fmt.Errorf("stream %s not found", id.String()))
	}
	return e, nil
}

func reverse(segs []mediatypes.Segment) []mediatypes.Segment {
	out := make([]mediatypes.Segment, len(segs))
	for i, s := range segs {
		out[len(segs)-1-i] = s
	}
	return out
}
