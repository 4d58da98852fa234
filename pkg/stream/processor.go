package stream

import (
	"log/slog"
	"sync"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

// Processor drives one stream's passthrough/transcode/auto mode,
// re-evaluating Auto mode's triggers on every viewer join and
// switching mode without resetting output continuity.
// Grounded on flux-stream/src/processor/{passthrough,transcode}.rs's
// start/stop lifecycle shape, adapted from an ffmpeg-subprocess driver to
// an in-process mode flag this repo's muxers read on every frame.
type Processor struct {
	mu       sync.Mutex
	ctx      *Context
	detector *Detector
	triggers []Trigger
	logger   *slog.Logger

	onModeChange func(mediatypes.StreamMode)
}

// NewProcessor creates a processor for a stream context, with an optional
// callback invoked whenever the effective mode changes.
func NewProcessor(ctx *Context, detector *Detector, triggers []Trigger, logger *slog.Logger, onModeChange func(mediatypes.StreamMode)) *Processor {
	return &Processor{
		ctx:          ctx,
		detector:     detector,
		triggers:     triggers,
		logger:       logger,
		onModeChange: onModeChange,
	}
}

// OnViewerJoin registers the viewer and, in Auto mode, re-evaluates
// triggers, switching to transcode if any fires.
func (p *Processor) OnViewerJoin(v mediatypes.ViewerContext) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ctx.AddViewer(v)
	p.reevaluateLocked(v.PreferredProtocol)
}

// OnViewerLeave drops the viewer; it does not re-evaluate triggers.
// Auto mode never switches back to passthrough on its own once it has
// switched to transcode: the trigger evaluator only describes the
// passthrough-to-transcode direction; a manual reconfiguration is
// required to revert.
func (p *Processor) OnViewerLeave(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ctx.RemoveViewer(clientID)
}

func (p *Processor) reevaluateLocked(joiningProtocol mediatypes.Protocol) {
	if p.ctx.CurrentMode() != mediatypes.ModeAuto {
		return
	}
	if p.detector.Evaluate(p.ctx, joiningProtocol, p.triggers) {
		p.logger.Info("switching stream to transcode", "stream_id", p.ctx.StreamID)
		p.ctx.SetMode(mediatypes.ModeTranscode)
		if p.onModeChange != nil {
			p.onModeChange(mediatypes.ModeTranscode)
		}
	}
}

// EffectiveMode returns the mode the egress path should currently use:
// ModeAuto resolves to ModeTranscode once a trigger has fired, or
// ModePassthrough otherwise (Context.Mode itself is flipped when a
// trigger fires, so this just reads it straight through for Passthrough
// and Transcode, and treats an un-promoted Auto as Passthrough).
func (p *Processor) EffectiveMode() mediatypes.StreamMode {
	mode := p.ctx.CurrentMode()
	if mode == mediatypes.ModeAuto {
		return mediatypes.ModePassthrough
	}
	return mode
}
