package stream

import (
	"log/slog"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

// TriggerKind identifies one condition the Auto-mode evaluator can check.
type TriggerKind int

const (
	TriggerProtocolSwitch TriggerKind = iota
	TriggerClientThreshold
	TriggerClientVariety
	TriggerNetworkVariance
	TriggerNever
)

// Trigger is one configured transcode trigger. Count and Threshold are
// only meaningful for ClientThreshold and NetworkVariance respectively.
type Trigger struct {
	Kind      TriggerKind
	Count     int
	Threshold float64
}

// Detector evaluates a stream's configured triggers in order, returning
// true on the first one that fires: if any trigger fires, the stream
// switches to transcode.
type Detector struct {
	logger *slog.Logger
}

// NewDetector creates a trigger detector.
func NewDetector(logger *slog.Logger) *Detector {
	return &Detector{logger: logger}
}

// Evaluate checks triggers in order against ctx and the joining
// viewer's preferred protocol, returning true on the first match.
func (d *Detector) Evaluate(ctx *Context, joiningProtocol mediatypes.Protocol, triggers []Trigger) bool {
	for _, t := range triggers {
		if d.check(ctx, joiningProtocol, t) {
			d.logger.Debug("transcode trigger activated", "stream_id", ctx.StreamID, "trigger", t.Kind)
			return true
		}
	}
	return false
}

func (d *Detector) check(ctx *Context, joiningProtocol mediatypes.Protocol, t Trigger) bool {
	switch t.Kind {
	case TriggerProtocolSwitch:
		active := ctx.ActiveProtocols()
		active[joiningProtocol] = struct{}{}
		return len(active) > 1

	case TriggerClientThreshold:
		return ctx.ClientCount() >= t.Count

	case TriggerClientVariety:
		return len(ctx.ClientTypes()) > 1

	case TriggerNetworkVariance:
		min, max, ok := ctx.BandwidthRange()
		if !ok || max == 0 {
			return false
		}
		variance := float64(max-min) / float64(max)
		return variance > t.Threshold

	case TriggerNever:
		return false

	default:
		return false
	}
}
