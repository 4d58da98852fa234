// Package stream tracks per-stream viewer state and evaluates the
// passthrough/transcode trigger policy. Grounded on
// flux-stream/src/context.rs and flux-stream/src/trigger.rs.
package stream

import (
	"sync"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
)

// Context tracks the viewers currently attached to one stream: their
// preferred protocols, client types, and bandwidth estimates, which feed
// the trigger evaluator.
type Context struct {
	mu       sync.RWMutex
	StreamID string
	Mode     mediatypes.StreamMode
	viewers  map[string]mediatypes.ViewerContext
}

// NewContext creates a stream context in the given initial mode.
func NewContext(streamID string, mode mediatypes.StreamMode) *Context {
	return &Context{
		StreamID: streamID,
		Mode:     mode,
		viewers:  make(map[string]mediatypes.ViewerContext),
	}
}

// AddViewer registers a joining viewer.
func (c *Context) AddViewer(v mediatypes.ViewerContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewers[v.ClientID] = v
}

// RemoveViewer drops a leaving viewer.
func (c *Context) RemoveViewer(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.viewers, clientID)
}

// ClientCount returns the number of attached viewers.
func (c *Context) ClientCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.viewers)
}

// ActiveProtocols returns the set of distinct protocols currently
// requested by viewers.
func (c *Context) ActiveProtocols() map[mediatypes.Protocol]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := make(map[mediatypes.Protocol]struct{})
	for _, v := range c.viewers {
		set[v.PreferredProtocol] = struct{}{}
	}
	return set
}

// ClientTypes returns the set of distinct client types currently attached.
func (c *Context) ClientTypes() map[mediatypes.ClientType]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := make(map[mediatypes.ClientType]struct{})
	for _, v := range c.viewers {
		set[v.ClientType] = struct{}{}
	}
	return set
}

// BandwidthRange returns the (min, max) of viewers' estimated bandwidth,
// ignoring viewers with no estimate. ok is false if no viewer has an
// estimate.
func (c *Context) BandwidthRange() (min, max int64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	first := true
	for _, v := range c.viewers {
		if v.EstimatedBandwidth == nil {
			continue
		}
		bw := *v.EstimatedBandwidth
		if first {
			min, max = bw, bw
			first = false
			continue
		}
		if bw < min {
			min = bw
		}
		if bw > max {
			max = bw
		}
	}
	return min, max, !first
}

// RequestedVariants buckets the current viewer bandwidth estimates into the
// renditions an external transcoder should produce once the stream leaves
// passthrough. It is a coarse, fixed ladder rather than a per-viewer optimal
// fit: the transcode trigger only needs a stable list to hand to the
// external encoder, not a bitrate-matching algorithm.
func (c *Context) RequestedVariants() []string {
	min, max, ok := c.BandwidthRange()
	if !ok {
		return []string{"720p"}
	}

	variants := []string{"360p"}
	if max >= 1_500_000 {
		variants = append(variants, "720p")
	}
	if max >= 4_000_000 {
		variants = append(variants, "1080p")
	}
	if min < 500_000 {
		variants = append([]string{"240p"}, variants...)
	}
	return variants
}

// SetMode updates the stream's current mode. Switching mode must not
// reset the egress muxer's timestamp base or segment counters — that
// continuity guarantee lives in the muxer/orchestrator, not here.
func (c *Context) SetMode(mode mediatypes.StreamMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Mode = mode
}

// CurrentMode returns the stream's current mode.
func (c *Context) CurrentMode() mediatypes.StreamMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Mode
}
