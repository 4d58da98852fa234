// Package ferrors defines the error taxonomy shared by every ingress,
// egress, and core package: each wire or protocol failure is classified
// into one of a small set of kinds so callers can decide whether to
// discard-and-log, close the session, reconnect, or surface the failure
// across the external API boundary.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation purposes.
type Kind int

const (
	// KindParseError is a local malformed-data failure: discard the unit
	// and log it, the session continues.
	KindParseError Kind = iota
	// KindProtocolError means the peer violated the protocol; the
	// session is closed.
	KindProtocolError
	// KindTransportError is a network-level failure; the session is
	// closed. No component reconnects automatically.
	KindTransportError
	// KindTimeout covers handshake, keepalive, and RTT-specific
	// timeouts.
	KindTimeout
	// KindBackpressureDrop means a consumer could not keep up (a lagging
	// viewer, a blocked SRT send window) and a unit was dropped rather
	// than buffered unboundedly.
	KindBackpressureDrop
	// KindNotFound covers missing streams, segments, or subscriptions.
	KindNotFound
	// KindPermissionDenied covers ACL/auth rejection.
	KindPermissionDenied
	// KindInternal is anything else; it is the default surfaced kind for
	// unclassified failures.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindParseError:
		return "parse_error"
	case KindProtocolError:
		return "protocol_error"
	case KindTransportError:
		return "transport_error"
	case KindTimeout:
		return "timeout"
	case KindBackpressureDrop:
		return "backpressure_drop"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	default:
		return "internal"
	}
}

// Error wraps an underlying cause with a Kind for classification.
type Error struct {
	Kind Kind
	Op   string // component/operation that produced the error, e.g. "rtsp.setup"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func ParseError(op string, err error) *Error        { return newErr(KindParseError, op, err) }
func ProtocolError(op string, err error) *Error     { return newErr(KindProtocolError, op, err) }
func TransportError(op string, err error) *Error    { return newErr(KindTransportError, op, err) }
func Timeout(op string, err error) *Error           { return newErr(KindTimeout, op, err) }
func BackpressureDrop(op string, err error) *Error  { return newErr(KindBackpressureDrop, op, err) }
func NotFound(op string, err error) *Error          { return newErr(KindNotFound, op, err) }
func PermissionDenied(op string, err error) *Error  { return newErr(KindPermissionDenied, op, err) }
func Internal(op string, err error) *Error          { return newErr(KindInternal, op, err) }

// Is reports whether err (or anything it wraps) is classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, defaulting to KindInternal if err is
// not (or does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// External reports whether this kind is one of the four surfaced across
// the external API boundary: NotFound, PermissionDenied,
// BackpressureDrop (as a 503-equivalent), and Internal. Everything else
// is logged and handled internally by its component.
func External(kind Kind) bool {
	switch kind {
	case KindNotFound, KindPermissionDenied, KindBackpressureDrop, KindInternal:
		return true
	default:
		return false
	}
}
