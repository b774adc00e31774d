// Package clparams holds the per-connection negotiation parameters
// described in spec.md §4.D: segment_ack_enabled, reactive_frag_enabled,
// keepalive_interval, segment_length, data_timeout, and idle_close_time,
// plus the min/AND negotiation rule applied once both peers' ContactHeaders
// have been exchanged.
package clparams

import "time"

// Defaults, grounded on spec.md §4.D's "Default" column.
const (
	DefaultSegmentAckEnabled    = true
	DefaultReactiveFragEnabled  = false
	DefaultKeepaliveIntervalSec = 10
	DefaultSegmentLength        = 4096
	DefaultDataTimeout          = 30 * time.Second
	DefaultIdleCloseTime        = 0 * time.Second // 0 disables, link-specific otherwise
)

// LinkParams is the negotiated (or about-to-be-negotiated) parameter set
// for one connection.
type LinkParams struct {
	SegmentAckEnabled   bool
	ReactiveFragEnabled bool
	KeepaliveInterval   time.Duration // 0 disables keepalive emission
	SegmentLength       uint32        // bytes, not negotiated: each side uses its own
	DataTimeout         time.Duration
	IdleCloseTime       time.Duration // 0 disables idle-close; on-demand links only
	OnDemand            bool
}

// Default returns the spec's default parameter set.
func Default() LinkParams {
	return LinkParams{
		SegmentAckEnabled:   DefaultSegmentAckEnabled,
		ReactiveFragEnabled: DefaultReactiveFragEnabled,
		KeepaliveInterval:   DefaultKeepaliveIntervalSec * time.Second,
		SegmentLength:       DefaultSegmentLength,
		DataTimeout:         DefaultDataTimeout,
		IdleCloseTime:       DefaultIdleCloseTime,
	}
}

// Negotiate applies spec.md §4.D's negotiation rule: min of the two
// keepalive intervals, AND of the two booleans. segment_length is
// explicitly excluded — each side keeps using its own local value for its
// own sends. data_timeout and idle_close_time are link-local (inherited
// from configuration, not carried on the wire) and are therefore left as
// local's values.
func Negotiate(local, peer LinkParams) LinkParams {
	out := local
	out.SegmentAckEnabled = local.SegmentAckEnabled && peer.SegmentAckEnabled
	out.ReactiveFragEnabled = local.ReactiveFragEnabled && peer.ReactiveFragEnabled
	out.KeepaliveInterval = minDuration(local.KeepaliveInterval, peer.KeepaliveInterval)
	return out
}

// minDuration is a literal minimum: if either side has disabled keepalive
// (0), the negotiated interval is 0 too, per spec.md §4.D.
func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
