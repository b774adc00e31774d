package scl

import "errors"

// Sentinel errors, grounded on the teacher's flat errors.go
// (package-level errors.New values) and on spec.md §7's error table.
var (
	// ErrBadMagic is returned by the handshake when the peer's
	// ContactHeader magic does not match "dtn!".
	ErrBadMagic = errors.New("scl: contact header bad magic")
	// ErrBadVersion is returned when the peer's ContactHeader version
	// does not match ours.
	ErrBadVersion = errors.New("scl: contact header unsupported version")
	// ErrProtocol covers any other protocol violation: unknown type
	// byte, END_BUNDLE with no data, START_BUNDLE mid-bundle, ack
	// regressing, over-length bundle.
	ErrProtocol = errors.New("scl: protocol violation")
	// ErrAckRegressed is a specific ErrProtocol cause: an ACK_SEGMENT
	// carried a length smaller than what was already acked.
	ErrAckRegressed = errors.New("scl: ack length regressed")
	// ErrOverLength is a specific ErrProtocol cause: an END_BUNDLE
	// implied a total length larger than the bundle's formatted length.
	ErrOverLength = errors.New("scl: bundle exceeds formatted length")
	// ErrUnknownType is a specific ErrProtocol cause: the leading type
	// byte of an inbound message did not match any known message type.
	ErrUnknownType = errors.New("scl: unknown message type")
	// ErrSendSegmentInvariant guards the "partially-sent-then-reset is
	// not permitted" assertion in spec.md §4.G step 3.
	ErrSendSegmentInvariant = errors.New("scl: inflight bundle picked with non-empty sent_data")
	// ErrClosed is returned by operations attempted on a connection
	// that has already broken or shut down.
	ErrClosed = errors.New("scl: connection closed")
	// errDataTimeout is the break_contact cause when data_timeout elapses
	// with no bytes received (spec.md §4.H). Unexported: callers observe
	// it only through ContactDownEvent's Reason, never by comparing errors.
	errDataTimeout = errors.New("scl: data timeout")
)
