package scl

import (
	"github.com/dtnproto/scl/pkg/bpabstract"
	"github.com/dtnproto/scl/pkg/contactmgr"
)

// Reason is why a contact went down (spec.md §6, §7).
type Reason uint8

const (
	ReasonBroken Reason = iota
	ReasonShutdown
	ReasonIdle
	ReasonUser
)

func (r Reason) String() string {
	switch r {
	case ReasonBroken:
		return "BROKEN"
	case ReasonShutdown:
		return "SHUTDOWN"
	case ReasonIdle:
		return "IDLE"
	case ReasonUser:
		return "USER"
	default:
		return "UNKNOWN"
	}
}

// Peer identifies the remote side a BundleReceivedEvent came from. SCL
// only ever sees one peer per connection, so this is a thin marker
// rather than a routing address.
type Peer struct {
	EID bpabstract.EndpointID
}

// BundleReceivedEvent is posted on END_BUNDLE (spec.md §6).
type BundleReceivedEvent struct {
	Bundle        bpabstract.Bundle
	Source        Peer
	BytesReceived int
	// Fragment marks a bundle delivered early on break_contact per
	// spec.md §4.I when reactive fragmentation was negotiated on.
	Fragment bool
}

// BundleTransmittedEvent is posted on final ack, or on finish_bundle when
// segment acks are disabled (spec.md §6, §9 Open Question).
type BundleTransmittedEvent struct {
	Bundle     bpabstract.Bundle
	Contact    contactmgr.ContactID
	BytesSent  int
	BytesAcked int
}

// ContactUpEvent is posted on handshake completion.
type ContactUpEvent struct {
	Contact contactmgr.ContactID
}

// ContactDownEvent is posted on any terminal state transition.
type ContactDownEvent struct {
	Contact contactmgr.ContactID
	Reason  Reason
}

// EventSink is the external, single-consumer Bundle Daemon event queue
// (spec.md §5). Posting must never block indefinitely on a slow
// consumer in a way that stalls this connection's protocol engine;
// implementations typically back it with a large buffered channel.
type EventSink interface {
	Post(evt any)
}

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc func(evt any)

func (f EventSinkFunc) Post(evt any) { f(evt) }
