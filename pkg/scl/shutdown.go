package scl

// breakContact is the single terminal-state entry point (spec.md §4.I):
// idempotent, disposes of every InFlightBundle and IncomingBundle, flips
// the Contact Manager's Up flag, and posts ContactDownEvent exactly
// once.
//
// writeShutdown distinguishes the two dispositions spec.md §4.I
// describes: orderly (true) writes a SHUTDOWN message and flushes it
// before closing, for a connection closing itself on request; abortive
// (false) just closes, for a received SHUTDOWN, a protocol error, a
// data/idle timeout, or any I/O error.
func (c *Connection) breakContact(reason Reason, cause error, writeShutdown bool) {
	if c.contactBroken {
		return
	}
	c.contactBroken = true

	if writeShutdown {
		c.queueRaw([]byte{MsgShutdown})
		c.flushSendbuf()
	}
	if cause != nil {
		c.log.WithError(cause).WithField("reason", reason.String()).Warn("scl: connection broken")
	} else {
		c.log.WithField("reason", reason.String()).Info("scl: connection closed")
	}
	c.io.Close()

	c.disposeInflight()
	c.disposeIncoming()

	if c.contactID != "" {
		c.contactMgr.SetContactUp(c.contactID, false)
	}
	c.events.Post(ContactDownEvent{Contact: c.contactID, Reason: reason})
}

// disposeInflight drops every outbound bundle still in flight without
// posting BundleTransmittedEvent for any of them: a contact tearing down
// mid-transfer never completes the bundles it was sending (spec.md
// §4.I, §7).
func (c *Connection) disposeInflight() {
	for _, f := range c.inflight {
		f.Bundle.Payload().Close()
	}
	c.inflight = nil
	c.currentInflight = nil
	c.sendSegmentTodo = 0
}

// disposeIncoming closes out every inbound accumulator. When reactive
// fragmentation was negotiated on and a bundle's header has already
// arrived, the partial payload received so far is delivered early as a
// BundleReceivedEvent with Fragment set, per spec.md §4.I; otherwise the
// partial data is simply discarded.
func (c *Connection) disposeIncoming() {
	for _, in := range c.incoming {
		if !in.HeaderArrived() {
			continue
		}
		if c.params.ReactiveFragEnabled {
			c.events.Post(BundleReceivedEvent{
				Bundle:        in.Bundle,
				Source:        Peer{EID: c.peerEID},
				BytesReceived: in.RcvdData.NumContiguous() - in.HeaderBlockLength,
				Fragment:      true,
			})
		}
		in.Bundle.Payload().Close()
	}
	c.incoming = nil
	c.recvSegmentTodo = 0
}
