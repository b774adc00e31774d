package scl

import "errors"

// handlePollTimeout runs the periodic timer checks (spec.md §4.H):
// data_timeout, idle_close_time (on-demand links only, both directions
// idle), and keepalive emission. Checked in that order so a genuinely
// dead peer is declared BROKEN before an idle on-demand link is merely
// closed, and before a keepalive is wastefully sent to it.
func (c *Connection) handlePollTimeout() {
	if !c.contactUp || c.contactBroken {
		return
	}
	now := c.clock.Now()

	if c.params.DataTimeout > 0 && now.Sub(c.dataRcvd) > c.params.DataTimeout {
		c.breakContact(ReasonBroken, errDataTimeout, false)
		return
	}

	if c.localParams.OnDemand && c.params.IdleCloseTime > 0 {
		idleRcvd := now.Sub(c.dataRcvd) > c.params.IdleCloseTime
		idleSent := now.Sub(c.dataSent) > c.params.IdleCloseTime
		if idleRcvd && idleSent {
			c.breakContact(ReasonIdle, nil, false)
			return
		}
	}

	if c.params.KeepaliveInterval > 0 {
		sinceSent := now.Sub(c.dataSent)
		sinceKeepalive := now.Sub(c.keepaliveSent)
		due := sinceSent
		if sinceKeepalive < due {
			due = sinceKeepalive
		}
		if due > c.params.KeepaliveInterval {
			c.emitKeepalive()
		}
	}
}

// emitKeepalive writes a KEEPALIVE message straight to the IOChannel
// rather than through sendbuf/flushSendbuf, so it updates keepalive_sent
// but deliberately not data_sent (spec.md §4.H: "keepalive emission
// updates keepalive_sent but not data_sent"). Any bytes already queued
// in sendbuf are flushed first so the keepalive never jumps ahead of
// real data on the wire, and keepalive_sent/the counter only advance on
// a confirmed write: if the channel can't accept the byte right now
// (ErrWouldBlock), nothing was actually sent, so nothing is recorded —
// the next poll will simply try again.
func (c *Connection) emitKeepalive() {
	c.flushSendbuf()
	if c.contactBroken {
		return
	}
	n, err := c.io.Write([]byte{MsgKeepalive})
	if err != nil && !errors.Is(err, ErrWouldBlock) {
		c.breakContact(ReasonBroken, err, false)
		return
	}
	if n == 0 {
		return
	}
	c.keepaliveSent = c.clock.Now()
	c.keepalivesSent.Add(1)
}
