package clparams

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNegotiateBooleansAreAnd(t *testing.T) {
	local := Default()
	peer := Default()
	peer.SegmentAckEnabled = false
	out := Negotiate(local, peer)
	assert.False(t, out.SegmentAckEnabled)
}

func TestNegotiateKeepaliveIsMin(t *testing.T) {
	local := Default()
	local.KeepaliveInterval = 20 * time.Second
	peer := Default()
	peer.KeepaliveInterval = 5 * time.Second
	out := Negotiate(local, peer)
	assert.Equal(t, 5*time.Second, out.KeepaliveInterval)
}

func TestNegotiateZeroKeepaliveDisables(t *testing.T) {
	local := Default()
	peer := Default()
	peer.KeepaliveInterval = 0
	out := Negotiate(local, peer)
	assert.Equal(t, time.Duration(0), out.KeepaliveInterval)
}

func TestNegotiateSegmentLengthNotNegotiated(t *testing.T) {
	local := Default()
	local.SegmentLength = 1024
	peer := Default()
	peer.SegmentLength = 8192
	out := Negotiate(local, peer)
	assert.Equal(t, uint32(1024), out.SegmentLength)
}
