package scl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIncomingBundle_HeaderArrived(t *testing.T) {
	in := NewIncomingBundle()
	require.False(t, in.HeaderArrived())
	in.RcvdData.SetRange(0, 10)
	require.True(t, in.HeaderArrived())
}

func TestIncomingBundle_Finished(t *testing.T) {
	in := NewIncomingBundle()
	require.False(t, in.Finished())

	in.RcvdData.SetRange(0, 11)
	in.TotalLength = 11
	require.False(t, in.Finished()) // acked_length still behind total_length

	in.AckedLength = 11
	require.True(t, in.Finished())
}

func TestIncomingBundle_AckedLengthNeverExceedsReceived(t *testing.T) {
	// Invariant I2: acked_length <= rcvd_data.last()+1 at all times.
	in := NewIncomingBundle()
	in.RcvdData.SetRange(0, 4096)
	in.MarkSegmentEnd(4095)
	require.LessOrEqual(t, 4096, in.RcvdData.Last()+1)
}
