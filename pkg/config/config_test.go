package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sample = `
[link]
segment_ack_enabled = false
keepalive_interval = 5
segment_length = 1024
idle_close_time = 30
on_demand = true
`

func TestLoadLinkParamsOverlaysDefaults(t *testing.T) {
	params, err := LoadLinkParams([]byte(sample))
	require.NoError(t, err)
	require.False(t, params.SegmentAckEnabled)
	require.Equal(t, 5*time.Second, params.KeepaliveInterval)
	require.Equal(t, uint32(1024), params.SegmentLength)
	require.Equal(t, 30*time.Second, params.IdleCloseTime)
	require.True(t, params.OnDemand)
	// reactive_frag_enabled absent from the sample: default is retained.
	require.False(t, params.ReactiveFragEnabled)
}

func TestLoadLinkParamsMissingSectionKeepsDefaults(t *testing.T) {
	params, err := LoadLinkParams([]byte("[other]\nfoo=bar\n"))
	require.NoError(t, err)
	require.True(t, params.SegmentAckEnabled)
}
