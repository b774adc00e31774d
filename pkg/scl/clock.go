package scl

import "time"

// Clock is injected so the timer/poll driver (spec.md §4.H) can be
// tested deterministically instead of via time.Sleep-based flakiness,
// grounded on the teacher's pkg/sdo tests driving timeouts with small
// durations rather than real wall-clock waits.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the production Clock backed by time.Now.
var RealClock Clock = realClock{}
