package scl

import (
	"github.com/dtnproto/scl/internal/bitset"
	"github.com/dtnproto/scl/pkg/bpabstract"
)

// IncomingBundle is the per-bundle inbound record (spec.md §3): created
// on START_BUNDLE, enqueued on the incoming FIFO. The back-most entry is
// the segment accumulator; entries ahead of it are awaiting final ack
// emission and are removed once acked_length == total_length.
type IncomingBundle struct {
	Bundle            bpabstract.Bundle
	HeaderBlockLength int

	RcvdData *bitset.Bitmap // byte offsets received so far, [0, total)
	AckData  *bitset.Bitmap // segment-end offsets not yet acked outbound

	AckedLength  int // length already acked outbound
	TotalLength  int // set to rcvd_data.last()+1 on END_BUNDLE, else 0
}

// NewIncomingBundle creates an empty accumulator, pushed on START_BUNDLE.
func NewIncomingBundle() *IncomingBundle {
	return &IncomingBundle{
		RcvdData: bitset.New(),
		AckData:  bitset.New(),
	}
}

// HeaderArrived reports whether the header segment has been parsed yet
// (spec.md §3 invariant: "rcvd_data is non-empty iff START_BUNDLE was
// seen and at least the header segment arrived").
func (in *IncomingBundle) HeaderArrived() bool {
	return !in.RcvdData.Empty()
}

// MarkSegmentEnd records a segment boundary at byte offset end
// (inclusive), for ack-generation iteration (spec.md §4.G "Ack
// generation").
func (in *IncomingBundle) MarkSegmentEnd(end int) {
	in.AckData.Set(end)
}

// Finished reports TotalLength has been set (END_BUNDLE seen) and fully
// acked outbound, i.e. this record is ready to be popped from the
// incoming FIFO.
func (in *IncomingBundle) Finished() bool {
	return in.TotalLength != 0 && in.TotalLength == in.AckedLength
}
