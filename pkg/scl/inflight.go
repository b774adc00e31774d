package scl

import (
	"github.com/dtnproto/scl/internal/bitset"
	"github.com/dtnproto/scl/pkg/bpabstract"
)

// InFlightBundle is the per-bundle outbound record (spec.md §3):
// created when the daemon asks SCL to send a bundle, pushed onto the
// inflight FIFO, removed once it has been both fully sent (finish_bundle
// ran) and fully acked (or, when segment-ack is disabled, the synthetic
// full ack on finish — see DESIGN.md's Open Question resolution).
//
// Grounded on StreamConvergenceLayer.cc's InFlightBundle struct and
// cross-checked against the independent Go DTN CLA implementation in
// other_examples' dtn7-dtn7-gold transfer_out.go for the
// sent/acked-length bookkeeping shape.
type InFlightBundle struct {
	Bundle            bpabstract.Bundle
	HeaderBlockLength int
	TailBlockLength   int
	FormattedLength   int

	SentData *bitset.Bitmap
	AckData  *bitset.Bitmap

	// payloadSent tracks how many payload bytes (excluding header/tail)
	// have been copied into segments so far, since payload offsets and
	// formatted-length offsets differ by HeaderBlockLength.
	payloadSent int
}

// NewInFlightBundle creates an InFlight record for a bundle about to be
// sent, per spec.md §3's InFlightBundle lifecycle.
func NewInFlightBundle(b bpabstract.Bundle) *InFlightBundle {
	return &InFlightBundle{
		Bundle:            b,
		HeaderBlockLength: b.HeaderBlockLength(),
		TailBlockLength:   b.TailBlockLength(),
		FormattedLength:   b.FormattedLength(),
		SentData:          bitset.New(),
		AckData:           bitset.New(),
	}
}

// PayloadLen is the bundle's payload length (FormattedLength minus
// header and tail), i.e. what payload_sent is measured against in
// spec.md §4.G step 4.
func (f *InFlightBundle) PayloadLen() int {
	return f.FormattedLength - f.HeaderBlockLength - f.TailBlockLength
}

// PayloadSent is how many payload bytes have been framed into segments
// so far (spec.md §4.G step 4's payload_sent).
func (f *InFlightBundle) PayloadSent() int {
	return f.payloadSent
}

// AdvancePayloadSent records that n more payload bytes have been copied
// into the current outbound segment.
func (f *InFlightBundle) AdvancePayloadSent(n int) {
	f.payloadSent += n
}

// FullySent reports sent_data.num_contiguous() == formatted_length
// (spec.md §3's lifecycle condition (a), modulo finish_bundle having
// also run, which the Connection tracks separately via current_inflight
// becoming nil).
func (f *InFlightBundle) FullySent() bool {
	return f.SentData.NumContiguous() == f.FormattedLength
}

// FullyAcked reports ack_data covering formatted_length (spec.md §3's
// lifecycle condition (b)).
func (f *InFlightBundle) FullyAcked() bool {
	return f.AckData.NumContiguous() == f.FormattedLength
}

// SynthesizeFullAck marks the whole bundle acked locally. Called by
// finish_bundle when segment-ack is disabled (spec.md §9 Open Question):
// the source relies on ack_data.num_contiguous() == formatted_length to
// fire BundleTransmittedEvent, so an implementation must synthesize that
// condition itself when no real ack will ever arrive.
func (f *InFlightBundle) SynthesizeFullAck() {
	f.AckData.SetRange(0, f.FormattedLength)
}
