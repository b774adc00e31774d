// Package ringbuf implements the contiguous-region byte buffer SCL uses
// for sendbuf/recvbuf: a linear buffer with start/end offsets into a
// backing array, geometric growth, and compaction when the tail runs out
// of room but readers have not drained the front.
//
// This is the same "linear buffer with start/end pointers" shape the
// convergence layer's original StreamBuffer used, adapted from the
// teacher's index-arithmetic circular Fifo (internal/fifo.go) so callers
// can get a contiguous []byte window instead of copying byte-by-byte.
package ringbuf

const defaultCapacity = 4096

// RingBuffer is a growable linear byte buffer with a readable region
// [start, end) and a writable tail [end, cap(buf)).
type RingBuffer struct {
	buf   []byte
	start int
	end   int
}

// New returns an empty RingBuffer with the given initial capacity (at
// least defaultCapacity).
func New(capacity int) *RingBuffer {
	if capacity < defaultCapacity {
		capacity = defaultCapacity
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Fullbytes returns the number of readable bytes.
func (r *RingBuffer) Fullbytes() int {
	return r.end - r.start
}

// Tailbytes returns the number of writable bytes at the end of the
// backing array without growing or compacting.
func (r *RingBuffer) Tailbytes() int {
	return len(r.buf) - r.end
}

// Start returns the readable region as a slice; callers may read but must
// not retain it past the next mutating call.
func (r *RingBuffer) Start() []byte {
	return r.buf[r.start:r.end]
}

// End returns the writable tail region as a slice; callers may write into
// it (up to Tailbytes()) and then call Fill to commit the write.
func (r *RingBuffer) End() []byte {
	return r.buf[r.end:]
}

// Fill commits n bytes written into the tail region returned by End.
func (r *RingBuffer) Fill(n int) {
	if n < 0 || n > r.Tailbytes() {
		panic("ringbuf: Fill out of range")
	}
	r.end += n
}

// Consume discards n bytes from the front of the readable region.
func (r *RingBuffer) Consume(n int) {
	if n < 0 || n > r.Fullbytes() {
		panic("ringbuf: Consume out of range")
	}
	r.start += n
	if r.start == r.end {
		// Nothing left to read: reset to the front so the next Reserve
		// never has to compact an empty buffer.
		r.start, r.end = 0, 0
	}
}

// Reserve ensures at least min bytes of tail room are available, compacting
// (sliding the readable region down to offset 0) when that alone creates
// enough room, and growing geometrically (doubling, then re-checking)
// otherwise.
func (r *RingBuffer) Reserve(min int) {
	if r.Tailbytes() >= min {
		return
	}
	r.compact()
	if r.Tailbytes() >= min {
		return
	}
	needed := r.Fullbytes() + min
	newCap := len(r.buf)
	if newCap == 0 {
		newCap = defaultCapacity
	}
	for newCap < needed {
		newCap *= 2
	}
	grown := make([]byte, newCap)
	n := copy(grown, r.buf[r.start:r.end])
	r.buf = grown
	r.start = 0
	r.end = n
}

// compact slides the readable region down to offset 0, reclaiming any
// space consumed at the front. Mandatory whenever Tailbytes() == 0 but the
// buffer still holds unread data a caller hasn't drained.
func (r *RingBuffer) compact() {
	if r.start == 0 {
		return
	}
	n := copy(r.buf, r.buf[r.start:r.end])
	r.start = 0
	r.end = n
}

// Clear resets the buffer to empty without releasing the backing array.
func (r *RingBuffer) Clear() {
	r.start, r.end = 0, 0
}

// Cap returns the capacity of the backing array, for diagnostics/metrics.
func (r *RingBuffer) Cap() int {
	return len(r.buf)
}
