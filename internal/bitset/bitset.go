// Package bitset implements the run-length bitmap used to track which
// byte offsets of a bundle have been sent, received, or acked: a sorted
// list of merged half-open ranges [a,b), cheap to query for "largest
// contiguous prefix" and to iterate in ascending order.
package bitset

import "sort"

type span struct {
	lo, hi int // half-open [lo, hi)
}

// Bitmap is a run-length set of non-negative integers.
type Bitmap struct {
	spans []span
}

// New returns an empty Bitmap.
func New() *Bitmap {
	return &Bitmap{}
}

// Set marks offset as present.
func (b *Bitmap) Set(offset int) {
	b.SetRange(offset, 1)
}

// SetRange marks [offset, offset+length) as present, merging with any
// overlapping or adjacent spans.
func (b *Bitmap) SetRange(offset, length int) {
	if length <= 0 {
		return
	}
	lo, hi := offset, offset+length
	i := sort.Search(len(b.spans), func(i int) bool { return b.spans[i].hi >= lo })
	j := i
	for j < len(b.spans) && b.spans[j].lo <= hi {
		if b.spans[j].lo < lo {
			lo = b.spans[j].lo
		}
		if b.spans[j].hi > hi {
			hi = b.spans[j].hi
		}
		j++
	}
	merged := span{lo, hi}
	tail := append([]span{}, b.spans[j:]...)
	b.spans = append(append(b.spans[:i:i], merged), tail...)
}

// Clear removes offset from the set, splitting a span if necessary.
func (b *Bitmap) Clear(offset int) {
	for i, s := range b.spans {
		if offset < s.lo || offset >= s.hi {
			continue
		}
		var replacement []span
		if s.lo < offset {
			replacement = append(replacement, span{s.lo, offset})
		}
		if offset+1 < s.hi {
			replacement = append(replacement, span{offset + 1, s.hi})
		}
		b.spans = append(b.spans[:i], append(replacement, b.spans[i+1:]...)...)
		return
	}
}

// Last returns the highest set index, or -1 if the bitmap is empty.
func (b *Bitmap) Last() int {
	if len(b.spans) == 0 {
		return -1
	}
	return b.spans[len(b.spans)-1].hi - 1
}

// NumContiguous returns the length of the contiguous run starting at 0.
func (b *Bitmap) NumContiguous() int {
	if len(b.spans) == 0 || b.spans[0].lo != 0 {
		return 0
	}
	return b.spans[0].hi
}

// Empty reports whether the bitmap has no set bits.
func (b *Bitmap) Empty() bool {
	return len(b.spans) == 0
}

// IsSet reports whether offset is present.
func (b *Bitmap) IsSet(offset int) bool {
	i := sort.Search(len(b.spans), func(i int) bool { return b.spans[i].hi > offset })
	return i < len(b.spans) && b.spans[i].lo <= offset
}

// Subset reports whether every index set in b is also set in other,
// i.e. b ⊆ other.
func (b *Bitmap) Subset(other *Bitmap) bool {
	j := 0
	for _, s := range b.spans {
		lo := s.lo
		for lo < s.hi {
			for j < len(other.spans) && other.spans[j].hi <= lo {
				j++
			}
			if j >= len(other.spans) || other.spans[j].lo > lo {
				return false
			}
			// other.spans[j] covers [lo, min(s.hi, other.spans[j].hi))
			lo = other.spans[j].hi
			if lo > s.hi {
				lo = s.hi
			}
		}
	}
	return true
}

// ForEach visits every set index in ascending order.
func (b *Bitmap) ForEach(fn func(offset int)) {
	for _, s := range b.spans {
		for i := s.lo; i < s.hi; i++ {
			fn(i)
		}
	}
}

// Ranges returns a copy of the underlying merged [lo,hi) spans in
// ascending order, for callers that want to iterate segment ends without
// a per-index callback (e.g. ack-segment emission).
func (b *Bitmap) Ranges() []struct{ Lo, Hi int } {
	out := make([]struct{ Lo, Hi int }, len(b.spans))
	for i, s := range b.spans {
		out[i] = struct{ Lo, Hi int }{s.lo, s.hi}
	}
	return out
}
