// Package rangeset implements a normalized set of disjoint half-open
// integer intervals. It backs the ack queue, the send buffer's
// pending/in-flight tracking, and the receive buffer's reassembly state -
// anywhere quicly.c keeps a sorted array of non-overlapping [start,end)
// ranges (quicly_ranges_t).
package rangeset

import "sort"

// A Range is a half-open interval [Start, End).
type Range struct {
	Start, End uint64
}

func (r Range) Len() uint64 {
	return r.End - r.Start
}

// A Set is a normalized, ascending sequence of disjoint, non-abutting
// ranges. The zero value is an empty set.
type Set struct {
	ranges []Range
}

// NumRanges reports how many disjoint ranges the set currently holds.
func (s *Set) NumRanges() int {
	return len(s.ranges)
}

// Ranges returns the set's ranges in ascending order. The caller must not
// mutate the returned slice.
func (s *Set) Ranges() []Range {
	return s.ranges
}

// Empty reports whether the set holds no ranges.
func (s *Set) Empty() bool {
	return len(s.ranges) == 0
}

// Min returns the smallest value in the set, or 0 if the set is empty.
func (s *Set) Min() uint64 {
	if len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[0].Start
}

// Max returns one past the largest value in the set (the End of the last
// range), or 0 if the set is empty.
func (s *Set) Max() uint64 {
	if len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[len(s.ranges)-1].End
}

// Contains reports whether v falls within any range of the set.
func (s *Set) Contains(v uint64) bool {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > v })
	return i < len(s.ranges) && s.ranges[i].Start <= v
}

// RangeContaining returns the range containing v, or the zero Range if v
// falls in a gap or outside the set.
func (s *Set) RangeContaining(v uint64) Range {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > v })
	if i < len(s.ranges) && s.ranges[i].Start <= v {
		return s.ranges[i]
	}
	return Range{}
}

// Update merges [start,end) into the set, coalescing with any range it
// overlaps or abuts. end must be > start; a no-op interval is ignored.
func (s *Set) Update(start, end uint64) {
	if end <= start {
		return
	}

	lo := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End >= start })
	hi := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].Start > end })

	if lo < hi {
		if s.ranges[lo].Start < start {
			start = s.ranges[lo].Start
		}
		if s.ranges[hi-1].End > end {
			end = s.ranges[hi-1].End
		}
	}

	merged := make([]Range, 0, len(s.ranges)-(hi-lo)+1)
	merged = append(merged, s.ranges[:lo]...)
	merged = append(merged, Range{Start: start, End: end})
	merged = append(merged, s.ranges[hi:]...)
	s.ranges = merged
}

// ShrinkLeft discards everything below newStart, truncating or dropping
// ranges as needed.
func (s *Set) ShrinkLeft(newStart uint64) {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > newStart })
	s.ranges = s.ranges[i:]
	if len(s.ranges) > 0 && s.ranges[0].Start < newStart {
		s.ranges[0].Start = newStart
	}
}

// Shrink removes the ranges in the index interval [fromIndex, toIndex),
// used to drop a suffix (or any contiguous slice) of entries by position
// rather than by value, e.g. when an ack ledger caps how many ranges it
// remembers.
func (s *Set) Shrink(fromIndex, toIndex int) {
	if fromIndex < 0 {
		fromIndex = 0
	}
	if toIndex > len(s.ranges) {
		toIndex = len(s.ranges)
	}
	if fromIndex >= toIndex {
		return
	}
	s.ranges = append(s.ranges[:fromIndex], s.ranges[toIndex:]...)
}

// Clear empties the set.
func (s *Set) Clear() {
	s.ranges = nil
}
