// Package ranges provides pure arithmetic over closed integer position ranges.
// All functions are deterministic and side-effect free; the planners build
// their fetch and subscription windows out of them.
package ranges

// Range is a closed integer interval [First, Last].
// A Range is empty iff First > Last.
type Range struct {
	First int
	Last  int
}

// New returns the closed range [first, last].
func New(first, last int) Range {
	return Range{First: first, Last: last}
}

// IsEmpty reports whether the range contains no positions.
func (r Range) IsEmpty() bool {
	return r.First > r.Last
}

// Width returns the number of positions in the range, 0 when empty.
func (r Range) Width() int {
	if r.IsEmpty() {
		return 0
	}
	return r.Last - r.First + 1
}

// Contains reports whether k lies inside the range.
func (r Range) Contains(k int) bool {
	return r.First <= k && k <= r.Last
}

// Subtract returns the ranges covering a \ b, ascending and non-overlapping.
// An empty b removes nothing. The result has 0, 1 or 2 elements.
func Subtract(a, b Range) []Range {
	if a.IsEmpty() {
		return nil
	}
	if b.IsEmpty() || !Intersects(a, b) {
		return []Range{a}
	}
	if b.First <= a.First && a.Last <= b.Last {
		return nil
	}
	var out []Range
	if a.First < b.First {
		out = append(out, Range{First: a.First, Last: b.First - 1})
	}
	if b.Last < a.Last {
		out = append(out, Range{First: b.Last + 1, Last: a.Last})
	}
	return out
}

// Chunked partitions r into consecutive pieces of width size, left to right.
// Every piece except possibly the last has width exactly size.
// size must be positive; an empty r yields nil.
func Chunked(r Range, size int) []Range {
	if r.IsEmpty() || size <= 0 {
		return nil
	}
	out := make([]Range, 0, (r.Width()+size-1)/size)
	for first := r.First; first <= r.Last; first += size {
		last := first + size - 1
		if last > r.Last {
			last = r.Last
		}
		out = append(out, Range{First: first, Last: last})
	}
	return out
}

// ExpandTo grows r rightward to width size, without crossing limit (inclusive).
// A range already at least size wide is returned unchanged.
func ExpandTo(r Range, size, limit int) Range {
	if r.Width() >= size {
		return r
	}
	last := r.First + size - 1
	if last > limit {
		last = limit
	}
	return Range{First: r.First, Last: last}
}

// CoerceIn clamps both endpoints of r into bounds.
func CoerceIn(r, bounds Range) Range {
	return Range{
		First: Coerce(r.First, bounds),
		Last:  Coerce(r.Last, bounds),
	}
}

// Coerce clamps k into bounds.
func Coerce(k int, bounds Range) int {
	if k < bounds.First {
		return bounds.First
	}
	if k > bounds.Last {
		return bounds.Last
	}
	return k
}

// Intersects reports whether a and b share at least one position.
func Intersects(a, b Range) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return false
	}
	return a.First <= b.Last && b.First <= a.Last
}

// Intersection returns the overlap of a and b; the result is empty when they
// do not intersect.
func Intersection(a, b Range) Range {
	first := a.First
	if b.First > first {
		first = b.First
	}
	last := a.Last
	if b.Last < last {
		last = b.Last
	}
	return Range{First: first, Last: last}
}

// DistanceBeyond returns 0 when window and r intersect, otherwise the
// distance between their nearest endpoints. Adjacent ranges have distance 1,
// so DistanceBeyond(w, r) == 0 iff Intersects(w, r).
func DistanceBeyond(window, r Range) int {
	if Intersects(window, r) {
		return 0
	}
	if r.First > window.Last {
		return r.First - window.Last
	}
	return window.First - r.Last
}

// AlignedChunkStart returns the start of the chunk of width loadSize that
// contains key, with chunk boundaries at base + n*loadSize. key may lie below
// base; alignment uses floor division, not truncation.
func AlignedChunkStart(key, base, loadSize int) int {
	return base + floorDiv(key-base, loadSize)*loadSize
}

// AlignedChunkContaining returns the chunk of width loadSize containing key,
// aligned to base and clamped to [0, max(totalSize, 1)).
func AlignedChunkContaining(key, base, loadSize, totalSize int) Range {
	start := AlignedChunkStart(key, base, loadSize)
	bound := totalSize
	if bound < 1 {
		bound = 1
	}
	first := start
	if first < 0 {
		first = 0
	}
	last := start + loadSize - 1
	if last > bound-1 {
		last = bound - 1
	}
	return Range{First: first, Last: last}
}

// floorDiv divides a by b rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
