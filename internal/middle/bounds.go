package middle

import (
	"math"

	"github.com/paulmach/orb"
)

// BoundOf returns the bounding box of ls, or nil for an empty line.
func BoundOf(ls orb.LineString) *orb.Bound {
	if len(ls) == 0 {
		return nil
	}
	b := ls.Bound()
	return &b
}

// Union returns the smallest box containing both a and b. A nil box is empty.
func Union(a, b *orb.Bound) *orb.Bound {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		u := *b
		return &u
	case b == nil:
		u := *a
		return &u
	}
	u := a.Union(*b)
	return &u
}

// ValidBound reports whether b is finite and ordered on both axes.
func ValidBound(b orb.Bound) bool {
	for _, v := range [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Min[0] <= b.Max[0] && b.Min[1] <= b.Max[1]
}
