// Package geometry provides the planar primitives used by the world model:
// closed obstacle shapes, open wall segments and segment intersection.
//
// Points and bounds are github.com/paulmach/orb values so shapes can be
// handed to orb/planar for containment and distance queries.
package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Epsilon is the absolute tolerance used by the intersection tests.
const Epsilon = 1e-9

// Segment is a straight line between two points.
type Segment struct {
	A orb.Point
	B orb.Point
}

// Length returns the Euclidean length of the segment.
func (s Segment) Length() float64 {
	return planar.Distance(s.A, s.B)
}

// Bound returns the axis-aligned bounding box of the segment.
func (s Segment) Bound() orb.Bound {
	return orb.LineString{s.A, s.B}.Bound()
}

func sub(a, b orb.Point) orb.Point { return orb.Point{a[0] - b[0], a[1] - b[1]} }
func cross(a, b orb.Point) float64 { return a[0]*b[1] - a[1]*b[0] }
func dot(a, b orb.Point) float64   { return a[0]*b[0] + a[1]*b[1] }

func lerp(a, r orb.Point, t float64) orb.Point {
	return orb.Point{a[0] + t*r[0], a[1] + t*r[1]}
}

// Intersect returns the points shared by s and o.
//
// A proper crossing yields one point. When the segments are collinear and
// overlap, the overlap is itself a segment; it is collapsed to its two
// endpoints (one when the overlap is a single point). Disjoint segments
// yield nil.
func Intersect(s, o Segment) []orb.Point {
	r := sub(s.B, s.A)
	q := sub(o.B, o.A)
	qp := sub(o.A, s.A)

	rr := dot(r, r)
	qq := dot(q, q)

	// Degenerate segments behave as points.
	if rr < Epsilon*Epsilon {
		if pointOnSegment(s.A, o) {
			return []orb.Point{s.A}
		}
		return nil
	}
	if qq < Epsilon*Epsilon {
		if pointOnSegment(o.A, s) {
			return []orb.Point{o.A}
		}
		return nil
	}

	denom := cross(r, q)
	if math.Abs(denom) < Epsilon*math.Sqrt(rr*qq) {
		if math.Abs(cross(qp, r)) > Epsilon*math.Sqrt(rr) {
			return nil // parallel
		}
		t0 := dot(qp, r) / rr
		t1 := t0 + dot(q, r)/rr
		lo, hi := math.Min(t0, t1), math.Max(t0, t1)
		lo = math.Max(lo, 0)
		hi = math.Min(hi, 1)
		if lo > hi+Epsilon {
			return nil
		}
		if hi-lo <= Epsilon {
			return []orb.Point{lerp(s.A, r, lo)}
		}
		return []orb.Point{lerp(s.A, r, lo), lerp(s.A, r, hi)}
	}

	t := cross(qp, q) / denom
	u := cross(qp, r) / denom
	if t < -Epsilon || t > 1+Epsilon || u < -Epsilon || u > 1+Epsilon {
		return nil
	}
	return []orb.Point{lerp(s.A, r, clamp01(t))}
}

// Intersects reports whether the segments share at least one point.
func Intersects(s, o Segment) bool {
	return len(Intersect(s, o)) > 0
}

func pointOnSegment(p orb.Point, s Segment) bool {
	r := sub(s.B, s.A)
	d := sub(p, s.A)
	rr := dot(r, r)
	if rr < Epsilon*Epsilon {
		return planar.Distance(p, s.A) <= Epsilon
	}
	if math.Abs(cross(d, r)) > Epsilon*math.Sqrt(rr) {
		return false
	}
	t := dot(d, r) / rr
	return t >= -Epsilon && t <= 1+Epsilon
}

func clamp01(t float64) float64 {
	return math.Max(0, math.Min(1, t))
}

// Ray builds a segment of the given length starting at origin and pointing
// along +y rotated counter-clockwise by degrees.
func Ray(origin orb.Point, length, degrees float64) Segment {
	theta := degrees * math.Pi / 180
	dx := -math.Sin(theta) * length
	dy := math.Cos(theta) * length
	return Segment{A: origin, B: orb.Point{origin[0] + dx, origin[1] + dy}}
}

// Closest returns the point in pts nearest to origin and its distance.
// Ties keep the earliest point. ok is false when pts is empty.
func Closest(origin orb.Point, pts []orb.Point) (p orb.Point, dist float64, ok bool) {
	dist = math.Inf(1)
	for _, c := range pts {
		if d := planar.Distance(origin, c); d < dist {
			dist = d
			p = c
			ok = true
		}
	}
	return p, dist, ok
}

// boxEdges returns the four edges of b in counter-clockwise order.
func boxEdges(b orb.Bound) []Segment {
	ll := b.Min
	lr := orb.Point{b.Max[0], b.Min[1]}
	ur := b.Max
	ul := orb.Point{b.Min[0], b.Max[1]}
	return []Segment{{ll, lr}, {lr, ur}, {ur, ul}, {ul, ll}}
}
