package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Kind identifies the concrete shape behind a Shape.
type Kind string

const (
	KindRectangle Kind = "rectangle"
	KindPolygon   Kind = "polygon"
	KindCircle    Kind = "circle"
	KindLine      Kind = "line"
)

// DefaultCircleSegments is the number of edges used to approximate a circle.
const DefaultCircleSegments = 64

// Shape is an immutable obstacle.
type Shape interface {
	Kind() Kind
	// Boundary returns the segments a ray can hit: the exterior ring for
	// closed shapes, the polyline itself for open shapes.
	Boundary() []Segment
	// Contains reports whether p lies inside a closed shape. Open shapes
	// never contain points.
	Contains(p orb.Point) bool
	// IntersectsBound reports whether the shape touches or covers b.
	IntersectsBound(b orb.Bound) bool
	Bound() orb.Bound
	// Vertices returns the outline, for rendering.
	Vertices() []orb.Point
}

// Polygon is a closed shape defined by its exterior ring.
type Polygon struct {
	kind  Kind
	ring  orb.Ring
	edges []Segment
}

// NewPolygon builds a closed polygon. The ring is closed automatically when
// the last point differs from the first.
func NewPolygon(points []orb.Point) (*Polygon, error) {
	if len(points) < 3 {
		return nil, fmt.Errorf("polygon needs at least 3 points, got %d", len(points))
	}
	return newPolygon(KindPolygon, points), nil
}

func newPolygon(kind Kind, points []orb.Point) *Polygon {
	ring := make(orb.Ring, len(points), len(points)+1)
	copy(ring, points)
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	edges := make([]Segment, 0, len(ring)-1)
	for i := 0; i+1 < len(ring); i++ {
		edges = append(edges, Segment{A: ring[i], B: ring[i+1]})
	}
	return &Polygon{kind: kind, ring: ring, edges: edges}
}

// NewRectangle builds an axis-aligned rectangle with its lower-left corner
// at (x, y).
func NewRectangle(x, y, width, height float64) (*Polygon, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("rectangle needs positive size, got %gx%g", width, height)
	}
	return newPolygon(KindRectangle, []orb.Point{
		{x, y},
		{x + width, y},
		{x + width, y + height},
		{x, y + height},
	}), nil
}

// NewCircle approximates a circle by a regular polygon with the given number
// of segments (DefaultCircleSegments when segments < 3).
func NewCircle(cx, cy, radius float64, segments int) (*Polygon, error) {
	if radius <= 0 {
		return nil, fmt.Errorf("circle needs a positive radius, got %g", radius)
	}
	if segments < 3 {
		segments = DefaultCircleSegments
	}
	pts := make([]orb.Point, segments)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(segments)
		pts[i] = orb.Point{cx + radius*math.Cos(a), cy + radius*math.Sin(a)}
	}
	return newPolygon(KindCircle, pts), nil
}

func (p *Polygon) Kind() Kind { return p.kind }
func (p *Polygon) Boundary() []Segment { return p.edges }
func (p *Polygon) Bound() orb.Bound { return p.ring.Bound() }
func (p *Polygon) Ring() orb.Ring { return p.ring }
func (p *Polygon) Vertices() []orb.Point { return p.ring }

// Contains uses orb/planar; points on the boundary count as inside.
func (p *Polygon) Contains(pt orb.Point) bool {
	return planar.RingContains(p.ring, pt)
}

// IntersectsBound reports whether the polygon overlaps b, including the
// cases where one fully encloses the other.
func (p *Polygon) IntersectsBound(b orb.Bound) bool {
	if !p.Bound().Intersects(b) {
		return false
	}
	for _, v := range p.ring {
		if b.Contains(v) {
			return true
		}
	}
	for _, c := range []orb.Point{b.Min, b.Max, {b.Min[0], b.Max[1]}, {b.Max[0], b.Min[1]}} {
		if p.Contains(c) {
			return true
		}
	}
	return edgesHitBound(p.edges, b)
}

// Line is an open polyline such as a thin wall.
type Line struct {
	ls    orb.LineString
	edges []Segment
}

// NewLine builds an open polyline through points.
func NewLine(points []orb.Point) (*Line, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("line needs at least 2 points, got %d", len(points))
	}
	ls := make(orb.LineString, len(points))
	copy(ls, points)
	edges := make([]Segment, 0, len(ls)-1)
	for i := 0; i+1 < len(ls); i++ {
		edges = append(edges, Segment{A: ls[i], B: ls[i+1]})
	}
	return &Line{ls: ls, edges: edges}, nil
}

func (l *Line) Kind() Kind { return KindLine }
func (l *Line) Boundary() []Segment { return l.edges }
func (l *Line) Bound() orb.Bound { return l.ls.Bound() }
func (l *Line) Contains(orb.Point) bool { return false }
func (l *Line) Vertices() []orb.Point { return l.ls }

// IntersectsBound reports whether any part of the line lies in b.
func (l *Line) IntersectsBound(b orb.Bound) bool {
	if !l.Bound().Intersects(b) {
		return false
	}
	for _, v := range l.ls {
		if b.Contains(v) {
			return true
		}
	}
	return edgesHitBound(l.edges, b)
}

func edgesHitBound(edges []Segment, b orb.Bound) bool {
	box := boxEdges(b)
	padded := b.Pad(Epsilon)
	for _, e := range edges {
		if !e.Bound().Intersects(padded) {
			continue
		}
		for _, be := range box {
			if Intersects(e, be) {
				return true
			}
		}
	}
	return false
}

// RayHits returns every point where seg meets the shape's boundary, in edge
// order.
func RayHits(s Shape, seg Segment) []orb.Point {
	sb := seg.Bound().Pad(Epsilon)
	if !s.Bound().Intersects(sb) {
		return nil
	}
	var out []orb.Point
	for _, e := range s.Boundary() {
		if !e.Bound().Intersects(sb) {
			continue
		}
		out = append(out, Intersect(seg, e)...)
	}
	return out
}
