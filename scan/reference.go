package scan

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// Segment is a straight piece of reference geometry (a wall)
type Segment struct {
	A Point `json:"a"`
	B Point `json:"b"`
}

// orbPoint converts a scan Point to an orb.Point
func orbPoint(p Point) orb.Point {
	return orb.Point{p.X, p.Y}
}

// pointFromOrb converts an orb.Point back to a scan Point
func pointFromOrb(p orb.Point) Point {
	return Point{X: p[0], Y: p[1]}
}

// LineString returns the segment as a two-vertex orb.LineString
func (s Segment) LineString() orb.LineString {
	return orb.LineString{orbPoint(s.A), orbPoint(s.B)}
}

// DistanceTo returns the unsigned distance from p to the segment (clamped at the endpoints)
func (s Segment) DistanceTo(p Point) float64 {
	return planar.DistanceFromSegment(orbPoint(s.A), orbPoint(s.B), orbPoint(p))
}

// Match builds the correspondence of scan point p against this segment
func (s Segment) Match(p Point) Correspondence {
	return CorrespondenceFromSegment(p, s.A, s.B)
}

// SegmentsFromLineString splits a polyline into consecutive segments
func SegmentsFromLineString(ls orb.LineString) []Segment {
	if len(ls) < 2 {
		return nil
	}
	segments := make([]Segment, 0, len(ls)-1)
	for i := 1; i < len(ls); i++ {
		segments = append(segments, Segment{A: pointFromOrb(ls[i-1]), B: pointFromOrb(ls[i])})
	}
	return segments
}

// SegmentsFromRing splits a closed ring (e.g. a room outline) into segments, including
// the closing edge when the ring is not explicitly closed.
func SegmentsFromRing(r orb.Ring) []Segment {
	if len(r) < 2 {
		return nil
	}
	if !r.Closed() {
		r = append(append(orb.Ring{}, r...), r[0])
	}
	return SegmentsFromLineString(orb.LineString(r))
}

// SimplifyLineString applies Douglas-Peucker to a traced wall polyline, dropping
// vertices that lie within tolerance of the simplified line. The input is not modified.
func SimplifyLineString(ls orb.LineString, tolerance float64) orb.LineString {
	if tolerance <= 0 || len(ls) <= 2 {
		return ls
	}
	return simplify.DouglasPeucker(tolerance).LineString(ls.Clone())
}

// SimplifyRing is SimplifyLineString for room outlines. A ring that would
// collapse below a triangle is returned unchanged.
func SimplifyRing(r orb.Ring, tolerance float64) orb.Ring {
	if tolerance <= 0 || len(r) <= 4 {
		return r
	}
	out := simplify.DouglasPeucker(tolerance).Ring(r.Clone())
	if len(out) < 3 {
		return r
	}
	return out
}

// Bounds returns the bounding box of the segments and any extra point sets
func Bounds(segments []Segment, points ...[]Point) orb.Bound {
	var mp orb.MultiPoint
	for _, s := range segments {
		mp = append(mp, orbPoint(s.A), orbPoint(s.B))
	}
	for _, set := range points {
		for _, p := range set {
			mp = append(mp, orbPoint(p))
		}
	}
	return mp.Bound()
}
