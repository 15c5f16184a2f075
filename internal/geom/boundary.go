package geom

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// RectBoundary returns a closed, counter-clockwise ring for a width×depth
// rectangle centred on the plane origin (width along local X, depth along Z).
func RectBoundary(width, depth float64) orb.Ring {
	hw, hd := width/2, depth/2
	return orb.Ring{
		{-hw, -hd},
		{hw, -hd},
		{hw, hd},
		{-hw, hd},
		{-hw, -hd},
	}
}

// CloseRing returns r with its first point repeated at the end if needed.
// Rings with fewer than three points are returned unchanged.
func CloseRing(r orb.Ring) orb.Ring {
	if len(r) < 3 || r.Closed() {
		return r
	}
	out := make(orb.Ring, len(r), len(r)+1)
	copy(out, r)
	return append(out, r[0])
}

// BoundaryContains reports whether the plane-local point (x, z) is inside
// the ring; points on an edge count as inside.
func BoundaryContains(r orb.Ring, x, z float64) bool {
	if len(r) < 3 {
		return false
	}
	return planar.RingContains(r, orb.Point{x, z})
}

// BoundaryArea is the unsigned area enclosed by r.
func BoundaryArea(r orb.Ring) float64 {
	if len(r) < 3 {
		return 0
	}
	return math.Abs(planar.Area(CloseRing(r)))
}

// ClosestPointOnBoundary returns the point on r's edges nearest to (x, z)
// and the distance to it.
func ClosestPointOnBoundary(r orb.Ring, x, z float64) (orb.Point, float64) {
	r = CloseRing(r)
	switch len(r) {
	case 0:
		return orb.Point{x, z}, math.Inf(1)
	case 1:
		return r[0], math.Hypot(r[0][0]-x, r[0][1]-z)
	}

	best := r[0]
	bestDist := math.Inf(1)
	for i := 0; i < len(r)-1; i++ {
		c := closestOnSegment(r[i], r[i+1], x, z)
		if d := math.Hypot(c[0]-x, c[1]-z); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

func closestOnSegment(a, b orb.Point, x, z float64) orb.Point {
	dx, dz := b[0]-a[0], b[1]-a[1]
	l2 := dx*dx + dz*dz
	if l2 == 0 {
		return a
	}
	t := ((x-a[0])*dx + (z-a[1])*dz) / l2
	t = math.Max(0, math.Min(1, t))
	return orb.Point{a[0] + t*dx, a[1] + t*dz}
}

// BoundaryRadius is the largest distance from the plane origin to a ring
// vertex.
func BoundaryRadius(r orb.Ring) float64 {
	var max float64
	for _, p := range r {
		max = math.Max(max, math.Hypot(p[0], p[1]))
	}
	return max
}
