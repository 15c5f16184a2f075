package planes

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"

	"github.com/banshee-data/arplace/internal/geom"
)

// PlaneID identifies a tracked plane. IDs are compared lexically wherever a
// deterministic tie-break is needed.
type PlaneID string

// Alignment is the tracking subsystem's classification of a plane.
type Alignment string

const (
	HorizontalUp   Alignment = "horizontal_up"    // floors, table tops
	HorizontalDown Alignment = "horizontal_down"  // ceilings
	Vertical       Alignment = "vertical"         // walls
	NotAxisAligned Alignment = "not_axis_aligned" // ramps and anything else
)

// AlignmentToleranceDeg is the default slack used by ClassifyAlignment.
const AlignmentToleranceDeg = 15.0

// ClassifyAlignment buckets a plane normal by its angle from world up.
func ClassifyAlignment(normal mgl64.Vec3, toleranceDeg float64) Alignment {
	slope := geom.SlopeDeg(normal)
	switch {
	case slope <= toleranceDeg:
		return HorizontalUp
	case slope >= 180-toleranceDeg:
		return HorizontalDown
	case math.Abs(slope-90) <= toleranceDeg:
		return Vertical
	default:
		return NotAxisAligned
	}
}

// Lifecycle is the last lifecycle event applied to a plane.
type Lifecycle string

const (
	Added    Lifecycle = "added"
	Updated  Lifecycle = "updated"
	Removed  Lifecycle = "removed"
	Subsumed Lifecycle = "subsumed"
)

// Retired reports whether l ends a plane's life.
func (l Lifecycle) Retired() bool {
	return l == Removed || l == Subsumed
}

// TrackedPlane is one planar surface estimate. The plane's local frame has
// its origin at Center, local +Y along the outward normal, and local X/Z
// spanning the surface.
type TrackedPlane struct {
	ID       PlaneID
	Center   mgl64.Vec3
	Rotation mgl64.Quat

	Width float64 // extent along local X
	Depth float64 // extent along local Z

	// Boundary is the convex hull in plane-local (x, z). When it has fewer
	// than three points the Width×Depth rectangle is used instead.
	Boundary orb.Ring

	Alignment  Alignment
	Lifecycle  Lifecycle
	SubsumedBy PlaneID
}

// Pose returns the plane's local frame.
func (p TrackedPlane) Pose() geom.Pose {
	return geom.Pose{Position: p.Center, Rotation: p.Rotation}
}

// Normal is the plane's outward unit normal.
func (p TrackedPlane) Normal() mgl64.Vec3 {
	return p.Pose().Up()
}

// Polygon returns the closed plane-local boundary ring.
func (p TrackedPlane) Polygon() orb.Ring {
	if len(p.Boundary) >= 3 {
		return geom.CloseRing(p.Boundary)
	}
	return geom.RectBoundary(p.Width, p.Depth)
}

// Area is the boundary polygon area, or Width×Depth without a boundary.
func (p TrackedPlane) Area() float64 {
	if len(p.Boundary) >= 3 {
		return geom.BoundaryArea(p.Boundary)
	}
	return p.Width * p.Depth
}

// ToLocal maps a world point into plane-local coordinates: x and z in the
// surface, height along the normal.
func (p TrackedPlane) ToLocal(world mgl64.Vec3) (x, z, height float64) {
	l := p.Pose().InverseTransform(world)
	return l.X(), l.Z(), l.Y()
}

// ToWorld maps a plane-local surface point to world space.
func (p TrackedPlane) ToWorld(x, z float64) mgl64.Vec3 {
	return p.Pose().Transform(mgl64.Vec3{x, 0, z})
}

// ContainsLocal reports whether (x, z) lies inside the boundary polygon,
// edges included.
func (p TrackedPlane) ContainsLocal(x, z float64) bool {
	return geom.BoundaryContains(p.Polygon(), x, z)
}

// WithinExtents reports whether (x, z) lies inside the Width×Depth
// rectangle, edges included.
func (p TrackedPlane) WithinExtents(x, z float64) bool {
	return math.Abs(x) <= p.Width/2 && math.Abs(z) <= p.Depth/2
}

// Contains projects world onto the plane along the normal and tests the
// boundary polygon.
func (p TrackedPlane) Contains(world mgl64.Vec3) bool {
	x, z, _ := p.ToLocal(world)
	return p.ContainsLocal(x, z)
}

// BoundingRadius is the distance from Center to the farthest boundary vertex.
func (p TrackedPlane) BoundingRadius() float64 {
	return geom.BoundaryRadius(p.Polygon())
}

// worldBounds returns the world-space axis-aligned box around the boundary.
func (p TrackedPlane) worldBounds() (min, max mgl64.Vec3) {
	pose := p.Pose()
	min = mgl64.Vec3{math.Inf(1), math.Inf(1), math.Inf(1)}
	max = mgl64.Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, pt := range p.Polygon() {
		w := pose.Transform(mgl64.Vec3{pt[0], 0, pt[1]})
		for i := 0; i < 3; i++ {
			min[i] = math.Min(min[i], w[i])
			max[i] = math.Max(max[i], w[i])
		}
	}
	return min, max
}

func (p TrackedPlane) clone() TrackedPlane {
	if p.Boundary != nil {
		b := make(orb.Ring, len(p.Boundary))
		copy(b, p.Boundary)
		p.Boundary = b
	}
	if p.Rotation == (mgl64.Quat{}) {
		p.Rotation = mgl64.QuatIdent()
	} else {
		p.Rotation = p.Rotation.Normalize()
	}
	return p
}
