package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Ray is a half-line. Direction is unit length when built with NewRay.
type Ray struct {
	Origin    mgl64.Vec3
	Direction mgl64.Vec3
}

// NewRay normalises direction. ok is false for a zero direction.
func NewRay(origin, direction mgl64.Vec3) (Ray, bool) {
	d, ok := Normalize(direction)
	if !ok {
		return Ray{}, false
	}
	return Ray{Origin: origin, Direction: d}, true
}

// At returns the point at parameter t.
func (r Ray) At(t float64) mgl64.Vec3 {
	return r.Origin.Add(r.Direction.Mul(t))
}

// IntersectPlane returns the ray parameter at which r meets the infinite
// plane through point with the given normal. Rays parallel to the plane and
// intersections behind the origin report ok=false.
func (r Ray) IntersectPlane(point, normal mgl64.Vec3) (float64, bool) {
	denom := r.Direction.Dot(normal)
	if math.Abs(denom) < ParallelEpsilon {
		return 0, false
	}
	t := point.Sub(r.Origin).Dot(normal) / denom
	if t < 0 || math.IsNaN(t) {
		return 0, false
	}
	return t, true
}

// PinholeProjector unprojects screen pixels through an ideal pinhole camera.
// Screen origin is top-left with +Y down; the camera looks along its local
// +Z with local +Y up.
type PinholeProjector struct {
	Width          float64
	Height         float64
	VerticalFOVDeg float64
}

// ScreenToWorldRay returns the world ray from the camera through screen.
func (p PinholeProjector) ScreenToWorldRay(screen mgl64.Vec2, camera Pose) (Ray, bool) {
	if p.Width <= 0 || p.Height <= 0 || p.VerticalFOVDeg <= 0 || p.VerticalFOVDeg >= 180 {
		return Ray{}, false
	}
	ndcX := 2*screen.X()/p.Width - 1
	ndcY := 1 - 2*screen.Y()/p.Height
	tanHalf := math.Tan(mgl64.DegToRad(p.VerticalFOVDeg) / 2)
	aspect := p.Width / p.Height

	local := mgl64.Vec3{-ndcX * tanHalf * aspect, ndcY * tanHalf, 1}
	return NewRay(camera.Position, camera.rot().Rotate(local))
}

// Center returns the screen centre in pixels.
func (p PinholeProjector) Center() mgl64.Vec2 {
	return mgl64.Vec2{p.Width / 2, p.Height / 2}
}
