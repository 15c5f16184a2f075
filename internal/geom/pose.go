package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	WorldUp      = mgl64.Vec3{0, 1, 0}
	WorldForward = mgl64.Vec3{0, 0, 1}
	WorldRight   = mgl64.Vec3{-1, 0, 0}
)

// ParallelEpsilon is the |direction·normal| below which a ray is treated as
// parallel to a plane.
const ParallelEpsilon = 1e-9

// Pose is a rigid transform: rotate by Rotation, then translate by Position.
// A zero Rotation is read as identity.
type Pose struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// NewPose builds a pose with a normalised rotation.
func NewPose(position mgl64.Vec3, rotation mgl64.Quat) Pose {
	return Pose{Position: position, Rotation: normalizeQuat(rotation)}
}

// IdentityPose returns a pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Rotation: mgl64.QuatIdent()}
}

func (p Pose) rot() mgl64.Quat { return normalizeQuat(p.Rotation) }

// Forward returns the pose's local +Z in world space.
func (p Pose) Forward() mgl64.Vec3 { return p.rot().Rotate(WorldForward) }

// Up returns the pose's local +Y in world space.
func (p Pose) Up() mgl64.Vec3 { return p.rot().Rotate(WorldUp) }

// Right returns the pose's local -X in world space.
func (p Pose) Right() mgl64.Vec3 { return p.rot().Rotate(WorldRight) }

// Transform maps a pose-local point into world space.
func (p Pose) Transform(local mgl64.Vec3) mgl64.Vec3 {
	return p.rot().Rotate(local).Add(p.Position)
}

// InverseTransform maps a world point into pose-local space.
func (p Pose) InverseTransform(world mgl64.Vec3) mgl64.Vec3 {
	return p.rot().Conjugate().Rotate(world.Sub(p.Position))
}

func normalizeQuat(q mgl64.Quat) mgl64.Quat {
	if q.W == 0 && q.V == (mgl64.Vec3{}) {
		return mgl64.QuatIdent()
	}
	return q.Normalize()
}

// Normalize returns v scaled to unit length, or ok=false for a (near) zero
// vector or one containing NaN.
func Normalize(v mgl64.Vec3) (mgl64.Vec3, bool) {
	l := v.Len()
	if l < 1e-12 || math.IsNaN(l) || math.IsInf(l, 0) {
		return mgl64.Vec3{}, false
	}
	return v.Mul(1 / l), true
}

// Horizontal drops the Y component.
func Horizontal(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{v.X(), 0, v.Z()}
}

// HorizontalDistance is the XZ-plane distance between a and b.
func HorizontalDistance(a, b mgl64.Vec3) float64 {
	return math.Hypot(a.X()-b.X(), a.Z()-b.Z())
}

// LookRotation returns the rotation whose local +Y maps to up and whose
// local +Z maps to forward projected onto the plane orthogonal to up.
// When forward is (anti)parallel to up, WorldForward is tried and then
// WorldRight, so the result is always a valid rotation.
func LookRotation(forward, up mgl64.Vec3) mgl64.Quat {
	u, ok := Normalize(up)
	if !ok {
		u = WorldUp
	}
	tilt := mgl64.QuatBetweenVectors(WorldUp, u).Normalize()

	f, ok := projectOnto(forward, u)
	if !ok {
		if f, ok = projectOnto(WorldForward, u); !ok {
			f, _ = projectOnto(WorldRight, u)
		}
	}

	current := tilt.Rotate(WorldForward)
	angle := math.Atan2(u.Dot(current.Cross(f)), current.Dot(f))
	return mgl64.QuatRotate(angle, u).Mul(tilt).Normalize()
}

func projectOnto(v, unitNormal mgl64.Vec3) (mgl64.Vec3, bool) {
	return Normalize(v.Sub(unitNormal.Mul(v.Dot(unitNormal))))
}

// HeadingDeg is the compass-style bearing of v in the XZ plane: 0 along +Z,
// 90 along +X.
func HeadingDeg(v mgl64.Vec3) float64 {
	return mgl64.RadToDeg(math.Atan2(v.X(), v.Z()))
}

// HeadingRotation is a pure yaw about WorldUp by headingDeg.
func HeadingRotation(headingDeg float64) mgl64.Quat {
	return mgl64.QuatRotate(mgl64.DegToRad(headingDeg), WorldUp)
}

// SlopeDeg is the angle between normal and WorldUp, in degrees. The atan2
// form stays accurate near 0 where acos loses precision.
func SlopeDeg(normal mgl64.Vec3) float64 {
	return mgl64.RadToDeg(math.Atan2(math.Hypot(normal.X(), normal.Z()), normal.Y()))
}

// AngleBetweenDeg is the unsigned angle between a and b in degrees.
func AngleBetweenDeg(a, b mgl64.Vec3) float64 {
	return mgl64.RadToDeg(math.Atan2(a.Cross(b).Len(), a.Dot(b)))
}

// Slerp interpolates rotations along the shorter arc.
func Slerp(from, to mgl64.Quat, amount float64) mgl64.Quat {
	from, to = normalizeQuat(from), normalizeQuat(to)
	if from.Dot(to) < 0 {
		to = to.Scale(-1)
	}
	return mgl64.QuatSlerp(from, to, amount).Normalize()
}
