package placement

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/arplace/internal/config"
	"github.com/banshee-data/arplace/internal/geom"
	"github.com/banshee-data/arplace/internal/planes"
)

// Rejections. Callers branch on these with errors.Is or ReasonOf; they are
// expected outcomes, not failures.
var (
	ErrWrongAlignment = errors.New("surface has the wrong alignment")
	ErrTooSmall       = errors.New("surface too small")
	ErrTooSteep       = errors.New("surface too steep")

	// ErrAnchorInvalidated means the anchored plane is gone and nothing
	// suitable replaced it.
	ErrAnchorInvalidated = errors.New("anchor invalidated")

	// ErrStaleHit means the hit names a plane missing from the snapshot
	// being evaluated against.
	ErrStaleHit = errors.New("hit plane not in snapshot")
)

// AngleToleranceDeg absorbs floating-point noise in slope comparisons so a
// plane tilted exactly MaxSlopeDeg is accepted.
const AngleToleranceDeg = 1e-6

// RejectReason is a stable tag for user guidance.
type RejectReason string

const (
	ReasonNone              RejectReason = ""
	ReasonWrongAlignment    RejectReason = "wrong_alignment"
	ReasonTooSmall          RejectReason = "too_small"
	ReasonTooSteep          RejectReason = "too_steep"
	ReasonAnchorInvalidated RejectReason = "anchor_invalidated"
	ReasonStaleHit          RejectReason = "stale_hit"
	ReasonNoHit             RejectReason = "no_hit"
)

// ReasonOf maps an error from this package to its tag. Unknown non-nil
// errors map to ReasonNone.
func ReasonOf(err error) RejectReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrAnchorInvalidated):
		return ReasonAnchorInvalidated
	case errors.Is(err, ErrWrongAlignment):
		return ReasonWrongAlignment
	case errors.Is(err, ErrTooSteep):
		return ReasonTooSteep
	case errors.Is(err, ErrTooSmall):
		return ReasonTooSmall
	case errors.Is(err, ErrStaleHit):
		return ReasonStaleHit
	}
	return ReasonNone
}

// Constraints decide which surfaces accept an object.
type Constraints struct {
	RequiredAlignment planes.Alignment // "" accepts any alignment
	MinArea           float64          // m², inclusive
	MaxSlopeDeg       float64          // inclusive
	HeightOffset      float64          // metres along the plane normal
	FaceObserver      bool             // turn the object toward the observer instead of away
}

// DefaultConstraints accepts upward-facing surfaces of at least 0.25 m²
// tilted no more than 10°.
func DefaultConstraints() Constraints {
	return Constraints{
		RequiredAlignment: planes.HorizontalUp,
		MinArea:           0.25,
		MaxSlopeDeg:       10,
		HeightOffset:      0.05,
	}
}

// ConstraintsFromTuning builds Constraints from a loaded TuningConfig.
func ConstraintsFromTuning(cfg *config.TuningConfig) Constraints {
	return Constraints{
		RequiredAlignment: planes.Alignment(cfg.GetRequiredAlignment()),
		MinArea:           cfg.GetMinAreaM2(),
		MaxSlopeDeg:       cfg.GetMaxSlopeDeg(),
		HeightOffset:      cfg.GetHeightOffsetM(),
		FaceObserver:      cfg.GetFaceObserver(),
	}
}

// Check applies the alignment, slope, and area filters in that order and
// returns the first failure.
func (c Constraints) Check(p planes.TrackedPlane) error {
	if c.RequiredAlignment != "" && p.Alignment != c.RequiredAlignment {
		return fmt.Errorf("plane %s is %s, want %s: %w", p.ID, p.Alignment, c.RequiredAlignment, ErrWrongAlignment)
	}
	if slope := slopeFromReference(p.Normal(), c.RequiredAlignment); slope > c.MaxSlopeDeg+AngleToleranceDeg {
		return fmt.Errorf("plane %s tilted %.3f° (max %.3f°): %w", p.ID, slope, c.MaxSlopeDeg, ErrTooSteep)
	}
	if area := p.Area(); area < c.MinArea {
		return fmt.Errorf("plane %s is %.4fm² (min %.4fm²): %w", p.ID, area, c.MinArea, ErrTooSmall)
	}
	return nil
}

// slopeFromReference measures how far normal strays from the ideal normal
// of the given alignment. Alignments without an ideal normal, including no
// alignment at all, measure from world up.
func slopeFromReference(normal mgl64.Vec3, a planes.Alignment) float64 {
	switch a {
	case planes.HorizontalDown:
		return 180 - geom.SlopeDeg(normal)
	case planes.Vertical:
		return math.Abs(90 - geom.SlopeDeg(normal))
	}
	return geom.SlopeDeg(normal)
}

// PlacementPose is where an object sits on a surface.
type PlacementPose struct {
	Position mgl64.Vec3 // SurfacePoint lifted by the height offset
	Rotation mgl64.Quat // local +Y along the plane normal

	// SurfacePoint is the on-plane point the pose was derived from.
	SurfacePoint mgl64.Vec3
	HeadingDeg   float64

	SourcePlaneID planes.PlaneID
	Valid         bool
}

// Pose returns the pose as a rigid transform.
func (p PlacementPose) Pose() geom.Pose {
	return geom.Pose{Position: p.Position, Rotation: p.Rotation}
}

// Forward is the object's facing direction.
func (p PlacementPose) Forward() mgl64.Vec3 {
	return p.Pose().Forward()
}

// Up is the object's up direction, the supporting plane's normal.
func (p PlacementPose) Up() mgl64.Vec3 {
	return p.Pose().Up()
}
