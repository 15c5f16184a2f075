package placement

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/arplace/internal/config"
	"github.com/banshee-data/arplace/internal/geom"
	"github.com/banshee-data/arplace/internal/planes"
	"github.com/banshee-data/arplace/internal/raycast"
)

// minVerticalProjection is the |up·normal| below which a surface point is
// re-projected along the plane normal instead of straight down.
const minVerticalProjection = 0.1

// Options tune candidate stabilisation and anchor reconciliation.
type Options struct {
	// SmoothingAlpha is the EMA weight of a new candidate on the same
	// plane. 1 disables smoothing.
	SmoothingAlpha float64
	// SnapDistance is a dead band: a candidate that moved less than this
	// keeps the previous pose.
	SnapDistance float64
	// SubsumeClampTolerance is a logging threshold. A re-anchored point is
	// always clamped into the successor's boundary; clamps longer than this
	// are reported on the diag stream. It never fails a re-anchor.
	SubsumeClampTolerance float64
}

// DefaultOptions disables smoothing.
func DefaultOptions() Options {
	return Options{SmoothingAlpha: 1, SnapDistance: 0.02, SubsumeClampTolerance: 0.05}
}

// OptionsFromTuning builds Options from a loaded TuningConfig.
func OptionsFromTuning(cfg *config.TuningConfig) Options {
	return Options{
		SmoothingAlpha:        cfg.GetSmoothingAlpha(),
		SnapDistance:          cfg.GetSnapDistanceM(),
		SubsumeClampTolerance: cfg.GetSubsumeClampToleranceM(),
	}
}

// Stabilizer turns raycast hits into placement poses and keeps committed
// poses attached as planes evolve. It holds no per-frame state.
type Stabilizer struct {
	constraints Constraints
	opts        Options
}

// NewStabilizer returns a Stabilizer.
func NewStabilizer(c Constraints, opts Options) *Stabilizer {
	if opts.SmoothingAlpha <= 0 || opts.SmoothingAlpha > 1 {
		opts.SmoothingAlpha = 1
	}
	return &Stabilizer{constraints: c, opts: opts}
}

// Constraints returns the acceptance constraints.
func (s *Stabilizer) Constraints() Constraints { return s.constraints }

// Options returns the stabilisation options.
func (s *Stabilizer) Options() Options { return s.opts }

// Check applies the constraints to p.
func (s *Stabilizer) Check(p planes.TrackedPlane) error {
	return s.constraints.Check(p)
}

// Evaluate filters hit's plane through the constraints and, on acceptance,
// returns a pose on it whose heading points from observer through the hit.
func (s *Stabilizer) Evaluate(hit raycast.Hit, view planes.View, observer mgl64.Vec3) (PlacementPose, error) {
	p, ok := view.Snapshot().Get(hit.PlaneID)
	if !ok {
		return PlacementPose{}, fmt.Errorf("plane %s: %w", hit.PlaneID, ErrStaleHit)
	}
	if err := s.constraints.Check(p); err != nil {
		tracef("reject %s: %v", p.ID, err)
		return PlacementPose{}, err
	}
	return s.PoseAt(p, hit.Point, observer), nil
}

// PoseAt builds the pose for surfacePoint on p without applying constraints.
func (s *Stabilizer) PoseAt(p planes.TrackedPlane, surfacePoint, observer mgl64.Vec3) PlacementPose {
	forward, ok := geom.Normalize(geom.Horizontal(surfacePoint.Sub(observer)))
	if !ok {
		forward = geom.WorldForward
	}
	if s.constraints.FaceObserver {
		forward = forward.Mul(-1)
	}
	return s.poseWithForward(p, surfacePoint, forward)
}

func (s *Stabilizer) poseWithForward(p planes.TrackedPlane, surfacePoint, forward mgl64.Vec3) PlacementPose {
	n := p.Normal()
	rot := geom.LookRotation(forward, n)
	return PlacementPose{
		Position:      surfacePoint.Add(n.Mul(s.constraints.HeightOffset)),
		Rotation:      rot,
		SurfacePoint:  surfacePoint,
		HeadingDeg:    geom.HeadingDeg(forward),
		SourcePlaneID: p.ID,
		Valid:         true,
	}
}

// Reconcile re-anchors pose after a lifecycle event on its source plane.
//
// A source plane that is still live is re-projected onto its current
// geometry. A subsumed source is followed to the live successor; the pose
// keeps its horizontal position and heading and is clamped into the
// successor's boundary. A successor that fails the constraints, a removed
// source, or a broken chain yields ErrAnchorInvalidated.
func (s *Stabilizer) Reconcile(pose PlacementPose, view planes.View) (PlacementPose, error) {
	if !pose.Valid {
		return PlacementPose{}, fmt.Errorf("pose has no anchor: %w", ErrAnchorInvalidated)
	}
	snap := view.Snapshot()
	p, ok := snap.Resolve(pose.SourcePlaneID)
	if !ok {
		lc, succ, _ := snap.Fate(pose.SourcePlaneID)
		diagf("anchor on %s lost (fate %q, successor %q)", pose.SourcePlaneID, lc, succ)
		return PlacementPose{}, fmt.Errorf("plane %s %s: %w", pose.SourcePlaneID, describeFate(lc, succ), ErrAnchorInvalidated)
	}
	if p.ID != pose.SourcePlaneID {
		if err := s.constraints.Check(p); err != nil {
			diagf("anchor on %s: successor %s rejected: %v", pose.SourcePlaneID, p.ID, err)
			return PlacementPose{}, fmt.Errorf("successor %s of %s: %v: %w", p.ID, pose.SourcePlaneID, err, ErrAnchorInvalidated)
		}
	}

	surface := reproject(p, pose.SurfacePoint)
	x, z, _ := p.ToLocal(surface)
	if !p.ContainsLocal(x, z) {
		c, d := geom.ClosestPointOnBoundary(p.Polygon(), x, z)
		if d > s.opts.SubsumeClampTolerance {
			diagf("anchor on %s clamped %.3fm into %s", pose.SourcePlaneID, d, p.ID)
		}
		x, z = c[0], c[1]
	}
	surface = p.ToWorld(x, z)

	forward := geom.HeadingRotation(pose.HeadingDeg).Rotate(geom.WorldForward)
	out := s.poseWithForward(p, surface, forward)
	if p.ID != pose.SourcePlaneID {
		diagf("anchor moved %s -> %s (%.3fm)", pose.SourcePlaneID, p.ID, geom.HorizontalDistance(pose.SurfacePoint, surface))
	}
	return out, nil
}

func describeFate(lc planes.Lifecycle, successor planes.PlaneID) string {
	switch {
	case lc == planes.Removed:
		return "was removed"
	case lc == planes.Subsumed:
		return fmt.Sprintf("was subsumed into %s which is gone", successor)
	}
	return "is unknown"
}

// reproject moves point onto p's surface along world up, or along the
// plane normal when the plane is too close to vertical for that.
func reproject(p planes.TrackedPlane, point mgl64.Vec3) mgl64.Vec3 {
	n := p.Normal()
	offset := point.Sub(p.Center).Dot(n)
	denom := geom.WorldUp.Dot(n)
	if math.Abs(denom) < minVerticalProjection {
		return point.Sub(n.Mul(offset))
	}
	return point.Sub(geom.WorldUp.Mul(offset / denom))
}

// Smooth blends next into prev when both sit on the same plane. Moves
// inside the snap distance keep prev; a plane change passes next through.
func (s *Stabilizer) Smooth(prev, next PlacementPose) PlacementPose {
	if !prev.Valid || !next.Valid || prev.SourcePlaneID != next.SourcePlaneID {
		return next
	}
	if next.Position.Sub(prev.Position).Len() <= s.opts.SnapDistance {
		return prev
	}
	a := s.opts.SmoothingAlpha
	if a >= 1 {
		return next
	}
	lerp := func(from, to mgl64.Vec3) mgl64.Vec3 {
		return from.Add(to.Sub(from).Mul(a))
	}
	out := next
	out.Position = lerp(prev.Position, next.Position)
	out.SurfacePoint = lerp(prev.SurfacePoint, next.SurfacePoint)
	out.Rotation = geom.Slerp(prev.Rotation, next.Rotation, a)
	if f, ok := geom.Normalize(geom.Horizontal(out.Rotation.Rotate(geom.WorldForward))); ok {
		out.HeadingDeg = geom.HeadingDeg(f)
	}
	return out
}
