// Package raycast resolves a screen-space query against the tracked planes
// to the nearest surface hit.
package raycast

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/arplace/internal/config"
	"github.com/banshee-data/arplace/internal/geom"
	"github.com/banshee-data/arplace/internal/planes"
)

// Mode selects what counts as "on" a plane.
type Mode string

const (
	// WithinPolygon requires the hit to lie inside the plane's boundary
	// polygon. It is the default and guarantees every Hit lies within the
	// plane's boundary at query time.
	WithinPolygon Mode = "polygon"
	// WithinBounds accepts anything inside the plane's Width×Depth extents.
	WithinBounds Mode = "bounds"
)

// Projector turns a screen point into a world ray for a given camera.
// geom.PinholeProjector is the stock implementation.
type Projector interface {
	ScreenToWorldRay(screen mgl64.Vec2, camera geom.Pose) (geom.Ray, bool)
}

// Query is one screen-space raycast request.
type Query struct {
	Screen mgl64.Vec2
	Camera geom.Pose
}

// Hit is the nearest surface intersection.
type Hit struct {
	PlaneID planes.PlaneID
	Point   mgl64.Vec3
	// Pose sits at Point with the plane's rotation, so its Up is the
	// plane normal.
	Pose     geom.Pose
	Distance float64
}

// Options tune hit acceptance.
type Options struct {
	Mode        Mode
	MaxDistance float64 // 0 = unbounded
}

// DefaultOptions returns polygon mode with no distance limit.
func DefaultOptions() Options {
	return Options{Mode: WithinPolygon}
}

// OptionsFromTuning builds Options from a loaded TuningConfig.
func OptionsFromTuning(cfg *config.TuningConfig) Options {
	return Options{
		Mode:        Mode(cfg.GetHitMode()),
		MaxDistance: cfg.GetMaxRayDistanceM(),
	}
}

// Raycaster holds no mutable state; the same query against the same
// snapshot always yields the same result.
type Raycaster struct {
	Projector Projector
	Options   Options
}

// New returns a Raycaster.
func New(projector Projector, opts Options) *Raycaster {
	if opts.Mode == "" {
		opts.Mode = WithinPolygon
	}
	return &Raycaster{Projector: projector, Options: opts}
}

// Raycast unprojects q and casts against view's current snapshot.
func (rc *Raycaster) Raycast(q Query, view planes.View) (Hit, bool) {
	if rc.Projector == nil {
		return Hit{}, false
	}
	ray, ok := rc.Projector.ScreenToWorldRay(q.Screen, q.Camera)
	if !ok {
		return Hit{}, false
	}
	return rc.CastRay(ray, view)
}

// CastRay intersects ray with every plane in one snapshot and returns the
// nearest accepted hit. Equal distances resolve to the lowest plane ID.
func (rc *Raycaster) CastRay(ray geom.Ray, view planes.View) (Hit, bool) {
	snap := view.Snapshot()
	if snap == nil || snap.Len() == 0 {
		return Hit{}, false
	}

	var ids []planes.PlaneID
	if rc.Options.MaxDistance > 0 {
		end := ray.At(rc.Options.MaxDistance)
		ids = snap.Candidates(ray.Origin, end)
	} else {
		ids = snap.IDs()
	}

	var (
		best  Hit
		found bool
	)
	for _, id := range ids {
		p, ok := snap.Get(id)
		if !ok {
			continue
		}
		t, ok := ray.IntersectPlane(p.Center, p.Normal())
		if !ok {
			continue
		}
		if rc.Options.MaxDistance > 0 && t > rc.Options.MaxDistance {
			continue
		}
		point := ray.At(t)
		x, z, _ := p.ToLocal(point)
		if !rc.accepts(p, x, z) {
			continue
		}
		// ids are ascending, so a strict comparison keeps the lowest ID on ties.
		if !found || t < best.Distance {
			best = Hit{
				PlaneID:  p.ID,
				Point:    point,
				Pose:     geom.Pose{Position: point, Rotation: p.Rotation},
				Distance: t,
			}
			found = true
		}
	}
	if found {
		tracef("hit %s at %.3fm", best.PlaneID, best.Distance)
	}
	return best, found
}

func (rc *Raycaster) accepts(p planes.TrackedPlane, x, z float64) bool {
	if math.IsNaN(x) || math.IsNaN(z) {
		return false
	}
	if rc.Options.Mode == WithinBounds {
		return p.WithinExtents(x, z)
	}
	return p.ContainsLocal(x, z)
}
