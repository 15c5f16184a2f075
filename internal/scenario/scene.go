package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"

	"github.com/banshee-data/arplace/internal/geom"
	"github.com/banshee-data/arplace/internal/planes"
)

// Action is what the simulated user does on a frame.
type Action string

const (
	ActionTick          Action = "tick" // default
	ActionNone          Action = "none" // ingest only
	ActionCommit        Action = "commit"
	ActionReset         Action = "reset"
	ActionAutoPlace     Action = "auto_place"
	ActionResetTracking Action = "reset_tracking" // tracker restarts, registry cleared
)

// Scene is a scripted sequence of tracker output and user input.
type Scene struct {
	Name          string      `json:"name"`
	Camera        Intrinsics  `json:"camera"`
	FrameInterval string      `json:"frame_interval,omitempty"` // e.g. "33ms"; empty runs unpaced
	Frames        []Frame     `json:"frames"`
	Start         *CameraSpec `json:"start,omitempty"`
}

// Intrinsics describe the simulated screen.
type Intrinsics struct {
	Width          float64 `json:"width"`
	Height         float64 `json:"height"`
	VerticalFOVDeg float64 `json:"vertical_fov_deg,omitempty"`
}

// CameraSpec places the camera. Positive pitch looks down.
type CameraSpec struct {
	Position mgl64.Vec3 `json:"position"`
	YawDeg   float64    `json:"yaw_deg"`
	PitchDeg float64    `json:"pitch_deg"`
}

// Pose returns the camera pose: yaw about world up, then pitch about local X
// (positive pitch looks down).
func (c CameraSpec) Pose() geom.Pose {
	pitch := mgl64.QuatRotate(mgl64.DegToRad(c.PitchDeg), mgl64.Vec3{1, 0, 0})
	return geom.NewPose(c.Position, geom.HeadingRotation(c.YawDeg).Mul(pitch))
}

// PlaneSpec describes a tracked plane. Normal defaults to world up and
// YawDeg turns the plane about its normal. Boundary is in plane-local
// [x, z] metres; when empty the Width x Depth rectangle is used.
type PlaneSpec struct {
	ID         planes.PlaneID   `json:"id"`
	Center     mgl64.Vec3       `json:"center"`
	Normal     *mgl64.Vec3      `json:"normal,omitempty"`
	YawDeg     float64          `json:"yaw_deg,omitempty"`
	Width      float64          `json:"width"`
	Depth      float64          `json:"depth"`
	Boundary   orb.Ring         `json:"boundary,omitempty"`
	Alignment  planes.Alignment `json:"alignment,omitempty"`
	SubsumedBy planes.PlaneID   `json:"subsumed_by,omitempty"`
}

// Plane builds the TrackedPlane. An empty Alignment is classified from
// the normal.
func (s PlaneSpec) Plane() (planes.TrackedPlane, error) {
	normal := geom.WorldUp
	if s.Normal != nil {
		n, ok := geom.Normalize(*s.Normal)
		if !ok {
			return planes.TrackedPlane{}, fmt.Errorf("plane %s: zero normal", s.ID)
		}
		normal = n
	}
	rot := mgl64.QuatBetweenVectors(geom.WorldUp, normal).Mul(mgl64.QuatRotate(mgl64.DegToRad(s.YawDeg), geom.WorldUp))
	align := s.Alignment
	if align == "" {
		align = planes.ClassifyAlignment(normal, planes.AlignmentToleranceDeg)
	}
	return planes.TrackedPlane{
		ID:         s.ID,
		Center:     s.Center,
		Rotation:   rot,
		Width:      s.Width,
		Depth:      s.Depth,
		Boundary:   s.Boundary,
		Alignment:  align,
		SubsumedBy: s.SubsumedBy,
	}, nil
}

// Frame is one step of a scene. Plane changes are ingested as a single
// batch before the action runs.
type Frame struct {
	Added    []PlaneSpec          `json:"added,omitempty"`
	Updated  []PlaneSpec          `json:"updated,omitempty"`
	Removed  []planes.PlaneID     `json:"removed,omitempty"`
	Subsumed []planes.Subsumption `json:"subsumed,omitempty"`
	// Camera moves the camera; it stays put when omitted.
	Camera *CameraSpec `json:"camera,omitempty"`
	// Screen is the query point in pixels; defaults to the screen centre.
	Screen *mgl64.Vec2 `json:"screen,omitempty"`
	Action Action      `json:"action,omitempty"`
	// Repeat runs the frame's action this many extra times with no
	// further plane changes.
	Repeat int `json:"repeat,omitempty"`
}

// Batch converts the frame's plane changes.
func (f Frame) Batch() (planes.Batch, error) {
	var b planes.Batch
	for _, s := range f.Added {
		p, err := s.Plane()
		if err != nil {
			return b, err
		}
		b.Added = append(b.Added, p)
	}
	for _, s := range f.Updated {
		p, err := s.Plane()
		if err != nil {
			return b, err
		}
		b.Updated = append(b.Updated, p)
	}
	b.Removed = f.Removed
	b.Subsumed = f.Subsumed
	return b, nil
}

const maxSceneSize = 4 * 1024 * 1024

// LoadScene reads a scene file. Like tuning files it must be .json and
// reasonably small.
func LoadScene(path string) (*Scene, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".json" {
		return nil, fmt.Errorf("scene file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scene file: %w", err)
	}
	if info.Size() > maxSceneSize {
		return nil, fmt.Errorf("scene file too large: %d bytes (max %d)", info.Size(), maxSceneSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene file: %w", err)
	}
	return ParseScene(data)
}

// ParseScene decodes and validates a scene.
func ParseScene(data []byte) (*Scene, error) {
	var sc Scene
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scene JSON: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scene: %w", err)
	}
	return &sc, nil
}

// Validate checks the scene for structural errors.
func (sc *Scene) Validate() error {
	if sc.Camera.Width <= 0 || sc.Camera.Height <= 0 {
		return fmt.Errorf("camera size must be positive, got %vx%v", sc.Camera.Width, sc.Camera.Height)
	}
	if fov := sc.Camera.VerticalFOVDeg; fov < 0 || fov >= 180 {
		return fmt.Errorf("vertical_fov_deg must be in (0, 180), got %v", fov)
	}
	if sc.FrameInterval != "" {
		if _, err := time.ParseDuration(sc.FrameInterval); err != nil {
			return fmt.Errorf("invalid frame_interval %q: %w", sc.FrameInterval, err)
		}
	}
	for i, f := range sc.Frames {
		switch f.Action {
		case "", ActionTick, ActionNone, ActionCommit, ActionReset, ActionAutoPlace, ActionResetTracking:
		default:
			return fmt.Errorf("frame %d: unknown action %q", i, f.Action)
		}
		if f.Repeat < 0 {
			return fmt.Errorf("frame %d: repeat must be >= 0", i)
		}
		for _, s := range append(append([]PlaneSpec(nil), f.Added...), f.Updated...) {
			if s.ID == "" {
				return fmt.Errorf("frame %d: plane without id", i)
			}
			if s.Width <= 0 || s.Depth <= 0 {
				return fmt.Errorf("frame %d: plane %s extents must be positive", i, s.ID)
			}
		}
	}
	return nil
}

// Interval returns the pacing between frames, or 0 for unpaced replay.
func (sc *Scene) Interval() time.Duration {
	if sc.FrameInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(sc.FrameInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Projector returns the pinhole projector for the scene's camera. A zero
// field of view falls back to fallbackFOV.
func (sc *Scene) Projector(fallbackFOV float64) geom.PinholeProjector {
	fov := sc.Camera.VerticalFOVDeg
	if fov == 0 {
		fov = fallbackFOV
	}
	return geom.PinholeProjector{Width: sc.Camera.Width, Height: sc.Camera.Height, VerticalFOVDeg: fov}
}
