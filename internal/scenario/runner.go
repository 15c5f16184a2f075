package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/arplace/internal/config"
	"github.com/banshee-data/arplace/internal/geom"
	"github.com/banshee-data/arplace/internal/placement"
	"github.com/banshee-data/arplace/internal/planes"
	"github.com/banshee-data/arplace/internal/raycast"
	"github.com/banshee-data/arplace/internal/session"
	"github.com/banshee-data/arplace/internal/timeutil"
)

// Step records the outcome of one executed frame action.
type Step struct {
	Frame     int                      `json:"frame"`
	Repeat    int                      `json:"repeat,omitempty"`
	Action    Action                   `json:"action"`
	State     session.State            `json:"state"`
	Planes    int                      `json:"planes"`
	Candidate *placement.PlacementPose `json:"candidate,omitempty"`
	Committed *placement.PlacementPose `json:"committed,omitempty"`
	Rejection placement.RejectReason   `json:"rejection,omitempty"`
	Prompt    string                   `json:"prompt"`
	Err       string                   `json:"error,omitempty"`
	Ready     bool                     `json:"ready"`
}

// Runner replays a Scene through a registry, raycaster, and session built
// from a tuning config.
type Runner struct {
	Scene    *Scene
	Registry *planes.Registry
	Session  *session.Session

	// Clock paces frames when the scene has a frame interval.
	Clock timeutil.Clock
	// OnStep, when set, observes each step as it is produced.
	OnStep func(Step)

	camMu  sync.Mutex
	camera geom.Pose
	camOK  bool
	screen mgl64.Vec2
}

// NewRunner wires the placement stack for sc.
func NewRunner(cfg *config.TuningConfig, sc *Scene) *Runner {
	r := &Runner{Scene: sc, Registry: planes.NewRegistry(), Clock: timeutil.RealClock{}}
	proj := sc.Projector(cfg.GetVerticalFOVDeg())
	r.screen = proj.Center()
	if sc.Start != nil {
		r.camera, r.camOK = sc.Start.Pose(), true
	}

	rc := raycast.New(proj, raycast.OptionsFromTuning(cfg))
	st := placement.NewStabilizer(placement.ConstraintsFromTuning(cfg), placement.OptionsFromTuning(cfg))
	r.Session = session.New(r.Registry, rc, st, session.CameraPoseFunc(r.cameraPose), session.OptionsFromTuning(cfg))
	return r
}

func (r *Runner) cameraPose() (geom.Pose, bool) {
	r.camMu.Lock()
	defer r.camMu.Unlock()
	return r.camera, r.camOK
}

func (r *Runner) setCamera(c CameraSpec) {
	r.camMu.Lock()
	r.camera, r.camOK = c.Pose(), true
	r.camMu.Unlock()
}

// Run replays every frame and returns the steps. The session is attached
// to the registry for the duration of the run. Illegal user actions are
// recorded on their step and do not stop the run; malformed frames and
// context cancellation do.
func (r *Runner) Run(ctx context.Context) ([]Step, error) {
	att := r.Session.Attach()
	defer att.Close()

	var tick <-chan struct{}
	if d := r.Scene.Interval(); d > 0 && r.Clock != nil {
		t := r.Clock.NewTicker(d)
		pacerCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		defer func() {
			cancel()
			wg.Wait()
			t.Stop()
		}()
		ch := make(chan struct{})
		tick = ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-pacerCtx.Done():
					return
				case <-t.C():
					select {
					case ch <- struct{}{}:
					case <-pacerCtx.Done():
						return
					}
				}
			}
		}()
	}

	var steps []Step
	for i, f := range r.Scene.Frames {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		b, err := f.Batch()
		if err != nil {
			return steps, fmt.Errorf("frame %d: %w", i, err)
		}
		r.Registry.IngestBatch(b)
		if f.Camera != nil {
			r.setCamera(*f.Camera)
		}

		for rep := 0; rep <= f.Repeat; rep++ {
			if tick != nil {
				select {
				case <-ctx.Done():
					return steps, ctx.Err()
				case <-tick:
				}
			}
			step := r.apply(f)
			step.Frame, step.Repeat = i, rep
			steps = append(steps, step)
			if r.OnStep != nil {
				r.OnStep(step)
			}
		}
	}
	return steps, nil
}

func (r *Runner) apply(f Frame) Step {
	action := f.Action
	if action == "" {
		action = ActionTick
	}
	screen := r.screen
	if f.Screen != nil {
		screen = *f.Screen
	}

	var err error
	switch action {
	case ActionTick:
		r.Session.Tick(screen)
	case ActionCommit:
		_, err = r.Session.Commit()
	case ActionReset:
		r.Session.Reset()
	case ActionAutoPlace:
		_, err = r.Session.AutoPlace()
	case ActionResetTracking:
		r.Registry.Reset()
	}
	if err != nil {
		kind := "error"
		if errors.Is(err, session.ErrIllegalState) {
			kind = "illegal"
		}
		opsf("%s %s: %v", kind, action, err)
	}

	step := Step{
		Action:    action,
		State:     r.Session.CurrentState(),
		Planes:    r.Registry.Len(),
		Rejection: r.Session.LastRejection(),
		Prompt:    r.Session.Prompt(),
		Ready:     r.Session.Ready(),
	}
	if err != nil {
		step.Err = err.Error()
	}
	if p, ok := r.Session.CandidatePose(); ok {
		step.Candidate = &p
	}
	if p, ok := r.Session.CommittedPose(); ok {
		step.Committed = &p
	}
	return step
}

// SyntheticFloor is a built-in scene: a floor grows, the user commits,
// the floor is merged into a larger one, and then tracking loses it.
func SyntheticFloor() *Scene {
	up := &CameraSpec{Position: mgl64.Vec3{0, 1.5, -1.2}, PitchDeg: 55}
	return &Scene{
		Name:   "synthetic-floor",
		Camera: Intrinsics{Width: 1170, Height: 2532, VerticalFOVDeg: 60},
		Start:  up,
		Frames: []Frame{
			{Action: ActionTick},
			{Added: []PlaneSpec{{ID: "floor-a", Width: 0.4, Depth: 0.4}}},
			{Updated: []PlaneSpec{{ID: "floor-a", Width: 1.2, Depth: 1.2}}, Repeat: 2},
			{Action: ActionCommit},
			{
				Added:    []PlaneSpec{{ID: "floor-b", Center: mgl64.Vec3{0.5, 0, 0}, Width: 3, Depth: 3}},
				Subsumed: []planes.Subsumption{{ID: "floor-a", Into: "floor-b"}},
				Action:   ActionNone,
			},
			{Removed: []planes.PlaneID{"floor-b"}, Action: ActionNone},
			{Added: []PlaneSpec{{ID: "floor-c", Width: 2, Depth: 2}}, Action: ActionAutoPlace},
		},
	}
}
