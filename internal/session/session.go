package session

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/arplace/internal/config"
	"github.com/banshee-data/arplace/internal/geom"
	"github.com/banshee-data/arplace/internal/notify"
	"github.com/banshee-data/arplace/internal/placement"
	"github.com/banshee-data/arplace/internal/planes"
	"github.com/banshee-data/arplace/internal/raycast"
)

// State is the placement session's lifecycle state.
type State string

const (
	Scanning      State = "scanning"       // no qualifying surface under the query point
	PoseAvailable State = "pose_available" // a candidate pose is ready to commit
	Committed     State = "committed"      // an object is anchored
)

var (
	// ErrIllegalState is returned when an operation is invoked from a state
	// that does not allow it. It indicates a host integration bug.
	ErrIllegalState = errors.New("illegal session state")

	// ErrNoQualifyingPlane is returned by AutoPlace when no plane passes
	// the constraints.
	ErrNoQualifyingPlane = errors.New("no qualifying plane")
)

// CameraPoseSource supplies the current camera pose. ok is false while
// tracking has not produced a pose yet.
type CameraPoseSource interface {
	CameraPose() (pose geom.Pose, ok bool)
}

// CameraPoseFunc adapts a function to CameraPoseSource.
type CameraPoseFunc func() (geom.Pose, bool)

// CameraPose implements CameraPoseSource.
func (f CameraPoseFunc) CameraPose() (geom.Pose, bool) { return f() }

// PlaneSource is the part of *planes.Registry the session depends on.
type PlaneSource interface {
	planes.View
	Subscribe(func(planes.Event)) *planes.Subscription
}

// Options control session policy.
type Options struct {
	// Strict panics on ErrIllegalState instead of returning it. Use it in
	// debug builds and tests.
	Strict bool
	// ScanGraceFrames is how many consecutive misses or rejections a
	// pending candidate survives before the session drops back to Scanning.
	ScanGraceFrames int
	// PlanesRequiredToStart is the plane count Ready waits for.
	PlanesRequiredToStart int
	// AutoPlaceMinArea is the smallest plane AutoPlace will use.
	AutoPlaceMinArea float64
}

// DefaultOptions returns release-mode options.
func DefaultOptions() Options {
	return Options{PlanesRequiredToStart: 1, AutoPlaceMinArea: 1.0}
}

// OptionsFromTuning builds Options from a loaded TuningConfig.
func OptionsFromTuning(cfg *config.TuningConfig) Options {
	return Options{
		ScanGraceFrames:       cfg.GetScanGraceFrames(),
		PlanesRequiredToStart: cfg.GetPlanesRequiredToStart(),
		AutoPlaceMinArea:      cfg.GetAutoPlaceMinAreaM2(),
	}
}

// Session is the placement state machine. Its methods are safe to call
// from several goroutines, though a host normally drives it from its frame
// loop. Subscribers are notified after the session's lock is released.
type Session struct {
	planes     PlaneSource
	raycaster  *raycast.Raycaster
	stabilizer *placement.Stabilizer
	camera     CameraPoseSource
	opts       Options

	mu            sync.Mutex
	state         State
	candidate     placement.PlacementPose
	committed     placement.PlacementPose
	lastRejection placement.RejectReason
	misses        int
	seq           uint64
	stats         Stats
	jitter        *placement.JitterMeter

	hub notify.Hub[Event]
}

// New wires a session. camera may be nil when the host only calls OnTick
// and never needs observer-relative headings.
func New(src PlaneSource, rc *raycast.Raycaster, st *placement.Stabilizer, camera CameraPoseSource, opts Options) *Session {
	return &Session{
		planes:     src,
		raycaster:  rc,
		stabilizer: st,
		camera:     camera,
		opts:       opts,
		state:      Scanning,
		stats:      Stats{Rejections: make(map[placement.RejectReason]int)},
		jitter:     placement.NewJitterMeter(placement.DefaultJitterWindow),
	}
}

// Attach subscribes the session to its plane source's lifecycle events.
// Close the returned subscription to detach.
func (s *Session) Attach() *planes.Subscription {
	return s.planes.Subscribe(func(ev planes.Event) {
		// Invalidation is surfaced through the AnchorInvalidated event.
		_ = s.OnPlaneLifecycleEvent(ev)
	})
}

// Subscribe registers fn for session events.
func (s *Session) Subscribe(fn func(Event)) *notify.Subscription {
	return s.hub.Subscribe(fn)
}

func (s *Session) cameraPose() (geom.Pose, bool) {
	if s.camera == nil {
		return geom.Pose{}, false
	}
	return s.camera.CameraPose()
}

// Tick raycasts screen from the current camera pose and feeds the result
// to OnTick. Without a camera pose the frame counts as a miss.
func (s *Session) Tick(screen mgl64.Vec2) State {
	cam, ok := s.cameraPose()
	if !ok || s.raycaster == nil {
		return s.OnTick(nil)
	}
	hit, ok := s.raycaster.Raycast(raycast.Query{Screen: screen, Camera: cam}, s.planes)
	if !ok {
		return s.OnTick(nil)
	}
	return s.OnTick(&hit)
}

// OnTick re-evaluates the candidate from this frame's hit (nil for a
// miss). It is a no-op while Committed.
func (s *Session) OnTick(hit *raycast.Hit) State {
	var observer mgl64.Vec3
	haveObserver := false
	if cam, ok := s.cameraPose(); ok {
		observer, haveObserver = cam.Position, true
	}

	s.mu.Lock()
	s.stats.Ticks++
	if s.state == Committed {
		st := s.state
		s.mu.Unlock()
		return st
	}

	var pending []Event
	if hit == nil {
		s.stats.Misses++
		pending = s.missLocked(placement.ReasonNoHit, pending)
	} else {
		s.stats.Hits++
		if !haveObserver {
			// No bearing to derive a heading from; fall back to +Z.
			observer = hit.Point.Sub(geom.WorldForward)
		}
		pose, err := s.stabilizer.Evaluate(*hit, s.planes, observer)
		if err != nil {
			reason := placement.ReasonOf(err)
			s.stats.Rejections[reason]++
			tracef("tick %d: %s rejected (%s)", s.stats.Ticks, hit.PlaneID, reason)
			pending = s.missLocked(reason, pending)
		} else {
			s.misses = 0
			s.lastRejection = placement.ReasonNone
			s.stats.Accepted++
			s.candidate = s.stabilizer.Smooth(s.candidate, pose)
			s.jitter.Add(s.candidate.Position)
			pending = s.transitionLocked(PoseAvailable, pending)
		}
	}
	st := s.state
	s.mu.Unlock()

	s.publish(pending)
	return st
}

func (s *Session) missLocked(reason placement.RejectReason, pending []Event) []Event {
	s.lastRejection = reason
	s.misses++
	if s.state == PoseAvailable && s.misses > s.opts.ScanGraceFrames {
		s.clearCandidateLocked()
		pending = s.transitionLocked(Scanning, pending)
	}
	return pending
}

func (s *Session) clearCandidateLocked() {
	s.candidate = placement.PlacementPose{}
	s.jitter.Reset()
}

func (s *Session) transitionLocked(to State, pending []Event) []Event {
	if s.state == to {
		return pending
	}
	from := s.state
	s.state = to
	diagf("state %s -> %s", from, to)
	return append(pending, s.eventLocked(EventStateChanged, from, to))
}

func (s *Session) eventLocked(kind EventKind, from, to State) Event {
	s.seq++
	return Event{Seq: s.seq, Kind: kind, From: from, To: to}
}

func (s *Session) publish(evs []Event) {
	for _, ev := range evs {
		s.hub.Publish(ev)
	}
}

// illegal reports a state violation per the Strict policy.
func (s *Session) illegal(op string, st State) error {
	err := fmt.Errorf("%s from %s: %w", op, st, ErrIllegalState)
	opsf("%v", err)
	if s.opts.Strict {
		panic(err)
	}
	return err
}

// Commit freezes the candidate pose and moves to Committed. It is only
// legal from PoseAvailable; otherwise the state is left unchanged.
func (s *Session) Commit() (placement.PlacementPose, error) {
	s.mu.Lock()
	if s.state != PoseAvailable || !s.candidate.Valid {
		st := s.state
		s.mu.Unlock()
		return placement.PlacementPose{}, s.illegal("commit", st)
	}
	pending := s.commitLocked(s.candidate, nil)
	pose := s.committed
	s.mu.Unlock()

	s.publish(pending)
	return pose, nil
}

func (s *Session) commitLocked(pose placement.PlacementPose, pending []Event) []Event {
	s.committed = pose
	s.clearCandidateLocked()
	s.misses = 0
	s.stats.Commits++
	pending = s.transitionLocked(Committed, pending)
	ev := s.eventLocked(EventCommitted, Committed, Committed)
	ev.Pose = pose
	diagf("committed on %s at %v heading %.1f°", pose.SourcePlaneID, pose.Position, pose.HeadingDeg)
	return append(pending, ev)
}

// Reset discards any candidate or committed pose and returns to Scanning.
// It is legal from every state.
func (s *Session) Reset() {
	s.mu.Lock()
	from := s.state
	s.committed = placement.PlacementPose{}
	s.clearCandidateLocked()
	s.lastRejection = placement.ReasonNone
	s.misses = 0
	s.stats.Resets++
	pending := s.transitionLocked(Scanning, nil)
	pending = append(pending, s.eventLocked(EventReset, from, Scanning))
	s.mu.Unlock()

	s.publish(pending)
}

// OnPlaneLifecycleEvent keeps the committed pose (or the pending
// candidate) attached when its plane changes. When a committed anchor
// cannot be re-resolved the session returns to Scanning, publishes
// EventAnchorInvalidated, and returns an error wrapping
// placement.ErrAnchorInvalidated.
func (s *Session) OnPlaneLifecycleEvent(ev planes.Event) error {
	if ev.Lifecycle == planes.Added {
		return nil
	}

	s.mu.Lock()
	var (
		pending []Event
		result  error
	)
	switch s.state {
	case Committed:
		if ev.Plane.ID != s.committed.SourcePlaneID {
			break
		}
		moved, err := s.stabilizer.Reconcile(s.committed, s.planes)
		if err != nil {
			lost := s.committed
			lost.Valid = false
			s.committed = placement.PlacementPose{}
			s.lastRejection = placement.ReasonAnchorInvalidated
			s.stats.Invalidations++
			pending = s.transitionLocked(Scanning, pending)
			inv := s.eventLocked(EventAnchorInvalidated, Committed, Scanning)
			inv.Pose = lost
			inv.Err = err
			pending = append(pending, inv)
			diagf("anchor invalidated: %v", err)
			result = err
			break
		}
		s.committed = moved
		s.stats.AnchorMoves++
		mv := s.eventLocked(EventAnchorMoved, Committed, Committed)
		mv.Pose = moved
		pending = append(pending, mv)

	case PoseAvailable:
		if ev.Plane.ID != s.candidate.SourcePlaneID || !ev.Lifecycle.Retired() {
			break
		}
		moved, err := s.stabilizer.Reconcile(s.candidate, s.planes)
		if err != nil {
			s.lastRejection = placement.ReasonOf(err)
			s.clearCandidateLocked()
			pending = s.transitionLocked(Scanning, pending)
			break
		}
		s.candidate = moved
	}
	s.mu.Unlock()

	s.publish(pending)
	return result
}

// AutoPlace commits directly to the largest qualifying plane, centred on
// it, facing away from the camera. Equal areas resolve to the lowest ID.
func (s *Session) AutoPlace() (placement.PlacementPose, error) {
	cam, haveCam := s.cameraPose()

	s.mu.Lock()
	if s.state == Committed {
		st := s.state
		s.mu.Unlock()
		return placement.PlacementPose{}, s.illegal("auto-place", st)
	}

	minArea := math.Max(s.opts.AutoPlaceMinArea, s.stabilizer.Constraints().MinArea)
	var (
		best     planes.TrackedPlane
		bestArea float64
		found    bool
	)
	for p := range s.planes.Snapshot().All() {
		if s.stabilizer.Check(p) != nil {
			continue
		}
		if a := p.Area(); a >= minArea && (!found || a > bestArea) {
			best, bestArea, found = p, a, true
		}
	}
	if !found {
		s.mu.Unlock()
		return placement.PlacementPose{}, fmt.Errorf("auto-place (min %.2fm²): %w", minArea, ErrNoQualifyingPlane)
	}

	observer := best.Center.Sub(geom.WorldForward)
	if haveCam {
		observer = cam.Position
	}
	pose := s.stabilizer.PoseAt(best, best.Center, observer)
	pending := s.commitLocked(pose, nil)
	s.mu.Unlock()

	s.publish(pending)
	return pose, nil
}

// Ready reports whether enough planes are tracked and at least one of them
// could hold an object.
func (s *Session) Ready() bool {
	snap := s.planes.Snapshot()
	if snap.Len() < s.opts.PlanesRequiredToStart {
		return false
	}
	c := s.stabilizer.Constraints()
	align := c.RequiredAlignment
	if align == "" {
		align = planes.HorizontalUp
	}
	_, ok := snap.BestCandidate(align, c.MinArea)
	return ok
}

// CurrentState returns the session state.
func (s *Session) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CandidatePose returns the pending pose while PoseAvailable.
func (s *Session) CandidatePose() (placement.PlacementPose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != PoseAvailable {
		return placement.PlacementPose{}, false
	}
	return s.candidate, s.candidate.Valid
}

// CommittedPose returns the anchored pose while Committed.
func (s *Session) CommittedPose() (placement.PlacementPose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Committed {
		return placement.PlacementPose{}, false
	}
	return s.committed, s.committed.Valid
}

// LastRejection is the reason the most recent frame produced no candidate,
// or ReasonNone after an accepted frame.
func (s *Session) LastRejection() placement.RejectReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRejection
}
