package scenario

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/arplace/internal/config"
	"github.com/banshee-data/arplace/internal/placement"
	"github.com/banshee-data/arplace/internal/planes"
	"github.com/banshee-data/arplace/internal/session"
)

func states(steps []Step) []session.State {
	out := make([]session.State, len(steps))
	for i, s := range steps {
		out[i] = s.State
	}
	return out
}

func TestLoadScene_Tabletop(t *testing.T) {
	sc, err := LoadScene(filepath.Join("testdata", "tabletop.json"))
	require.NoError(t, err)
	assert.Equal(t, "tabletop", sc.Name)
	require.Len(t, sc.Frames, 10)
	assert.Equal(t, []planes.Subsumption{{ID: "floor", Into: "room"}}, sc.Frames[6].Subsumed)

	wall, err := sc.Frames[1].Added[0].Plane()
	require.NoError(t, err)
	assert.Equal(t, planes.Vertical, wall.Alignment)
	assert.InDelta(t, -1, wall.Normal().Z(), 1e-9)
}

func TestLoadScene_Rejects(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadScene(filepath.Join(dir, "scene.yaml"))
	assert.ErrorContains(t, err, ".json extension")

	_, err = LoadScene(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"camera":{"width":0,"height":10}}`), 0o644))
	_, err = LoadScene(bad)
	assert.ErrorContains(t, err, "camera size")
}

func TestParseScene_Validation(t *testing.T) {
	cases := map[string]string{
		"unknown action": `{"camera":{"width":1,"height":1},"frames":[{"action":"dance"}]}`,
		"plane id":       `{"camera":{"width":1,"height":1},"frames":[{"added":[{"width":1,"depth":1}]}]}`,
		"extents":        `{"camera":{"width":1,"height":1},"frames":[{"added":[{"id":"a","width":0,"depth":1}]}]}`,
		"interval":       `{"camera":{"width":1,"height":1},"frame_interval":"soon"}`,
		"repeat":         `{"camera":{"width":1,"height":1},"frames":[{"repeat":-1}]}`,
		"fov":            `{"camera":{"width":1,"height":1,"vertical_fov_deg":200}}`,
		"json":           `{"camera":`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScene([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestCameraSpec_Pose(t *testing.T) {
	down := CameraSpec{PitchDeg: 90}.Pose()
	assert.InDelta(t, -1, down.Forward().Y(), 1e-9)

	right := CameraSpec{YawDeg: 90}.Pose()
	f := right.Forward()
	assert.InDelta(t, 1, f.X(), 1e-9)
	assert.InDelta(t, 0, f.Z(), 1e-9)
}

func TestPlaneSpec_ZeroNormal(t *testing.T) {
	_, err := PlaneSpec{ID: "a", Normal: &mgl64.Vec3{}, Width: 1, Depth: 1}.Plane()
	assert.Error(t, err)
}

func TestRunner_Tabletop(t *testing.T) {
	sc, err := LoadScene(filepath.Join("testdata", "tabletop.json"))
	require.NoError(t, err)
	r := NewRunner(config.MustLoadDefaultConfig(), sc)

	var seen int
	r.OnStep = func(Step) { seen++ }
	steps, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, steps, 11, "repeat adds one step")
	assert.Equal(t, len(steps), seen)

	assert.Equal(t, []session.State{
		session.Scanning,      // commit with nothing to commit
		session.Scanning,      // only a wall in view
		session.PoseAvailable, // floor
		session.PoseAvailable,
		session.Committed,
		session.Committed, // second commit refused
		session.Committed, // floor grows
		session.Committed, // floor merged into room
		session.Scanning,  // reset
		session.Scanning,  // looking at the wall
		session.Committed, // auto-place
	}, states(steps))

	assert.Contains(t, steps[0].Err, "illegal")
	assert.Equal(t, placement.ReasonNoHit, steps[1].Rejection)
	assert.NotNil(t, steps[2].Candidate)
	assert.Contains(t, steps[5].Err, "illegal")
	require.NotNil(t, steps[7].Committed)
	assert.Equal(t, planes.PlaneID("room"), steps[7].Committed.SourcePlaneID)
	assert.Equal(t, placement.ReasonWrongAlignment, steps[9].Rejection)

	last := steps[10].Committed
	require.NotNil(t, last)
	assert.Equal(t, planes.PlaneID("room"), last.SourcePlaneID)
	assert.InDelta(t, 0, last.Position.Sub(mgl64.Vec3{0, 0.05, 0}).Len(), 1e-9)
}

func TestRunner_SyntheticFloor(t *testing.T) {
	r := NewRunner(config.MustLoadDefaultConfig(), SyntheticFloor())
	steps, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []session.State{
		session.Scanning,
		session.Scanning, // too small
		session.PoseAvailable,
		session.PoseAvailable,
		session.PoseAvailable,
		session.Committed,
		session.Committed, // follows the merge
		session.Scanning,  // anchor lost
		session.Committed,
	}, states(steps))
	assert.Equal(t, placement.ReasonTooSmall, steps[1].Rejection)
	assert.Equal(t, placement.ReasonAnchorInvalidated, steps[7].Rejection)
	assert.Equal(t, session.PromptLost, steps[7].Prompt)

	stats := r.Session.Stats()
	assert.Equal(t, 2, stats.Commits)
	assert.Equal(t, 1, stats.Invalidations)
	assert.Equal(t, 1, stats.AnchorMoves)
}

func TestRunner_Paced(t *testing.T) {
	sc := SyntheticFloor()
	sc.FrameInterval = "1ms"
	r := NewRunner(config.MustLoadDefaultConfig(), sc)

	start := time.Now()
	steps, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, steps, 9)
	assert.GreaterOrEqual(t, time.Since(start), 9*time.Millisecond)
}

func TestRunner_PacedRunsReleasePacer(t *testing.T) {
	before := runtime.NumGoroutine()
	for range 5 {
		sc := SyntheticFloor()
		sc.FrameInterval = "1ms"
		_, err := NewRunner(config.MustLoadDefaultConfig(), sc).Run(context.Background())
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before },
		time.Second, 10*time.Millisecond, "pacer goroutines still running after Run returned")
}

func TestRunner_Cancelled(t *testing.T) {
	sc := SyntheticFloor()
	sc.FrameInterval = "1h"
	r := NewRunner(config.MustLoadDefaultConfig(), sc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	steps, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, steps)
}

func TestRunner_ResetTracking(t *testing.T) {
	sc := &Scene{
		Camera: Intrinsics{Width: 100, Height: 100},
		Start:  &CameraSpec{Position: mgl64.Vec3{0, 1.5, 0}, PitchDeg: 90},
		Frames: []Frame{
			{Added: []PlaneSpec{{ID: "f", Width: 2, Depth: 2}}},
			{Action: ActionCommit},
			{Action: ActionResetTracking},
			{Added: []PlaneSpec{{ID: "f", Width: 2, Depth: 2}}},
		},
	}
	r := NewRunner(config.MustLoadDefaultConfig(), sc)
	steps, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, session.Scanning, steps[2].State, "registry reset drops the anchor")
	assert.Equal(t, 0, steps[2].Planes)
	assert.Equal(t, session.PoseAvailable, steps[3].State, "IDs may be reused after a tracking reset")
}
