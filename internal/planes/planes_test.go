package planes

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floor(id PlaneID, x, z, w, d float64) TrackedPlane {
	return TrackedPlane{
		ID:        id,
		Center:    mgl64.Vec3{x, 0, z},
		Rotation:  mgl64.QuatIdent(),
		Width:     w,
		Depth:     d,
		Alignment: HorizontalUp,
	}
}

func wall(id PlaneID, z float64) TrackedPlane {
	return TrackedPlane{
		ID:        id,
		Center:    mgl64.Vec3{0, 1, z},
		Rotation:  mgl64.QuatBetweenVectors(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, 0, -1}),
		Width:     4,
		Depth:     2,
		Alignment: Vertical,
	}
}

func ids(seq func(func(TrackedPlane) bool)) []PlaneID {
	var out []PlaneID
	for p := range seq {
		out = append(out, p.ID)
	}
	return out
}

func TestIngest_AddedPlaneVisibleImmediately(t *testing.T) {
	r := NewRegistry()
	r.Ingest([]TrackedPlane{floor("A", 0, 0, 1, 1)}, nil, nil)

	assert.Equal(t, []PlaneID{"A"}, ids(r.All()))
	p, ok := r.Get("A")
	require.True(t, ok)
	assert.Equal(t, Added, p.Lifecycle)
	assert.Equal(t, 1, r.Len())

	_, ok = r.Get("missing")
	assert.False(t, ok, "unknown IDs are an ordinary miss")
}

func TestSnapshot_IsolatedFromLaterIngest(t *testing.T) {
	r := NewRegistry()
	r.Ingest([]TrackedPlane{floor("A", 0, 0, 1, 1)}, nil, nil)

	before := r.Snapshot()
	seq := r.All()
	r.Ingest([]TrackedPlane{floor("B", 3, 0, 1, 1)}, nil, []PlaneID{"A"})

	assert.Equal(t, []PlaneID{"A"}, ids(before.All()))
	assert.Equal(t, []PlaneID{"A"}, ids(seq), "a sequence taken before ingest must not see it")
	assert.Equal(t, []PlaneID{"B"}, ids(r.All()))
	assert.Greater(t, r.Snapshot().Version(), before.Version())
}

func TestSnapshot_GetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	p := floor("A", 0, 0, 1, 1)
	p.Boundary = orb.Ring{{-0.5, -0.5}, {0.5, -0.5}, {0.5, 0.5}, {-0.5, 0.5}}
	r.Ingest([]TrackedPlane{p}, nil, nil)

	// Mutating the caller's slice or a returned copy must not leak in.
	p.Boundary[0] = orb.Point{-9, -9}
	got, _ := r.Get("A")
	assert.Equal(t, orb.Point{-0.5, -0.5}, got.Boundary[0])
	got.Boundary[1] = orb.Point{9, 9}
	again, _ := r.Get("A")
	assert.Equal(t, orb.Point{0.5, -0.5}, again.Boundary[1])
}

func TestIngest_ConcurrentReadersNeverSeeTornBatch(t *testing.T) {
	r := NewRegistry()
	var stop atomic.Bool
	var torn atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				// Every batch adds planes in pairs.
				if n := r.Snapshot().Len(); n%2 != 0 {
					torn.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		a := PlaneID(fmt.Sprintf("p%03d", i))
		r.Ingest([]TrackedPlane{floor(a+"-1", float64(i), 0, 1, 1), floor(a+"-2", float64(i), 2, 1, 1)}, nil, nil)
	}
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, torn.Load())
	assert.Equal(t, 400, r.Len())
}

func TestIngest_RemovedIDsNeverReturn(t *testing.T) {
	r := NewRegistry()
	r.Ingest([]TrackedPlane{floor("A", 0, 0, 1, 1)}, nil, nil)
	evs := r.Ingest(nil, nil, []PlaneID{"A"})
	require.Len(t, evs, 1)
	assert.Equal(t, Removed, evs[0].Lifecycle)
	assert.Equal(t, PlaneID("A"), evs[0].Plane.ID)

	evs = r.Ingest([]TrackedPlane{floor("A", 0, 0, 2, 2)}, []TrackedPlane{floor("A", 0, 0, 2, 2)}, nil)
	assert.Empty(t, evs)
	_, ok := r.Get("A")
	assert.False(t, ok)

	lc, succ, ok := r.Snapshot().Fate("A")
	require.True(t, ok)
	assert.Equal(t, Removed, lc)
	assert.Empty(t, succ)

	_, _, ok = r.Snapshot().Fate("never-seen")
	assert.False(t, ok)
}

func TestIngest_Subsumption(t *testing.T) {
	r := NewRegistry()
	r.Ingest([]TrackedPlane{floor("P1", 0, 0, 1, 1), floor("P2", 0.5, 0, 2, 1)}, nil, nil)

	merged := floor("P1", 0, 0, 1, 1)
	merged.SubsumedBy = "P2"
	grown := floor("P2", 0.25, 0, 3, 2)
	evs := r.Ingest(nil, []TrackedPlane{merged, grown}, nil)

	require.Len(t, evs, 2)
	assert.Equal(t, Subsumed, evs[0].Lifecycle, "retirements come first")
	assert.Equal(t, PlaneID("P2"), evs[0].Successor)
	assert.Equal(t, Updated, evs[1].Lifecycle)
	assert.Equal(t, PlaneID("P2"), evs[1].Plane.ID)

	snap := r.Snapshot()
	lc, succ, ok := snap.Fate("P1")
	require.True(t, ok)
	assert.Equal(t, Subsumed, lc)
	assert.Equal(t, PlaneID("P2"), succ)

	p, ok := snap.Resolve("P1")
	require.True(t, ok)
	assert.Equal(t, PlaneID("P2"), p.ID)
	assert.InDelta(t, 6.0, p.Area(), 1e-12)
}

func TestResolve_FollowsChainsAndStopsAtRemoval(t *testing.T) {
	r := NewRegistry()
	r.Ingest([]TrackedPlane{floor("a", 0, 0, 1, 1), floor("b", 1, 0, 1, 1), floor("c", 2, 0, 1, 1)}, nil, nil)
	r.IngestBatch(Batch{Subsumed: []Subsumption{{ID: "a", Into: "b"}}})
	r.IngestBatch(Batch{Subsumed: []Subsumption{{ID: "b", Into: "c"}}})

	p, ok := r.Snapshot().Resolve("a")
	require.True(t, ok)
	assert.Equal(t, PlaneID("c"), p.ID)

	r.Ingest(nil, nil, []PlaneID{"c"})
	_, ok = r.Snapshot().Resolve("a")
	assert.False(t, ok)
}

func TestIngest_SelfSubsumptionIgnored(t *testing.T) {
	r := NewRegistry()
	r.Ingest([]TrackedPlane{floor("a", 0, 0, 1, 1)}, nil, nil)
	evs := r.IngestBatch(Batch{Subsumed: []Subsumption{{ID: "a", Into: "a"}}})
	assert.Empty(t, evs)
	_, ok := r.Get("a")
	assert.True(t, ok)
}

func TestIngest_EventOrderAndSubscribers(t *testing.T) {
	r := NewRegistry()
	r.Ingest([]TrackedPlane{floor("old", 0, 0, 1, 1), floor("keep", 5, 0, 1, 1)}, nil, nil)

	var got []Event
	sub := r.Subscribe(func(ev Event) {
		// The new snapshot is already visible to handlers.
		_, live := r.Get(ev.Plane.ID)
		assert.Equal(t, !ev.Lifecycle.Retired(), live)
		got = append(got, ev)
	})
	defer sub.Close()

	keep := floor("keep", 5, 0, 2, 2)
	returned := r.Ingest([]TrackedPlane{floor("new", 9, 0, 1, 1)}, []TrackedPlane{keep}, []PlaneID{"old"})

	require.Equal(t, returned, got)
	var order []Lifecycle
	for _, ev := range got {
		order = append(order, ev.Lifecycle)
	}
	assert.Equal(t, []Lifecycle{Removed, Added, Updated}, order)

	sub.Close()
	r.Ingest(nil, nil, []PlaneID{"keep"})
	assert.Len(t, got, 3, "closed subscription receives nothing")
}

func TestIngest_AddAndUpdateInOneBatch(t *testing.T) {
	r := NewRegistry()
	evs := r.Ingest([]TrackedPlane{floor("A", 0, 0, 1, 1)}, []TrackedPlane{floor("A", 0, 0, 2, 2)}, nil)
	require.Len(t, evs, 1)
	assert.Equal(t, Added, evs[0].Lifecycle)
	assert.InDelta(t, 4.0, evs[0].Plane.Area(), 1e-12)
}

func TestIngest_UpdateForUnknownIsAdd(t *testing.T) {
	r := NewRegistry()
	evs := r.Ingest(nil, []TrackedPlane{floor("A", 0, 0, 1, 1)}, nil)
	require.Len(t, evs, 1)
	assert.Equal(t, Added, evs[0].Lifecycle)
}

func TestIngest_EmptyIDDropped(t *testing.T) {
	r := NewRegistry()
	evs := r.Ingest([]TrackedPlane{floor("", 0, 0, 1, 1)}, nil, nil)
	assert.Empty(t, evs)
	assert.Zero(t, r.Len())
}

func TestBestCandidate(t *testing.T) {
	r := NewRegistry()
	r.Ingest([]TrackedPlane{
		floor("b", 0, 0, 2, 1),
		floor("a", 5, 0, 1, 2), // same area as b; lower ID wins
		floor("c", 9, 0, 0.5, 0.5),
		wall("w", 3),
	}, nil, nil)

	p, ok := r.BestCandidate(HorizontalUp, 0.25)
	require.True(t, ok)
	assert.Equal(t, PlaneID("a"), p.ID)

	p, ok = r.BestCandidate(HorizontalUp, 2.0)
	require.True(t, ok, "area equal to minArea qualifies")
	assert.Equal(t, PlaneID("a"), p.ID)

	_, ok = r.BestCandidate(HorizontalUp, 2.0001)
	assert.False(t, ok)

	p, ok = r.BestCandidate(Vertical, 0)
	require.True(t, ok)
	assert.Equal(t, PlaneID("w"), p.ID)

	_, ok = r.BestCandidate(HorizontalDown, 0)
	assert.False(t, ok)
}

func TestCandidates_RTree(t *testing.T) {
	r := NewRegistry()
	r.Ingest([]TrackedPlane{
		floor("near", 0, 0, 1, 1),
		floor("far", 50, 0, 1, 1),
		wall("w", 2),
	}, nil, nil)
	snap := r.Snapshot()

	got := snap.Candidates(mgl64.Vec3{-1, -1, -1}, mgl64.Vec3{1, 1, 1})
	assert.Equal(t, []PlaneID{"near"}, got)

	got = snap.Candidates(mgl64.Vec3{1, 2, 3}, mgl64.Vec3{-1, 0, -1})
	assert.Equal(t, []PlaneID{"near", "w"}, got, "inverted corners are normalised")

	got = snap.Candidates(mgl64.Vec3{-100, -100, -100}, mgl64.Vec3{100, 100, 100})
	assert.True(t, slices.IsSorted(got))
	assert.Len(t, got, 3)
}

func TestReset(t *testing.T) {
	r := NewRegistry()
	r.Ingest([]TrackedPlane{floor("A", 0, 0, 1, 1), floor("B", 2, 0, 1, 1)}, nil, nil)
	r.Ingest(nil, nil, []PlaneID{"B"})

	var removed []PlaneID
	r.Subscribe(func(ev Event) { removed = append(removed, ev.Plane.ID) })
	evs := r.Reset()
	assert.Len(t, evs, 1)
	assert.Equal(t, []PlaneID{"A"}, removed)
	assert.Zero(t, r.Len())

	// A reset tracking session may reuse IDs.
	r.Ingest([]TrackedPlane{floor("B", 0, 0, 1, 1)}, nil, nil)
	_, ok := r.Get("B")
	assert.True(t, ok)
}

func TestRun_IngestsUntilClosed(t *testing.T) {
	r := NewRegistry()
	src := make(chan Batch, 2)
	src <- Batch{Added: []TrackedPlane{floor("A", 0, 0, 1, 1)}}
	src <- Batch{Removed: []PlaneID{"A"}, Added: []TrackedPlane{floor("B", 0, 0, 1, 1)}}
	close(src)

	require.NoError(t, r.Run(context.Background(), src))
	assert.Equal(t, []PlaneID{"B"}, ids(r.All()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx, make(chan Batch)), context.Canceled)
}

func TestClassifyAlignment(t *testing.T) {
	tilt := func(deg float64) mgl64.Vec3 {
		rad := mgl64.DegToRad(deg)
		return mgl64.Vec3{math.Sin(rad), math.Cos(rad), 0}
	}
	tests := []struct {
		normal mgl64.Vec3
		want   Alignment
	}{
		{mgl64.Vec3{0, 1, 0}, HorizontalUp},
		{tilt(14), HorizontalUp},
		{tilt(30), NotAxisAligned},
		{tilt(90), Vertical},
		{tilt(100), Vertical},
		{mgl64.Vec3{0, -1, 0}, HorizontalDown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyAlignment(tt.normal, AlignmentToleranceDeg), "normal %v", tt.normal)
	}
}

func TestTrackedPlane_Geometry(t *testing.T) {
	p := floor("A", 1, 2, 2, 1)
	assert.InDelta(t, 2.0, p.Area(), 1e-12)
	assert.True(t, p.Contains(mgl64.Vec3{2, 5, 2}), "containment ignores height above the plane")
	assert.True(t, p.Contains(mgl64.Vec3{2, 0, 2.5}), "edge is inside")
	assert.False(t, p.Contains(mgl64.Vec3{2.01, 0, 2}))

	x, z, h := p.ToLocal(mgl64.Vec3{1.5, 0.3, 1.75})
	assert.InDelta(t, 0.5, x, 1e-12)
	assert.InDelta(t, -0.25, z, 1e-12)
	assert.InDelta(t, 0.3, h, 1e-12)

	w := p.ToWorld(0.5, -0.25)
	assert.InDelta(t, 1.5, w.X(), 1e-12)
	assert.InDelta(t, 1.75, w.Z(), 1e-12)

	// A triangular boundary overrides the extents.
	p.Boundary = orb.Ring{{0, 0}, {1, 0}, {0, 1}}
	assert.InDelta(t, 0.5, p.Area(), 1e-12)
	assert.True(t, p.ContainsLocal(0.2, 0.2))
	assert.False(t, p.ContainsLocal(0.8, 0.8))
	assert.True(t, p.WithinExtents(0.8, 0.4))

	v := wall("w", 0)
	n := v.Normal()
	assert.InDelta(t, -1, n.Z(), 1e-9)
}
