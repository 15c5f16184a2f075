package planes

import (
	"iter"
	"math"
	"slices"

	"github.com/dhconnelly/rtreego"
	"github.com/go-gl/mathgl/mgl64"
)

// boundsPad keeps every indexed box strictly positive along each axis;
// a horizontal plane is flat in Y.
const boundsPad = 1e-3

// View is anything that can hand out a consistent plane snapshot.
// Both *Registry and *Snapshot satisfy it.
type View interface {
	Snapshot() *Snapshot
}

// Snapshot is an immutable set of tracked planes as of one ingest. Readers
// holding a snapshot never observe later ingests.
type Snapshot struct {
	version uint64
	planes  map[PlaneID]TrackedPlane
	order   []PlaneID
	retired map[PlaneID]PlaneID // retired ID -> successor ("" when removed)
	index   *rtreego.Rtree
}

type indexedPlane struct {
	id   PlaneID
	rect *rtreego.Rect
}

func (ip indexedPlane) Bounds() *rtreego.Rect { return ip.rect }

func emptySnapshot(version uint64) *Snapshot {
	return newSnapshot(version, map[PlaneID]TrackedPlane{}, map[PlaneID]PlaneID{})
}

func newSnapshot(version uint64, planes map[PlaneID]TrackedPlane, retired map[PlaneID]PlaneID) *Snapshot {
	s := &Snapshot{
		version: version,
		planes:  planes,
		retired: retired,
		order:   make([]PlaneID, 0, len(planes)),
	}
	objs := make([]rtreego.Spatial, 0, len(planes))
	for id, p := range planes {
		s.order = append(s.order, id)
		if rect, ok := boundsRect(p); ok {
			objs = append(objs, indexedPlane{id: id, rect: rect})
		}
	}
	slices.Sort(s.order)
	s.index = rtreego.NewTree(3, 2, 8, objs...)
	return s
}

func boundsRect(p TrackedPlane) (*rtreego.Rect, bool) {
	lo, hi := p.worldBounds()
	lengths := make([]float64, 3)
	for i := 0; i < 3; i++ {
		if math.IsInf(lo[i], 0) || math.IsNaN(lo[i]) || math.IsInf(hi[i], 0) || math.IsNaN(hi[i]) {
			return nil, false
		}
		lo[i] -= boundsPad
		lengths[i] = hi[i] - lo[i] + boundsPad
	}
	rect, err := rtreego.NewRect(rtreego.Point{lo[0], lo[1], lo[2]}, lengths)
	if err != nil {
		opsf("plane %s: cannot index bounds: %v", p.ID, err)
		return nil, false
	}
	return rect, true
}

// Snapshot returns s itself, so a pinned snapshot can be passed where a
// View is expected.
func (s *Snapshot) Snapshot() *Snapshot { return s }

// Version increases with every applied batch.
func (s *Snapshot) Version() uint64 { return s.version }

// Len is the number of live planes.
func (s *Snapshot) Len() int { return len(s.order) }

// Get returns the live plane with the given ID.
func (s *Snapshot) Get(id PlaneID) (TrackedPlane, bool) {
	p, ok := s.planes[id]
	if !ok {
		return TrackedPlane{}, false
	}
	return p.clone(), true
}

// All yields the live planes in ascending ID order.
func (s *Snapshot) All() iter.Seq[TrackedPlane] {
	return func(yield func(TrackedPlane) bool) {
		for _, id := range s.order {
			if !yield(s.planes[id].clone()) {
				return
			}
		}
	}
}

// IDs returns the live plane IDs in ascending order.
func (s *Snapshot) IDs() []PlaneID {
	return slices.Clone(s.order)
}

// BestCandidate returns the largest plane with the given alignment whose
// area is at least minArea. Equal areas resolve to the lowest ID.
func (s *Snapshot) BestCandidate(alignment Alignment, minArea float64) (TrackedPlane, bool) {
	var (
		best     TrackedPlane
		bestArea float64
		found    bool
	)
	for _, id := range s.order {
		p := s.planes[id]
		if p.Alignment != alignment {
			continue
		}
		a := p.Area()
		if a < minArea {
			continue
		}
		if !found || a > bestArea {
			best, bestArea, found = p, a, true
		}
	}
	if !found {
		return TrackedPlane{}, false
	}
	return best.clone(), true
}

// Fate reports what happened to id: the live plane's last lifecycle, or
// Removed/Subsumed with the successor for retired IDs. ok is false for IDs
// this snapshot has never seen.
func (s *Snapshot) Fate(id PlaneID) (lifecycle Lifecycle, successor PlaneID, ok bool) {
	if p, live := s.planes[id]; live {
		return p.Lifecycle, "", true
	}
	succ, retired := s.retired[id]
	if !retired {
		return "", "", false
	}
	if succ == "" {
		return Removed, "", true
	}
	return Subsumed, succ, true
}

// Resolve follows subsumption chains from id to the live plane that now
// represents the same surface. It fails when the chain ends in a removal
// or an unknown ID.
func (s *Snapshot) Resolve(id PlaneID) (TrackedPlane, bool) {
	seen := make(map[PlaneID]bool)
	for !seen[id] {
		seen[id] = true
		if p, ok := s.planes[id]; ok {
			return p.clone(), true
		}
		succ, retired := s.retired[id]
		if !retired || succ == "" {
			return TrackedPlane{}, false
		}
		id = succ
	}
	return TrackedPlane{}, false
}

// Candidates returns, in ascending order, the IDs of live planes whose
// world bounds intersect the box [min, max].
func (s *Snapshot) Candidates(min, max mgl64.Vec3) []PlaneID {
	lengths := make([]float64, 3)
	for i := 0; i < 3; i++ {
		if max[i] < min[i] {
			min[i], max[i] = max[i], min[i]
		}
		lengths[i] = max[i] - min[i] + boundsPad
	}
	rect, err := rtreego.NewRect(rtreego.Point{min[0], min[1], min[2]}, lengths)
	if err != nil {
		return s.IDs()
	}
	hits := s.index.SearchIntersect(rect)
	ids := make([]PlaneID, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.(indexedPlane).id)
	}
	slices.Sort(ids)
	return ids
}
