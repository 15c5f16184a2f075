package planes

import (
	"context"
	"errors"
	"iter"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/arplace/internal/notify"
)

// ErrRetiredPlane is logged when a batch tries to bring back an ID that was
// removed or subsumed.
var ErrRetiredPlane = errors.New("plane ID was retired")

// Subsumption retires ID in favour of Into.
type Subsumption struct {
	ID   PlaneID
	Into PlaneID
}

// Batch is one tracking update. It is applied atomically.
type Batch struct {
	Added    []TrackedPlane
	Updated  []TrackedPlane
	Removed  []PlaneID
	Subsumed []Subsumption
}

// Event describes one plane lifecycle change. Plane holds the geometry the
// plane had when the event was produced; for retirements that is its last
// known geometry.
type Event struct {
	Plane     TrackedPlane
	Lifecycle Lifecycle
	Successor PlaneID // set for Subsumed
	Version   uint64  // snapshot version that contains the change
}

// Subscription is a disposable registration returned by Subscribe.
type Subscription = notify.Subscription

// Registry is the authoritative set of tracked planes. Writers are
// serialised; readers load the current immutable Snapshot without locking,
// so a reader sees either the whole of a batch or none of it.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	hub     notify.Hub[Event]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(emptySnapshot(0))
	return r
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Get returns the live plane with the given ID from the current snapshot.
func (r *Registry) Get(id PlaneID) (TrackedPlane, bool) { return r.Snapshot().Get(id) }

// All yields the planes of the snapshot current at call time.
func (r *Registry) All() iter.Seq[TrackedPlane] { return r.Snapshot().All() }

// Len is the number of live planes.
func (r *Registry) Len() int { return r.Snapshot().Len() }

// BestCandidate delegates to the current snapshot.
func (r *Registry) BestCandidate(alignment Alignment, minArea float64) (TrackedPlane, bool) {
	return r.Snapshot().BestCandidate(alignment, minArea)
}

// Subscribe registers fn for lifecycle events. Events are delivered on the
// ingesting goroutine after the new snapshot is visible. Events of batches
// ingested concurrently from several goroutines may interleave.
func (r *Registry) Subscribe(fn func(Event)) *Subscription {
	return r.hub.Subscribe(fn)
}

// Ingest applies one add/update/remove batch.
func (r *Registry) Ingest(added, updated []TrackedPlane, removed []PlaneID) []Event {
	return r.IngestBatch(Batch{Added: added, Updated: updated, Removed: removed})
}

// IngestBatch applies b atomically and returns the resulting events in
// delivery order: retirements, then additions, then updates.
//
// Added and updated entries upsert by ID. An updated plane carrying
// SubsumedBy is retired as subsumed. IDs that were retired earlier are
// never brought back; such entries are dropped.
func (r *Registry) IngestBatch(b Batch) []Event {
	r.mu.Lock()
	prev := r.current.Load()

	planes := maps.Clone(prev.planes)
	retired := maps.Clone(prev.retired)
	version := prev.version + 1

	var (
		addedIDs   []PlaneID
		updatedIDs []PlaneID
		retiredEvs []Event
		dropped    int
		fresh      = make(map[PlaneID]bool)
	)

	upsert := func(p TrackedPlane, wantAdd bool) {
		if p.ID == "" {
			opsf("dropping plane with empty ID")
			dropped++
			return
		}
		if _, gone := retired[p.ID]; gone {
			opsf("dropping plane %s: %v", p.ID, ErrRetiredPlane)
			dropped++
			return
		}
		_, exists := planes[p.ID]
		p = p.clone()
		p.SubsumedBy = ""
		switch {
		case exists && fresh[p.ID]:
			// Added earlier in this batch; the add event carries the final geometry.
			p.Lifecycle = Added
		case exists:
			p.Lifecycle = Updated
			updatedIDs = append(updatedIDs, p.ID)
		default:
			if !wantAdd {
				diagf("update for unknown plane %s treated as add", p.ID)
			}
			p.Lifecycle = Added
			fresh[p.ID] = true
			addedIDs = append(addedIDs, p.ID)
		}
		planes[p.ID] = p
		tracef("upsert %s (%s, %.3fm²)", p.ID, p.Alignment, p.Area())
	}

	retire := func(id, successor PlaneID) {
		p, live := planes[id]
		if !live {
			if _, gone := retired[id]; !gone {
				diagf("retirement of unknown plane %s ignored", id)
			}
			return
		}
		if successor == id {
			opsf("plane %s cannot be subsumed into itself", id)
			return
		}
		p = p.clone()
		delete(planes, id)
		retired[id] = successor
		lc := Removed
		if successor != "" {
			lc = Subsumed
		}
		p.Lifecycle = lc
		p.SubsumedBy = successor
		retiredEvs = append(retiredEvs, Event{Plane: p, Lifecycle: lc, Successor: successor, Version: version})
	}

	for _, p := range b.Added {
		upsert(p, true)
	}
	var subsumedByUpdate []Subsumption
	for _, p := range b.Updated {
		if p.SubsumedBy != "" {
			subsumedByUpdate = append(subsumedByUpdate, Subsumption{ID: p.ID, Into: p.SubsumedBy})
			continue
		}
		upsert(p, false)
	}
	for _, s := range b.Subsumed {
		retire(s.ID, s.Into)
	}
	for _, s := range subsumedByUpdate {
		retire(s.ID, s.Into)
	}
	for _, id := range b.Removed {
		retire(id, "")
	}

	next := newSnapshot(version, planes, retired)
	r.current.Store(next)
	r.mu.Unlock()

	events := retiredEvs
	events = appendLive(events, next, addedIDs, Added)
	events = appendLive(events, next, updatedIDs, Updated)

	diagf("batch v%d: %d added, %d updated, %d retired, %d dropped, %d live",
		version, len(addedIDs), len(updatedIDs), len(retiredEvs), dropped, next.Len())

	for _, ev := range events {
		r.hub.Publish(ev)
	}
	return events
}

// appendLive emits one event per ID still live in snap, skipping IDs that
// were retired later in the same batch and duplicates.
func appendLive(events []Event, snap *Snapshot, ids []PlaneID, lc Lifecycle) []Event {
	seen := make(map[PlaneID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		p, ok := snap.planes[id]
		if !ok {
			continue
		}
		events = append(events, Event{Plane: p.clone(), Lifecycle: lc, Version: snap.version})
	}
	return events
}

// Reset drops every plane and forgets retired IDs, as when the tracking
// session restarts. Subscribers receive a Removed event per live plane.
func (r *Registry) Reset() []Event {
	r.mu.Lock()
	prev := r.current.Load()
	next := emptySnapshot(prev.version + 1)
	r.current.Store(next)
	r.mu.Unlock()

	events := make([]Event, 0, prev.Len())
	for _, id := range prev.order {
		p := prev.planes[id].clone()
		p.Lifecycle = Removed
		events = append(events, Event{Plane: p, Lifecycle: Removed, Version: next.version})
	}
	diagf("reset v%d: %d planes dropped", next.version, len(events))
	for _, ev := range events {
		r.hub.Publish(ev)
	}
	return events
}

// Run ingests batches from src until it is closed or ctx is done. It lets a
// tracking subsystem deliver updates from its own goroutine.
func (r *Registry) Run(ctx context.Context, src <-chan Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-src:
			if !ok {
				return nil
			}
			r.IngestBatch(b)
		}
	}
}
