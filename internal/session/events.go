package session

import (
	"maps"

	"github.com/banshee-data/arplace/internal/placement"
)

// EventKind names a session event.
type EventKind string

const (
	EventStateChanged      EventKind = "state_changed"
	EventCommitted         EventKind = "committed"
	EventAnchorMoved       EventKind = "anchor_moved"
	EventAnchorInvalidated EventKind = "anchor_invalidated"
	EventReset             EventKind = "reset"
)

// Event is published to session subscribers. Seq increases by one per
// event within a session.
type Event struct {
	Seq  uint64
	Kind EventKind
	From State
	To   State
	// Pose is set for committed, anchor_moved, and anchor_invalidated
	// (the lost pose, with Valid cleared).
	Pose placement.PlacementPose
	// Err is set for anchor_invalidated.
	Err error
}

// Stats are running counters for a session.
type Stats struct {
	State         State                          `json:"state"`
	Ticks         int                            `json:"ticks"`
	Hits          int                            `json:"hits"`
	Misses        int                            `json:"misses"`
	Accepted      int                            `json:"accepted"`
	Rejections    map[placement.RejectReason]int `json:"rejections"`
	Commits       int                            `json:"commits"`
	Resets        int                            `json:"resets"`
	Invalidations int                            `json:"invalidations"`
	AnchorMoves   int                            `json:"anchor_moves"`
	// JitterRMS is the candidate's positional wander over recent frames.
	JitterRMS float64 `json:"jitter_rms_m"`
}

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.State = s.state
	out.Rejections = maps.Clone(s.stats.Rejections)
	out.JitterRMS = s.jitter.RMS()
	return out
}

// User-facing guidance texts.
const (
	PromptScan       = "Scan your surroundings to detect surfaces"
	PromptMoveDevice = "Move your device to scan the environment"
	PromptPointAt    = "Point your device at a flat surface"
	PromptTapToPlace = "Tap on a surface to place your avatar"
	PromptPlaced     = "Avatar placed"
	PromptTooSmall   = "Surface too small, look for a larger area"
	PromptTooSteep   = "Surface too steep, look for a level area"
	PromptWrongKind  = "Point your device at the floor or a table"
	PromptLost       = "Surface lost. Scan your environment again."
)

// Prompt returns guidance text for the current state.
func (s *Session) Prompt() string {
	s.mu.Lock()
	st, reason := s.state, s.lastRejection
	s.mu.Unlock()

	switch st {
	case Committed:
		return PromptPlaced
	case PoseAvailable:
		return PromptTapToPlace
	}
	switch reason {
	case placement.ReasonTooSmall:
		return PromptTooSmall
	case placement.ReasonTooSteep:
		return PromptTooSteep
	case placement.ReasonWrongAlignment:
		return PromptWrongKind
	case placement.ReasonAnchorInvalidated:
		return PromptLost
	case placement.ReasonNoHit:
		if s.planes.Snapshot().Len() == 0 {
			return PromptMoveDevice
		}
		return PromptPointAt
	}
	if s.planes.Snapshot().Len() == 0 {
		return PromptScan
	}
	return PromptPointAt
}
