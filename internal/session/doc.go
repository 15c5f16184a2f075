// Package session runs the placement state machine:
//
//	Scanning --(accepted hit)--> PoseAvailable --(Commit)--> Committed
//	    ^                            |                          |
//	    +-------(miss/reject)--------+                          |
//	    +-------------(Reset, anchor invalidated)---------------+
//
// A host calls Tick (or OnTick with its own hit) once per frame, Commit on
// user confirmation, and feeds plane lifecycle events through Attach or
// OnPlaneLifecycleEvent so a committed pose follows its surface.
package session
