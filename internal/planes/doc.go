// Package planes keeps the set of planar surfaces reported by the AR
// tracking subsystem.
//
// The Registry absorbs lifecycle batches (added, updated, removed,
// subsumed) and publishes each result as an immutable Snapshot. Consumers
// hold plane IDs, never plane values, and re-resolve them against the
// snapshot they are working with: a removed or subsumed ID never comes
// back, and Snapshot.Resolve follows subsumption to the surviving plane.
//
// Each Snapshot carries an R-tree over the planes' world bounds so ray
// queries can skip planes that are nowhere near the ray.
package planes
