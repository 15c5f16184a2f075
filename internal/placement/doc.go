// Package placement decides whether a surface can hold an object and where
// exactly the object goes.
//
// Evaluate filters a raycast hit by alignment, slope, and area (in that
// order) and builds a PlacementPose: the hit lifted by HeightOffset along
// the plane normal, upright on the plane, heading along the horizontal
// bearing from the observer through the hit. Reconcile keeps a committed
// pose attached when its plane is updated or subsumed and reports
// ErrAnchorInvalidated when the plane is gone for good.
//
// Angles are compared in degrees and are inclusive at MaxSlopeDeg; areas
// are inclusive at MinArea.
package placement
