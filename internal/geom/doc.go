// Package geom holds the world-frame math shared by the placement packages.
//
// Coordinate convention: world is Y-up, right-handed, metres. An object's
// local +Z is its forward direction and local +Y its up direction; with
// +Z forward and +Y up, local -X is the viewer's right. Plane boundaries
// are 2D rings in plane-local (X, Z), stored as orb.Ring with orb.Point{x, z}.
package geom
