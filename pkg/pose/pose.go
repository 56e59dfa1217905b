// Package pose holds the shared transform of the synchronized object and the
// lock-guarded store the sync loop and the view layer both touch.
package pose

import (
    cmath "github.com/chewxy/math32"

    "cogentcore.org/core/math32"
)

// Pose is position, orientation and scale of the shared object.
// Quat is stored as [x, y, z, w].
type Pose struct {
    Pos   math32.Vector3
    Quat  math32.Quat
    Scale math32.Vector3
}

// Identity is the pose of a freshly created object: origin, no rotation, unit scale.
func Identity() Pose {
    return Pose{Quat: math32.Quat{W: 1}, Scale: math32.Vector3{X: 1, Y: 1, Z: 1}}
}

// Components returns the 10 scalars in wire order: position, rotation, scale.
func (p Pose) Components() [10]float32 {
    return [10]float32{
        p.Pos.X, p.Pos.Y, p.Pos.Z,
        p.Quat.X, p.Quat.Y, p.Quat.Z, p.Quat.W,
        p.Scale.X, p.Scale.Y, p.Scale.Z,
    }
}

// FromComponents is the inverse of Components.
func FromComponents(c [10]float32) Pose {
    return Pose{
        Pos:   math32.Vector3{X: c[0], Y: c[1], Z: c[2]},
        Quat:  math32.Quat{X: c[3], Y: c[4], Z: c[5], W: c[6]},
        Scale: math32.Vector3{X: c[7], Y: c[8], Z: c[9]},
    }
}

// Changed reports whether any component of a and b differs by more than eps.
// A NaN component always counts as changed.
func Changed(a, b Pose, eps float32) bool {
    ca, cb := a.Components(), b.Components()
    for i := range ca {
        if !(cmath.Abs(ca[i]-cb[i]) <= eps) { return true }
    }
    return false
}

// Equal reports bitwise-exact equality of all components.
func Equal(a, b Pose) bool { return a.Components() == b.Components() }
