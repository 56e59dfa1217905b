package pose

import (
    "errors"
    "testing"

    "cogentcore.org/core/math32"
)

func TestChangedRespectsEpsilon(t *testing.T) {
    a := Identity()
    b := a
    b.Pos.X += 0.0005
    if Changed(a, b, 1e-3) { t.Fatalf("sub-epsilon move reported as change") }
    b.Pos.X = a.Pos.X + 0.002
    if !Changed(a, b, 1e-3) { t.Fatalf("move above epsilon not reported") }
    c := a
    c.Scale.Z = 2
    if !Changed(a, c, 1e-3) { t.Fatalf("scale change not reported") }
}

func TestChangedNaN(t *testing.T) {
    a := Identity()
    b := a
    b.Quat.W = math32.NaN()
    if !Changed(a, b, 1e-3) { t.Fatalf("NaN must count as changed") }
}

func TestComponentsRoundTrip(t *testing.T) {
    p := Pose{Pos: math32.Vec3(1, 2, 3), Quat: math32.Quat{X: 0, Y: 0.7071, Z: 0, W: 0.7071}, Scale: math32.Vec3(1, 1, 2)}
    if !Equal(FromComponents(p.Components()), p) { t.Fatalf("round trip mismatch") }
}

func TestObjectPoisoning(t *testing.T) {
    o := NewObject(Identity())
    err := o.Update(func(p *Pose) {
        p.Pos.X = 1
        panic("renderer crashed")
    })
    if !errors.Is(err, ErrLockPoisoned) { t.Fatalf("expected poisoned error, got %v", err) }
    if !o.Poisoned() { t.Fatalf("object not marked poisoned") }
    if _, err := o.ReadPose(); !errors.Is(err, ErrLockPoisoned) { t.Fatalf("read after poison: %v", err) }
    if err := o.WritePose(Identity()); !errors.Is(err, ErrLockPoisoned) { t.Fatalf("write after poison: %v", err) }
}

func TestObjectReadWrite(t *testing.T) {
    o := NewObject(Identity())
    want := Identity()
    want.Pos = math32.Vec3(1, 2, 3)
    if err := o.WritePose(want); err != nil { t.Fatalf("write: %v", err) }
    got, err := o.ReadPose()
    if err != nil { t.Fatalf("read: %v", err) }
    if !Equal(got, want) { t.Fatalf("got %+v want %+v", got, want) }
}
