package pose

import (
    "errors"
    "fmt"
    "sync"
)

// ErrLockPoisoned is returned once a writer panicked while holding the lock;
// the guarded pose may be half-written and is never handed out again.
var ErrLockPoisoned = errors.New("pose lock poisoned")

// Store is the shared pose the sync loop reads and overwrites. Each call
// takes the lock once and never holds it across I/O.
type Store interface {
    ReadPose() (Pose, error)
    WritePose(Pose) error
}

// Object is the reference Store: a pose behind a RWMutex.
type Object struct {
    mu       sync.RWMutex
    pose     Pose
    poisoned bool
}

func NewObject(p Pose) *Object { return &Object{pose: p} }

func (o *Object) ReadPose() (Pose, error) {
    o.mu.RLock()
    defer o.mu.RUnlock()
    if o.poisoned { return Pose{}, ErrLockPoisoned }
    return o.pose, nil
}

func (o *Object) WritePose(p Pose) error {
    return o.Update(func(cur *Pose) { *cur = p })
}

// Update runs fn on the guarded pose under the write lock. A panic inside fn
// poisons the object and is returned as an error wrapping ErrLockPoisoned.
func (o *Object) Update(fn func(*Pose)) (err error) {
    o.mu.Lock()
    defer o.mu.Unlock()
    if o.poisoned { return ErrLockPoisoned }
    defer func() {
        if r := recover(); r != nil {
            o.poisoned = true
            err = fmt.Errorf("%w: %v", ErrLockPoisoned, r)
        }
    }()
    fn(&o.pose)
    return nil
}

// Poisoned reports whether a writer panicked under the lock.
func (o *Object) Poisoned() bool {
    o.mu.RLock()
    defer o.mu.RUnlock()
    return o.poisoned
}
