package main

import (
    "context"
    "time"

    "cogentcore.org/core/math32"
    "go.uber.org/zap"

    "posemesh/pkg/pose"
)

// spin rotates the object about Y, standing in for user input.
func spin(ctx context.Context, obj *pose.Object, rate float64, every time.Duration) {
    if every <= 0 { every = 50 * time.Millisecond }
    t := time.NewTicker(every)
    defer t.Stop()
    var step math32.Quat
    step.SetFromAxisAngle(math32.Vec3(0, 1, 0), float32(rate*every.Seconds()))
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            err := obj.Update(func(p *pose.Pose) {
                p.Quat = p.Quat.Mul(step)
                p.Quat.Normalize()
            })
            if err != nil {
                zap.L().Warn("spin stopped", zap.Error(err))
                return
            }
        }
    }
}
