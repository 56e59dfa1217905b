// Package wire encodes pose messages for the overlay. All peers on a topic
// must agree on one Format.
package wire

import (
    "errors"
    "fmt"

    "posemesh/pkg/pose"
)

// PoseMessage is one pose broadcast. TsMillis is informational only.
type PoseMessage struct {
    Position   [3]float32
    Rotation   [4]float32 // [x, y, z, w]
    Scale      [3]float32
    TsMillis   uint64
    InstanceID string
    Seq        uint64
}

// FromPose builds a message for p stamped with the sender id, seq and clock.
func FromPose(p pose.Pose, instanceID string, seq, tsMillis uint64) PoseMessage {
    c := p.Components()
    m := PoseMessage{TsMillis: tsMillis, InstanceID: instanceID, Seq: seq}
    copy(m.Position[:], c[0:3])
    copy(m.Rotation[:], c[3:7])
    copy(m.Scale[:], c[7:10])
    return m
}

// Pose returns the transform carried by m.
func (m PoseMessage) Pose() pose.Pose {
    var c [10]float32
    copy(c[0:3], m.Position[:])
    copy(c[3:7], m.Rotation[:])
    copy(c[7:10], m.Scale[:])
    return pose.FromComponents(c)
}

var (
    ErrMissingField = errors.New("missing field")
    ErrBadLength    = errors.New("wrong array length")
    ErrNonFinite    = errors.New("non-finite number")
)

// EncodeError is the only error Encode returns.
type EncodeError struct {
    Format Format
    Err    error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("wire: encode %s: %v", e.Format, e.Err) }
func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError is the only error Decode returns.
type DecodeError struct {
    Format Format
    Err    error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("wire: decode %s: %v", e.Format, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }
