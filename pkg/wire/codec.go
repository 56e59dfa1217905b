package wire

import (
    "fmt"

    cmath "github.com/chewxy/math32"

    "posemesh/pkg/protocol/codec"
)

type Format string

const (
    FormatCBOR  Format = "cbor"
    FormatJSON  Format = "json"
    FormatProto Format = "proto"
)

func contentType(f Format) (string, bool) {
    switch f {
    case FormatCBOR:
        return "application/cbor", true
    case FormatJSON:
        return "application/json", true
    case FormatProto:
        return "application/x-protobuf", true
    }
    return "", false
}

// Codec turns PoseMessages into payload bytes and back.
type Codec struct {
    format Format
    impl   codec.Codec
}

// NewCodec returns the codec for format ("" selects cbor).
func NewCodec(format Format) (*Codec, error) {
    if format == "" { format = FormatCBOR }
    ct, ok := contentType(format)
    if !ok { return nil, fmt.Errorf("wire: unknown format %q", format) }
    impl := codec.Default().Get(ct)
    if impl == nil { return nil, fmt.Errorf("wire: no codec for %s", ct) }
    return &Codec{format: format, impl: impl}, nil
}

func (c *Codec) Format() Format { return c.format }

// Encode serializes m. Non-finite numbers are written as-is except in JSON,
// which cannot represent them.
func (c *Codec) Encode(m PoseMessage) ([]byte, error) {
    if c.format == FormatJSON && !finite(m) {
        return nil, &EncodeError{Format: c.format, Err: ErrNonFinite}
    }
    b, err := c.impl.Marshal(toWire(m))
    if err != nil { return nil, &EncodeError{Format: c.format, Err: err} }
    return b, nil
}

// Decode parses b. Malformed bytes, missing fields and arrays that are not
// exactly 3/4/3 long are reported as *DecodeError.
func (c *Codec) Decode(b []byte) (PoseMessage, error) {
    var w wireMsg
    if err := c.impl.Unmarshal(b, &w); err != nil {
        return PoseMessage{}, &DecodeError{Format: c.format, Err: err}
    }
    m, err := w.message()
    if err != nil { return PoseMessage{}, &DecodeError{Format: c.format, Err: err} }
    return m, nil
}

func finite(m PoseMessage) bool {
    for _, arr := range [][]float32{m.Position[:], m.Rotation[:], m.Scale[:]} {
        for _, v := range arr {
            if cmath.IsNaN(v) || cmath.IsInf(v, 0) { return false }
        }
    }
    return true
}
