package codec

import (
    "fmt"

    "google.golang.org/protobuf/proto"
)

// WireMessage is implemented by types that write their protobuf wire form by
// hand (with protowire) instead of through generated code.
type WireMessage interface {
    AppendProto(b []byte) []byte
    UnmarshalProto(b []byte) error
}

type protoCodec struct {
    mo proto.MarshalOptions
    uo proto.UnmarshalOptions
}

// Proto returns a Protocol Buffers codec with deterministic marshaling.
// It accepts generated proto.Message values and WireMessage implementations.
// Content-Type: application/x-protobuf
func Proto() Codec {
    return protoCodec{
        mo: proto.MarshalOptions{Deterministic: true},
        uo: proto.UnmarshalOptions{},
    }
}

func (p protoCodec) ContentType() string { return "application/x-protobuf" }

func (p protoCodec) Marshal(v any) ([]byte, error) {
    switch m := v.(type) {
    case proto.Message:
        return p.mo.Marshal(m)
    case WireMessage:
        return m.AppendProto(nil), nil
    default:
        return nil, fmt.Errorf("protobuf: value does not implement proto.Message: %T", v)
    }
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
    switch m := v.(type) {
    case proto.Message:
        return p.uo.Unmarshal(data, m)
    case WireMessage:
        return m.UnmarshalProto(data)
    default:
        return fmt.Errorf("protobuf: target does not implement proto.Message: %T", v)
    }
}
