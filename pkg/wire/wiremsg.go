package wire

import (
    "encoding/binary"
    "fmt"
    "math"

    "google.golang.org/protobuf/encoding/protowire"
)

// wireMsg is the serialized shape. Pointers and slices let Decode tell a
// missing field from a zero value.
type wireMsg struct {
    Position   []float32 `json:"position" cbor:"position"`
    Rotation   []float32 `json:"rotation" cbor:"rotation"`
    Scale      []float32 `json:"scale" cbor:"scale"`
    TsMillis   *uint64   `json:"ts_millis" cbor:"ts_millis"`
    InstanceID *string   `json:"instance_id" cbor:"instance_id"`
    Seq        *uint64   `json:"seq" cbor:"seq"`
}

func toWire(m PoseMessage) *wireMsg {
    ts, id, seq := m.TsMillis, m.InstanceID, m.Seq
    return &wireMsg{
        Position:   append([]float32(nil), m.Position[:]...),
        Rotation:   append([]float32(nil), m.Rotation[:]...),
        Scale:      append([]float32(nil), m.Scale[:]...),
        TsMillis:   &ts,
        InstanceID: &id,
        Seq:        &seq,
    }
}

func (w *wireMsg) message() (PoseMessage, error) {
    var m PoseMessage
    switch {
    case w.Position == nil:
        return m, fmt.Errorf("%w: position", ErrMissingField)
    case w.Rotation == nil:
        return m, fmt.Errorf("%w: rotation", ErrMissingField)
    case w.Scale == nil:
        return m, fmt.Errorf("%w: scale", ErrMissingField)
    case w.TsMillis == nil:
        return m, fmt.Errorf("%w: ts_millis", ErrMissingField)
    case w.InstanceID == nil:
        return m, fmt.Errorf("%w: instance_id", ErrMissingField)
    case w.Seq == nil:
        return m, fmt.Errorf("%w: seq", ErrMissingField)
    }
    if len(w.Position) != 3 { return m, fmt.Errorf("%w: position has %d", ErrBadLength, len(w.Position)) }
    if len(w.Rotation) != 4 { return m, fmt.Errorf("%w: rotation has %d", ErrBadLength, len(w.Rotation)) }
    if len(w.Scale) != 3 { return m, fmt.Errorf("%w: scale has %d", ErrBadLength, len(w.Scale)) }
    copy(m.Position[:], w.Position)
    copy(m.Rotation[:], w.Rotation)
    copy(m.Scale[:], w.Scale)
    m.TsMillis, m.InstanceID, m.Seq = *w.TsMillis, *w.InstanceID, *w.Seq
    return m, nil
}

// Protobuf field numbers.
const (
    fieldPosition   protowire.Number = 1
    fieldRotation   protowire.Number = 2
    fieldScale      protowire.Number = 3
    fieldTsMillis   protowire.Number = 4
    fieldInstanceID protowire.Number = 5
    fieldSeq        protowire.Number = 6
)

// AppendProto writes every field, zero values included, so presence survives.
func (w *wireMsg) AppendProto(b []byte) []byte {
    b = appendPackedFloats(b, fieldPosition, w.Position)
    b = appendPackedFloats(b, fieldRotation, w.Rotation)
    b = appendPackedFloats(b, fieldScale, w.Scale)
    if w.TsMillis != nil {
        b = protowire.AppendTag(b, fieldTsMillis, protowire.VarintType)
        b = protowire.AppendVarint(b, *w.TsMillis)
    }
    if w.InstanceID != nil {
        b = protowire.AppendTag(b, fieldInstanceID, protowire.BytesType)
        b = protowire.AppendString(b, *w.InstanceID)
    }
    if w.Seq != nil {
        b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
        b = protowire.AppendVarint(b, *w.Seq)
    }
    return b
}

func appendPackedFloats(b []byte, num protowire.Number, vs []float32) []byte {
    if vs == nil { return b }
    b = protowire.AppendTag(b, num, protowire.BytesType)
    b = protowire.AppendVarint(b, uint64(4*len(vs)))
    for _, v := range vs { b = protowire.AppendFixed32(b, math.Float32bits(v)) }
    return b
}

// UnmarshalProto accepts packed and unpacked float encodings and skips unknown fields.
func (w *wireMsg) UnmarshalProto(b []byte) error {
    for len(b) > 0 {
        num, typ, n := protowire.ConsumeTag(b)
        if n < 0 { return protowire.ParseError(n) }
        b = b[n:]
        var dst *[]float32
        switch num {
        case fieldPosition:
            dst = &w.Position
        case fieldRotation:
            dst = &w.Rotation
        case fieldScale:
            dst = &w.Scale
        }
        switch {
        case dst != nil && typ == protowire.BytesType:
            v, n := protowire.ConsumeBytes(b)
            if n < 0 { return protowire.ParseError(n) }
            if len(v)%4 != 0 { return fmt.Errorf("field %d: packed floats of %d bytes", num, len(v)) }
            if *dst == nil { *dst = make([]float32, 0, len(v)/4) }
            for i := 0; i < len(v); i += 4 {
                *dst = append(*dst, math.Float32frombits(binary.LittleEndian.Uint32(v[i:])))
            }
            b = b[n:]
        case dst != nil && typ == protowire.Fixed32Type:
            v, n := protowire.ConsumeFixed32(b)
            if n < 0 { return protowire.ParseError(n) }
            *dst = append(*dst, math.Float32frombits(v))
            b = b[n:]
        case (num == fieldTsMillis || num == fieldSeq) && typ == protowire.VarintType:
            v, n := protowire.ConsumeVarint(b)
            if n < 0 { return protowire.ParseError(n) }
            if num == fieldTsMillis { w.TsMillis = &v } else { w.Seq = &v }
            b = b[n:]
        case num == fieldInstanceID && typ == protowire.BytesType:
            v, n := protowire.ConsumeString(b)
            if n < 0 { return protowire.ParseError(n) }
            w.InstanceID = &v
            b = b[n:]
        default:
            if dst != nil || num == fieldTsMillis || num == fieldSeq || num == fieldInstanceID {
                return fmt.Errorf("field %d: unexpected wire type %d", num, typ)
            }
            n := protowire.ConsumeFieldValue(num, typ, b)
            if n < 0 { return protowire.ParseError(n) }
            b = b[n:]
        }
    }
    return nil
}
