package wire

import (
    "errors"
    "math"
    "strings"
    "testing"

    "google.golang.org/protobuf/encoding/protowire"
)

func sample() PoseMessage {
    return PoseMessage{
        Position:   [3]float32{1.5, -2, 3.25},
        Rotation:   [4]float32{0, 0.7071068, 0, 0.7071068},
        Scale:      [3]float32{1, 1, 2},
        TsMillis:   1_700_000_000_123,
        InstanceID: "pk:ed25519:AbCd",
        Seq:        42,
    }
}

func allCodecs(t *testing.T) []*Codec {
    t.Helper()
    var out []*Codec
    for _, f := range []Format{FormatCBOR, FormatJSON, FormatProto} {
        c, err := NewCodec(f)
        if err != nil { t.Fatalf("codec %s: %v", f, err) }
        out = append(out, c)
    }
    return out
}

func TestRoundTrip(t *testing.T) {
    for _, c := range allCodecs(t) {
        for _, m := range []PoseMessage{sample(), {InstanceID: "", Seq: 0}, {Seq: math.MaxUint64, TsMillis: math.MaxUint64}} {
            b, err := c.Encode(m)
            if err != nil { t.Fatalf("%s encode: %v", c.Format(), err) }
            got, err := c.Decode(b)
            if err != nil { t.Fatalf("%s decode: %v", c.Format(), err) }
            if got != m { t.Fatalf("%s round trip: got %+v want %+v", c.Format(), got, m) }
        }
    }
}

func TestDefaultFormatIsCBOR(t *testing.T) {
    c, err := NewCodec("")
    if err != nil { t.Fatalf("codec: %v", err) }
    if c.Format() != FormatCBOR { t.Fatalf("format=%s", c.Format()) }
    if _, err := NewCodec("xml"); err == nil { t.Fatalf("unknown format accepted") }
}

func TestJSONFieldNames(t *testing.T) {
    c, _ := NewCodec(FormatJSON)
    b, err := c.Encode(sample())
    if err != nil { t.Fatalf("encode: %v", err) }
    for _, k := range []string{`"position"`, `"rotation"`, `"scale"`, `"ts_millis"`, `"instance_id"`, `"seq"`} {
        if !strings.Contains(string(b), k) { t.Fatalf("missing %s in %s", k, b) }
    }
}

func TestNonFinite(t *testing.T) {
    m := sample()
    m.Position[0] = float32(math.NaN())
    m.Scale[2] = float32(math.Inf(1))

    for _, c := range allCodecs(t) {
        b, err := c.Encode(m)
        if c.Format() == FormatJSON {
            var ee *EncodeError
            if !errors.As(err, &ee) || !errors.Is(err, ErrNonFinite) { t.Fatalf("json: expected EncodeError, got %v", err) }
            continue
        }
        if err != nil { t.Fatalf("%s encode: %v", c.Format(), err) }
        got, err := c.Decode(b)
        if err != nil { t.Fatalf("%s decode: %v", c.Format(), err) }
        if !math.IsNaN(float64(got.Position[0])) || !math.IsInf(float64(got.Scale[2]), 1) {
            t.Fatalf("%s: non-finite values not preserved: %+v", c.Format(), got)
        }
    }
}

func TestDecodeGarbage(t *testing.T) {
    for _, c := range allCodecs(t) {
        _, err := c.Decode([]byte{0xff, 0x01, 0x02})
        var de *DecodeError
        if !errors.As(err, &de) { t.Fatalf("%s: expected DecodeError, got %v", c.Format(), err) }
    }
}

func TestDecodeMissingField(t *testing.T) {
    c, _ := NewCodec(FormatJSON)
    _, err := c.Decode([]byte(`{"position":[0,0,0],"rotation":[0,0,0,1],"scale":[1,1,1],"ts_millis":1,"instance_id":"a"}`))
    if !errors.Is(err, ErrMissingField) { t.Fatalf("expected missing field, got %v", err) }

    p, _ := NewCodec(FormatProto)
    w := toWire(sample())
    w.InstanceID = nil
    if _, err := p.Decode(w.AppendProto(nil)); !errors.Is(err, ErrMissingField) {
        t.Fatalf("proto: expected missing field, got %v", err)
    }
}

func TestDecodeWrongArrayLength(t *testing.T) {
    c, _ := NewCodec(FormatJSON)
    _, err := c.Decode([]byte(`{"position":[0,0],"rotation":[0,0,0,1],"scale":[1,1,1],"ts_millis":1,"instance_id":"a","seq":1}`))
    if !errors.Is(err, ErrBadLength) { t.Fatalf("expected bad length, got %v", err) }

    cb, _ := NewCodec(FormatCBOR)
    w := toWire(sample())
    w.Rotation = w.Rotation[:3]
    b, err := cb.impl.Marshal(w)
    if err != nil { t.Fatalf("marshal: %v", err) }
    if _, err := cb.Decode(b); !errors.Is(err, ErrBadLength) { t.Fatalf("cbor: expected bad length, got %v", err) }
}

func TestProtoSkipsUnknownAndAcceptsUnpacked(t *testing.T) {
    p, _ := NewCodec(FormatProto)
    w := toWire(sample())
    w.Scale = nil
    b := w.AppendProto(nil)
    for _, v := range []float32{1, 1, 2} {
        b = protowire.AppendTag(b, fieldScale, protowire.Fixed32Type)
        b = protowire.AppendFixed32(b, math.Float32bits(v))
    }
    b = protowire.AppendTag(b, 99, protowire.BytesType)
    b = protowire.AppendString(b, "future")

    got, err := p.Decode(b)
    if err != nil { t.Fatalf("decode: %v", err) }
    if got != sample() { t.Fatalf("got %+v", got) }
}
