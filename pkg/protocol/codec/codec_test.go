package codec

import (
    "testing"

    "google.golang.org/protobuf/encoding/protowire"
    "google.golang.org/protobuf/types/known/wrapperspb"
)

func TestJSONCodec(t *testing.T) {
    c := JSON()
    in := map[string]any{"a": 1, "b": "x"}
    b, err := c.Marshal(in)
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out map[string]any
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out["a"].(float64) != 1 || out["b"].(string) != "x" {
        t.Fatalf("roundtrip mismatch: %#v", out)
    }
}

func TestCBORCodecDeterministic(t *testing.T) {
    c, err := CBOR()
    if err != nil { t.Fatalf("new cbor: %v", err) }
    in := map[string]any{"n": 42, "a": "x", "m": true}
    b1, err := c.Marshal(in)
    if err != nil { t.Fatalf("marshal: %v", err) }
    b2, _ := c.Marshal(in)
    if string(b1) != string(b2) { t.Fatalf("encoding not deterministic") }
    var out map[string]any
    if err := c.Unmarshal(b1, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if n, ok := out["n"].(uint64); !ok || n != 42 { t.Fatalf("roundtrip mismatch: %#v", out) }
}

func TestProtoCodecGenerated(t *testing.T) {
    c := Proto()
    b, err := c.Marshal(wrapperspb.String("v"))
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out wrapperspb.StringValue
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out.GetValue() != "v" { t.Fatalf("roundtrip mismatch") }
}

type counter struct{ N uint64 }

func (c *counter) AppendProto(b []byte) []byte {
    b = protowire.AppendTag(b, 1, protowire.VarintType)
    return protowire.AppendVarint(b, c.N)
}

func (c *counter) UnmarshalProto(b []byte) error {
    _, _, n := protowire.ConsumeTag(b)
    if n < 0 { return protowire.ParseError(n) }
    v, m := protowire.ConsumeVarint(b[n:])
    if m < 0 { return protowire.ParseError(m) }
    c.N = v
    return nil
}

func TestProtoCodecWireMessage(t *testing.T) {
    c := Proto()
    b, err := c.Marshal(&counter{N: 300})
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out counter
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out.N != 300 { t.Fatalf("got %d", out.N) }
    if _, err := c.Marshal(struct{}{}); err == nil { t.Fatalf("plain struct accepted") }
}

func TestRegistryHasBuiltins(t *testing.T) {
    r, err := NewRegistry()
    if err != nil { t.Fatalf("registry: %v", err) }
    for _, ct := range []string{"application/json", "application/cbor", "application/x-protobuf"} {
        if r.Get(ct) == nil { t.Fatalf("missing %s", ct) }
    }
    if Default().Get("application/cbor") == nil { t.Fatalf("default registry lacks cbor") }
}
