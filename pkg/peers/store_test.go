package peers

import (
    "testing"
    "time"

    "posemesh/pkg/memkv"
    "posemesh/pkg/transport"
)

func TestTouchCreatesAndAppendsAddress(t *testing.T) {
    kv := memkv.New(memkv.Options{})
    defer kv.Close()
    s := NewStore(kv)

    id := transport.PeerID("pk:ed25519:aaa")
    s.Touch(id, "10.0.0.1:4000", time.UnixMilli(1000))
    s.Touch(id, "10.0.0.1:4000", time.UnixMilli(2000))
    s.Touch(id, "10.0.0.2:4000", time.UnixMilli(3000))

    pm, ok := s.Get(id)
    if !ok { t.Fatalf("peer missing") }
    if len(pm.Addresses) != 2 { t.Fatalf("addresses=%v", pm.Addresses) }
    if pm.LastSeen != 3000 { t.Fatalf("last seen=%d", pm.LastSeen) }
}

func TestRecordExchangeAndDelete(t *testing.T) {
    kv := memkv.New(memkv.Options{})
    defer kv.Close()
    s := NewStore(kv)

    a := transport.PeerID("pk:ed25519:aaa")
    b := transport.PeerID("pk:ed25519:bbb")
    s.Upsert(PeerMeta{ID: b, Topic: "cube-transform"})
    s.Upsert(PeerMeta{ID: a, Topic: "cube-transform"})
    s.RecordExchange(a, 10, 0, 1, 0)
    s.RecordExchange(a, 5, 7, 1, 1)
    s.SetHandshake(a, HandshakeVerified)

    pm, _ := s.Get(a)
    if pm.MsgsIn != 2 || pm.BytesIn != 15 || pm.MsgsOut != 1 || pm.BytesOut != 7 {
        t.Fatalf("counters: %+v", pm)
    }
    if pm.Handshake != HandshakeVerified { t.Fatalf("handshake=%q", pm.Handshake) }

    ids := s.ListPeerIDs()
    if len(ids) != 2 || ids[0] != a { t.Fatalf("ids=%v", ids) }

    s.DeletePeer(a)
    if _, ok := s.Get(a); ok { t.Fatalf("deleted peer still present") }
    if s.Count() != 1 { t.Fatalf("count=%d", s.Count()) }
}
