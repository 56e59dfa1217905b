package peers

import (
    "sort"
    "sync"
    "time"

    json "github.com/goccy/go-json"
    "go.uber.org/zap"

    "posemesh/pkg/memkv"
    "posemesh/pkg/transport"
)

// Store keeps metadata and counters for peers known to the overlay,
// serialized into the in-memory KV.
type Store struct {
    kv *memkv.Store
    // index of known ids; the KV has no prefix scan
    idxMu     sync.RWMutex
    peerIndex map[transport.PeerID]struct{}
}

func NewStore(kv *memkv.Store) *Store { return &Store{kv: kv, peerIndex: make(map[transport.PeerID]struct{})} }

// Handshake states recorded in PeerMeta.Handshake.
const (
    HandshakeHelloRx  = "hello_rx"
    HandshakeVerified = "verified"
    HandshakeFailed   = "failed"
)

type PeerMeta struct {
    ID        transport.PeerID `json:"id"`
    NodeName  string           `json:"node_name,omitempty"`
    Topic     string           `json:"topic,omitempty"`
    Addresses []string         `json:"addresses,omitempty"`
    Transport string           `json:"transport,omitempty"`
    LastSeen  int64            `json:"last_seen_unix_ms"`
    Handshake string           `json:"handshake,omitempty"`
    // Counters
    MsgsIn   uint64 `json:"msgs_in"`
    MsgsOut  uint64 `json:"msgs_out"`
    BytesIn  uint64 `json:"bytes_in"`
    BytesOut uint64 `json:"bytes_out"`
}

func keyPeer(id transport.PeerID) string { return "peer:" + string(id) }

func (s *Store) Upsert(meta PeerMeta) {
    if meta.LastSeen == 0 { meta.LastSeen = time.Now().UnixMilli() }
    b, err := json.Marshal(meta)
    if err != nil { zap.L().Warn("peer meta encode", zap.Error(err)); return }
    s.kv.Set(keyPeer(meta.ID), b, 0)
    s.idxMu.Lock(); s.peerIndex[meta.ID] = struct{}{}; s.idxMu.Unlock()
    zap.L().Debug("peer upsert", zap.String("peer", string(meta.ID)), zap.Strings("addrs", meta.Addresses))
}

func (s *Store) Get(id transport.PeerID) (PeerMeta, bool) {
    b, ok := s.kv.Get(keyPeer(id))
    if !ok { return PeerMeta{}, false }
    var pm PeerMeta
    if err := json.Unmarshal(b, &pm); err != nil { return PeerMeta{}, false }
    return pm, true
}

func (s *Store) update(id transport.PeerID, fn func(*PeerMeta)) bool {
    return s.kv.Update(keyPeer(id), func(old []byte) []byte {
        var pm PeerMeta
        _ = json.Unmarshal(old, &pm)
        pm.ID = id
        fn(&pm)
        b, _ := json.Marshal(pm)
        return b
    })
}

// Touch updates last-seen and appends addr when it is new.
func (s *Store) Touch(id transport.PeerID, addr string, when time.Time) {
    if when.IsZero() { when = time.Now() }
    ok := s.update(id, func(pm *PeerMeta) {
        pm.LastSeen = when.UnixMilli()
        if addr == "" { return }
        for _, a := range pm.Addresses { if a == addr { return } }
        pm.Addresses = append(pm.Addresses, addr)
    })
    if !ok {
        meta := PeerMeta{ID: id, LastSeen: when.UnixMilli()}
        if addr != "" { meta.Addresses = []string{addr} }
        s.Upsert(meta)
    }
}

// Describe records what the peer's hello announced about it.
func (s *Store) Describe(id transport.PeerID, nodeName, topic, kind string) {
    ok := s.update(id, func(pm *PeerMeta) {
        pm.NodeName, pm.Topic, pm.Transport = nodeName, topic, kind
    })
    if !ok { s.Upsert(PeerMeta{ID: id, NodeName: nodeName, Topic: topic, Transport: kind}) }
}

// SetHandshake records the hello state for a peer.
func (s *Store) SetHandshake(id transport.PeerID, state string) {
    s.update(id, func(pm *PeerMeta) { pm.Handshake = state })
}

// RecordExchange updates message/byte counters for a peer.
func (s *Store) RecordExchange(id transport.PeerID, inBytes, outBytes, inMsgs, outMsgs uint64) {
    s.update(id, func(pm *PeerMeta) {
        pm.MsgsIn += inMsgs
        pm.MsgsOut += outMsgs
        pm.BytesIn += inBytes
        pm.BytesOut += outBytes
    })
}

func (s *Store) DeletePeer(id transport.PeerID) {
    s.kv.Delete(keyPeer(id))
    s.idxMu.Lock(); delete(s.peerIndex, id); s.idxMu.Unlock()
    zap.L().Debug("peer deleted", zap.String("peer", string(id)))
}

// ListPeerIDs returns known ids in sorted order.
func (s *Store) ListPeerIDs() []transport.PeerID {
    s.idxMu.RLock()
    out := make([]transport.PeerID, 0, len(s.peerIndex))
    for id := range s.peerIndex { out = append(out, id) }
    s.idxMu.RUnlock()
    sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
    return out
}

// List returns metadata for every known peer.
func (s *Store) List() []PeerMeta {
    ids := s.ListPeerIDs()
    out := make([]PeerMeta, 0, len(ids))
    for _, id := range ids {
        if pm, ok := s.Get(id); ok { out = append(out, pm) }
    }
    return out
}

func (s *Store) Count() int {
    s.idxMu.RLock()
    defer s.idxMu.RUnlock()
    return len(s.peerIndex)
}
