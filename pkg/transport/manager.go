package transport

import (
    "context"
    "sync"
    "time"
)

// Manager keeps at most one canonical Session per peer and applies a
// policy to deduplicate concurrent inbound/outbound links.
//
// When two nodes dial each other at the same time each side ends up with two
// sessions for the same peer. The election must pick the same physical link
// on both ends, so after the kind preference it only uses facts both sides
// agree on: which of the two peers initiated the session.
type Manager struct {
    local PeerID
    grace time.Duration

    mu    sync.RWMutex
    peers map[PeerID]*peerEntry
}

type peerEntry struct {
    canonical Session
}

func NewManager(local PeerID) *Manager {
    return &Manager{local: local, grace: 500 * time.Millisecond, peers: make(map[PeerID]*peerEntry)}
}

// AddSession registers a new session for a peer and applies the selection
// policy. If the session loses the election, it is closed and returns (false,false,nil).
// If it becomes canonical and replaced an existing one, returns (true,true,old).
// If it becomes canonical without replacement (first), returns (true,false,nil).
func (m *Manager) AddSession(ctx context.Context, s Session) (accepted bool, replaced bool, old Session, err error) {
    pid := s.Peer().ID
    m.mu.Lock()
    defer m.mu.Unlock()

    pe := m.peers[pid]
    if pe == nil || pe.canonical == nil {
        m.peers[pid] = &peerEntry{canonical: s}
        return true, false, nil, nil
    }
    if pe.canonical == s { return true, false, nil, nil }

    cur := pe.canonical
    if m.better(s, cur) {
        pe.canonical = s
        m.softClose(ctx, cur)
        return true, true, cur, nil
    }
    _ = s.Close()
    return false, false, nil, nil
}

// softClose closes a replaced session after a grace period so frames already
// in flight on it can still be read.
func (m *Manager) softClose(ctx context.Context, s Session) {
    go func() {
        t := time.NewTimer(m.grace)
        defer t.Stop()
        select {
        case <-ctx.Done():
        case <-t.C:
        }
        _ = s.Close()
    }()
}

// GetSession returns the current canonical session for a peer (if any).
func (m *Manager) GetSession(id PeerID) Session {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if pe := m.peers[id]; pe != nil { return pe.canonical }
    return nil
}

// Remove forgets s if it is still the canonical session of its peer.
// It reports whether anything was removed; stale sessions are ignored.
func (m *Manager) Remove(s Session) bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    for id, pe := range m.peers {
        if pe.canonical == s {
            delete(m.peers, id)
            return true
        }
    }
    return false
}

// ClosePeer closes the canonical session for a peer and clears it.
func (m *Manager) ClosePeer(id PeerID) {
    m.mu.Lock()
    pe := m.peers[id]
    delete(m.peers, id)
    m.mu.Unlock()
    if pe != nil && pe.canonical != nil { _ = pe.canonical.Close() }
}

// CloseAll closes every session and empties the manager.
func (m *Manager) CloseAll() {
    m.mu.Lock()
    all := m.peers
    m.peers = make(map[PeerID]*peerEntry)
    m.mu.Unlock()
    for _, pe := range all { if pe.canonical != nil { _ = pe.canonical.Close() } }
}

// Verified returns canonical sessions keyed by authenticated peer id.
func (m *Manager) Verified() map[PeerID]Session {
    m.mu.RLock(); defer m.mu.RUnlock()
    out := make(map[PeerID]Session, len(m.peers))
    for id, pe := range m.peers {
        if id.IsTemp() || pe.canonical == nil { continue }
        out[id] = pe.canonical
    }
    return out
}

// Count returns the number of authenticated peers with a live session.
func (m *Manager) Count() int {
    m.mu.RLock(); defer m.mu.RUnlock()
    n := 0
    for id := range m.peers { if !id.IsTemp() { n++ } }
    return n
}

// Preference order across kinds; higher is better.
func baseRank(k Kind) int {
    switch k {
    case KindMem:
        return 120
    case KindQUIC:
        return 100
    case KindTCP:
        return 90
    case KindUDP:
        return 50
    default:
        return 0
    }
}

// initiatorOf returns the id of the peer that dialed s.
func (m *Manager) initiatorOf(s Session) PeerID {
    if s.Initiator() { return m.local }
    return s.Peer().ID
}

// better decides whether a should replace b as canonical.
func (m *Manager) better(a, b Session) bool {
    ra := baseRank(a.TransportKind())
    rb := baseRank(b.TransportKind())
    if ra != rb { return ra > rb }

    ia, ib := m.initiatorOf(a), m.initiatorOf(b)
    if ia != ib { return ia < ib }
    // Same initiator: a redial replacing a dead link, keep the newer one.
    return a.Quality().EstablishedAt.After(b.Quality().EstablishedAt)
}

// RebindPeer promotes/moves a canonical session from oldID to newID after
// authentication/handshake when the true identity becomes known.
// If newID already has a canonical session, the policy is applied to decide
// which one should remain; the loser is closed.
// Returns true if the rebind resulted in newID being associated with the moved session.
func (m *Manager) RebindPeer(ctx context.Context, oldID, newID PeerID) bool {
    if oldID == newID || newID == "" { return false }
    m.mu.Lock()
    defer m.mu.Unlock()

    src := m.peers[oldID]
    if src == nil || src.canonical == nil { return false }
    moving := src.canonical
    delete(m.peers, oldID)

    pi := moving.Peer(); pi.ID = newID; moving.SetPeer(pi)

    dst := m.peers[newID]
    if dst == nil || dst.canonical == nil {
        m.peers[newID] = &peerEntry{canonical: moving}
        return true
    }
    if m.better(moving, dst.canonical) {
        old := dst.canonical
        dst.canonical = moving
        m.softClose(ctx, old)
        return true
    }
    go func() { _ = moving.Close() }()
    return false
}
