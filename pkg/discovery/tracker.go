package discovery

import (
    "strings"
    "sync"
    "time"

    json "github.com/goccy/go-json"
    "go.uber.org/zap"

    "posemesh/pkg/memkv"
    "posemesh/pkg/transport"
)

type EventKind int

const (
    Discovered EventKind = iota + 1
    Expired
)

func (k EventKind) String() string {
    switch k {
    case Discovered:
        return "discovered"
    case Expired:
        return "expired"
    default:
        return "unknown"
    }
}

// Event reports a change in the set of peers announcing the topic.
type Event struct {
    Kind  EventKind
    Peer  transport.PeerID
    Addrs []string // host:port, only set for Discovered
}

// Tracker is the liveness table of announced peers. Every sighting refreshes
// the peer's TTL; a peer not seen again within the TTL is reported Expired.
type Tracker struct {
    kv     *memkv.Store
    ttl    time.Duration
    events chan Event
    done   chan struct{}
    once   sync.Once
    wg     sync.WaitGroup

    // expiry fires under a store lock, so events queue here and a pump
    // goroutine delivers them in order
    mu      sync.Mutex
    pending []Event
    kick    chan struct{}
}

func NewTracker(ttl time.Duration) *Tracker {
    t := &Tracker{
        ttl:    ttl,
        events: make(chan Event, 64),
        done:   make(chan struct{}),
        kick:   make(chan struct{}, 1),
    }
    t.kv = memkv.New(memkv.Options{Shards: 4, OnExpire: func(key string, _ []byte) {
        id, ok := strings.CutPrefix(key, liveKey)
        if !ok { return }
        zap.L().Debug("peer expired", zap.String("peer", id))
        t.emit(Event{Kind: Expired, Peer: transport.PeerID(id)})
    }})
    t.wg.Add(1)
    go t.pump()
    return t
}

const (
    liveKey  = "live:"
    againKey = "again:"
)

// Seen records a sighting of id. The first sighting (or the first after
// expiry) emits Discovered with addrs, as does the first sighting after Retry.
func (t *Tracker) Seen(id transport.PeerID, addrs []string) {
    live := liveKey + string(id)
    if t.kv.Expire(live, t.ttl) {
        if _, again := t.kv.GetDel(againKey + string(id)); !again { return }
        var known []string
        if b, ok := t.kv.Get(live); ok { _ = json.Unmarshal(b, &known) }
        all := mergeAddrs(addrs, known)
        zap.L().Debug("peer rediscovered", zap.String("peer", string(id)), zap.Strings("addrs", all))
        t.emit(Event{Kind: Discovered, Peer: id, Addrs: all})
        return
    }
    b, _ := json.Marshal(addrs)
    if !t.kv.SetNX(live, b, t.ttl) { return }
    zap.L().Debug("peer discovered", zap.String("peer", string(id)), zap.Strings("addrs", addrs))
    t.emit(Event{Kind: Discovered, Peer: id, Addrs: append([]string(nil), addrs...)})
}

// Retry asks for id to be reported Discovered again on its next sighting,
// without dropping it from the liveness table. It is a no-op for peers that
// are not live.
func (t *Tracker) Retry(id transport.PeerID) {
    if !t.kv.Exists(liveKey + string(id)) { return }
    t.kv.Set(againKey+string(id), nil, t.ttl)
}

// Live returns the number of peers currently considered alive.
func (t *Tracker) Live() int {
    n := 0
    for _, k := range t.kv.Keys() {
        if strings.HasPrefix(k, liveKey) { n++ }
    }
    return n
}

func mergeAddrs(lists ...[]string) []string {
    seen := make(map[string]struct{})
    var out []string
    for _, l := range lists {
        for _, a := range l {
            if _, ok := seen[a]; ok { continue }
            seen[a] = struct{}{}
            out = append(out, a)
        }
    }
    return out
}

func (t *Tracker) Events() <-chan Event { return t.events }

func (t *Tracker) emit(ev Event) {
    t.mu.Lock()
    t.pending = append(t.pending, ev)
    t.mu.Unlock()
    select {
    case t.kick <- struct{}{}:
    default:
    }
}

func (t *Tracker) pump() {
    defer t.wg.Done()
    for {
        select {
        case <-t.done:
            return
        case <-t.kick:
        }
        t.mu.Lock()
        batch := t.pending
        t.pending = nil
        t.mu.Unlock()
        for _, ev := range batch {
            select {
            case t.events <- ev:
            case <-t.done:
                return
            }
        }
    }
}

// Close stops expiry processing. Undelivered events are discarded.
func (t *Tracker) Close() {
    t.once.Do(func() {
        t.kv.Close()
        close(t.done)
        t.wg.Wait()
    })
}
