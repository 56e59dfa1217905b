package mesh

import (
    "context"
    "errors"
    "strings"
    "testing"
    "time"

    "posemesh/pkg/discovery"
    "posemesh/pkg/transport"
    "posemesh/pkg/transport/mem"
)

type staticDisc struct {
    ch      chan discovery.Event
    retries chan transport.PeerID
}

func newStaticDisc() *staticDisc {
    return &staticDisc{ch: make(chan discovery.Event, 16), retries: make(chan transport.PeerID, 16)}
}

func (d *staticDisc) Events() <-chan discovery.Event { return d.ch }
func (d *staticDisc) Close() error { return nil }

func (d *staticDisc) Retry(id transport.PeerID) {
    select {
    case d.retries <- id:
    default:
    }
}

func (d *staticDisc) found(n *Node) {
    d.ch <- discovery.Event{Kind: discovery.Discovered, Peer: n.ID(), Addrs: []string{n.Addr()}}
}

func startMem(t *testing.T, tr *mem.Transport, topic, name string) (*Node, *staticDisc) {
    t.Helper()
    d := newStaticDisc()
    o := DefaultOptions(topic)
    o.Transport = tr
    o.Listen = name
    o.NodeName = name
    o.Discover = func(context.Context, transport.PeerID, int) (Discoverer, error) { return d, nil }
    n, err := Start(context.Background(), o)
    if err != nil { t.Fatalf("start %s: %v", name, err) }
    t.Cleanup(func() { _ = n.Close() })
    return n, d
}

func waitFor(t *testing.T, what string, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(3 * time.Second)
    for !cond() {
        if time.Now().After(deadline) { t.Fatalf("timed out waiting for %s", what) }
        time.Sleep(10 * time.Millisecond)
    }
}

func recv(t *testing.T, ch <-chan []byte) []byte {
    t.Helper()
    select {
    case b := <-ch:
        return b
    case <-time.After(3 * time.Second):
        t.Fatalf("no payload received")
        return nil
    }
}

func TestStartRejectsInvalidTopic(t *testing.T) {
    for _, topic := range []string{"", "two words", "tab\there", "bell\x07", strings.Repeat("x", 256)} {
        o := DefaultOptions(topic)
        o.Transport = mem.New()
        _, err := Start(context.Background(), o)
        if !errors.Is(err, ErrTransportInit) || !errors.Is(err, ErrInvalidTopic) {
            t.Fatalf("topic %q: err=%v", topic, err)
        }
        var ie *InitError
        if !errors.As(err, &ie) || ie.Op != "topic" { t.Fatalf("topic %q: not an InitError: %v", topic, err) }
    }
    if err := ValidateTopic(strings.Repeat("x", 255)); err != nil { t.Fatalf("255-byte topic rejected: %v", err) }
}

func TestStartFailsWhenListenerTaken(t *testing.T) {
    tr := mem.New()
    startMem(t, tr, "room", "taken")
    o := DefaultOptions("room")
    o.Transport = tr
    o.Listen = "taken"
    _, err := Start(context.Background(), o)
    var ie *InitError
    if !errors.As(err, &ie) || ie.Op != "listen" || !errors.Is(err, ErrTransportInit) {
        t.Fatalf("want listen InitError, got %v", err)
    }
}

func TestPeerCountsFollowDiscovery(t *testing.T) {
    n, d := startMem(t, mem.New(), "room", "solo")
    d.ch <- discovery.Event{Kind: discovery.Discovered, Peer: "pk:ed25519:a", Addrs: []string{"nowhere-a"}}
    d.ch <- discovery.Event{Kind: discovery.Discovered, Peer: "pk:ed25519:b", Addrs: []string{"nowhere-b"}}
    d.ch <- discovery.Event{Kind: discovery.Discovered, Peer: "pk:ed25519:a", Addrs: []string{"nowhere-a"}}
    d.ch <- discovery.Event{Kind: discovery.Expired, Peer: "pk:ed25519:a"}
    d.ch <- discovery.Event{Kind: discovery.Discovered, Peer: n.ID()}

    want := []int{1, 2, 1}
    for _, w := range want {
        select {
        case c := <-n.PeerCounts():
            if c != w { t.Fatalf("count=%d want %d", c, w) }
        case <-time.After(2 * time.Second):
            t.Fatalf("missing count %d", w)
        }
    }
    select {
    case c := <-n.PeerCounts():
        t.Fatalf("unexpected count %d (self or duplicate counted)", c)
    case <-time.After(100 * time.Millisecond):
    }
}

func TestPublishFloodsAcrossLine(t *testing.T) {
    tr := mem.New()
    a, da := startMem(t, tr, "room", "a")
    b, _ := startMem(t, tr, "room", "b")
    c, dc := startMem(t, tr, "room", "c")

    // a - b - c: a and c only know b
    da.found(b)
    dc.found(b)
    waitFor(t, "links", func() bool { return a.Links() == 1 && c.Links() == 1 && b.Links() == 2 })

    a.Publish([]byte("hello"))
    if got := recv(t, b.Inbound()); string(got) != "hello" { t.Fatalf("b got %q", got) }
    if got := recv(t, c.Inbound()); string(got) != "hello" { t.Fatalf("c got %q", got) }

    c.Publish([]byte("back"))
    if got := recv(t, a.Inbound()); string(got) != "back" { t.Fatalf("a got %q", got) }
    if got := recv(t, b.Inbound()); string(got) != "back" { t.Fatalf("b got %q", got) }

    select {
    case got := <-a.Inbound():
        t.Fatalf("a received extra payload %q", got)
    case got := <-c.Inbound():
        t.Fatalf("c received extra payload %q", got)
    case <-time.After(150 * time.Millisecond):
    }

    pm := b.Peers()
    if len(pm) != 2 { t.Fatalf("b peer store=%+v", pm) }
    for _, p := range pm {
        if p.Handshake != "verified" || p.Topic != "room" { t.Fatalf("peer meta %+v", p) }
    }
}

func TestMaxHopsZeroDisablesForwarding(t *testing.T) {
    tr := mem.New()
    d := newStaticDisc()
    o := DefaultOptions("room")
    o.Transport, o.Listen, o.MaxHops = tr, "relay", 0
    o.Discover = func(context.Context, transport.PeerID, int) (Discoverer, error) { return d, nil }
    relay, err := Start(context.Background(), o)
    if err != nil { t.Fatalf("start relay: %v", err) }
    defer relay.Close()

    a, da := startMem(t, tr, "room", "a")
    c, dc := startMem(t, tr, "room", "c")
    da.found(relay)
    dc.found(relay)
    waitFor(t, "links", func() bool { return relay.Links() == 2 })

    a.Publish([]byte("x"))
    if got := recv(t, relay.Inbound()); string(got) != "x" { t.Fatalf("relay got %q", got) }
    select {
    case got := <-c.Inbound():
        t.Fatalf("c received %q through a non-forwarding relay", got)
    case <-time.After(200 * time.Millisecond):
    }
}

func TestSimultaneousDialsKeepOneLink(t *testing.T) {
    tr := mem.New()
    a, da := startMem(t, tr, "room", "a")
    b, db := startMem(t, tr, "room", "b")
    da.found(b)
    db.found(a)
    waitFor(t, "links", func() bool { return a.Links() == 1 && b.Links() == 1 })
    time.Sleep(700 * time.Millisecond) // past the replaced-session grace period

    a.Publish([]byte("one"))
    if got := recv(t, b.Inbound()); string(got) != "one" { t.Fatalf("b got %q", got) }
    b.Publish([]byte("two"))
    if got := recv(t, a.Inbound()); string(got) != "two" { t.Fatalf("a got %q", got) }
}

func TestForeignTopicNeverLinks(t *testing.T) {
    tr := mem.New()
    a, da := startMem(t, tr, "room", "a")
    other, _ := startMem(t, tr, "lobby", "other")
    da.found(other)
    time.Sleep(200 * time.Millisecond)
    if a.Links() != 0 || other.Links() != 0 { t.Fatalf("links a=%d other=%d", a.Links(), other.Links()) }
}

func TestExpiryClosesLink(t *testing.T) {
    tr := mem.New()
    a, da := startMem(t, tr, "room", "a")
    b, _ := startMem(t, tr, "room", "b")
    da.found(b)
    waitFor(t, "link", func() bool { return a.Links() == 1 && b.Links() == 1 })
    da.ch <- discovery.Event{Kind: discovery.Expired, Peer: b.ID()}
    waitFor(t, "unlink", func() bool { return a.Links() == 0 && b.Links() == 0 })
}

func TestCloseEndsStreamsAndDropsPublish(t *testing.T) {
    n, _ := startMem(t, mem.New(), "room", "closing")
    if err := n.Close(); err != nil { t.Fatalf("close: %v", err) }
    n.Publish([]byte("late"))
    if _, ok := <-n.Inbound(); ok { t.Fatalf("inbound still open") }
    if _, ok := <-n.PeerCounts(); ok { t.Fatalf("peer counts still open") }
    if err := n.Close(); err != nil { t.Fatalf("second close: %v", err) }
}

func TestFailedDialAsksForRediscovery(t *testing.T) {
    tr := mem.New()
    a, da := startMem(t, tr, "room", "a")
    da.ch <- discovery.Event{Kind: discovery.Discovered, Peer: "pk:ed25519:gone", Addrs: []string{"nowhere"}}
    select {
    case id := <-da.retries:
        if id != "pk:ed25519:gone" { t.Fatalf("retry for %s", id) }
    case <-time.After(2 * time.Second):
        t.Fatalf("failed dial did not ask for a retry")
    }

    // the next sighting dials again and links once the peer is reachable
    b, _ := startMem(t, tr, "room", "b")
    da.ch <- discovery.Event{Kind: discovery.Discovered, Peer: b.ID(), Addrs: []string{"nowhere", b.Addr()}}
    waitFor(t, "link", func() bool { return a.Links() == 1 })
}

func TestFullSeenCacheStillDelivers(t *testing.T) {
    tr := mem.New()
    d := newStaticDisc()
    o := DefaultOptions("room")
    o.Transport, o.Listen, o.SeenMaxBytes = tr, "tight", 1
    o.Discover = func(context.Context, transport.PeerID, int) (Discoverer, error) { return d, nil }
    tight, err := Start(context.Background(), o)
    if err != nil { t.Fatalf("start: %v", err) }
    defer tight.Close()

    a, da := startMem(t, tr, "room", "a")
    c, dc := startMem(t, tr, "room", "c")
    da.found(tight)
    dc.found(tight)
    waitFor(t, "links", func() bool { return tight.Links() == 2 })

    for _, msg := range []string{"one", "two"} {
        a.Publish([]byte(msg))
        if got := recv(t, tight.Inbound()); string(got) != msg { t.Fatalf("relay got %q", got) }
        if got := recv(t, c.Inbound()); string(got) != msg { t.Fatalf("c got %q", got) }
    }
    if st := tight.seen.Metrics(); st.Keys != 0 || st.Rejected == 0 { t.Fatalf("seen stats %+v", st) }
}
