package discovery

import (
    "net"
    "testing"
    "time"

    "github.com/grandcat/zeroconf"

    "posemesh/pkg/transport"
)

func nextEvent(t *testing.T, tr *Tracker, within time.Duration) Event {
    t.Helper()
    select {
    case ev := <-tr.Events():
        return ev
    case <-time.After(within):
        t.Fatalf("no event within %v", within)
        return Event{}
    }
}

func TestTrackerDiscoverThenExpire(t *testing.T) {
    tr := NewTracker(100 * time.Millisecond)
    defer tr.Close()

    tr.Seen("pk:ed25519:a", []string{"10.0.0.2:5000"})
    ev := nextEvent(t, tr, time.Second)
    if ev.Kind != Discovered || ev.Peer != "pk:ed25519:a" || len(ev.Addrs) != 1 {
        t.Fatalf("unexpected event %+v", ev)
    }
    if tr.Live() != 1 { t.Fatalf("live=%d", tr.Live()) }

    ev = nextEvent(t, tr, 2*time.Second)
    if ev.Kind != Expired || ev.Peer != "pk:ed25519:a" {
        t.Fatalf("unexpected event %+v", ev)
    }
    if tr.Live() != 0 { t.Fatalf("live=%d after expiry", tr.Live()) }
}

func TestTrackerRefreshKeepsPeerAlive(t *testing.T) {
    tr := NewTracker(150 * time.Millisecond)
    defer tr.Close()

    tr.Seen("pk:ed25519:b", []string{"10.0.0.3:5000"})
    if ev := nextEvent(t, tr, time.Second); ev.Kind != Discovered { t.Fatalf("want discovered, got %v", ev.Kind) }
    for i := 0; i < 5; i++ {
        time.Sleep(50 * time.Millisecond)
        tr.Seen("pk:ed25519:b", []string{"10.0.0.3:5000"})
    }
    select {
    case ev := <-tr.Events():
        t.Fatalf("unexpected event while refreshed: %+v", ev)
    default:
    }
    if tr.Live() != 1 { t.Fatalf("live=%d", tr.Live()) }
}

func TestTrackerRediscoverAfterExpiry(t *testing.T) {
    tr := NewTracker(50 * time.Millisecond)
    defer tr.Close()

    tr.Seen("pk:ed25519:c", []string{"h:1"})
    nextEvent(t, tr, time.Second)
    if ev := nextEvent(t, tr, 2*time.Second); ev.Kind != Expired { t.Fatalf("want expired, got %v", ev.Kind) }
    tr.Seen("pk:ed25519:c", []string{"h:1"})
    if ev := nextEvent(t, tr, time.Second); ev.Kind != Discovered { t.Fatalf("want rediscovered, got %v", ev.Kind) }
}

func TestPeerFromEntryFilters(t *testing.T) {
    self := transport.PeerID("pk:ed25519:self")
    mk := func(txt ...string) *zeroconf.ServiceEntry {
        e := zeroconf.NewServiceEntry("posemesh-x", "_posemesh._udp", "local.")
        e.Port = 7000
        e.Text = txt
        e.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 7)}
        e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
        return e
    }

    id, addrs, ok := peerFromEntry(mk("id=pk:ed25519:other", "topic=room"), "room", self)
    if !ok || id != "pk:ed25519:other" { t.Fatalf("id=%q ok=%v", id, ok) }
    if len(addrs) != 1 || addrs[0] != "192.168.1.7:7000" { t.Fatalf("addrs=%v", addrs) }

    if _, _, ok := peerFromEntry(mk("id=pk:ed25519:other", "topic=lobby"), "room", self); ok {
        t.Fatalf("foreign topic accepted")
    }
    if _, _, ok := peerFromEntry(mk("id="+string(self), "topic=room"), "room", self); ok {
        t.Fatalf("self announcement accepted")
    }
    if _, _, ok := peerFromEntry(mk("topic=room"), "room", self); ok {
        t.Fatalf("entry without id accepted")
    }
}

func TestTrackerThreeJoinOneExpires(t *testing.T) {
    tr := NewTracker(200 * time.Millisecond)
    defer tr.Close()

    ids := []transport.PeerID{"pk:ed25519:p1", "pk:ed25519:p2", "pk:ed25519:p3"}
    for _, id := range ids { tr.Seen(id, []string{"10.0.0.9:1"}) }
    for range ids {
        if ev := nextEvent(t, tr, time.Second); ev.Kind != Discovered { t.Fatalf("want discovered, got %v", ev.Kind) }
    }
    if tr.Live() != 3 { t.Fatalf("live=%d want 3", tr.Live()) }

    // p1 and p2 keep announcing, p3 goes silent
    stop := time.After(500 * time.Millisecond)
    tick := time.NewTicker(50 * time.Millisecond)
    defer tick.Stop()
    var expired []transport.PeerID
loop:
    for {
        select {
        case <-tick.C:
            tr.Seen(ids[0], nil)
            tr.Seen(ids[1], nil)
        case ev := <-tr.Events():
            if ev.Kind == Expired { expired = append(expired, ev.Peer) }
        case <-stop:
            break loop
        }
    }
    if len(expired) != 1 || expired[0] != ids[2] { t.Fatalf("expired=%v", expired) }
    if tr.Live() != 2 { t.Fatalf("live=%d want 2", tr.Live()) }
}

func TestTrackerRetryReportsPeerAgain(t *testing.T) {
    tr := NewTracker(time.Second)
    defer tr.Close()

    tr.Retry("pk:ed25519:ghost") // not live: ignored
    tr.Seen("pk:ed25519:d", []string{"10.0.0.4:5000"})
    nextEvent(t, tr, time.Second)

    tr.Seen("pk:ed25519:d", []string{"10.0.0.4:5000"})
    select {
    case ev := <-tr.Events():
        t.Fatalf("refresh without retry emitted %+v", ev)
    case <-time.After(50 * time.Millisecond):
    }

    tr.Retry("pk:ed25519:d")
    tr.Seen("pk:ed25519:d", []string{"192.168.1.4:5000"})
    ev := nextEvent(t, tr, time.Second)
    if ev.Kind != Discovered || ev.Peer != "pk:ed25519:d" { t.Fatalf("event %+v", ev) }
    if len(ev.Addrs) != 2 || ev.Addrs[0] != "192.168.1.4:5000" || ev.Addrs[1] != "10.0.0.4:5000" {
        t.Fatalf("addrs=%v", ev.Addrs)
    }
    if tr.Live() != 1 { t.Fatalf("live=%d", tr.Live()) }

    tr.Seen("pk:ed25519:d", nil)
    select {
    case ev := <-tr.Events():
        t.Fatalf("retry fired twice: %+v", ev)
    case <-time.After(50 * time.Millisecond):
    }
    tr.Seen("pk:ed25519:ghost", []string{"h:1"})
    if ev := nextEvent(t, tr, time.Second); ev.Peer != "pk:ed25519:ghost" || ev.Kind != Discovered { t.Fatalf("ghost %+v", ev) }
}
