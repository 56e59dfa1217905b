package mesh

import (
    "context"
    "crypto/ed25519"
    "fmt"
    "net"
    "strconv"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "posemesh/pkg/core/netstack"
    "posemesh/pkg/discovery"
    "posemesh/pkg/handshake"
    "posemesh/pkg/identity"
    "posemesh/pkg/memkv"
    "posemesh/pkg/observability"
    "posemesh/pkg/peers"
    "posemesh/pkg/protocol"
    "posemesh/pkg/transport"
)

type evKind int

const (
    evUp evKind = iota + 1
    evFrame
    evDown
    evDialFailed
)

// sessEvent is what session goroutines report to the event loop.
type sessEvent struct {
    kind   evKind
    s      transport.Session
    st     transport.Stream
    id     transport.PeerID // verified peer (evUp)
    expect transport.PeerID // identity the dial was made for
    hello  handshake.Hello
    data   []byte
}

// Node is one participant of a topic overlay.
type Node struct {
    opts      Options
    id        transport.PeerID
    priv      ed25519.PrivateKey
    topicHash uint64

    tr      transport.Transport
    ln      transport.Listener
    port    int
    mgr     *transport.Manager
    kv      *memkv.Store // peer metadata
    seen    *memkv.Store // message ids already handled
    peers   *peers.Store
    disc    Discoverer
    unwatch []func()

    outq    chan []byte
    inbound chan []byte
    counts  chan int
    events  chan sessEvent

    // owned by the event loop
    links   map[transport.Session]*link
    members map[transport.PeerID]struct{}
    dialing map[transport.PeerID]bool

    sessMu   sync.Mutex
    sessions map[transport.Session]struct{}

    closed    atomic.Bool
    cancel    context.CancelFunc
    wg        sync.WaitGroup
    linkWG    sync.WaitGroup
    closeOnce sync.Once
}

// Start joins topic: it generates an identity, binds the listener, starts
// discovery and the event loop. Every failure is an *InitError.
func Start(ctx context.Context, opts Options) (*Node, error) {
    opts.withDefaults()
    if err := ValidateTopic(opts.Topic); err != nil { return nil, initErr("topic", err) }
    priv, id, err := identity.Generate()
    if err != nil { return nil, initErr("identity", err) }

    tr := opts.Transport
    if tr == nil {
        if tr, err = netstack.NewByKind(opts.Kind); err != nil { return nil, initErr("transport", err) }
    }
    if opts.Listen == "" && tr.Kind() != transport.KindMem { opts.Listen = "0.0.0.0:0" }

    lctx, cancel := context.WithCancel(ctx)
    ln, port, err := netstack.Listen(lctx, tr, opts.Listen)
    if err != nil { cancel(); return nil, initErr("listen", err) }

    kv := memkv.New(memkv.Options{Shards: 16})
    seen := memkv.New(memkv.Options{Shards: 16, MaxBytes: opts.SeenMaxBytes})
    n := &Node{
        opts:      opts,
        id:        id,
        priv:      priv,
        topicHash: protocol.TopicHash(opts.Topic),
        tr:        tr,
        ln:        ln,
        port:      port,
        mgr:       transport.NewManager(id),
        kv:        kv,
        seen:      seen,
        peers:     peers.NewStore(kv),
        outq:      make(chan []byte, opts.QueueSize),
        inbound:   make(chan []byte, opts.QueueSize),
        counts:    make(chan int, 16),
        events:    make(chan sessEvent, 256),
        links:     make(map[transport.Session]*link),
        members:   make(map[transport.PeerID]struct{}),
        dialing:   make(map[transport.PeerID]bool),
        sessions:  make(map[transport.Session]struct{}),
        cancel:    cancel,
    }
    if opts.Discover != nil {
        d, err := opts.Discover(lctx, id, port)
        if err != nil {
            cancel(); _ = ln.Close(); kv.Close(); seen.Close()
            return nil, initErr("discovery", err)
        }
        n.disc = d
    }
    n.unwatch = append(n.unwatch,
        observability.WatchStore(id.Short(), "peers", kv),
        observability.WatchStore(id.Short(), "seen", seen))

    n.wg.Add(2)
    go func() {
        defer n.wg.Done()
        netstack.AcceptLoop(lctx, ln, func(s transport.Session) { n.spawn(lctx, s) })
    }()
    go n.loop(lctx)
    zap.L().Info("mesh started",
        zap.String("peer", string(id)), zap.String("topic", opts.Topic),
        zap.String("kind", tr.Kind().String()), zap.String("addr", ln.Addr().String()))
    return n, nil
}

func (n *Node) ID() transport.PeerID { return n.id }

// Addr is the bound listen address.
func (n *Node) Addr() string { return n.ln.Addr().String() }

// Port is the bound listen port, 0 for transports without ports.
func (n *Node) Port() int { return n.port }

// Peers returns the metadata of every peer the node has heard of.
func (n *Node) Peers() []peers.PeerMeta { return n.peers.List() }

// Links returns the number of authenticated sessions.
func (n *Node) Links() int { return n.mgr.Count() }

// Publish queues data for the topic. It never blocks: a full queue or a
// closed node drops the payload.
func (n *Node) Publish(data []byte) {
    if n.closed.Load() { return }
    b := append([]byte(nil), data...)
    select {
    case n.outq <- b:
    default:
        zap.L().Debug("publish queue full, dropping", zap.Int("bytes", len(b)))
        observability.RecordFrame("drop")
    }
}

// Inbound yields payloads published by other nodes in receipt order. It is
// closed when the node stops.
func (n *Node) Inbound() <-chan []byte { return n.inbound }

// PeerCounts yields the size of the discovered peer set whenever it
// changes. Slow readers only see the latest values.
func (n *Node) PeerCounts() <-chan int { return n.counts }

// Close stops the node and releases its listener, sessions and discovery.
func (n *Node) Close() error {
    n.closeOnce.Do(func() {
        n.closed.Store(true)
        n.cancel()
        _ = n.ln.Close()
        if n.disc != nil { _ = n.disc.Close() }
        n.sessMu.Lock()
        for s := range n.sessions { _ = s.Close() }
        n.sessMu.Unlock()
        n.wg.Wait()
        n.linkWG.Wait()
        for _, f := range n.unwatch { f() }
        n.kv.Close()
        n.seen.Close()
        zap.L().Info("mesh stopped", zap.String("peer", string(n.id)))
    })
    return nil
}

func (n *Node) post(ctx context.Context, ev sessEvent) bool {
    select {
    case n.events <- ev:
        return true
    case <-ctx.Done():
        return false
    }
}

// spawn runs the handshake and reader of s in its own goroutine.
func (n *Node) spawn(ctx context.Context, s transport.Session) {
    n.wg.Add(1)
    go func() {
        defer n.wg.Done()
        n.serve(ctx, s)
    }()
}

func (n *Node) track(s transport.Session, on bool) bool {
    n.sessMu.Lock()
    defer n.sessMu.Unlock()
    if !on { delete(n.sessions, s); return true }
    if n.closed.Load() { return false }
    n.sessions[s] = struct{}{}
    return true
}

// greeted is the outcome of a successful hello exchange.
type greeted struct {
    st    transport.Stream
    hello handshake.Hello
    id    transport.PeerID
}

// greet opens the stream of s and runs the hello exchange on it.
func (n *Node) greet(ctx context.Context, s transport.Session) (greeted, error) {
    st, err := s.Stream(ctx)
    if err != nil { return greeted{}, fmt.Errorf("open stream: %w", err) }
    frame, err := n.helloFrame()
    if err != nil { return greeted{}, fmt.Errorf("build hello: %w", err) }
    h, id, err := netstack.Exchange(s, st, frame, n.opts.Topic, n.opts.HelloTimeout)
    if err != nil { return greeted{}, err }
    return greeted{st: st, hello: h, id: id}, nil
}

// serve handles an inbound session: hello first, then frames.
func (n *Node) serve(ctx context.Context, s transport.Session) {
    if !n.track(s, true) { _ = s.Close(); return }
    defer n.track(s, false)
    g, err := n.greet(ctx, s)
    if err != nil {
        zap.L().Debug("hello exchange failed", zap.Stringer("raddr", s.RemoteAddr()), zap.Error(err))
        _ = s.Close()
        return
    }
    n.run(ctx, s, g, "")
}

// run reports the greeted session to the loop and pumps its frames until
// the stream fails.
func (n *Node) run(ctx context.Context, s transport.Session, g greeted, expect transport.PeerID) {
    if !n.post(ctx, sessEvent{kind: evUp, s: s, st: g.st, id: g.id, expect: expect, hello: g.hello}) { _ = s.Close(); return }
    for {
        b, err := g.st.RecvBytes()
        if err != nil {
            n.post(ctx, sessEvent{kind: evDown, s: s})
            return
        }
        if !n.post(ctx, sessEvent{kind: evFrame, s: s, data: b}) { return }
    }
}

func (n *Node) helloFrame() ([]byte, error) {
    h, _, err := handshake.BuildHello(n.opts.NodeName, n.opts.Topic, uint16(n.port), n.priv)
    if err != nil { return nil, err }
    return netstack.HelloFrame(h, n.opts.Topic)
}

// loop is the single owner of links, membership and the dial table.
func (n *Node) loop(ctx context.Context) {
    defer n.wg.Done()
    defer n.teardown()
    var discCh <-chan discovery.Event
    if n.disc != nil { discCh = n.disc.Events() }
    for {
        select {
        case <-ctx.Done():
            return
        case b := <-n.outq:
            n.publish(b)
        case ev := <-n.events:
            n.handleSession(ctx, ev)
        case ev, ok := <-discCh:
            if !ok { discCh = nil; continue }
            n.handleDiscovery(ctx, ev)
        }
    }
}

func (n *Node) teardown() {
    n.closed.Store(true)
    for s, l := range n.links {
        l.close()
        delete(n.links, s)
    }
    n.mgr.CloseAll()
    close(n.inbound)
    close(n.counts)
}

func (n *Node) handleSession(ctx context.Context, ev sessEvent) {
    switch ev.kind {
    case evUp:
        n.onUp(ctx, ev)
    case evFrame:
        n.onFrame(ev.s, ev.data)
    case evDown:
        if l := n.links[ev.s]; l != nil {
            l.close()
            delete(n.links, ev.s)
            zap.L().Debug("link down", zap.String("peer", l.id.Short()))
        }
        n.mgr.Remove(ev.s)
    case evDialFailed:
        delete(n.dialing, ev.expect)
        if _, ok := n.members[ev.expect]; ok && n.disc != nil { n.disc.Retry(ev.expect) }
    }
}

func (n *Node) onUp(ctx context.Context, ev sessEvent) {
    s := ev.s
    if ev.expect != "" { delete(n.dialing, ev.expect) }
    if ev.id == n.id {
        zap.L().Debug("dropping session to self", zap.Stringer("raddr", s.RemoteAddr()))
        _ = s.Close()
        return
    }
    if ev.expect != "" && ev.expect != ev.id {
        zap.L().Warn("dialed peer answered with another identity",
            zap.String("want", ev.expect.Short()), zap.String("got", ev.id.Short()))
        _ = s.Close()
        return
    }

    temp := transport.TempPeerID(s.TransportKind(), s.RemoteAddr())
    s.SetPeer(transport.PeerInfo{ID: temp, Addr: s.RemoteAddr().String()})
    if ok, _, _, _ := n.mgr.AddSession(ctx, s); !ok { return }
    n.peers.Touch(ev.id, "", time.Now())
    n.peers.SetHandshake(ev.id, peers.HandshakeHelloRx)
    if !n.mgr.RebindPeer(ctx, temp, ev.id) {
        zap.L().Debug("session lost election", zap.String("peer", ev.id.Short()), zap.Bool("initiator", s.Initiator()))
        return
    }

    l := newLink(s, ev.st, ev.id, n.opts.QueueSize, n.opts.LinkRate)
    n.links[s] = l
    n.linkWG.Add(1)
    go l.writeLoop(&n.linkWG)

    n.peers.Describe(ev.id, ev.hello.NodeName, ev.hello.Topic, s.TransportKind().String())
    n.peers.SetHandshake(ev.id, peers.HandshakeVerified)
    if host := netstack.HostOf(s.RemoteAddr()); host != "" && ev.hello.Port != 0 {
        n.peers.Touch(ev.id, net.JoinHostPort(host, strconv.Itoa(int(ev.hello.Port))), time.Now())
    }
    zap.L().Info("peer linked",
        zap.String("peer", string(ev.id)), zap.String("name", ev.hello.NodeName),
        zap.String("kind", s.TransportKind().String()), zap.Bool("initiator", s.Initiator()),
        zap.Int("links", n.mgr.Count()))
}

func (n *Node) onFrame(s transport.Session, data []byte) {
    l := n.links[s]
    if l == nil { return }
    var env protocol.Envelope
    if err := env.DecodeFrame(data); err != nil {
        zap.L().Debug("bad frame", zap.String("peer", l.id.Short()), zap.Error(err))
        observability.RecordFrame("drop")
        return
    }
    if env.Header.TopicHash != n.topicHash {
        observability.RecordFrame("drop")
        return
    }
    switch env.Header.Type {
    case protocol.MsgPublish:
        n.onPublish(l, &env, len(data))
    case protocol.MsgHello:
        // repeated hello on a live link carries nothing new
    default:
        zap.L().Debug("unknown frame type", zap.Uint8("type", env.Header.Type))
        observability.RecordFrame("drop")
    }
}

func seenKey(id [16]byte) string { return "seen:" + protocol.MsgIDString(id) }

// firstSight records msg as handled, remembering the peer it came from, and
// reports whether it is new. With the cache at its byte cap nothing can be
// recorded; the message is then treated as new and the hop limit ends its
// flood.
func (n *Node) firstSight(msg [16]byte, via transport.PeerID) bool {
    key := seenKey(msg)
    if n.seen.SetNX(key, []byte(via), n.opts.SeenTTL) { return true }
    if n.seen.Exists(key) { return false }
    zap.L().Debug("seen cache full", zap.String("msg", protocol.MsgIDString(msg)))
    return true
}

func (n *Node) onPublish(from *link, env *protocol.Envelope, size int) {
    if !n.firstSight(env.Header.MsgID, from.id) { return }
    pub, err := openPublication(env, n.opts.Topic, n.opts.VerifySignatures)
    if err != nil {
        zap.L().Debug("dropping publication", zap.String("from", from.id.Short()), zap.Error(err))
        observability.RecordFrame("drop")
        return
    }
    n.peers.RecordExchange(from.id, uint64(size), 0, 1, 0)
    if pub.Origin == string(n.id) { return }
    observability.RecordFrame("in")
    select {
    case n.inbound <- pub.Data:
    default:
        zap.L().Debug("inbound full, dropping", zap.String("origin", transport.PeerID(pub.Origin).Short()))
        observability.RecordFrame("drop")
    }

    if int(env.Header.Hops) >= n.opts.MaxHops { return }
    env.Header.Hops++
    frame, err := env.EncodeFrame()
    if err != nil { return }
    if n.broadcast(frame, from.s) > 0 { observability.RecordFrame("forward") }
}

func (n *Node) publish(data []byte) {
    frame, id, err := sealPublication(n.priv, n.id, n.opts.Topic, data)
    if err != nil {
        zap.L().Warn("seal publication", zap.Error(err))
        return
    }
    n.firstSight(id, n.id)
    if n.broadcast(frame, nil) == 0 {
        zap.L().Debug("publish with no peers", zap.String("msg", protocol.MsgIDString(id)))
        return
    }
    observability.RecordFrame("out")
}

// broadcast queues frame on every canonical link except the one of except.
func (n *Node) broadcast(frame []byte, except transport.Session) int {
    sent := 0
    for id, s := range n.mgr.Verified() {
        if s == except { continue }
        l := n.links[s]
        if l == nil { continue }
        if !l.send(frame) {
            zap.L().Debug("link outbox full, dropping", zap.String("peer", id.Short()))
            observability.RecordFrame("drop")
            continue
        }
        n.peers.RecordExchange(id, 0, uint64(len(frame)), 0, 1)
        sent++
    }
    return sent
}

func (n *Node) handleDiscovery(ctx context.Context, ev discovery.Event) {
    if ev.Peer == n.id || ev.Peer == "" { return }
    switch ev.Kind {
    case discovery.Discovered:
        for _, a := range ev.Addrs { n.peers.Touch(ev.Peer, a, time.Now()) }
        if _, ok := n.members[ev.Peer]; !ok {
            n.members[ev.Peer] = struct{}{}
            n.pushCount()
        }
        n.dial(ctx, ev.Peer, ev.Addrs)
    case discovery.Expired:
        if _, ok := n.members[ev.Peer]; ok {
            delete(n.members, ev.Peer)
            n.pushCount()
        }
        zap.L().Info("peer expired", zap.String("peer", string(ev.Peer)))
        n.mgr.ClosePeer(ev.Peer)
        n.peers.DeletePeer(ev.Peer)
    }
}

// dial connects to id by its advertised addresses and any address the peer
// store remembers for it. An address only counts once the hello exchange on
// it succeeds, so an unreachable interface falls through to the next one.
// When every address fails, discovery is asked to report the peer again.
func (n *Node) dial(ctx context.Context, id transport.PeerID, addrs []string) {
    if n.mgr.GetSession(id) != nil || n.dialing[id] { return }
    var known []string
    if pm, ok := n.peers.Get(id); ok { known = pm.Addresses }
    all := netstack.Dedup(addrs, known)
    n.dialing[id] = true
    n.wg.Add(1)
    go func() {
        defer n.wg.Done()
        var g greeted
        s, err := netstack.DialAny(ctx, n.tr, all, transport.PeerInfo{ID: id}, n.opts.DialTimeout, func(s transport.Session) error {
            if !n.track(s, true) { return ErrClosed }
            var err error
            if g, err = n.greet(ctx, s); err == nil && g.id != id {
                err = fmt.Errorf("answered as %s", g.id.Short())
            }
            if err != nil { n.track(s, false) }
            return err
        })
        if err != nil {
            if ctx.Err() == nil { zap.L().Warn("dial failed", zap.String("peer", id.Short()), zap.Error(err)) }
            n.post(ctx, sessEvent{kind: evDialFailed, expect: id})
            return
        }
        defer n.track(s, false)
        n.run(ctx, s, g, id)
    }()
}

// pushCount publishes the membership size, replacing a stale unread value
// rather than blocking the loop.
func (n *Node) pushCount() {
    c := len(n.members)
    for {
        select {
        case n.counts <- c:
            return
        default:
        }
        select {
        case <-n.counts:
        default:
        }
    }
}
