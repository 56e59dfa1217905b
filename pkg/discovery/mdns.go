package discovery

import (
    "context"
    "errors"
    "fmt"
    "net"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/cenkalti/backoff"
    "github.com/grandcat/zeroconf"
    "go.uber.org/zap"

    "posemesh/pkg/transport"
)

// Options configures mDNS announcement and browsing.
type Options struct {
    Service        string // DNS-SD service type, e.g. _posemesh._udp
    Domain         string // usually "local."
    Topic          string
    Self           transport.PeerID
    Port           int    // bound listen port
    Transport      string // advertised transport kind
    BrowseInterval time.Duration
    PeerTTL        time.Duration
    Ifaces         []net.Interface // nil = all multicast interfaces
}

func (o *Options) withDefaults() {
    if o.Service == "" { o.Service = "_posemesh._udp" }
    if o.Domain == "" { o.Domain = "local." }
    if o.BrowseInterval <= 0 { o.BrowseInterval = 10 * time.Second }
    if o.PeerTTL < o.BrowseInterval { o.PeerTTL = 3 * o.BrowseInterval }
}

// Service announces this node over mDNS and browses for other nodes of the
// same topic in rounds, feeding sightings to a Tracker.
type Service struct {
    opts    Options
    server  *zeroconf.Server
    tracker *Tracker
    cancel  context.CancelFunc
    wg      sync.WaitGroup
}

// Start registers the service and begins browsing. It fails when the
// announcement cannot be registered after retries.
func Start(ctx context.Context, opts Options) (*Service, error) {
    opts.withDefaults()
    if opts.Self == "" || opts.Port <= 0 { return nil, errors.New("discovery: self id and port are required") }

    txt := []string{"id=" + string(opts.Self), "topic=" + opts.Topic, "kind=" + opts.Transport}
    instance := "posemesh-" + opts.Self.Short()
    var server *zeroconf.Server
    err := retry(ctx, func() error {
        var err error
        server, err = zeroconf.Register(instance, opts.Service, opts.Domain, opts.Port, txt, opts.Ifaces)
        return err
    })
    if err != nil { return nil, fmt.Errorf("discovery: register %s: %w", opts.Service, err) }
    zap.L().Info("mdns service registered",
        zap.String("instance", instance), zap.String("service", opts.Service), zap.Int("port", opts.Port))

    bctx, cancel := context.WithCancel(ctx)
    s := &Service{opts: opts, server: server, tracker: NewTracker(opts.PeerTTL), cancel: cancel}
    s.wg.Add(1)
    go s.browseLoop(bctx)
    return s, nil
}

func (s *Service) Events() <-chan Event { return s.tracker.Events() }

// Retry has the next announcement of id reported as Discovered again.
func (s *Service) Retry(id transport.PeerID) { s.tracker.Retry(id) }

func (s *Service) Close() error {
    s.cancel()
    s.wg.Wait()
    s.server.Shutdown()
    s.tracker.Close()
    return nil
}

func (s *Service) browseLoop(ctx context.Context) {
    defer s.wg.Done()
    for ctx.Err() == nil {
        if err := s.browseRound(ctx); err != nil && ctx.Err() == nil {
            zap.L().Warn("mdns browse round failed", zap.Error(err))
        }
    }
}

// browseRound runs one Browse for BrowseInterval. The resolver reports each
// instance once per Browse call, so rounds are what keep peers alive.
func (s *Service) browseRound(ctx context.Context) error {
    var resolver *zeroconf.Resolver
    err := retry(ctx, func() error {
        var err error
        resolver, err = zeroconf.NewResolver()
        return err
    })
    if err != nil { return err }

    rctx, cancel := context.WithTimeout(ctx, s.opts.BrowseInterval)
    defer cancel()
    entries := make(chan *zeroconf.ServiceEntry, 16)
    if err := resolver.Browse(rctx, s.opts.Service, s.opts.Domain, entries); err != nil { return err }
    for {
        select {
        case <-rctx.Done():
            zap.L().Debug("mdns browse round done", zap.Int("live", s.tracker.Live()))
            return nil
        case e, ok := <-entries:
            if !ok { <-rctx.Done(); return nil }
            if id, addrs, ok := peerFromEntry(e, s.opts.Topic, s.opts.Self); ok {
                s.tracker.Seen(id, addrs)
            }
        }
    }
}

// peerFromEntry extracts the announcing peer from a browse result. Entries
// for another topic, without an id, or announced by self are ignored.
func peerFromEntry(e *zeroconf.ServiceEntry, topic string, self transport.PeerID) (transport.PeerID, []string, bool) {
    if e == nil { return "", nil, false }
    txt := parseTXT(e.Text)
    id := transport.PeerID(txt["id"])
    if id == "" || id == self || txt["topic"] != topic { return "", nil, false }
    port := strconv.Itoa(e.Port)
    var addrs []string
    for _, ip := range e.AddrIPv4 { addrs = append(addrs, net.JoinHostPort(ip.String(), port)) }
    for _, ip := range e.AddrIPv6 {
        // link-local v6 needs a zone that the resolver does not give us
        if ip.IsLinkLocalUnicast() { continue }
        addrs = append(addrs, net.JoinHostPort(ip.String(), port))
    }
    if len(addrs) == 0 { return "", nil, false }
    return id, addrs, true
}

func parseTXT(txt []string) map[string]string {
    out := make(map[string]string, len(txt))
    for _, kv := range txt {
        k, v, ok := strings.Cut(kv, "=")
        if !ok { continue }
        out[k] = v
    }
    return out
}

func retry(ctx context.Context, op func() error) error {
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = 200 * time.Millisecond
    b.MaxInterval = 5 * time.Second
    b.MaxElapsedTime = 30 * time.Second
    return backoff.Retry(op, backoff.WithContext(b, ctx))
}
