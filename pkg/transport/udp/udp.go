package udp

import (
    "context"
    "errors"
    "net"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "posemesh/pkg/transport"
)

var errClosed = errors.New("udp session closed")

// UDPTransport implements a datagram transport carrying single-envelope frames.
// Every datagram is one frame; there is no retransmission.
type UDPTransport struct{}

func New() *UDPTransport { return &UDPTransport{} }

func (t *UDPTransport) Kind() transport.Kind { return transport.KindUDP }

func (t *UDPTransport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    laddr, err := net.ResolveUDPAddr("udp", address)
    if err != nil { return nil, err }
    c, err := net.ListenUDP("udp", laddr)
    if err != nil { return nil, err }
    ul := &udpListener{
        conn:     c,
        sessions: make(map[string]*udpSession),
        newCh:    make(chan *udpSession, 8),
        closeCh:  make(chan struct{}),
    }
    go ul.readLoop()
    go func() {
        select {
        case <-ctx.Done():
        case <-ul.closeCh:
        }
        _ = ul.Close()
    }()
    return ul, nil
}

func (t *UDPTransport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
    var d net.Dialer
    c, err := d.DialContext(ctx, "udp", address)
    if err != nil { return nil, err }
    uc := c.(*net.UDPConn)
    if peer.Addr == "" { peer.Addr = address }
    s := newSession(uc, uc.RemoteAddr().(*net.UDPAddr), peer, true)
    go s.recvLoop()
    return s, nil
}

func newSession(c *net.UDPConn, raddr *net.UDPAddr, peer transport.PeerInfo, outbound bool) *udpSession {
    return &udpSession{
        peer:          peer,
        conn:          c,
        raddr:         raddr,
        outbound:      outbound,
        rxCh:          make(chan []byte, 64),
        closed:        make(chan struct{}),
        establishedAt: time.Now(),
    }
}

// ---- Listener/demux ----

type udpListener struct {
    conn     *net.UDPConn
    mu       sync.Mutex
    sessions map[string]*udpSession
    newCh    chan *udpSession
    closeCh  chan struct{}
    once     sync.Once
}

func (l *udpListener) Addr() net.Addr { return l.conn.LocalAddr() }

func (l *udpListener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("udp listener closed")
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *udpListener) Close() error {
    var err error
    l.once.Do(func() {
        close(l.closeCh)
        err = l.conn.Close()
        l.mu.Lock()
        for _, s := range l.sessions { _ = s.Close() }
        l.mu.Unlock()
    })
    return err
}

func (l *udpListener) forget(key string, s *udpSession) {
    l.mu.Lock()
    if l.sessions[key] == s { delete(l.sessions, key) }
    l.mu.Unlock()
}

func (l *udpListener) readLoop() {
    buf := make([]byte, 64*1024)
    for {
        n, raddr, err := l.conn.ReadFromUDP(buf)
        if err != nil { return }
        key := raddr.String()
        pkt := make([]byte, n)
        copy(pkt, buf[:n])

        l.mu.Lock()
        s, ok := l.sessions[key]
        if !ok {
            s = newSession(l.conn, raddr, transport.PeerInfo{Addr: key}, false)
            s.onClose = func() { l.forget(key, s) }
            select {
            case l.newCh <- s:
                l.sessions[key] = s
            default:
                l.mu.Unlock()
                zap.L().Warn("udp accept backlog full, dropping", zap.String("remote", key))
                continue
            }
        }
        l.mu.Unlock()
        s.deliver(pkt)
    }
}

// ---- Session/Stream ----

type udpSession struct {
    pmu           sync.RWMutex
    peer          transport.PeerInfo
    conn          *net.UDPConn
    raddr         *net.UDPAddr
    outbound      bool // session owns the socket
    rxCh          chan []byte
    closeOnce     sync.Once
    closed        chan struct{}
    onClose       func()
    establishedAt time.Time
    lastSeen      atomic.Int64
}

func (s *udpSession) Peer() transport.PeerInfo { s.pmu.RLock(); defer s.pmu.RUnlock(); return s.peer }
func (s *udpSession) SetPeer(pi transport.PeerInfo) { s.pmu.Lock(); s.peer = pi; s.pmu.Unlock() }
func (s *udpSession) TransportKind() transport.Kind { return transport.KindUDP }
func (s *udpSession) LocalAddr() net.Addr { return s.conn.LocalAddr() }
func (s *udpSession) RemoteAddr() net.Addr { return s.raddr }
func (s *udpSession) Initiator() bool { return s.outbound }

func (s *udpSession) Stream(_ context.Context) (transport.Stream, error) { return &udpStream{s: s}, nil }

func (s *udpSession) Quality() transport.Quality {
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: time.Unix(0, s.lastSeen.Load())}
}

// deliver queues an inbound datagram; it drops when the reader is behind.
func (s *udpSession) deliver(pkt []byte) {
    select {
    case <-s.closed:
    case s.rxCh <- pkt:
    default:
        zap.L().Debug("udp rx queue full, dropping datagram", zap.String("remote", s.raddr.String()))
    }
}

func (s *udpSession) recvLoop() {
    buf := make([]byte, 64*1024)
    for {
        n, err := s.conn.Read(buf)
        if err != nil {
            select {
            case <-s.closed:
                return
            default:
            }
            // ICMP port unreachable surfaces as a read error on connected sockets.
            var ne net.Error
            if errors.As(err, &ne) && ne.Timeout() { continue }
            zap.L().Debug("udp read failed", zap.String("remote", s.raddr.String()), zap.Error(err))
            _ = s.Close()
            return
        }
        pkt := make([]byte, n)
        copy(pkt, buf[:n])
        s.deliver(pkt)
    }
}

func (s *udpSession) Close() error {
    var err error
    s.closeOnce.Do(func() {
        close(s.closed)
        if s.outbound { err = s.conn.Close() }
        if s.onClose != nil { s.onClose() }
    })
    return err
}

type udpStream struct{ s *udpSession }

func (st *udpStream) SendBytes(b []byte) error {
    select {
    case <-st.s.closed:
        return errClosed
    default:
    }
    var err error
    if st.s.outbound {
        _, err = st.s.conn.Write(b)
    } else {
        _, err = st.s.conn.WriteToUDP(b, st.s.raddr)
    }
    if err == nil { st.s.lastSeen.Store(time.Now().UnixNano()) }
    return err
}

func (st *udpStream) RecvBytes() ([]byte, error) {
    select {
    case pkt := <-st.s.rxCh:
        st.s.lastSeen.Store(time.Now().UnixNano())
        return pkt, nil
    case <-st.s.closed:
        return nil, errClosed
    }
}

func (st *udpStream) Close() error { return st.s.Close() }
