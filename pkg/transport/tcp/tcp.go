package tcp

import (
    "bufio"
    "context"
    "encoding/binary"
    "errors"
    "io"
    "net"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "posemesh/pkg/transport"
)

// Transport implements a stream-based TCP transport with length-prefixed frames (u32 LE).
type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    var lc net.ListenConfig
    l, err := lc.Listen(ctx, "tcp", address)
    if err != nil { return nil, err }
    tl := &listener{l: l, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    go tl.acceptLoop()
    go func() {
        select {
        case <-ctx.Done():
        case <-tl.closeCh:
        }
        _ = tl.Close()
    }()
    return tl, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
    d := &net.Dialer{KeepAlive: 15 * time.Second}
    c, err := d.DialContext(ctx, "tcp", address)
    if err != nil { return nil, err }
    if peer.Addr == "" { peer.Addr = address }
    return newSession(c, peer, true), nil
}

func newSession(c net.Conn, peer transport.PeerInfo, initiator bool) *session {
    if tc, ok := c.(*net.TCPConn); ok { _ = tc.SetNoDelay(true) }
    return &session{
        peer:          peer,
        c:             c,
        br:            bufio.NewReader(c),
        bw:            bufio.NewWriter(c),
        initiator:     initiator,
        establishedAt: time.Now(),
    }
}

type listener struct {
    l       net.Listener
    newCh   chan *session
    closeCh chan struct{}
    once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("tcp listener closed")
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    var err error
    l.once.Do(func() { close(l.closeCh); err = l.l.Close() })
    return err
}

func (l *listener) acceptLoop() {
    for {
        c, err := l.l.Accept()
        if err != nil { return }
        s := newSession(c, transport.PeerInfo{Addr: c.RemoteAddr().String()}, false)
        select {
        case l.newCh <- s:
        default:
            zap.L().Warn("tcp accept backlog full, dropping", zap.String("remote", c.RemoteAddr().String()))
            _ = s.Close()
        }
    }
}

type session struct {
    pmu       sync.RWMutex
    peer      transport.PeerInfo
    c         net.Conn
    initiator bool

    wmu sync.Mutex
    br  *bufio.Reader
    bw  *bufio.Writer
    establishedAt time.Time
    lastSeen      atomic.Int64
}

func (s *session) Peer() transport.PeerInfo { s.pmu.RLock(); defer s.pmu.RUnlock(); return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.pmu.Lock(); s.peer = pi; s.pmu.Unlock() }
func (s *session) TransportKind() transport.Kind { return transport.KindTCP }
func (s *session) LocalAddr() net.Addr { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr { return s.c.RemoteAddr() }
func (s *session) Initiator() bool { return s.initiator }

func (s *session) Stream(_ context.Context) (transport.Stream, error) { return s, nil }
func (s *session) Quality() transport.Quality {
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: time.Unix(0, s.lastSeen.Load())}
}
func (s *session) Close() error { return s.c.Close() }

// Stream methods: length-prefixed frames (u32 LE)
func (s *session) SendBytes(b []byte) error {
    if len(b) > transport.MaxFrameSize { return errors.New("tcp: frame too large") }
    s.wmu.Lock(); defer s.wmu.Unlock()
    var lenbuf [4]byte
    binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
    if _, err := s.bw.Write(lenbuf[:]); err != nil { return err }
    if _, err := s.bw.Write(b); err != nil { return err }
    if err := s.bw.Flush(); err != nil { return err }
    s.lastSeen.Store(time.Now().UnixNano())
    return nil
}

func (s *session) RecvBytes() ([]byte, error) {
    var lenbuf [4]byte
    if _, err := io.ReadFull(s.br, lenbuf[:]); err != nil { return nil, err }
    n := int(binary.LittleEndian.Uint32(lenbuf[:]))
    if n > transport.MaxFrameSize { return nil, errors.New("tcp: invalid frame size") }
    buf := make([]byte, n)
    if _, err := io.ReadFull(s.br, buf); err != nil { return nil, err }
    s.lastSeen.Store(time.Now().UnixNano())
    return buf, nil
}
