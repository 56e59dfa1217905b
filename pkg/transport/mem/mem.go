package mem

import (
    "bufio"
    "context"
    "encoding/binary"
    "errors"
    "fmt"
    "io"
    "net"
    "sync"
    "sync/atomic"
    "time"

    "posemesh/pkg/transport"
)

// Transport is an in-process transport using net.Pipe. Nodes sharing one
// Transport value can reach each other by listener name; tests use it to run
// several overlay nodes in a single process.
type Transport struct {
    mu        sync.Mutex
    listeners map[string]*listener
    seq       atomic.Uint64
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
    t.mu.Lock(); defer t.mu.Unlock()
    if name == "" { name = fmt.Sprintf("mem-%d", t.seq.Add(1)) }
    if _, ok := t.listeners[name]; ok {
        return nil, errors.New("mem: listener already exists")
    }
    l := &listener{name: name, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    l.onClose = func() { t.mu.Lock(); if t.listeners[name] == l { delete(t.listeners, name) }; t.mu.Unlock() }
    t.listeners[name] = l
    go func() {
        select {
        case <-ctx.Done():
        case <-l.closeCh:
        }
        _ = l.Close()
    }()
    return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string, peer transport.PeerInfo) (transport.Session, error) {
    t.mu.Lock(); l := t.listeners[name]; t.mu.Unlock()
    if l == nil { return nil, fmt.Errorf("mem: no such listener %q", name) }
    c1, c2 := net.Pipe()
    dialer := memAddr(fmt.Sprintf("mem-dial-%d", t.seq.Add(1)))
    now := time.Now()
    srv := &session{kind: transport.KindMem, c: c1, local: memAddr(name), remote: dialer, establishedAt: now}
    srv.peer = transport.PeerInfo{Addr: dialer.String()}
    cli := &session{kind: transport.KindMem, c: c2, local: dialer, remote: memAddr(name), initiator: true, establishedAt: now}
    cli.peer = transport.PeerInfo{ID: peer.ID, Addr: name}
    select {
    case l.newCh <- srv:
    case <-l.closeCh:
        _ = c1.Close(); _ = c2.Close()
        return nil, errors.New("mem: listener closed")
    case <-ctx.Done():
        _ = c1.Close(); _ = c2.Close()
        return nil, ctx.Err()
    }
    return cli, nil
}

type listener struct {
    name    string
    newCh   chan *session
    closeCh chan struct{}
    once    sync.Once
    onClose func()
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("mem listener closed")
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    l.once.Do(func() {
        close(l.closeCh)
        if l.onClose != nil { l.onClose() }
    })
    return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type session struct {
    pmu       sync.RWMutex
    peer      transport.PeerInfo
    kind      transport.Kind
    c         net.Conn
    local     memAddr
    remote    memAddr
    initiator bool

    wmu sync.Mutex
    br  *bufio.Reader
    bw  *bufio.Writer
    establishedAt time.Time
    lastSeen      atomic.Int64
}

func (s *session) Peer() transport.PeerInfo { s.pmu.RLock(); defer s.pmu.RUnlock(); return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.pmu.Lock(); s.peer = pi; s.pmu.Unlock() }
func (s *session) TransportKind() transport.Kind { return s.kind }
func (s *session) LocalAddr() net.Addr { return s.local }
func (s *session) RemoteAddr() net.Addr { return s.remote }
func (s *session) Initiator() bool { return s.initiator }

func (s *session) Stream(_ context.Context) (transport.Stream, error) {
    s.wmu.Lock()
    if s.br == nil { s.br = bufio.NewReader(s.c); s.bw = bufio.NewWriter(s.c) }
    s.wmu.Unlock()
    return s, nil
}

func (s *session) Quality() transport.Quality {
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: time.Unix(0, s.lastSeen.Load())}
}

func (s *session) Close() error { return s.c.Close() }

// Stream methods: length-prefixed frames (u32 LE)
func (s *session) SendBytes(b []byte) error {
    if len(b) > transport.MaxFrameSize { return errors.New("mem: frame too large") }
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
    if n > transport.MaxFrameSize { return nil, errors.New("mem: invalid frame size") }
    buf := make([]byte, n)
    if _, err := io.ReadFull(s.br, buf); err != nil { return nil, err }
    s.lastSeen.Store(time.Now().UnixNano())
    return buf, nil
}
