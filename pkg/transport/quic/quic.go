package quic

import (
    "bufio"
    "context"
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/tls"
    "crypto/x509"
    "encoding/binary"
    "errors"
    "fmt"
    "io"
    "math/big"
    "net"
    "reflect"
    "sync"
    "sync/atomic"
    "time"

    quicgo "github.com/quic-go/quic-go"

    "posemesh/pkg/transport"
)

const alpn = "posemesh"

// Transport implements QUIC-based sessions with length-prefixed frames on a
// single bidirectional stream (opened by the dialer, accepted by the listener).
// TLS only provides encryption; peers authenticate each other with the signed
// hello exchanged on the stream.
type Transport struct {
    tlsConf  *tls.Config
    quicConf *quicgo.Config
}

func New() (*Transport, error) {
    cert, err := selfSignedCert()
    if err != nil { return nil, fmt.Errorf("quic: self-signed cert: %w", err) }
    tlsConf := &tls.Config{
        Certificates: []tls.Certificate{cert},
        NextProtos:   []string{alpn},
        MinVersion:   tls.VersionTLS13,
    }
    qconf := &quicgo.Config{KeepAlivePeriod: 10 * time.Second, MaxIdleTimeout: 30 * time.Second}
    return &Transport{tlsConf: tlsConf, quicConf: qconf}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
    if err != nil { return nil, err }
    ql := &listener{l: any(l), laddr: l.Addr(), newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    lctx, cancel := context.WithCancel(ctx)
    ql.cancel = cancel
    go ql.acceptLoop(lctx)
    go func() { <-lctx.Done(); _ = ql.Close() }()
    return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
    tlsClient := &tls.Config{
        InsecureSkipVerify: true, // identity is verified by the signed hello
        NextProtos:         []string{alpn},
        MinVersion:         tls.VersionTLS13,
    }
    c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
    if err != nil { return nil, err }
    if peer.Addr == "" { peer.Addr = address }
    return &session{peer: peer, c: any(c), establishedAt: time.Now()}, nil
}

// ---- Listener ----

// The listener and connection values are held as any and driven through
// reflection so the package does not depend on whether the quic-go release
// in use exposes them as interfaces or concrete types.
type listener struct {
    l       any
    laddr   net.Addr
    newCh   chan *session
    closeCh chan struct{}
    once    sync.Once
    cancel  context.CancelFunc
}

func (l *listener) Addr() net.Addr { return l.laddr }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("quic listener closed")
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    var err error
    l.once.Do(func() {
        close(l.closeCh)
        if l.cancel != nil { l.cancel() }
        if v, ok := l.l.(interface{ Close() error }); ok { err = v.Close() }
    })
    return err
}

func (l *listener) acceptLoop(ctx context.Context) {
    for {
        outs, err := callCtx(l.l, "Accept", ctx)
        if err != nil { return }
        conn := outs.Interface()
        s := &session{c: conn, inbound: true, establishedAt: time.Now()}
        if ra := s.RemoteAddr(); ra != nil { s.peer.Addr = ra.String() }
        select {
        case l.newCh <- s:
        default:
            _ = s.Close()
        }
    }
}

// callCtx invokes obj.name(ctx) returning (value, error).
func callCtx(obj any, name string, ctx context.Context) (reflect.Value, error) {
    mv := reflect.ValueOf(obj).MethodByName(name)
    if !mv.IsValid() { return reflect.Value{}, fmt.Errorf("quic: %s not found", name) }
    outs := mv.Call([]reflect.Value{reflect.ValueOf(ctx)})
    if len(outs) != 2 { return reflect.Value{}, fmt.Errorf("quic: unexpected %s signature", name) }
    if !outs[1].IsNil() { return reflect.Value{}, outs[1].Interface().(error) }
    return outs[0], nil
}

// ---- Session/Streams ----

type session struct {
    pmu  sync.RWMutex
    peer transport.PeerInfo
    c    any

    inbound       bool
    establishedAt time.Time
    lastSeen      atomic.Int64

    mu   sync.Mutex
    ctrl *qstream
}

func (s *session) Peer() transport.PeerInfo { s.pmu.RLock(); defer s.pmu.RUnlock(); return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.pmu.Lock(); s.peer = pi; s.pmu.Unlock() }
func (s *session) TransportKind() transport.Kind { return transport.KindQUIC }
func (s *session) Initiator() bool { return !s.inbound }
func (s *session) LocalAddr() net.Addr {
    if v, ok := s.c.(interface{ LocalAddr() net.Addr }); ok { return v.LocalAddr() }
    return nil
}
func (s *session) RemoteAddr() net.Addr {
    if v, ok := s.c.(interface{ RemoteAddr() net.Addr }); ok { return v.RemoteAddr() }
    return nil
}

// Stream opens (dialer) or accepts (listener) the session's stream. The
// listener side only sees the stream once the dialer has written to it.
func (s *session) Stream(ctx context.Context) (transport.Stream, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.ctrl != nil { return s.ctrl, nil }

    method := "OpenStreamSync"
    if s.inbound { method = "AcceptStream" }
    v, err := callCtx(s.c, method, ctx)
    if err != nil { return nil, err }
    rw, ok := v.Interface().(interface{ io.Reader; io.Writer; Close() error })
    if !ok { return nil, errors.New("quic: stream does not expose io.ReadWriteCloser") }
    s.ctrl = &qstream{rw: rw, br: bufio.NewReader(rw), bw: bufio.NewWriter(rw), parent: s}
    return s.ctrl, nil
}

func (s *session) Quality() transport.Quality {
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: time.Unix(0, s.lastSeen.Load())}
}

// Close calls CloseWithError(0, "") whatever the concrete error code type is.
func (s *session) Close() error {
    mv := reflect.ValueOf(s.c).MethodByName("CloseWithError")
    if !mv.IsValid() || mv.Type().NumIn() != 2 { return errors.New("quic: CloseWithError not found") }
    outs := mv.Call([]reflect.Value{reflect.Zero(mv.Type().In(0)), reflect.ValueOf("")})
    if len(outs) == 1 && !outs[0].IsNil() { return outs[0].Interface().(error) }
    return nil
}

// qstream implements transport.Stream over a QUIC bidirectional stream with u32 LE framing.
type qstream struct {
    mu     sync.Mutex
    rw     interface{ io.Reader; io.Writer; Close() error }
    br     *bufio.Reader
    bw     *bufio.Writer
    parent *session
}

func (st *qstream) SendBytes(b []byte) error {
    if len(b) > transport.MaxFrameSize { return errors.New("quic: frame too large") }
    st.mu.Lock(); defer st.mu.Unlock()
    var lenbuf [4]byte
    binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
    if _, err := st.bw.Write(lenbuf[:]); err != nil { return err }
    if _, err := st.bw.Write(b); err != nil { return err }
    if err := st.bw.Flush(); err != nil { return err }
    st.parent.lastSeen.Store(time.Now().UnixNano())
    return nil
}

func (st *qstream) RecvBytes() ([]byte, error) {
    var lenbuf [4]byte
    if _, err := io.ReadFull(st.br, lenbuf[:]); err != nil { return nil, err }
    n := int(binary.LittleEndian.Uint32(lenbuf[:]))
    if n > transport.MaxFrameSize { return nil, errors.New("quic: invalid frame size") }
    buf := make([]byte, n)
    if _, err := io.ReadFull(st.br, buf); err != nil { return nil, err }
    st.parent.lastSeen.Store(time.Now().UnixNano())
    return buf, nil
}

func (st *qstream) Close() error { return st.rw.Close() }

// ---- Helpers ----

// selfSignedCert generates a short-lived self-signed TLS certificate for local QUIC use.
func selfSignedCert() (tls.Certificate, error) {
    priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    if err != nil { return tls.Certificate{}, err }
    tmpl := x509.Certificate{
        SerialNumber:          big.NewInt(time.Now().UnixNano()),
        NotBefore:             time.Now().Add(-time.Minute),
        NotAfter:              time.Now().Add(24 * time.Hour),
        KeyUsage:              x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
        BasicConstraintsValid: true,
        DNSNames:              []string{"localhost"},
    }
    der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
    if err != nil { return tls.Certificate{}, err }
    return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
