package transport

import (
    "context"
    "net"
    "time"
)

// Kind identifies transport/link type for policy decisions.
type Kind int

const (
    KindUnknown Kind = iota
    KindQUIC
    KindTCP
    KindUDP
    KindMem
)

func (k Kind) String() string {
    switch k {
    case KindQUIC:
        return "quic"
    case KindTCP:
        return "tcp"
    case KindUDP:
        return "udp"
    case KindMem:
        return "mem"
    default:
        return "unknown"
    }
}

// PeerID is an opaque stable peer identity (canonical form pk:<alg>:<b64url(pub)>).
type PeerID string

// PeerInfo bundles peer identity and addressing hints.
type PeerInfo struct {
    ID   PeerID
    Addr string // transport-dependent address string
}

// Quality captures link metrics used by the manager to rank sessions.
type Quality struct {
    RTT           time.Duration
    EstablishedAt time.Time
    LastSeen      time.Time
}

// Stream is a bidirectional frame stream.
// Exactly one reader and one writer goroutine are expected.
type Stream interface {
    // SendBytes sends one frame as opaque bytes.
    SendBytes([]byte) error
    // RecvBytes receives the next frame. It returns an error once the stream is closed.
    RecvBytes() ([]byte, error)
    Close() error
}

// Session represents a connection to a peer carrying a single frame stream.
type Session interface {
    Peer() PeerInfo
    SetPeer(PeerInfo)
    TransportKind() Kind
    LocalAddr() net.Addr
    RemoteAddr() net.Addr

    // Initiator reports whether the local side dialed this session.
    Initiator() bool

    // Stream returns the session's frame stream, opening it on first use.
    // The dialer opens; the listener side accepts.
    Stream(ctx context.Context) (Stream, error)

    // Quality snapshot for ranking/monitoring.
    Quality() Quality

    // Close closes the entire session.
    Close() error
}

// Listener accepts inbound sessions.
type Listener interface {
    // Accept blocks until an inbound session is available or ctx is done.
    Accept(ctx context.Context) (Session, error)
    // Addr returns the local listening address.
    Addr() net.Addr
    // Close stops the listener and unblocks Accept.
    Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
    Kind() Kind
    // Listen starts accepting inbound sessions on address (transport-specific format).
    Listen(ctx context.Context, address string) (Listener, error)
    // Dial creates an outbound session to a peer/address.
    Dial(ctx context.Context, address string, peer PeerInfo) (Session, error)
}

// MaxFrameSize bounds a single frame on every transport.
const MaxFrameSize = 1 << 20
