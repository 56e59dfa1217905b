package netstack

import (
    "context"
    "fmt"
    "net"
    "strconv"
    "strings"

    "go.uber.org/zap"

    "posemesh/pkg/transport"
    "posemesh/pkg/transport/mem"
    tquic "posemesh/pkg/transport/quic"
    ttcp "posemesh/pkg/transport/tcp"
    "posemesh/pkg/transport/udp"
)

// NewByKind constructs a Transport by string kind.
func NewByKind(kind string) (transport.Transport, error) {
    switch strings.ToLower(kind) {
    case "", "udp":
        return udp.New(), nil
    case "tcp":
        return ttcp.New(), nil
    case "quic":
        t, err := tquic.New()
        if err != nil { return nil, fmt.Errorf("quic transport: %w", err) }
        return t, nil
    case "mem", "inproc":
        return mem.New(), nil
    default:
        return nil, ErrUnknownKind(kind)
    }
}

// Basic typed error for unknown kinds
type ErrUnknownKind string
func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }

// Listen binds tr on addr and returns the listener with its bound port.
// The port is 0 for transports without one (mem).
func Listen(ctx context.Context, tr transport.Transport, addr string) (transport.Listener, int, error) {
    l, err := tr.Listen(ctx, addr)
    if err != nil { return nil, 0, fmt.Errorf("listen %s %s: %w", tr.Kind(), addr, err) }
    port := PortOf(l.Addr())
    zap.L().Info("listening", zap.String("kind", tr.Kind().String()), zap.String("addr", l.Addr().String()), zap.Int("port", port))
    return l, port, nil
}

// PortOf extracts the port of a bound address, 0 if it has none.
func PortOf(a net.Addr) int {
    switch v := a.(type) {
    case *net.UDPAddr:
        return v.Port
    case *net.TCPAddr:
        return v.Port
    case nil:
        return 0
    }
    _, p, err := net.SplitHostPort(a.String())
    if err != nil { return 0 }
    n, _ := strconv.Atoi(p)
    return n
}

// HostOf returns the host part of a remote address, or "" if it has none.
func HostOf(a net.Addr) string {
    if a == nil { return "" }
    h, _, err := net.SplitHostPort(a.String())
    if err != nil { return "" }
    return h
}
