package netstack

import (
    "context"
    "errors"
    "fmt"
    "time"

    "go.uber.org/zap"

    "posemesh/pkg/transport"
)

var ErrNoAddress = errors.New("no address to dial")

// Greet runs on a freshly dialed session before DialAny accepts it. An error
// makes DialAny close the session and move on to the next address.
type Greet func(transport.Session) error

// DialAny tries addrs in order and returns the first session that comes up
// and, when greet is set, passes it. Datagram dials succeed without any
// packet exchanged, so greet is where an unreachable address shows. Each
// attempt is bounded by perAttempt; greet bounds itself. Failures are not
// retried: discovery will report the peer again if it is still around.
func DialAny(ctx context.Context, tr transport.Transport, addrs []string, peer transport.PeerInfo, perAttempt time.Duration, greet Greet) (transport.Session, error) {
    if len(addrs) == 0 { return nil, ErrNoAddress }
    if perAttempt <= 0 { perAttempt = 5 * time.Second }
    var errs []error
    for _, a := range addrs {
        dctx, cancel := context.WithTimeout(ctx, perAttempt)
        sess, err := tr.Dial(dctx, a, transport.PeerInfo{ID: peer.ID, Addr: a})
        cancel()
        if err == nil && greet != nil {
            if err = greet(sess); err != nil { _ = sess.Close() }
        }
        if err == nil {
            zap.L().Debug("dialed", zap.String("kind", tr.Kind().String()), zap.String("addr", a), zap.String("peer", string(peer.ID)))
            return sess, nil
        }
        errs = append(errs, fmt.Errorf("%s: %w", a, err))
        if ctx.Err() != nil { break }
    }
    return nil, errors.Join(errs...)
}

// Dedup returns addrs without repeats, keeping first-seen order.
func Dedup(addrs ...[]string) []string {
    seen := make(map[string]struct{})
    var out []string
    for _, list := range addrs {
        for _, a := range list {
            if a == "" { continue }
            if _, ok := seen[a]; ok { continue }
            seen[a] = struct{}{}
            out = append(out, a)
        }
    }
    return out
}
