package netstack

import (
    "context"

    "go.uber.org/zap"

    "posemesh/pkg/transport"
)

// AcceptLoop hands every inbound session to handle until ctx ends or the
// listener fails. handle must not block.
func AcceptLoop(ctx context.Context, l transport.Listener, handle func(transport.Session)) {
    for {
        s, err := l.Accept(ctx)
        if err != nil {
            select {
            case <-ctx.Done():
                return
            default:
            }
            zap.L().Warn("accept failed", zap.String("addr", l.Addr().String()), zap.Error(err))
            return
        }
        zap.L().Debug("inbound session", zap.String("kind", s.TransportKind().String()), zap.Stringer("raddr", s.RemoteAddr()))
        handle(s)
    }
}
