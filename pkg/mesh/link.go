package mesh

import (
    "sync"
    "time"

    "go.uber.org/zap"

    "posemesh/pkg/core/priocq"
    "posemesh/pkg/transport"
)

// link is an authenticated session with its outbox. The event loop pushes
// frames; a writer goroutine drains them so a slow peer never stalls the loop.
type link struct {
    s      transport.Session
    st     transport.Stream
    id     transport.PeerID
    q      *priocq.Queue
    shaper *priocq.TokenBucket
    stop   chan struct{}
    once   sync.Once
}

func newLink(s transport.Session, st transport.Stream, id transport.PeerID, queue int, rate int64) *link {
    l := &link{s: s, st: st, id: id, q: priocq.New(queue), stop: make(chan struct{})}
    if rate > 0 { l.shaper = priocq.NewTokenBucket(rate, 4*rate) }
    return l
}

// send queues b and reports whether it was accepted.
func (l *link) send(b []byte) bool { return l.q.Push(priocq.Item{Bytes: b, Class: priocq.Data}) }

func (l *link) writeLoop(wg *sync.WaitGroup) {
    defer wg.Done()
    for {
        it, ok := l.q.Pop(l.stop)
        if !ok { return }
        if l.shaper != nil && !l.wait(int64(len(it.Bytes))) { return }
        if err := l.st.SendBytes(it.Bytes); err != nil {
            zap.L().Debug("link send failed", zap.String("peer", l.id.Short()), zap.Error(err))
            _ = l.s.Close()
            return
        }
    }
}

func (l *link) wait(n int64) bool {
    for {
        ok, d := l.shaper.Allow(n)
        if ok { return true }
        t := time.NewTimer(d)
        select {
        case <-l.stop:
            t.Stop()
            return false
        case <-t.C:
        }
    }
}

func (l *link) close() {
    l.once.Do(func() {
        close(l.stop)
        l.q.Close()
    })
}
