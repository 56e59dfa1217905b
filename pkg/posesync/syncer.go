// Package posesync keeps the local pose store in step with the overlay:
// it broadcasts local changes on a tick and applies remote updates with
// per-sender sequence filtering and last-writer-wins merge.
package posesync

import (
    "context"
    "errors"
    "time"

    "go.uber.org/zap"

    "posemesh/pkg/observability"
    "posemesh/pkg/pose"
    "posemesh/pkg/transport"
    "posemesh/pkg/wire"
)

// Transport is the overlay as the sync loop sees it. *mesh.Node implements it.
type Transport interface {
    Publish([]byte)
    Inbound() <-chan []byte
    PeerCounts() <-chan int
    ID() transport.PeerID
}

type Options struct {
    Tick     time.Duration // default 50ms
    Epsilon  float32       // 0 selects 1e-3; config rejects a zero epsilon
    Format   wire.Format   // default cbor
    Counters *Counters     // shared with the view layer; allocated when nil
    Now      func() time.Time
}

// State is owned by the Run goroutine.
type State struct {
    lastSeq       map[string]uint64
    lastBroadcast *pose.Pose
    lastApplied   *pose.Pose
    seqOut        uint64
}

type Syncer struct {
    store    pose.Store
    tr       Transport
    codec    *wire.Codec
    opts     Options
    self     string
    counters *Counters
    st       State
}

// New builds a Syncer; it fails only on an unknown wire format.
func New(store pose.Store, tr Transport, opts Options) (*Syncer, error) {
    if opts.Tick <= 0 { opts.Tick = 50 * time.Millisecond }
    if opts.Epsilon <= 0 { opts.Epsilon = 1e-3 }
    if opts.Now == nil { opts.Now = time.Now }
    if opts.Counters == nil { opts.Counters = &Counters{} }
    c, err := wire.NewCodec(opts.Format)
    if err != nil { return nil, err }
    return &Syncer{
        store:    store,
        tr:       tr,
        codec:    c,
        opts:     opts,
        self:     string(tr.ID()),
        counters: opts.Counters,
    }, nil
}

func (s *Syncer) Counters() *Counters { return s.counters }

// Run services the tick, inbound payloads and peer counts one event at a
// time until ctx is done or the inbound stream closes.
func (s *Syncer) Run(ctx context.Context) error {
    ticker := time.NewTicker(s.opts.Tick)
    defer ticker.Stop()
    inbound, counts := s.tr.Inbound(), s.tr.PeerCounts()
    zap.L().Info("pose sync running",
        zap.String("self", s.self), zap.Duration("tick", s.opts.Tick), zap.String("format", string(s.codec.Format())))
    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-ticker.C:
            s.tick()
        case b, ok := <-inbound:
            if !ok { return nil }
            s.apply(b)
        case n, ok := <-counts:
            if !ok { counts = nil; continue }
            s.counters.peers.Store(int64(n))
            observability.SetPeers(n)
        }
    }
}

// tick runs the broadcast duty once.
func (s *Syncer) tick() {
    cur, err := s.store.ReadPose()
    if err != nil {
        s.storeFailed("read", err)
        return
    }
    // a pose that only mirrors what we just applied is not ours to rebroadcast
    if s.st.lastApplied != nil && pose.Equal(cur, *s.st.lastApplied) {
        observability.RecordSkippedTick()
        return
    }
    s.st.seqOut++
    msg := wire.FromPose(cur, s.self, s.st.seqOut, uint64(s.opts.Now().UnixMilli()))
    if s.st.lastBroadcast != nil && !pose.Changed(*s.st.lastBroadcast, cur, s.opts.Epsilon) {
        observability.RecordSkippedTick()
        return
    }
    b, err := s.codec.Encode(msg)
    if err != nil {
        zap.L().Warn("encode pose", zap.Error(err))
        return
    }
    s.tr.Publish(b)
    s.st.lastBroadcast = &cur
    observability.RecordBroadcast()
    zap.L().Debug("pose broadcast", zap.Uint64("seq", msg.Seq),
        zap.Float32("x", cur.Pos.X), zap.Float32("y", cur.Pos.Y), zap.Float32("z", cur.Pos.Z))
}

// apply runs the apply duty for one inbound payload.
func (s *Syncer) apply(b []byte) {
    msg, err := s.codec.Decode(b)
    if err != nil {
        zap.L().Debug("dropping undecodable pose", zap.Error(err))
        observability.RecordDrop(observability.DropDecode)
        return
    }
    if msg.InstanceID == s.self {
        observability.RecordDrop(observability.DropSelfEcho)
        return
    }
    if prev, ok := s.st.lastSeq[msg.InstanceID]; ok && msg.Seq <= prev {
        zap.L().Debug("ignoring stale pose", zap.String("from", msg.InstanceID), zap.Uint64("prev", prev), zap.Uint64("seq", msg.Seq))
        observability.RecordDrop(observability.DropStale)
        return
    }
    if s.st.lastSeq == nil { s.st.lastSeq = make(map[string]uint64) }
    s.st.lastSeq[msg.InstanceID] = msg.Seq

    p := msg.Pose()
    if err := s.store.WritePose(p); err != nil {
        s.storeFailed("write", err)
        return
    }
    s.st.lastApplied = &p
    now := s.opts.Now().UnixMilli()
    s.counters.lastSync.Store(now)
    s.counters.lastRemoteTs.Store(msg.TsMillis)
    observability.RecordApply(now)
    zap.L().Debug("pose applied", zap.String("from", msg.InstanceID), zap.Uint64("seq", msg.Seq), zap.Uint64("ts", msg.TsMillis))
}

func (s *Syncer) storeFailed(op string, err error) {
    if errors.Is(err, pose.ErrLockPoisoned) {
        zap.L().Warn("pose store poisoned, skipping", zap.String("op", op), zap.Error(err))
        observability.RecordDrop(observability.DropPoisoned)
        return
    }
    zap.L().Warn("pose store failed", zap.String("op", op), zap.Error(err))
}

// Snapshot exposes the loop state for tests and diagnostics. Call it only
// from the goroutine running Run or after Run returned.
func (s *Syncer) Snapshot() (seqOut uint64, lastSeq map[string]uint64) {
    out := make(map[string]uint64, len(s.st.lastSeq))
    for k, v := range s.st.lastSeq { out[k] = v }
    return s.st.seqOut, out
}
