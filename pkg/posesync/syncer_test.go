package posesync

import (
    "context"
    "sync"
    "testing"
    "time"

    "cogentcore.org/core/math32"

    "posemesh/pkg/pose"
    "posemesh/pkg/transport"
    "posemesh/pkg/wire"
)

type fakeTransport struct {
    id     transport.PeerID
    mu     sync.Mutex
    sent   [][]byte
    in     chan []byte
    counts chan int
}

func newFake(id string) *fakeTransport {
    return &fakeTransport{id: transport.PeerID(id), in: make(chan []byte, 16), counts: make(chan int, 16)}
}

func (f *fakeTransport) Publish(b []byte) { f.mu.Lock(); f.sent = append(f.sent, b); f.mu.Unlock() }
func (f *fakeTransport) Inbound() <-chan []byte { return f.in }
func (f *fakeTransport) PeerCounts() <-chan int { return f.counts }
func (f *fakeTransport) ID() transport.PeerID { return f.id }
func (f *fakeTransport) Sent() int { f.mu.Lock(); defer f.mu.Unlock(); return len(f.sent) }

type countingStore struct {
    *pose.Object
    writes int
}

func (c *countingStore) WritePose(p pose.Pose) error { c.writes++; return c.Object.WritePose(p) }

var clock = time.UnixMilli(1_700_000_000_000)

func newSyncer(t *testing.T, store pose.Store, tr Transport) *Syncer {
    t.Helper()
    s, err := New(store, tr, Options{Now: func() time.Time { return clock }})
    if err != nil { t.Fatalf("new: %v", err) }
    return s
}

func encode(t *testing.T, from string, seq uint64, pos [3]float32) []byte {
    t.Helper()
    c, _ := wire.NewCodec(wire.FormatCBOR)
    p := pose.Identity()
    p.Pos = math32.Vector3{X: pos[0], Y: pos[1], Z: pos[2]}
    b, err := c.Encode(wire.FromPose(p, from, seq, 42))
    if err != nil { t.Fatalf("encode: %v", err) }
    return b
}

func TestApplyRemotePose(t *testing.T) {
    obj := pose.NewObject(pose.Identity())
    s := newSyncer(t, obj, newFake("B"))
    s.apply(encode(t, "A", 1, [3]float32{1, 0, 0}))

    got, _ := obj.ReadPose()
    if got.Pos != (math32.Vector3{X: 1}) { t.Fatalf("pos=%v", got.Pos) }
    if ms, ok := s.Counters().LastSyncMillis(); !ok || ms != clock.UnixMilli() { t.Fatalf("last sync=%d ok=%v", ms, ok) }
    if d, ok := s.Counters().MillisSinceLastSync(clock.Add(250 * time.Millisecond)); !ok || d != 250 { t.Fatalf("since=%d ok=%v", d, ok) }
    if s.Counters().LastRemoteTsMillis() != 42 { t.Fatalf("remote ts=%d", s.Counters().LastRemoteTsMillis()) }
}

func TestReorderedSeqRejected(t *testing.T) {
    obj := pose.NewObject(pose.Identity())
    s := newSyncer(t, obj, newFake("B"))
    s.apply(encode(t, "A", 5, [3]float32{5, 0, 0}))
    s.apply(encode(t, "A", 3, [3]float32{3, 0, 0}))

    got, _ := obj.ReadPose()
    if got.Pos.X != 5 { t.Fatalf("stale seq applied: pos=%v", got.Pos) }
    if _, last := s.Snapshot(); last["A"] != 5 { t.Fatalf("watermark=%d", last["A"]) }
}

func TestDuplicateAppliedOnce(t *testing.T) {
    st := &countingStore{Object: pose.NewObject(pose.Identity())}
    s := newSyncer(t, st, newFake("B"))
    b := encode(t, "A", 7, [3]float32{1, 2, 3})
    s.apply(b)
    s.apply(b)
    if st.writes != 1 { t.Fatalf("writes=%d", st.writes) }
}

func TestWatermarksArePerSender(t *testing.T) {
    obj := pose.NewObject(pose.Identity())
    s := newSyncer(t, obj, newFake("B"))
    s.apply(encode(t, "A", 9, [3]float32{9, 0, 0}))
    s.apply(encode(t, "C", 1, [3]float32{0, 1, 0}))
    got, _ := obj.ReadPose()
    if got.Pos.Y != 1 { t.Fatalf("second sender rejected: pos=%v", got.Pos) }
}

func TestSelfEchoIgnored(t *testing.T) {
    st := &countingStore{Object: pose.NewObject(pose.Identity())}
    s := newSyncer(t, st, newFake("B"))
    s.apply(encode(t, "B", 100, [3]float32{4, 4, 4}))
    if st.writes != 0 { t.Fatalf("own message applied") }
    if _, last := s.Snapshot(); len(last) != 0 { t.Fatalf("own message advanced watermark: %v", last) }
    if _, ok := s.Counters().LastSyncMillis(); ok { t.Fatalf("own message counted as sync") }
}

func TestUndecodableDropped(t *testing.T) {
    st := &countingStore{Object: pose.NewObject(pose.Identity())}
    s := newSyncer(t, st, newFake("B"))
    s.apply([]byte{0xff, 0x00, 0x13})
    if st.writes != 0 { t.Fatalf("garbage applied") }
}

func TestStaticPoseNotRebroadcast(t *testing.T) {
    tr := newFake("A")
    s := newSyncer(t, pose.NewObject(pose.Identity()), tr)
    s.tick()
    if tr.Sent() != 1 { t.Fatalf("first tick sent %d", tr.Sent()) }
    // 20 ticks of an unchanged pose: one second at 50ms
    for i := 0; i < 20; i++ { s.tick() }
    if tr.Sent() != 1 { t.Fatalf("static pose sent %d times", tr.Sent()) }
    if seq, _ := s.Snapshot(); seq != 21 { t.Fatalf("seqOut=%d, skipped ticks must still consume a seq", seq) }
}

func TestChangeWithinEpsilonSkipped(t *testing.T) {
    obj := pose.NewObject(pose.Identity())
    tr := newFake("A")
    s := newSyncer(t, obj, tr)
    s.tick()

    _ = obj.Update(func(p *pose.Pose) { p.Pos.X += 1e-4 })
    s.tick()
    if tr.Sent() != 1 { t.Fatalf("sub-epsilon change sent") }

    _ = obj.Update(func(p *pose.Pose) { p.Pos.X += 1e-2 })
    s.tick()
    if tr.Sent() != 2 { t.Fatalf("real change not sent") }

    c, _ := wire.NewCodec(wire.FormatCBOR)
    m, err := c.Decode(tr.sent[1])
    if err != nil { t.Fatalf("decode sent: %v", err) }
    if m.InstanceID != "A" || m.Seq != 3 || m.TsMillis != uint64(clock.UnixMilli()) { t.Fatalf("sent message %+v", m) }
}

func TestAppliedPoseNotEchoed(t *testing.T) {
    obj := pose.NewObject(pose.Identity())
    tr := newFake("B")
    s := newSyncer(t, obj, tr)
    s.apply(encode(t, "A", 1, [3]float32{2, 0, 0}))
    s.tick()
    if tr.Sent() != 0 { t.Fatalf("applied pose rebroadcast") }
    if seq, _ := s.Snapshot(); seq != 0 { t.Fatalf("skipped echo tick consumed seq %d", seq) }

    _ = obj.WritePose(pose.Identity())
    s.tick()
    if tr.Sent() != 1 { t.Fatalf("local change after apply not sent") }
}

func TestPoisonedStoreSkips(t *testing.T) {
    obj := pose.NewObject(pose.Identity())
    func() {
        defer func() { _ = recover() }()
        _ = obj.Update(func(*pose.Pose) { panic("renderer crashed") })
    }()
    if !obj.Poisoned() { t.Fatalf("object not poisoned") }

    tr := newFake("B")
    s := newSyncer(t, obj, tr)
    s.tick()
    if tr.Sent() != 0 { t.Fatalf("poisoned read broadcast") }
    s.apply(encode(t, "A", 3, [3]float32{1, 1, 1}))
    if _, ok := s.Counters().LastSyncMillis(); ok { t.Fatalf("failed write counted as sync") }
    if _, last := s.Snapshot(); last["A"] != 3 { t.Fatalf("watermark not advanced on poisoned write") }
}

func TestRunTracksPeersAndStopsOnClosedInbound(t *testing.T) {
    obj := pose.NewObject(pose.Identity())
    tr := newFake("B")
    s, err := New(obj, tr, Options{Tick: time.Hour})
    if err != nil { t.Fatalf("new: %v", err) }

    tr.counts <- 3
    tr.counts <- 2
    tr.in <- encode(t, "A", 1, [3]float32{0, 0, 7})
    done := make(chan error, 1)
    go func() { done <- s.Run(context.Background()) }()

    deadline := time.Now().Add(2 * time.Second)
    for s.Counters().Peers() != 2 || func() bool { p, _ := obj.ReadPose(); return p.Pos.Z != 7 }() {
        if time.Now().After(deadline) { t.Fatalf("peers=%d", s.Counters().Peers()) }
        time.Sleep(5 * time.Millisecond)
    }
    close(tr.in)
    select {
    case err := <-done:
        if err != nil { t.Fatalf("run: %v", err) }
    case <-time.After(2 * time.Second):
        t.Fatalf("run did not return on closed inbound")
    }
}

func TestRunStopsOnCancel(t *testing.T) {
    s, _ := New(pose.NewObject(pose.Identity()), newFake("B"), Options{Tick: 5 * time.Millisecond})
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- s.Run(ctx) }()
    time.Sleep(20 * time.Millisecond)
    cancel()
    select {
    case err := <-done:
        if err != context.Canceled { t.Fatalf("run err=%v", err) }
    case <-time.After(time.Second):
        t.Fatalf("run ignored cancel")
    }
}

func TestUnknownFormat(t *testing.T) {
    if _, err := New(pose.NewObject(pose.Identity()), newFake("B"), Options{Format: "xml"}); err == nil {
        t.Fatalf("unknown format accepted")
    }
}
