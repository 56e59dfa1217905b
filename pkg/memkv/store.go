package memkv

import (
    "container/heap"
    "sync"
    "sync/atomic"
    "time"

    "github.com/cespare/xxhash/v2"
)

type Options struct {
    Shards   int    // number of shards (default 64)
    MaxBytes uint64 // cap on the sum of value sizes (0 = unlimited)
    // OnExpire is called whenever a key is removed because its TTL elapsed,
    // either by the expirer or lazily by a read. It may run with a shard lock
    // held and must not call back into the Store.
    OnExpire func(key string, val []byte)
}

func (o Options) withDefaults() Options {
    if o.Shards <= 0 { o.Shards = 64 }
    return o
}

type Store struct {
    opts   Options
    shards []shard
    expq   expQueue
    wake   chan struct{}
    closed chan struct{}
    once   sync.Once
    wg     sync.WaitGroup
    nowFn  func() time.Time

    mKeys    atomic.Uint64
    mBytes   atomic.Uint64
    mSets    atomic.Uint64
    mGets    atomic.Uint64
    mHits    atomic.Uint64
    mMisses  atomic.Uint64
    mDels    atomic.Uint64
    mExpired atomic.Uint64
    mUpdates atomic.Uint64
    mReject  atomic.Uint64
}

type shard struct {
    mu sync.RWMutex
    m  map[string]*entry
}

type entry struct {
    val      []byte
    expireAt int64 // unix nano; 0 = never
}

func New(opts Options) *Store {
    opts = opts.withDefaults()
    s := &Store{
        opts:   opts,
        shards: make([]shard, opts.Shards),
        wake:   make(chan struct{}, 1),
        closed: make(chan struct{}),
        nowFn:  time.Now,
    }
    for i := range s.shards { s.shards[i].m = make(map[string]*entry) }
    s.wg.Add(1)
    go s.expirer()
    return s
}

// Close stops the expirer. The store stays readable afterwards.
func (s *Store) Close() {
    s.once.Do(func() { close(s.closed) })
    s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
    return &s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

func (s *Store) tryAddBytes(delta uint64) bool {
    if s.opts.MaxBytes == 0 { s.mBytes.Add(delta); return true }
    for {
        cur := s.mBytes.Load()
        if cur+delta > s.opts.MaxBytes { s.mReject.Add(1); return false }
        if s.mBytes.CompareAndSwap(cur, cur+delta) { return true }
    }
}

func (s *Store) subBytes(n int) {
    if n <= 0 { return }
    for {
        cur := s.mBytes.Load()
        next := uint64(0)
        if uint64(n) < cur { next = cur - uint64(n) }
        if s.mBytes.CompareAndSwap(cur, next) { return }
    }
}

// removeLocked drops key from sh; caller holds sh.mu.
func (s *Store) removeLocked(sh *shard, key string, e *entry) {
    delete(sh.m, key)
    s.mKeys.Add(^uint64(0))
    s.subBytes(len(e.val))
}

// expireLocked drops an elapsed key and reports it; caller holds sh.mu.
func (s *Store) expireLocked(sh *shard, key string, e *entry) {
    s.removeLocked(sh, key, e)
    s.mExpired.Add(1)
    if s.opts.OnExpire != nil { s.opts.OnExpire(key, e.val) }
}

func (s *Store) expiredAt(e *entry, now int64) bool { return e.expireAt != 0 && e.expireAt <= now }

// Set stores a copy of val. It returns true when the key was created rather
// than overwritten. A write exceeding MaxBytes is rejected and returns false.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
    now := s.nowFn()
    expAt := int64(0)
    if ttl > 0 { expAt = now.Add(ttl).UnixNano() }
    v := append([]byte(nil), val...)

    sh := s.shardFor(key)
    sh.mu.Lock()
    prev, existed := sh.m[key]
    if existed && s.expiredAt(prev, now.UnixNano()) {
        s.expireLocked(sh, key, prev)
        prev, existed = nil, false
    }
    oldLen := 0
    if existed { oldLen = len(prev.val) }
    delta := len(v) - oldLen
    if delta > 0 && !s.tryAddBytes(uint64(delta)) {
        sh.mu.Unlock()
        return false
    }
    sh.m[key] = &entry{val: v, expireAt: expAt}
    if !existed { s.mKeys.Add(1) } else if delta < 0 { s.subBytes(-delta) }
    s.mSets.Add(1)
    sh.mu.Unlock()

    if expAt != 0 { s.enqueueExpire(key, expAt) }
    return !existed
}

// SetNX stores val only when key is absent (or expired). It reports whether
// the value was stored.
func (s *Store) SetNX(key string, val []byte, ttl time.Duration) bool {
    sh := s.shardFor(key)
    now := s.nowFn()
    sh.mu.Lock()
    if e, ok := sh.m[key]; ok {
        if !s.expiredAt(e, now.UnixNano()) { sh.mu.Unlock(); return false }
        s.expireLocked(sh, key, e)
    }
    v := append([]byte(nil), val...)
    if !s.tryAddBytes(uint64(len(v))) { sh.mu.Unlock(); return false }
    expAt := int64(0)
    if ttl > 0 { expAt = now.Add(ttl).UnixNano() }
    sh.m[key] = &entry{val: v, expireAt: expAt}
    s.mKeys.Add(1)
    s.mSets.Add(1)
    sh.mu.Unlock()
    if expAt != 0 { s.enqueueExpire(key, expAt) }
    return true
}

// Get returns a copy of the value.
func (s *Store) Get(key string) ([]byte, bool) {
    s.mGets.Add(1)
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    if !ok {
        sh.mu.RUnlock()
        s.mMisses.Add(1)
        return nil, false
    }
    if s.expiredAt(e, s.nowFn().UnixNano()) {
        sh.mu.RUnlock()
        s.lazyExpire(sh, key)
        s.mMisses.Add(1)
        return nil, false
    }
    out := append([]byte(nil), e.val...)
    sh.mu.RUnlock()
    s.mHits.Add(1)
    return out, true
}

func (s *Store) lazyExpire(sh *shard, key string) {
    sh.mu.Lock()
    if e, ok := sh.m[key]; ok && s.expiredAt(e, s.nowFn().UnixNano()) {
        s.expireLocked(sh, key, e)
    }
    sh.mu.Unlock()
}

// GetDel returns the value and removes the key atomically.
func (s *Store) GetDel(key string) ([]byte, bool) {
    s.mGets.Add(1)
    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if !ok { s.mMisses.Add(1); return nil, false }
    if s.expiredAt(e, s.nowFn().UnixNano()) {
        s.expireLocked(sh, key, e)
        s.mMisses.Add(1)
        return nil, false
    }
    s.removeLocked(sh, key, e)
    s.mDels.Add(1)
    s.mHits.Add(1)
    return e.val, true
}

// Update applies fn to the current value if the key exists and is live.
func (s *Store) Update(key string, fn func(old []byte) []byte) bool {
    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if !ok { return false }
    if s.expiredAt(e, s.nowFn().UnixNano()) {
        s.expireLocked(sh, key, e)
        return false
    }
    nv := append([]byte(nil), fn(e.val)...)
    delta := len(nv) - len(e.val)
    if delta > 0 && !s.tryAddBytes(uint64(delta)) { return false }
    if delta < 0 { s.subBytes(-delta) }
    e.val = nv
    s.mUpdates.Add(1)
    return true
}

func (s *Store) Exists(key string) bool {
    _, ok := s.TTL(key)
    return ok
}

func (s *Store) Delete(key string) bool {
    sh := s.shardFor(key)
    sh.mu.Lock()
    e, ok := sh.m[key]
    if ok { s.removeLocked(sh, key, e); s.mDels.Add(1) }
    sh.mu.Unlock()
    return ok
}

// Expire sets a new TTL. ttl <= 0 deletes the key. Returns false if the key is missing.
func (s *Store) Expire(key string, ttl time.Duration) bool {
    if ttl <= 0 { return s.Delete(key) }
    now := s.nowFn()
    exp := now.Add(ttl).UnixNano()
    sh := s.shardFor(key)
    sh.mu.Lock()
    e, ok := sh.m[key]
    if !ok { sh.mu.Unlock(); return false }
    if s.expiredAt(e, now.UnixNano()) {
        s.expireLocked(sh, key, e)
        sh.mu.Unlock()
        return false
    }
    e.expireAt = exp
    sh.mu.Unlock()
    s.enqueueExpire(key, exp)
    return true
}

// TTL returns the remaining lifetime. A key without TTL yields (0, true).
func (s *Store) TTL(key string) (time.Duration, bool) {
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    if !ok { sh.mu.RUnlock(); return 0, false }
    exp := e.expireAt
    sh.mu.RUnlock()
    if exp == 0 { return 0, true }
    now := s.nowFn().UnixNano()
    if exp <= now {
        s.lazyExpire(sh, key)
        return 0, false
    }
    return time.Duration(exp - now), true
}

// Keys returns a snapshot of live keys in no particular order.
func (s *Store) Keys() []string {
    now := s.nowFn().UnixNano()
    var out []string
    for i := range s.shards {
        sh := &s.shards[i]
        sh.mu.RLock()
        for k, e := range sh.m {
            if !s.expiredAt(e, now) { out = append(out, k) }
        }
        sh.mu.RUnlock()
    }
    return out
}

// Stats is a point-in-time snapshot of the store counters.
type Stats struct {
    Keys    uint64
    Bytes   uint64
    Sets    uint64
    Gets    uint64
    Hits    uint64
    Misses  uint64
    Dels    uint64
    Expired uint64
    Updates uint64
    // Rejected counts writes refused by the MaxBytes cap.
    Rejected uint64
}

func (s *Store) Metrics() Stats {
    return Stats{
        Keys:     s.mKeys.Load(),
        Bytes:    s.mBytes.Load(),
        Sets:     s.mSets.Load(),
        Gets:     s.mGets.Load(),
        Hits:     s.mHits.Load(),
        Misses:   s.mMisses.Load(),
        Dels:     s.mDels.Load(),
        Expired:  s.mExpired.Load(),
        Updates:  s.mUpdates.Load(),
        Rejected: s.mReject.Load(),
    }
}

// ---- expiry heap ----

type expItem struct {
    when int64
    key  string
}

type expQueue struct {
    mu    sync.Mutex
    items []expItem
}

func (q *expQueue) Len() int           { return len(q.items) }
func (q *expQueue) Less(i, j int) bool { return q.items[i].when < q.items[j].when }
func (q *expQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *expQueue) Push(x any)         { q.items = append(q.items, x.(expItem)) }
func (q *expQueue) Pop() any {
    n := len(q.items)
    it := q.items[n-1]
    q.items = q.items[:n-1]
    return it
}

func (s *Store) enqueueExpire(key string, when int64) {
    s.expq.mu.Lock()
    heap.Push(&s.expq, expItem{when: when, key: key})
    s.expq.mu.Unlock()
    select {
    case s.wake <- struct{}{}:
    default:
    }
}

func (s *Store) expirer() {
    defer s.wg.Done()
    timer := time.NewTimer(time.Hour)
    defer timer.Stop()
    for {
        s.expq.mu.Lock()
        var wait time.Duration = -1
        var due []expItem
        now := s.nowFn().UnixNano()
        for s.expq.Len() > 0 {
            top := s.expq.items[0]
            if top.when > now { wait = time.Duration(top.when - now); break }
            due = append(due, heap.Pop(&s.expq).(expItem))
        }
        s.expq.mu.Unlock()

        for _, it := range due { s.expireKey(it.key) }
        if len(due) > 0 { continue }

        if !timer.Stop() {
            select {
            case <-timer.C:
            default:
            }
        }
        if wait < 0 { wait = time.Hour }
        timer.Reset(wait)
        select {
        case <-s.closed:
            return
        case <-s.wake:
        case <-timer.C:
        }
    }
}

// expireKey removes key if its current deadline has passed. Stale heap items
// left behind by Expire refreshes find a later deadline and are ignored.
func (s *Store) expireKey(key string) {
    sh := s.shardFor(key)
    sh.mu.Lock()
    e, ok := sh.m[key]
    if !ok || !s.expiredAt(e, s.nowFn().UnixNano()) {
        sh.mu.Unlock()
        return
    }
    s.expireLocked(sh, key, e)
    sh.mu.Unlock()
}
