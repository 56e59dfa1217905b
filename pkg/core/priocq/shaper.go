package priocq

import (
    "sync"
    "time"
)

// TokenBucket limits a link to rate bytes per second with bursts up to capacity.
type TokenBucket struct {
    mu       sync.Mutex
    capacity int64
    tokens   int64
    rate     int64
    last     time.Time
    now      func() time.Time
}

func NewTokenBucket(ratePerSec, capacity int64) *TokenBucket {
    if capacity <= 0 { capacity = ratePerSec }
    return &TokenBucket{capacity: capacity, tokens: capacity, rate: ratePerSec, last: time.Now(), now: time.Now}
}

// Allow tries to consume n tokens; if not enough, returns how long to wait.
// A request larger than capacity is allowed once the bucket is full.
func (b *TokenBucket) Allow(n int64) (ok bool, wait time.Duration) {
    b.mu.Lock(); defer b.mu.Unlock()
    now := b.now()
    if dt := now.Sub(b.last); dt > 0 {
        add := (b.rate * dt.Nanoseconds()) / int64(time.Second)
        if add > 0 {
            b.tokens += add
            if b.tokens > b.capacity { b.tokens = b.capacity }
            b.last = now
        }
    }
    if n > b.capacity { n = b.capacity }
    if b.tokens >= n {
        b.tokens -= n
        return true, 0
    }
    need := n - b.tokens
    return false, time.Duration((need * int64(time.Second)) / b.rate)
}
