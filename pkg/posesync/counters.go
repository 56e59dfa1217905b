package posesync

import (
    "sync/atomic"
    "time"
)

// Counters are the values the view layer polls. All fields are atomic so
// readers never contend with the sync loop.
type Counters struct {
    peers        atomic.Int64
    lastSync     atomic.Int64 // unix ms of the last applied remote pose, 0 = never
    lastRemoteTs atomic.Uint64
}

// Peers is the last peer count reported by the overlay.
func (c *Counters) Peers() int { return int(c.peers.Load()) }

// LastSyncMillis returns the wall clock of the last successful apply.
func (c *Counters) LastSyncMillis() (int64, bool) {
    v := c.lastSync.Load()
    return v, v != 0
}

// MillisSinceLastSync returns how long ago a remote pose was last applied,
// false when none has been applied yet.
func (c *Counters) MillisSinceLastSync(now time.Time) (int64, bool) {
    v := c.lastSync.Load()
    if v == 0 { return 0, false }
    d := now.UnixMilli() - v
    if d < 0 { d = 0 }
    return d, true
}

// LastRemoteTsMillis is the sender clock carried by the last applied
// message. It is shown to users only and never used for merging.
func (c *Counters) LastRemoteTsMillis() uint64 { return c.lastRemoteTs.Load() }
