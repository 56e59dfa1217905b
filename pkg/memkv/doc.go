// Package memkv is a sharded in-memory key/value store with TTLs.
//
// The overlay uses it for the seen-message cache (flood dedup) and the
// discovery liveness tracker, where OnExpire reports peers that stopped
// answering browse rounds.
//
// Properties:
//   - sharded map with RW mutexes, shard picked by xxhash
//   - background expirer driven by a deadline heap
//   - atomic counters, readable without blocking writers
//   - optional cap on the total value bytes (Options.MaxBytes)
package memkv
