package observability

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"

    "posemesh/pkg/memkv"
)

// StatsSource is anything that snapshots memkv counters.
type StatsSource interface {
    Metrics() memkv.Stats
}

type kvKey struct{ node, store string }

// kvCollector exports the counters of every watched store at scrape time.
type kvCollector struct {
    mu     sync.RWMutex
    stores map[kvKey]StatsSource
}

var (
    kvLabels = []string{"node", "store"}
    kvKeys   = prometheus.NewDesc("posemesh_kv_keys", "Live keys held by a store.", kvLabels, nil)
    kvBytes  = prometheus.NewDesc("posemesh_kv_bytes", "Value bytes held by a store.", kvLabels, nil)
    kvOps    = prometheus.NewDesc("posemesh_kv_ops_total", "Store operations by kind.", append(kvLabels, "op"), nil)

    kvWatch     = &kvCollector{stores: make(map[kvKey]StatsSource)}
    kvWatchOnce sync.Once
)

func (c *kvCollector) Describe(ch chan<- *prometheus.Desc) {
    ch <- kvKeys
    ch <- kvBytes
    ch <- kvOps
}

func (c *kvCollector) Collect(ch chan<- prometheus.Metric) {
    c.mu.RLock()
    defer c.mu.RUnlock()
    for k, src := range c.stores {
        st := src.Metrics()
        ch <- prometheus.MustNewConstMetric(kvKeys, prometheus.GaugeValue, float64(st.Keys), k.node, k.store)
        ch <- prometheus.MustNewConstMetric(kvBytes, prometheus.GaugeValue, float64(st.Bytes), k.node, k.store)
        for op, v := range map[string]uint64{
            "set": st.Sets, "get": st.Gets, "hit": st.Hits, "miss": st.Misses,
            "delete": st.Dels, "expire": st.Expired, "update": st.Updates, "reject": st.Rejected,
        } {
            ch <- prometheus.MustNewConstMetric(kvOps, prometheus.CounterValue, float64(v), k.node, k.store, op)
        }
    }
}

// WatchStore exports src under node/store labels until the returned func is
// called.
func WatchStore(node, store string, src StatsSource) (unwatch func()) {
    kvWatchOnce.Do(func() { prometheus.MustRegister(kvWatch) })
    k := kvKey{node: node, store: store}
    kvWatch.mu.Lock()
    kvWatch.stores[k] = src
    kvWatch.mu.Unlock()
    return func() {
        kvWatch.mu.Lock()
        if kvWatch.stores[k] == src { delete(kvWatch.stores, k) }
        kvWatch.mu.Unlock()
    }
}
