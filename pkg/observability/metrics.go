package observability

import (
    "net/http"
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons reported by the sync loop.
const (
    DropDecode   = "decode"
    DropSelfEcho = "self_echo"
    DropStale    = "stale"
    DropPoisoned = "poisoned"
)

var (
    registerOnce sync.Once

    syncPeers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "posemesh",
        Subsystem: "sync",
        Name:      "peers",
        Help:      "Peers currently discovered on the topic.",
    })
    syncLastApply = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "posemesh",
        Subsystem: "sync",
        Name:      "last_apply_unix_ms",
        Help:      "Wall clock of the last successfully applied remote pose.",
    })
    syncBroadcasts = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "posemesh",
        Subsystem: "sync",
        Name:      "broadcasts_total",
        Help:      "Pose messages handed to the overlay.",
    })
    syncSkipped = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "posemesh",
        Subsystem: "sync",
        Name:      "skipped_ticks_total",
        Help:      "Broadcast ticks skipped because the pose did not change.",
    })
    syncApplied = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "posemesh",
        Subsystem: "sync",
        Name:      "applied_total",
        Help:      "Remote pose messages applied to the local object.",
    })
    syncDropped = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "posemesh",
            Subsystem: "sync",
            Name:      "dropped_total",
            Help:      "Inbound pose messages dropped, by reason.",
        },
        []string{"reason"},
    )
    meshFrames = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "posemesh",
            Subsystem: "mesh",
            Name:      "frames_total",
            Help:      "Overlay frames by direction (in, out, forward, drop).",
        },
        []string{"dir"},
    )
)

func RegisterMetrics() {
    registerOnce.Do(func() {
        prometheus.MustRegister(syncPeers, syncLastApply, syncBroadcasts, syncSkipped, syncApplied, syncDropped, meshFrames)
    })
}

// MetricsHandler returns the HTTP handler serving the default registry.
func MetricsHandler() http.Handler {
    RegisterMetrics()
    return promhttp.Handler()
}

func SetPeers(n int) {
    RegisterMetrics()
    syncPeers.Set(float64(n))
}

func RecordApply(unixMs int64) {
    RegisterMetrics()
    syncApplied.Inc()
    syncLastApply.Set(float64(unixMs))
}

func RecordBroadcast() {
    RegisterMetrics()
    syncBroadcasts.Inc()
}

func RecordSkippedTick() {
    RegisterMetrics()
    syncSkipped.Inc()
}

func RecordDrop(reason string) {
    RegisterMetrics()
    syncDropped.WithLabelValues(reason).Inc()
}

func RecordFrame(dir string) {
    RegisterMetrics()
    meshFrames.WithLabelValues(dir).Inc()
}
