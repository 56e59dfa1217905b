package config

import (
    "fmt"
    "strings"
    "time"
)

// TransportConfig describes the overlay link.
// Example YAML:
// transport:
//   kind: tcp
//   listen: "0.0.0.0:7777"
type TransportConfig struct {
    Kind   string `mapstructure:"kind"`   // udp, tcp, quic, mem
    Listen string `mapstructure:"listen"` // host:port; port 0 picks a free one
}

// DiscoveryConfig controls mDNS announce/browse.
type DiscoveryConfig struct {
    Enabled        bool          `mapstructure:"enabled"`
    Service        string        `mapstructure:"service"` // DNS-SD service type, e.g. _posemesh._udp
    Domain         string        `mapstructure:"domain"`
    BrowseInterval time.Duration `mapstructure:"browse_interval"`
    PeerTTL        time.Duration `mapstructure:"peer_ttl"` // liveness timeout before a peer expires
}

// OverlayConfig tunes the publish/subscribe layer.
type OverlayConfig struct {
    QueueSize        int           `mapstructure:"queue_size"`
    MaxHops          int           `mapstructure:"max_hops"`
    SeenTTL          time.Duration `mapstructure:"seen_ttl"`
    SeenMaxBytes     uint64        `mapstructure:"seen_max_bytes"` // cap on the duplicate filter; 0 = unlimited
    VerifySignatures bool          `mapstructure:"verify_signatures"`
    LinkRate         int64         `mapstructure:"link_rate_bytes"` // per-link send cap in bytes/s; 0 = unlimited
}

// SyncConfig tunes the pose sync loop.
type SyncConfig struct {
    Tick    time.Duration `mapstructure:"tick"`
    Epsilon float64       `mapstructure:"epsilon"`
    Format  string        `mapstructure:"format"` // cbor, json, proto
}

func (t *TransportConfig) validate() error {
    t.Kind = strings.ToLower(strings.TrimSpace(t.Kind))
    switch t.Kind {
    case "udp", "tcp", "quic", "mem":
    default:
        return fmt.Errorf("invalid transport.kind: %q", t.Kind)
    }
    if strings.TrimSpace(t.Listen) == "" {
        t.Listen = "0.0.0.0:0"
    }
    return nil
}

func (d *DiscoveryConfig) validate() error {
    if !d.Enabled { return nil }
    if !strings.HasPrefix(d.Service, "_") {
        return fmt.Errorf("invalid discovery.service: %q", d.Service)
    }
    if d.Domain == "" { d.Domain = "local." }
    if d.BrowseInterval <= 0 { d.BrowseInterval = 10 * time.Second }
    if d.PeerTTL < d.BrowseInterval {
        return fmt.Errorf("discovery.peer_ttl (%s) must be >= browse_interval (%s)", d.PeerTTL, d.BrowseInterval)
    }
    return nil
}

func (o *OverlayConfig) validate() error {
    if o.QueueSize <= 0 { o.QueueSize = 256 }
    if o.MaxHops < 0 || o.MaxHops > 255 {
        return fmt.Errorf("invalid overlay.max_hops: %d", o.MaxHops)
    }
    if o.SeenTTL <= 0 { o.SeenTTL = 2 * time.Minute }
    if o.LinkRate < 0 {
        return fmt.Errorf("invalid overlay.link_rate_bytes: %d", o.LinkRate)
    }
    return nil
}

func (s *SyncConfig) validate() error {
    if s.Tick <= 0 {
        return fmt.Errorf("invalid sync.tick: %s", s.Tick)
    }
    if !(s.Epsilon > 0) {
        return fmt.Errorf("invalid sync.epsilon: %v (must be > 0)", s.Epsilon)
    }
    s.Format = strings.ToLower(strings.TrimSpace(s.Format))
    switch s.Format {
    case "":
        s.Format = "cbor"
    case "cbor", "json", "proto":
    default:
        return fmt.Errorf("invalid sync.format: %q", s.Format)
    }
    return nil
}
