package mesh

import (
    "context"
    "time"

    "posemesh/pkg/config"
    "posemesh/pkg/discovery"
    "posemesh/pkg/transport"
)

// Discoverer feeds peer sightings into the node. Retry asks for a live peer
// to be reported again on its next sighting so a failed dial gets another go.
type Discoverer interface {
    Events() <-chan discovery.Event
    Retry(transport.PeerID)
    Close() error
}

// DiscoverFunc starts discovery once the node knows its id and bound port.
type DiscoverFunc func(ctx context.Context, self transport.PeerID, port int) (Discoverer, error)

type Options struct {
    Topic    string
    NodeName string

    // Transport overrides Kind; tests pass a shared mem transport.
    Transport transport.Transport
    Kind      string
    Listen    string

    QueueSize        int // outbound queue and per-link outbox
    MaxHops          int // 0 disables forwarding
    SeenTTL          time.Duration
    SeenMaxBytes     uint64 // cap on the seen cache, 0 = unlimited
    VerifySignatures bool
    LinkRate         int64 // bytes/s per link, 0 = unlimited

    HelloTimeout time.Duration
    DialTimeout  time.Duration

    Discover DiscoverFunc
}

// DefaultOptions returns options for topic with the stock overlay tuning.
func DefaultOptions(topic string) Options {
    return Options{
        Topic:            topic,
        NodeName:         "posemesh-node",
        Kind:             "udp",
        QueueSize:        256,
        MaxHops:          3,
        SeenTTL:          2 * time.Minute,
        SeenMaxBytes:     4 << 20,
        VerifySignatures: true,
        HelloTimeout:     10 * time.Second,
        DialTimeout:      5 * time.Second,
    }
}

// OptionsFromConfig maps the node configuration, wiring mDNS discovery when enabled.
func OptionsFromConfig(c *config.Config) Options {
    o := DefaultOptions(c.Topic)
    o.NodeName = c.AppName
    o.Kind = c.Transport.Kind
    o.Listen = c.Transport.Listen
    o.QueueSize = c.Overlay.QueueSize
    o.MaxHops = c.Overlay.MaxHops
    o.SeenTTL = c.Overlay.SeenTTL
    o.SeenMaxBytes = c.Overlay.SeenMaxBytes
    o.VerifySignatures = c.Overlay.VerifySignatures
    o.LinkRate = c.Overlay.LinkRate
    if c.Discovery.Enabled { o.Discover = MDNS(c.Discovery, c.Topic, c.Transport.Kind) }
    return o
}

// MDNS returns a DiscoverFunc announcing and browsing over multicast DNS.
func MDNS(dc config.DiscoveryConfig, topic, kind string) DiscoverFunc {
    return func(ctx context.Context, self transport.PeerID, port int) (Discoverer, error) {
        svc, err := discovery.Start(ctx, discovery.Options{
            Service:        dc.Service,
            Domain:         dc.Domain,
            Topic:          topic,
            Self:           self,
            Port:           port,
            Transport:      kind,
            BrowseInterval: dc.BrowseInterval,
            PeerTTL:        dc.PeerTTL,
        })
        if err != nil { return nil, err }
        return svc, nil
    }
}

func (o *Options) withDefaults() {
    if o.QueueSize <= 0 { o.QueueSize = 256 }
    if o.MaxHops < 0 { o.MaxHops = 0 }
    if o.MaxHops > 255 { o.MaxHops = 255 }
    if o.SeenTTL <= 0 { o.SeenTTL = 2 * time.Minute }
    if o.HelloTimeout <= 0 { o.HelloTimeout = 10 * time.Second }
    if o.DialTimeout <= 0 { o.DialTimeout = 5 * time.Second }
    if o.NodeName == "" { o.NodeName = "posemesh-node" }
}
