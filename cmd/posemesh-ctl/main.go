package main

import (
    "context"
    "flag"
    "fmt"
    "os"
    "os/signal"
    "syscall"
    "time"

    json "github.com/goccy/go-json"

    "posemesh/pkg/config"
    "posemesh/pkg/mesh"
    "posemesh/pkg/observability"
    "posemesh/pkg/wire"
)

// posemesh-ctl joins a topic as a passive observer: it prints every pose
// message and peer count change and never publishes.
func main() {
    cfgPath := flag.String("config", "", "Path to YAML config file")
    topic := flag.String("topic", "", "Override the configured topic")
    format := flag.String("format", "", "Override the wire format: cbor|json|proto")
    asJSON := flag.Bool("json", false, "Print one JSON object per line")
    duration := flag.Duration("duration", 0, "Stop after this long; 0 runs until interrupted")
    peersEvery := flag.Duration("peers", 0, "Print the peer table at this interval; 0 disables")
    flag.Parse()

    cfg, err := config.Load(*cfgPath)
    if err != nil { fatalf("load config: %v", err) }
    if *topic != "" { cfg.Topic = *topic }
    if *format != "" { cfg.Sync.Format = *format }
    cfg.AppName = "posemesh-ctl"
    cfg.Log.Level = "warn"
    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil { fatalf("setup logger: %v", err) }
    defer func() { _ = logger.Sync() }()

    codec, err := wire.NewCodec(wire.Format(cfg.Sync.Format))
    if err != nil { fatalf("wire codec: %v", err) }

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()
    if *duration > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, *duration)
        defer cancel()
    }

    node, err := mesh.Start(ctx, mesh.OptionsFromConfig(cfg))
    if err != nil { fatalf("join %s: %v", cfg.Topic, err) }
    defer node.Close()
    fmt.Fprintf(os.Stderr, "observing topic=%s as %s on %s\n", cfg.Topic, node.ID(), node.Addr())

    var tick <-chan time.Time
    if *peersEvery > 0 {
        t := time.NewTicker(*peersEvery)
        defer t.Stop()
        tick = t.C
    }
    for {
        select {
        case <-ctx.Done():
            return
        case n, ok := <-node.PeerCounts():
            if !ok { return }
            emit(*asJSON, map[string]any{"event": "peers", "count": n}, fmt.Sprintf("peers: %d", n))
        case b, ok := <-node.Inbound():
            if !ok { return }
            m, err := codec.Decode(b)
            if err != nil {
                emit(*asJSON, map[string]any{"event": "undecodable", "bytes": len(b), "error": err.Error()}, fmt.Sprintf("undecodable payload (%d bytes): %v", len(b), err))
                continue
            }
            emit(*asJSON, poseRecord(m), formatPose(m))
        case <-tick:
            printPeers(node, *asJSON)
        }
    }
}

func poseRecord(m wire.PoseMessage) map[string]any {
    return map[string]any{
        "event": "pose", "from": m.InstanceID, "seq": m.Seq, "ts_millis": m.TsMillis,
        "position": m.Position, "rotation": m.Rotation, "scale": m.Scale,
    }
}

func formatPose(m wire.PoseMessage) string {
    return fmt.Sprintf("%s seq=%d pos=(%.3f,%.3f,%.3f) rot=(%.3f,%.3f,%.3f,%.3f) scale=(%.3f,%.3f,%.3f)",
        shortID(m.InstanceID), m.Seq,
        m.Position[0], m.Position[1], m.Position[2],
        m.Rotation[0], m.Rotation[1], m.Rotation[2], m.Rotation[3],
        m.Scale[0], m.Scale[1], m.Scale[2])
}

func printPeers(node *mesh.Node, asJSON bool) {
    list := node.Peers()
    if asJSON {
        emit(true, map[string]any{"event": "peer_table", "peers": list}, "")
        return
    }
    fmt.Printf("%-16s %-16s %-6s %-9s %8s %8s  %s\n", "PEER", "NAME", "KIND", "HELLO", "IN", "OUT", "ADDRESSES")
    for _, p := range list {
        fmt.Printf("%-16s %-16s %-6s %-9s %8d %8d  %v\n", p.ID.Short(), p.NodeName, p.Transport, p.Handshake, p.MsgsIn, p.MsgsOut, p.Addresses)
    }
}

func emit(asJSON bool, rec map[string]any, text string) {
    if !asJSON { fmt.Println(text); return }
    b, err := json.Marshal(rec)
    if err != nil { fmt.Fprintln(os.Stderr, "encode:", err); return }
    fmt.Println(string(b))
}

func shortID(id string) string {
    if len(id) > 24 { return id[:24] + "…" }
    return id
}

func fatalf(format string, a ...any) {
    fmt.Fprintf(os.Stderr, "posemesh-ctl: "+format+"\n", a...)
    os.Exit(1)
}
