package main

import (
    "context"
    "errors"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "posemesh/pkg/config"
    "posemesh/pkg/mesh"
    "posemesh/pkg/observability"
    "posemesh/pkg/pose"
    "posemesh/pkg/posesync"
    "posemesh/pkg/wire"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
        return 1
    }
    if opts.Topic != "" { cfg.Topic = opts.Topic }

    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
        return 1
    }
    defer func() { _ = logger.Sync() }()

    zap.L().Info("posemesh-node started", zap.String("app", cfg.AppName), zap.String("topic", cfg.Topic))
    zap.L().Debug("effective configuration", zap.Any("config", cfg))

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    node, err := mesh.Start(ctx, mesh.OptionsFromConfig(cfg))
    if err != nil {
        zap.L().Error("failed to start overlay", zap.Error(err))
        return 1
    }
    defer node.Close()

    obj := pose.NewObject(pose.Identity())
    syncer, err := posesync.New(obj, node, posesync.Options{
        Tick:    cfg.Sync.Tick,
        Epsilon: float32(cfg.Sync.Epsilon),
        Format:  wire.Format(cfg.Sync.Format),
    })
    if err != nil {
        zap.L().Error("failed to create sync loop", zap.Error(err))
        return 1
    }

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error { return syncer.Run(gctx) })
    if cfg.Metrics.Listen != "" {
        g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Listen) })
    }
    if opts.Spin {
        g.Go(func() error { spin(gctx, obj, opts.SpinRate, cfg.Sync.Tick); return nil })
    }
    if opts.Status > 0 {
        g.Go(func() error { reportStatus(gctx, node, syncer.Counters(), opts.Status); return nil })
    }

    zap.L().Info("node is running; press Ctrl+C to exit", zap.String("peer", string(node.ID())), zap.String("addr", node.Addr()))
    if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
        zap.L().Error("node stopped with error", zap.Error(err))
        return 1
    }
    zap.L().Info("posemesh-node stopped")
    return 0
}

func serveMetrics(ctx context.Context, addr string) error {
    mux := http.NewServeMux()
    mux.Handle("/metrics", observability.MetricsHandler())
    srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
    go func() {
        <-ctx.Done()
        sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = srv.Shutdown(sctx)
    }()
    zap.L().Info("metrics listening", zap.String("addr", addr))
    if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) { return err }
    return nil
}

func reportStatus(ctx context.Context, node *mesh.Node, c *posesync.Counters, every time.Duration) {
    t := time.NewTicker(every)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case now := <-t.C:
            fields := []zap.Field{zap.Int("peers", c.Peers()), zap.Int("links", node.Links())}
            if ms, ok := c.MillisSinceLastSync(now); ok {
                fields = append(fields, zap.Int64("since_last_sync_ms", ms))
            }
            zap.L().Info("status", fields...)
        }
    }
}
