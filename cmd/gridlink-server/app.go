package main

import (
    "net"
    "os"
    "os/signal"
    "syscall"
    "time"

    "go.uber.org/zap"

    "gridlink/pkg/config"
    "gridlink/pkg/endpoint"
    "gridlink/pkg/observability"
    "gridlink/pkg/region"
    "gridlink/pkg/session"
)

func main() { os.Exit(run(ParseFlags(os.Args[1:]))) }

// forwardable reports whether a payload from remote should go up to the hub.
// Payloads arriving over the hub link itself stay local, otherwise each one
// would loop edge to hub to edge without end.
func forwardable(remote net.Addr, hub *net.UDPAddr) bool {
    return hub == nil || remote.String() != hub.String()
}

// run is the main entry point after CLI parsing.
func run(opts Options) int {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
        return 1
    }
    if opts.Listen != "" {
        cfg.Listen = opts.Listen
    }
    if opts.Hub != "" {
        cfg.Hub = opts.Hub
    }

    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
        return 1
    }
    defer func() { _ = logger.Sync() }()

    zap.L().Info("gridlink-server started", zap.String("app", cfg.AppName))
    zap.L().Info("effective configuration", zap.Any("config", cfg))
    observability.ServeDebug(cfg.DebugListen)

    conn, err := net.ListenPacket("udp", cfg.Listen)
    if err != nil {
        zap.L().Error("failed to bind", zap.String("listen", cfg.Listen), zap.Error(err))
        return 1
    }

    var hubAddr *net.UDPAddr
    if cfg.Hub != "" {
        hubAddr, err = net.ResolveUDPAddr("udp", cfg.Hub)
        if err != nil {
            zap.L().Error("bad hub address", zap.String("hub", cfg.Hub), zap.Error(err))
            return 1
        }
    }

    var coord *region.Coordinator
    hooks := endpoint.Hooks{
        OnMessage: func(h *endpoint.Handle, payload []byte) {
            zap.L().Debug("message received",
                zap.String("remote", h.RemoteAddr().String()),
                zap.Int("bytes", len(payload)))
            // edge role: local peer traffic goes up to the hub; traffic that
            // came down from the hub must not bounce back up
            if coord != nil && forwardable(h.RemoteAddr(), hubAddr) {
                if err := coord.Send("hub", payload, true); err != nil {
                    zap.L().Debug("hub forward skipped", zap.Error(err))
                }
            }
        },
        OnDisconnected: func(h *endpoint.Handle, reason session.DisconnectReason) {
            zap.L().Info("peer disconnected",
                zap.String("remote", h.RemoteAddr().String()),
                zap.String("reason", reason.String()))
        },
    }
    ep := endpoint.New(conn, hooks, endpoint.Options{SourceRevision: cfg.SourceRevision})
    defer func() { _ = ep.Close() }()
    zap.L().Info("listening", zap.String("addr", ep.LocalAddr().String()))

    stop := make(chan struct{})
    if hubAddr != nil {
        coord = region.New(
            func(addr net.Addr) (region.Link, error) { return ep.OpenSession(addr) },
            region.Events{
                OnLinkUp:   func(name string) { zap.L().Info("hub reachable", zap.String("link", name)) },
                OnLinkDown: func(name string) { zap.L().Warn("hub lost", zap.String("link", name)) },
            })
        if err := coord.Connect("hub", hubAddr); err != nil {
            zap.L().Error("hub link failed", zap.Error(err))
            return 1
        }
        go func() {
            t := time.NewTicker(200 * time.Millisecond)
            defer t.Stop()
            for {
                select {
                case <-stop:
                    return
                case now := <-t.C:
                    coord.Tick(now)
                }
            }
        }()
    }

    sig := make(chan os.Signal, 1)
    signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
    s := <-sig
    zap.L().Info("shutting down", zap.String("signal", s.String()))
    close(stop)
    if coord != nil {
        coord.Disconnect("hub", time.Now())
    }
    return 0
}
