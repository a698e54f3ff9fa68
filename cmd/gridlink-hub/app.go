package main

import (
    "fmt"
    "net"
    "os"
    "os/signal"
    "sync"
    "syscall"

    "go.uber.org/zap"

    "gridlink/pkg/config"
    "gridlink/pkg/endpoint"
    "gridlink/pkg/observability"
    "gridlink/pkg/protocol"
    "gridlink/pkg/session"
)

func main() { os.Exit(run(ParseFlags(os.Args[1:]))) }

// relay fans a region's payload out to every other connected region. Handles
// are tracked by remote address; a session's first payload registers it.
type relay struct {
    mu    sync.Mutex
    links map[string]*endpoint.Handle
}

func newRelay() *relay { return &relay{links: make(map[string]*endpoint.Handle)} }

func (r *relay) forward(from *endpoint.Handle, payload []byte) {
    src := from.RemoteAddr().String()
    r.mu.Lock()
    r.links[src] = from
    targets := make([]*endpoint.Handle, 0, len(r.links))
    for addr, h := range r.links {
        if addr != src {
            targets = append(targets, h)
        }
    }
    r.mu.Unlock()
    for _, h := range targets {
        if err := h.Send(payload, true); err != nil {
            zap.L().Warn("relay send failed",
                zap.String("to", h.RemoteAddr().String()), zap.Error(err))
        }
    }
}

func (r *relay) drop(h *endpoint.Handle) {
    r.mu.Lock()
    delete(r.links, h.RemoteAddr().String())
    r.mu.Unlock()
}

// run is the main entry point after CLI parsing.
func run(opts Options) int {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
        return 1
    }
    cfg.AppName = "gridlink-hub"
    if opts.Listen != "" {
        cfg.Listen = opts.Listen
    } else if cfg.Listen == fmt.Sprintf(":%d", protocol.DefaultServerPort) {
        cfg.Listen = fmt.Sprintf(":%d", protocol.DefaultHubPort)
    }

    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
        return 1
    }
    defer func() { _ = logger.Sync() }()

    zap.L().Info("gridlink-hub started", zap.String("app", cfg.AppName))
    zap.L().Info("effective configuration", zap.Any("config", cfg))
    observability.ServeDebug(cfg.DebugListen)

    conn, err := net.ListenPacket("udp", cfg.Listen)
    if err != nil {
        zap.L().Error("failed to bind", zap.String("listen", cfg.Listen), zap.Error(err))
        return 1
    }

    r := newRelay()
    ep := endpoint.New(conn, endpoint.Hooks{
        OnMessage: r.forward,
        OnDisconnected: func(h *endpoint.Handle, reason session.DisconnectReason) {
            r.drop(h)
            zap.L().Info("region disconnected",
                zap.String("remote", h.RemoteAddr().String()),
                zap.String("reason", reason.String()))
        },
    }, endpoint.Options{SourceRevision: cfg.SourceRevision})
    defer func() { _ = ep.Close() }()
    zap.L().Info("relaying", zap.String("addr", ep.LocalAddr().String()))

    sig := make(chan os.Signal, 1)
    signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
    s := <-sig
    zap.L().Info("shutting down", zap.String("signal", s.String()))
    return 0
}
