// Package endpoint ties one UDP socket to the session machinery: a read loop
// that demultiplexes datagrams into per-peer sessions, a writer draining the
// prioritized send queue, and a sweep loop that drives retransmission,
// keepalives and timeouts.
package endpoint

import (
    "errors"
    "net"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "gridlink/pkg/observability"
    "gridlink/pkg/protocol"
    "gridlink/pkg/sendq"
    "gridlink/pkg/session"
)

var (
    // ErrClosed reports an operation on a closed endpoint.
    ErrClosed = errors.New("endpoint closed")
    // ErrSessionClosed reports a send on a terminal session.
    ErrSessionClosed = errors.New("session closed")
)

// defaultTick keeps the sweep resolution well under the acknowledge wait so a
// due retransmission slips by at most one tick.
const defaultTick = 100 * time.Millisecond

// Hooks are the upward callbacks. OnMessage runs on the read goroutine, so it
// must not block; OnDisconnected fires once per session for remote closes and
// timeouts, never for a locally requested close.
type Hooks struct {
    OnMessage      func(h *Handle, payload []byte)
    OnDisconnected func(h *Handle, reason session.DisconnectReason)
}

// Options tune one endpoint. The zero value is usable.
type Options struct {
    // SourceRevision is stamped into every outgoing header.
    SourceRevision uint32
    // TickInterval overrides the sweep period. Zero means the default.
    TickInterval time.Duration
    // Now overrides the clock, for tests.
    Now func() time.Time
}

// Endpoint runs the protocol over one packet socket.
type Endpoint struct {
    conn  net.PacketConn
    table *session.Table
    outq  *sendq.Queue
    hooks Hooks
    opts  Options
    met   *observability.Metrics

    nowFn  func() time.Time
    msgID  atomic.Uint32
    closed atomic.Bool
    quit   chan struct{}
    wg     sync.WaitGroup
}

// New wraps conn and starts the read, write and sweep loops. The endpoint
// owns conn from here on; Close releases it.
func New(conn net.PacketConn, hooks Hooks, opts Options) *Endpoint {
    if opts.TickInterval <= 0 {
        opts.TickInterval = defaultTick
    }
    e := &Endpoint{
        conn:  conn,
        table: session.NewTable(),
        outq:  sendq.New(),
        hooks: hooks,
        opts:  opts,
        met:   observability.GetMetrics(),
        nowFn: opts.Now,
        quit:  make(chan struct{}),
    }
    if e.nowFn == nil {
        e.nowFn = time.Now
    }
    e.wg.Add(3)
    go e.readLoop()
    go e.writeLoop()
    go e.sweepLoop()
    return e
}

// LocalAddr returns the bound socket address.
func (e *Endpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

// Sessions reports the current session table size.
func (e *Endpoint) Sessions() int { return e.table.Len() }

// Close stops the loops and closes the socket. Live sessions are dropped
// without a disconnect on the wire; use Handle.Close for a graceful goodbye.
func (e *Endpoint) Close() error {
    if !e.closed.CompareAndSwap(false, true) {
        return nil
    }
    close(e.quit)
    e.outq.Close()
    err := e.conn.Close()
    e.wg.Wait()
    return err
}

func (e *Endpoint) readLoop() {
    defer e.wg.Done()
    buf := make([]byte, protocol.MaxPacketSize)
    for {
        // bound the read so quit is observed promptly
        _ = e.conn.SetReadDeadline(time.Now().Add(e.opts.TickInterval))
        n, raddr, err := e.conn.ReadFrom(buf)
        if err != nil {
            if e.closed.Load() {
                return
            }
            var ne net.Error
            if errors.As(err, &ne) && ne.Timeout() {
                continue
            }
            zap.L().Warn("read failed", zap.Error(err))
            continue
        }
        frame := make([]byte, n)
        copy(frame, buf[:n])
        e.met.PacketsIn.Inc()
        e.handleDatagram(raddr, frame, e.nowFn())
    }
}

func (e *Endpoint) writeLoop() {
    defer e.wg.Done()
    for {
        it, ok := e.outq.Dequeue()
        if !ok {
            return
        }
        if _, err := e.conn.WriteTo(it.Frame, it.Dest); err != nil {
            if e.closed.Load() {
                return
            }
            zap.L().Warn("write failed", zap.String("dest", it.Dest.String()), zap.Error(err))
            continue
        }
        e.met.PacketsOut.Inc()
    }
}

func (e *Endpoint) sweepLoop() {
    defer e.wg.Done()
    t := time.NewTicker(e.opts.TickInterval)
    defer t.Stop()
    for {
        select {
        case <-e.quit:
            return
        case <-t.C:
            e.SweepOnce(e.nowFn())
        }
    }
}

// SweepOnce applies the timer-driven checks to every session. The sweep loop
// calls it on every tick; tests call it directly with a synthetic clock.
func (e *Endpoint) SweepOnce(now time.Time) {
    for _, s := range e.table.Snapshot() {
        act := s.Sweep(now)
        for _, frame := range act.Resend {
            e.met.Retransmits.Inc()
            s.NoteSend(now)
            e.outq.Enqueue(sendq.Item{Frame: frame, Dest: s.Remote(), Class: sendq.ClassGuaranteed})
        }
        if act.Keepalive {
            e.sendHeartbeat(s, now)
        }
        if act.Expire != session.ReasonNone {
            e.expire(s, act.Expire, now)
        }
        if s.Reapable(now) {
            e.table.Remove(s.Key())
        }
    }
}

// sendHeartbeat is the sweep's "stay alive" action: a pending initiator
// re-offers its connect, an established session sends a keepalive.
func (e *Endpoint) sendHeartbeat(s *session.Session, now time.Time) {
    switch {
    case s.State() == session.StateConnecting && s.Initiator():
        e.sendControl(s, protocol.ControlBody{Type: protocol.CtrlConnect}, now)
    case s.State() == session.StateConnected:
        e.sendControl(s, protocol.ControlBody{Type: protocol.CtrlKeepalive}, now)
    }
}

func (e *Endpoint) expire(s *session.Session, reason session.DisconnectReason, now time.Time) {
    if !s.Disconnect(reason, now) {
        return
    }
    e.met.ActiveSessions.Dec()
    e.met.Disconnects.WithLabelValues(reason.String()).Inc()
    if e.hooks.OnDisconnected != nil {
        e.hooks.OnDisconnected(&Handle{ep: e, s: s}, reason)
    }
}

func (e *Endpoint) nextMessageID() uint32 {
    for {
        if id := e.msgID.Add(1); id != 0 {
            return id
        }
    }
}
