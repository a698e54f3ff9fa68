// Package region coordinates links between nodes of the hub topology. It is
// a thin state layer above per-peer sessions: connect and disconnect intents
// pass through a settle delay before the link is treated as usable or gone,
// so in-flight handshakes and teardowns on both sides quiesce before anyone
// acts on the new topology.
package region

import (
    "errors"
    "fmt"
    "net"
    "sync"
    "time"

    "go.uber.org/zap"

    "gridlink/pkg/protocol"
    "gridlink/pkg/session"
)

// Link is the slice of a session handle the coordinator drives.
type Link interface {
    State() session.State
    Send(payload []byte, guaranteed bool) error
    Close() error
}

// LinkState is the coordinator's view of one region link.
type LinkState int

const (
    LinkDown LinkState = iota
    LinkConnecting
    LinkSettling
    LinkUp
    LinkDraining
)

func (s LinkState) String() string {
    switch s {
    case LinkDown:
        return "down"
    case LinkConnecting:
        return "connecting"
    case LinkSettling:
        return "settling"
    case LinkUp:
        return "up"
    case LinkDraining:
        return "draining"
    }
    return "invalid"
}

var (
    // ErrLinkNotUp reports a send on a link that is not yet usable.
    ErrLinkNotUp = errors.New("link not up")
    // ErrLinkBusy reports a connect intent while the previous link drains.
    ErrLinkBusy = errors.New("link draining")
)

// Events are the coordinator's outward notifications. Both fire from Tick.
type Events struct {
    OnLinkUp   func(name string)
    OnLinkDown func(name string)
}

type link struct {
    name     string
    addr     net.Addr
    state    LinkState
    handle   Link
    settleAt time.Time
}

// Coordinator tracks every region link of one node. All transitions happen
// inside Tick, driven by the owner's sweep cadence, so link state never
// changes under a caller's feet between two calls in the same tick.
type Coordinator struct {
    mu    sync.Mutex
    dial  func(net.Addr) (Link, error)
    links map[string]*link
    ev    Events
}

func New(dial func(net.Addr) (Link, error), ev Events) *Coordinator {
    return &Coordinator{dial: dial, links: make(map[string]*link), ev: ev}
}

// Connect registers the intent to link with a region. The link becomes usable
// only after the session establishes and the connect settle delay passes.
func (c *Coordinator) Connect(name string, addr net.Addr) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if l := c.links[name]; l != nil {
        if l.state == LinkDraining {
            return ErrLinkBusy
        }
        return nil // already pending or up
    }
    h, err := c.dial(addr)
    if err != nil {
        return fmt.Errorf("dial region %s: %w", name, err)
    }
    c.links[name] = &link{name: name, addr: addr, state: LinkConnecting, handle: h}
    zap.L().Info("region link requested", zap.String("region", name), zap.String("addr", addr.String()))
    return nil
}

// Disconnect registers the intent to drop a link. The link keeps carrying
// traffic through the drain delay; after it elapses the session is closed and
// the link reported down.
func (c *Coordinator) Disconnect(name string, now time.Time) {
    c.mu.Lock()
    defer c.mu.Unlock()
    l := c.links[name]
    if l == nil || l.state == LinkDraining {
        return
    }
    l.state = LinkDraining
    l.settleAt = now.Add(protocol.RegionDisconnectDelay)
    zap.L().Info("region link draining", zap.String("region", name))
}

// State reports the current state of a named link.
func (c *Coordinator) State(name string) LinkState {
    c.mu.Lock()
    defer c.mu.Unlock()
    if l := c.links[name]; l != nil {
        return l.state
    }
    return LinkDown
}

// Send forwards payload over a link. Only usable links carry traffic: up, or
// draining but not yet drained.
func (c *Coordinator) Send(name string, payload []byte, guaranteed bool) error {
    c.mu.Lock()
    l := c.links[name]
    usable := l != nil && (l.state == LinkUp || l.state == LinkDraining)
    var h Link
    if usable {
        h = l.handle
    }
    c.mu.Unlock()
    if !usable {
        return ErrLinkNotUp
    }
    return h.Send(payload, guaranteed)
}

// Names lists links that are currently usable.
func (c *Coordinator) Names() []string {
    c.mu.Lock()
    defer c.mu.Unlock()
    out := make([]string, 0, len(c.links))
    for name, l := range c.links {
        if l.state == LinkUp || l.state == LinkDraining {
            out = append(out, name)
        }
    }
    return out
}

// Tick advances every link's state machine.
func (c *Coordinator) Tick(now time.Time) {
    c.mu.Lock()
    var up, down []string
    var closers []Link
    for name, l := range c.links {
        switch l.state {
        case LinkConnecting:
            switch l.handle.State() {
            case session.StateConnected:
                l.state = LinkSettling
                l.settleAt = now.Add(protocol.RegionConnectDelay)
            case session.StateDisconnected:
                c.redial(l)
            }
        case LinkSettling:
            if l.handle.State() == session.StateDisconnected {
                c.redial(l)
            } else if !now.Before(l.settleAt) {
                l.state = LinkUp
                up = append(up, name)
                zap.L().Info("region link up", zap.String("region", name))
            }
        case LinkUp:
            if l.handle.State() == session.StateDisconnected {
                down = append(down, name)
                c.redial(l)
            }
        case LinkDraining:
            if !now.Before(l.settleAt) || l.handle.State() == session.StateDisconnected {
                closers = append(closers, l.handle)
                delete(c.links, name)
                down = append(down, name)
                zap.L().Info("region link down", zap.String("region", name))
            }
        }
    }
    c.mu.Unlock()

    for _, h := range closers {
        _ = h.Close()
    }
    // notify outside the lock; a callback may call back into the coordinator
    for _, name := range up {
        if c.ev.OnLinkUp != nil {
            c.ev.OnLinkUp(name)
        }
    }
    for _, name := range down {
        if c.ev.OnLinkDown != nil {
            c.ev.OnLinkDown(name)
        }
    }
}

// redial replaces a dead session and restarts establishment. Runs under c.mu.
func (c *Coordinator) redial(l *link) {
    h, err := c.dial(l.addr)
    if err != nil {
        zap.L().Warn("region redial failed", zap.String("region", l.name), zap.Error(err))
        return
    }
    l.handle = h
    l.state = LinkConnecting
    l.settleAt = time.Time{}
}
