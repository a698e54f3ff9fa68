package endpoint

import (
    "crypto/rand"
    "encoding/binary"
    "fmt"
    "net"
    "time"

    "gridlink/pkg/protocol"
    "gridlink/pkg/sendq"
    "gridlink/pkg/session"
)

// Handle is the application's reference to one session.
type Handle struct {
    ep *Endpoint
    s  *session.Session
}

// RemoteAddr returns the peer's address.
func (h *Handle) RemoteAddr() net.Addr { return h.s.Remote() }

// State returns the current session state.
func (h *Handle) State() session.State { return h.s.State() }

// Send queues payload for the peer. While the handshake is in flight the
// payload is buffered and flushed on establishment. Guaranteed payloads are
// retransmitted until acknowledged; large ones are fragmented transparently.
func (h *Handle) Send(payload []byte, guaranteed bool) error {
    if h.ep.closed.Load() {
        return ErrClosed
    }
    now := h.ep.nowFn()
    switch h.s.State() {
    case session.StateConnecting:
        if h.s.BufferSend(payload, guaranteed) {
            return nil
        }
        // lost the race against establishment; fall through to a live send
        if h.s.State() != session.StateConnected {
            return ErrSessionClosed
        }
    case session.StateDisconnected:
        return ErrSessionClosed
    }
    return h.ep.sendPayload(h.s, payload, guaranteed, now)
}

// Close tells the peer goodbye and drops the session locally. The
// OnDisconnected hook does not fire for a local close.
func (h *Handle) Close() error {
    now := h.ep.nowFn()
    if h.s.State() == session.StateConnected {
        h.ep.sendControl(h.s, protocol.ControlBody{Type: protocol.CtrlDisconnect}, now)
    }
    if h.s.Disconnect(session.ReasonLocalClosed, now) {
        h.ep.met.ActiveSessions.Dec()
        h.ep.met.Disconnects.WithLabelValues(session.ReasonLocalClosed.String()).Inc()
    }
    return nil
}

// OpenSession dials remote. The returned handle accepts sends immediately;
// they are buffered until the peer answers. A second dial to the same remote
// while the first is still pending returns the pending session.
func (e *Endpoint) OpenSession(remote net.Addr) (*Handle, error) {
    if e.closed.Load() {
        return nil, ErrClosed
    }
    now := e.nowFn()
    pendingKey := session.Key{Remote: remote.String(), ID: 0}
    if s := e.table.Get(pendingKey); s != nil {
        return &Handle{ep: e, s: s}, nil
    }
    s := session.New(pendingKey, remote, randomSessionID(), true, e.table.Limits(), now)
    if !e.table.Insert(s) {
        if s = e.table.Get(pendingKey); s != nil {
            return &Handle{ep: e, s: s}, nil
        }
        return nil, fmt.Errorf("dial %s: session table race", remote)
    }
    e.met.ActiveSessions.Inc()
    e.sendControl(s, protocol.ControlBody{Type: protocol.CtrlConnect}, now)
    return &Handle{ep: e, s: s}, nil
}

func (e *Endpoint) baseHeader(s *session.Session) protocol.Header {
    return protocol.Header{
        MajorVersion:   protocol.MajorVersion,
        MinorVersion:   protocol.MinorVersion,
        SourceRevision: e.opts.SourceRevision,
        SessionID:      s.OutgoingID(),
    }
}

func (e *Endpoint) sendControl(s *session.Session, body protocol.ControlBody, now time.Time) {
    payload, err := protocol.EncodeControl(body)
    if err != nil {
        return
    }
    h := e.baseHeader(s)
    h.SetFlag(protocol.FlagControl, true)
    p := protocol.Packet{Header: h, Payload: payload}
    frame, err := p.EncodeFrame()
    if err != nil {
        return
    }
    s.NoteSend(now)
    e.outq.Enqueue(sendq.Item{Frame: frame, Dest: s.Remote(), Class: sendq.ClassControl})
}

// sendPayload encodes, optionally fragments, and queues one application
// payload. Guaranteed frames are registered for retransmission before they
// are queued, so a sweep can never miss an in-flight frame.
func (e *Endpoint) sendPayload(s *session.Session, payload []byte, guaranteed bool, now time.Time) error {
    h := e.baseHeader(s)
    h.SetFlag(protocol.FlagGuaranteed, guaranteed)
    p := protocol.Packet{Header: h, Payload: payload}

    parts := []protocol.Packet{p}
    if len(payload) > protocol.MaxFrameDataSize {
        var err error
        parts, err = p.Fragments(e.nextMessageID())
        if err != nil {
            return err
        }
    }
    if guaranteed {
        // track the whole message before any fragment hits the wire, so a
        // ceiling rejection leaves nothing half-sent
        tracked := make([]session.GuaranteedFrame, 0, len(parts))
        for i := range parts {
            parts[i].Header.Sequence = s.NextSeq()
            frame, err := parts[i].EncodeFrame()
            if err != nil {
                return err
            }
            tracked = append(tracked, session.GuaranteedFrame{Seq: parts[i].Header.Sequence, Frame: frame})
        }
        if err := s.TrackGuaranteedAll(tracked, now); err != nil {
            return err
        }
        for _, f := range tracked {
            e.outq.Enqueue(sendq.Item{Frame: f.Frame, Dest: s.Remote(), Class: sendq.ClassGuaranteed})
        }
    } else {
        for i := range parts {
            frame, err := parts[i].EncodeFrame()
            if err != nil {
                return err
            }
            e.outq.Enqueue(sendq.Item{Frame: frame, Dest: s.Remote(), Class: sendq.ClassBulk})
        }
    }
    s.NoteSend(now)
    return nil
}

// randomSessionID draws a nonzero id; zero is reserved for sessions whose
// peer id is not yet known.
func randomSessionID() uint32 {
    var b [4]byte
    for {
        if _, err := rand.Read(b[:]); err != nil {
            panic(err)
        }
        if id := binary.LittleEndian.Uint32(b[:]); id != 0 {
            return id
        }
    }
}
