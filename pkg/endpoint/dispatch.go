package endpoint

import (
    "errors"
    "net"
    "time"

    "go.uber.org/zap"

    "gridlink/pkg/protocol"
    "gridlink/pkg/session"
)

// handleDatagram decodes one frame and routes it to its session. Sessions are
// keyed by (remote address, the session id stamped by the sender); a frame
// from an unknown pair only creates state when it is a connect request.
func (e *Endpoint) handleDatagram(raddr net.Addr, frame []byte, now time.Time) {
    var p protocol.Packet
    if err := p.DecodeFrame(frame); err != nil {
        cause := "malformed"
        if errors.Is(err, protocol.ErrUnsupportedVersion) {
            cause = "version"
        }
        e.met.PacketsDropped.WithLabelValues(cause).Inc()
        zap.L().Debug("frame rejected", zap.String("remote", raddr.String()), zap.Error(err))
        return
    }

    key := session.Key{Remote: raddr.String(), ID: p.Header.SessionID}
    s := e.table.Get(key)

    if p.Header.HasFlag(protocol.FlagControl) {
        e.handleControl(s, key, raddr, &p, now)
        return
    }
    if s == nil {
        e.met.PacketsDropped.WithLabelValues("no_session").Inc()
        return
    }
    if s.State() == session.StateDisconnected {
        // terminal sessions absorb late frames until the reaper removes them
        e.met.PacketsDropped.WithLabelValues("terminal").Inc()
        return
    }
    s.Touch(now)
    if p.Header.MinorVersion != protocol.MinorVersion && s.LogMinorSkew(p.Header.MinorVersion) {
        zap.L().Info("peer minor version differs",
            zap.String("session", key.String()),
            zap.Uint8("theirs", p.Header.MinorVersion))
    }

    guaranteed := p.Header.HasFlag(protocol.FlagGuaranteed)
    payload := p.Payload
    if p.Header.HasFlag(protocol.FlagFragment) {
        var err error
        payload, err = s.AcceptFragment(p.Frag, p.Payload, now)
        if err != nil {
            // no ack: the sender keeps the fragment pending and retries it
            // once capacity frees
            e.met.PacketsDropped.WithLabelValues("reassembly_full").Inc()
            return
        }
        if guaranteed {
            e.sendControl(s, protocol.ControlBody{Type: protocol.CtrlAck, Sequence: p.Header.Sequence}, now)
        }
        if payload == nil {
            return // set incomplete, or a duplicate
        }
    } else if guaranteed {
        // re-ack duplicates so a lost ack cannot wedge the sender, but
        // deliver each sequence upward once
        dup := !s.MarkDelivered(p.Header.Sequence, now)
        e.sendControl(s, protocol.ControlBody{Type: protocol.CtrlAck, Sequence: p.Header.Sequence}, now)
        if dup {
            e.met.PacketsDropped.WithLabelValues("duplicate").Inc()
            return
        }
    }
    if e.hooks.OnMessage != nil {
        e.hooks.OnMessage(&Handle{ep: e, s: s}, payload)
    }
}

func (e *Endpoint) handleControl(s *session.Session, key session.Key, raddr net.Addr, p *protocol.Packet, now time.Time) {
    body, err := protocol.DecodeControl(p.Payload)
    if err != nil {
        e.met.PacketsDropped.WithLabelValues("malformed").Inc()
        return
    }
    if s != nil {
        if s.State() == session.StateDisconnected {
            e.met.PacketsDropped.WithLabelValues("terminal").Inc()
            return
        }
        s.Touch(now)
    }

    switch body.Type {
    case protocol.CtrlConnect:
        e.handleConnect(s, key, raddr, now)
    case protocol.CtrlConnectAck:
        e.handleConnectAck(s, key, raddr, body, now)
    case protocol.CtrlAck:
        if s != nil {
            s.Ack(body.Sequence)
        }
    case protocol.CtrlKeepalive:
        // Touch above is the whole effect
    case protocol.CtrlDisconnect:
        if s != nil {
            e.expire(s, session.ReasonPeerClosed, now)
        }
    default:
        e.met.PacketsDropped.WithLabelValues("malformed").Inc()
    }
}

// handleConnect accepts a handshake request. The responder is live as soon as
// its reply is on the wire; a duplicate request just provokes the same reply,
// so a lost one costs the initiator a retry and nothing else.
func (e *Endpoint) handleConnect(s *session.Session, key session.Key, raddr net.Addr, now time.Time) {
    if s == nil {
        s = session.New(key, raddr, randomSessionID(), false, e.table.Limits(), now)
        if !e.table.Insert(s) {
            // racing request for the same key; the winner answers
            return
        }
        e.met.ActiveSessions.Inc()
        s.Connect(now)
        zap.L().Info("session accepted", zap.String("session", key.String()))
    }
    if s.State() != session.StateConnected {
        return
    }
    e.sendControl(s, protocol.ControlBody{Type: protocol.CtrlConnectAck, SessionID: key.ID}, now)
}

// handleConnectAck completes a dial. The pending session sits in the table
// under id 0 until the reply names the responder's id; then it is re-keyed so
// the peer's subsequent frames find it.
func (e *Endpoint) handleConnectAck(s *session.Session, key session.Key, raddr net.Addr, body protocol.ControlBody, now time.Time) {
    if s != nil {
        return // already promoted; duplicate reply
    }
    pendingKey := session.Key{Remote: raddr.String(), ID: 0}
    pending := e.table.Get(pendingKey)
    if pending == nil || !pending.Initiator() || pending.OutgoingID() != body.SessionID {
        e.met.PacketsDropped.WithLabelValues("no_session").Inc()
        return
    }
    e.table.Remove(pendingKey)
    pending.RebindKey(key)
    if !e.table.Insert(pending) {
        return
    }
    pending.Touch(now)
    flushed, ok := pending.Connect(now)
    if !ok {
        return
    }
    zap.L().Info("session established", zap.String("session", key.String()))
    for _, b := range flushed {
        if err := e.sendPayload(pending, b.Payload, b.Guaranteed, now); err != nil {
            zap.L().Warn("buffered send dropped", zap.String("session", key.String()), zap.Error(err))
        }
    }
}
