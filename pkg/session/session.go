package session

import (
    "errors"
    "net"
    "sync"
    "time"

    "go.uber.org/zap"

    "gridlink/pkg/protocol"
)

// ErrResourceExhausted reports that a system-wide ceiling (pending acks or
// concurrent reassembly sets) is reached. Existing sessions are unaffected;
// the rejected operation may be retried once capacity frees.
var ErrResourceExhausted = errors.New("resource exhausted")

// keepaliveInterval keeps healthy idle links below the idle bound.
const keepaliveInterval = protocol.MaxIdleTime / 3

// dupTrackWindow is how long a delivered guaranteed sequence (or completed
// message id) is remembered. It covers the peer's whole retransmission
// schedule, so a retransmit whose ack was lost is recognized as a duplicate.
const dupTrackWindow = (protocol.MaxResendCount + 2) * protocol.MaxAcknowledgeWait

// queuedSend is an application message buffered while the handshake is in
// flight, flushed on entry to Connected.
type queuedSend struct {
    Payload    []byte
    Guaranteed bool
}

// Session is the per-peer protocol state machine plus its send/receive
// bookkeeping. All mutable state is guarded by one mutex so a state
// transition and its side effects (canceling acks, discarding reassembly)
// are observed atomically; sessions for different keys never share a lock.
type Session struct {
    key       Key
    remote    net.Addr
    outID     uint32
    initiator bool

    mu           sync.Mutex
    state        State
    createdAt    time.Time
    lastActivity time.Time
    lastSend     time.Time
    nextSeq      uint32
    acks         *ackQueue
    reasm        *reassembler
    seen         map[uint32]time.Time
    buffered     []queuedSend
    limits       *Limits
    skewLogged   bool
    closedAt     time.Time
}

// reapGrace keeps a terminal session in the table long enough to absorb late
// packets instead of letting them spawn a fresh session.
const reapGrace = protocol.MaxIdleTime

// New creates a session in Connecting. outID is the id stamped into headers
// this side sends; initiator marks the side that opened the session.
func New(key Key, remote net.Addr, outID uint32, initiator bool, limits *Limits, now time.Time) *Session {
    return &Session{
        key:          key,
        remote:       remote,
        outID:        outID,
        initiator:    initiator,
        state:        StateConnecting,
        createdAt:    now,
        lastActivity: now,
        lastSend:     now,
        acks:         newAckQueue(),
        reasm:        newReassembler(),
        seen:         make(map[uint32]time.Time),
        limits:       limits,
    }
}

func (s *Session) Key() Key {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.key
}

func (s *Session) Remote() net.Addr      { return s.remote }
func (s *Session) OutgoingID() uint32    { return s.outID }
func (s *Session) Initiator() bool       { return s.initiator }

func (s *Session) State() State {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.state
}

// Touch records inbound activity of any kind.
func (s *Session) Touch(now time.Time) {
    s.mu.Lock()
    s.lastActivity = now
    s.mu.Unlock()
}

// NoteSend records an outbound packet for keepalive pacing.
func (s *Session) NoteSend(now time.Time) {
    s.mu.Lock()
    s.lastSend = now
    s.mu.Unlock()
}

// NextSeq allocates the next outgoing sequence number.
func (s *Session) NextSeq() uint32 {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.nextSeq++
    return s.nextSeq
}

// LogMinorSkew reports whether the given minor-version skew should be logged;
// it is reported at most once per session.
func (s *Session) LogMinorSkew(minor uint8) bool {
    if minor == protocol.MinorVersion {
        return false
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.skewLogged {
        return false
    }
    s.skewLogged = true
    return true
}

// BufferSend queues an application message while the handshake is in flight.
// Reports false once the session is past Connecting.
func (s *Session) BufferSend(payload []byte, guaranteed bool) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.state != StateConnecting {
        return false
    }
    cp := append([]byte(nil), payload...)
    s.buffered = append(s.buffered, queuedSend{Payload: cp, Guaranteed: guaranteed})
    return true
}

// Connect transitions Connecting → Connected and hands back the messages
// buffered during the handshake for the caller to flush.
func (s *Session) Connect(now time.Time) ([]queuedSend, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if !validTransition(s.state, StateConnected) {
        return nil, false
    }
    s.state = StateConnected
    s.lastActivity = now
    flush := s.buffered
    s.buffered = nil
    zap.L().Debug("session connected", zap.String("key", s.key.String()), zap.Uint32("out_id", s.outID))
    return flush, true
}

// Disconnect transitions to the terminal state, canceling pending acks and
// discarding reassembly buffers atomically so no sweep or late packet can
// resurrect the session. Reports false when already disconnected.
func (s *Session) Disconnect(reason DisconnectReason, now time.Time) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    if !validTransition(s.state, StateDisconnected) {
        return false
    }
    s.state = StateDisconnected
    s.closedAt = now
    s.limits.ReleaseAcks(s.acks.clear())
    s.limits.ReleaseReassemblies(s.reasm.clear())
    s.seen = nil
    s.buffered = nil
    zap.L().Debug("session disconnected",
        zap.String("key", s.key.String()),
        zap.String("reason", reason.String()))
    return true
}

// TrackGuaranteed records one guaranteed frame for retransmission. Fails with
// ErrResourceExhausted when the global pending-ack ceiling is reached and
// silently succeeds-as-noop on a terminal session.
func (s *Session) TrackGuaranteed(seq uint32, frame []byte, now time.Time) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.state == StateDisconnected {
        return nil
    }
    if !s.limits.ReserveAck() {
        return ErrResourceExhausted
    }
    s.acks.add(seq, frame, now)
    return nil
}

// GuaranteedFrame pairs an outgoing sequence with its encoded frame.
type GuaranteedFrame struct {
    Seq   uint32
    Frame []byte
}

// TrackGuaranteedAll records a whole guaranteed message (every fragment of
// it) for retransmission. All pending-ack slots are reserved up front, so a
// message that hits the global ceiling is rejected without leaving a partial
// tracked tail behind.
func (s *Session) TrackGuaranteedAll(frames []GuaranteedFrame, now time.Time) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.state == StateDisconnected {
        return nil
    }
    if !s.limits.ReserveAcks(len(frames)) {
        return ErrResourceExhausted
    }
    for _, f := range frames {
        s.acks.add(f.Seq, f.Frame, now)
    }
    return nil
}

// MarkDelivered records a guaranteed sequence as delivered upward. Reports
// false for a sequence already delivered within the duplicate window: the
// caller re-acks such a retransmission but must not deliver it again.
func (s *Session) MarkDelivered(seq uint32, now time.Time) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.state == StateDisconnected {
        return false
    }
    if _, dup := s.seen[seq]; dup {
        return false
    }
    s.seen[seq] = now
    return true
}

// Ack removes one pending entry; duplicates and unknown sequences are ignored.
func (s *Session) Ack(seq uint32) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    if !s.acks.ack(seq) {
        return false
    }
    s.limits.ReleaseAcks(1)
    return true
}

// PendingAcks returns the number of unacknowledged guaranteed frames.
func (s *Session) PendingAcks() int {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.acks.len()
}

// AcceptFragment feeds one received fragment to the reassembler. The returned
// payload is non-nil exactly once, when the set completes. A fragment that
// would start a new set past the global ceiling is dropped with
// ErrResourceExhausted.
func (s *Session) AcceptFragment(frag protocol.FragInfo, data []byte, now time.Time) ([]byte, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.state == StateDisconnected {
        return nil, nil
    }
    if s.reasm.isDone(frag.MessageID) {
        return nil, nil // retransmit of a delivered message; ack-worthy, not deliverable
    }
    _, tracked := s.reasm.sets[frag.MessageID]
    reserved := false
    if !tracked {
        if !s.limits.ReserveReassembly() {
            return nil, ErrResourceExhausted
        }
        reserved = true
    }
    payload, complete, started := s.reasm.add(frag, data, now)
    if reserved && !started {
        s.limits.ReleaseReassemblies(1) // fragment was rejected before creating a set
    }
    if complete {
        s.limits.ReleaseReassemblies(1)
    }
    return payload, nil
}

// Reapable reports whether a terminal session has outlived its grace period
// and may be removed from the table.
func (s *Session) Reapable(now time.Time) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.state == StateDisconnected && now.Sub(s.closedAt) > reapGrace
}

// RebindKey replaces the session key once the peer's session id becomes known
// at handshake completion. Only legal while the session is outside the table.
func (s *Session) RebindKey(key Key) {
    s.mu.Lock()
    s.key = key
    s.mu.Unlock()
}

// SweepAction is what the periodic sweep decided for one session.
type SweepAction struct {
    Resend    [][]byte
    Expire    DisconnectReason // ReasonNone while the session stays alive
    Keepalive bool
}

// Sweep applies the timer-driven checks: handshake bound for Connecting,
// idle bound for Connected, ack retransmission, stale reassembly eviction and
// keepalive pacing. It never performs the disconnect itself; the owner reacts
// to Expire so the upward notification happens outside the session lock.
func (s *Session) Sweep(now time.Time) SweepAction {
    s.mu.Lock()
    defer s.mu.Unlock()

    var act SweepAction
    switch s.state {
    case StateDisconnected:
        return act
    case StateConnecting:
        if now.Sub(s.createdAt) > protocol.HandshakeTimeout {
            act.Expire = ReasonHandshakeTimeout
        } else if now.Sub(s.lastSend) > protocol.MaxAcknowledgeWait {
            // the initiator re-offers its connect on this signal
            act.Keepalive = true
        }
        return act
    }

    if now.Sub(s.lastActivity) > protocol.MaxIdleTime {
        act.Expire = ReasonIdleTimeout
        return act
    }

    s.limits.ReleaseReassemblies(s.reasm.evictStale(now))
    for seq, at := range s.seen {
        if now.Sub(at) > dupTrackWindow {
            delete(s.seen, seq)
        }
    }

    resend, exhausted := s.acks.sweep(now)
    if exhausted {
        act.Expire = ReasonAckExhausted
        return act
    }
    for _, p := range resend {
        act.Resend = append(act.Resend, p.frame)
    }
    if len(resend) == 0 && now.Sub(s.lastSend) > keepaliveInterval {
        act.Keepalive = true
    }
    return act
}
