package session

import (
    "math/rand"
    "net"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "gridlink/pkg/protocol"
)

func testAddr(port int) *net.UDPAddr {
    return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func newTestSession(t *testing.T, now time.Time) *Session {
    t.Helper()
    return New(Key{Remote: "127.0.0.1:9000", ID: 1}, testAddr(9000), 2, true, &Limits{}, now)
}

func TestStateTransitions(t *testing.T) {
    now := time.Now()
    s := newTestSession(t, now)
    require.Equal(t, StateConnecting, s.State())

    _, ok := s.Connect(now)
    require.True(t, ok)
    require.Equal(t, StateConnected, s.State())

    // already connected
    _, ok = s.Connect(now)
    assert.False(t, ok)

    require.True(t, s.Disconnect(ReasonLocalClosed, now))
    require.Equal(t, StateDisconnected, s.State())

    // terminal: nothing leaves Disconnected
    assert.False(t, s.Disconnect(ReasonIdleTimeout, now))
    _, ok = s.Connect(now)
    assert.False(t, ok)
}

func TestBufferedSendsFlushedOnConnect(t *testing.T) {
    now := time.Now()
    s := newTestSession(t, now)
    require.True(t, s.BufferSend([]byte("a"), true))
    require.True(t, s.BufferSend([]byte("b"), false))

    flush, ok := s.Connect(now)
    require.True(t, ok)
    require.Len(t, flush, 2)
    assert.Equal(t, []byte("a"), flush[0].Payload)
    assert.True(t, flush[0].Guaranteed)
    assert.False(t, flush[1].Guaranteed)

    // past Connecting, sends are no longer buffered
    assert.False(t, s.BufferSend([]byte("c"), false))
}

func TestAckRetransmitAfterWait(t *testing.T) {
    now := time.Now()
    s := newTestSession(t, now)
    _, ok := s.Connect(now)
    require.True(t, ok)

    frame := []byte{1, 2, 3}
    require.NoError(t, s.TrackGuaranteed(7, frame, now))

    // before the wait elapses nothing is resent
    act := s.Sweep(now.Add(protocol.MaxAcknowledgeWait / 2))
    assert.Empty(t, act.Resend)
    assert.Equal(t, ReasonNone, act.Expire)

    // keep activity fresh so the idle bound does not trip first
    now = now.Add(protocol.MaxAcknowledgeWait + time.Millisecond)
    s.Touch(now)
    act = s.Sweep(now)
    require.Len(t, act.Resend, 1)
    assert.Equal(t, frame, act.Resend[0])
}

func TestAckExhaustionDisconnects(t *testing.T) {
    now := time.Now()
    s := newTestSession(t, now)
    _, ok := s.Connect(now)
    require.True(t, ok)
    require.NoError(t, s.TrackGuaranteed(1, []byte{0}, now))

    for i := 0; i < protocol.MaxResendCount; i++ {
        now = now.Add(protocol.MaxAcknowledgeWait + time.Millisecond)
        s.Touch(now)
        act := s.Sweep(now)
        require.Len(t, act.Resend, 1, "resend %d", i)
        require.Equal(t, ReasonNone, act.Expire)
    }

    now = now.Add(protocol.MaxAcknowledgeWait + time.Millisecond)
    s.Touch(now)
    act := s.Sweep(now)
    assert.Empty(t, act.Resend)
    assert.Equal(t, ReasonAckExhausted, act.Expire)
}

func TestAckIdempotent(t *testing.T) {
    now := time.Now()
    s := newTestSession(t, now)
    s.Connect(now)
    require.NoError(t, s.TrackGuaranteed(5, []byte{5}, now))

    assert.True(t, s.Ack(5))
    assert.False(t, s.Ack(5), "duplicate ack must be ignored")
    assert.False(t, s.Ack(99), "unknown ack must be ignored")
    assert.Zero(t, s.PendingAcks())
}

func TestIdleTimeout(t *testing.T) {
    now := time.Now()
    s := newTestSession(t, now)
    s.Connect(now)

    act := s.Sweep(now.Add(protocol.MaxIdleTime - time.Millisecond))
    assert.Equal(t, ReasonNone, act.Expire)

    act = s.Sweep(now.Add(protocol.MaxIdleTime + time.Millisecond))
    assert.Equal(t, ReasonIdleTimeout, act.Expire)
}

func TestHandshakeTimeout(t *testing.T) {
    now := time.Now()
    s := newTestSession(t, now)

    act := s.Sweep(now.Add(protocol.HandshakeTimeout - time.Millisecond))
    assert.Equal(t, ReasonNone, act.Expire)

    act = s.Sweep(now.Add(protocol.HandshakeTimeout + time.Millisecond))
    assert.Equal(t, ReasonHandshakeTimeout, act.Expire)
}

func TestKeepalivePacing(t *testing.T) {
    now := time.Now()
    s := newTestSession(t, now)
    s.Connect(now)

    act := s.Sweep(now.Add(keepaliveInterval / 2))
    assert.False(t, act.Keepalive)

    later := now.Add(keepaliveInterval + time.Millisecond)
    s.Touch(later) // inbound traffic alone does not reset send pacing
    act = s.Sweep(later)
    assert.True(t, act.Keepalive)

    s.NoteSend(later)
    act = s.Sweep(later)
    assert.False(t, act.Keepalive)
}

func TestDisconnectCancelsBookkeeping(t *testing.T) {
    now := time.Now()
    limits := &Limits{}
    s := New(Key{Remote: "127.0.0.1:9000", ID: 1}, testAddr(9000), 2, true, limits, now)
    s.Connect(now)

    require.NoError(t, s.TrackGuaranteed(1, []byte{1}, now))
    _, err := s.AcceptFragment(protocol.FragInfo{MessageID: 8, Index: 0, Total: 2}, []byte{1}, now)
    require.NoError(t, err)
    require.Equal(t, 1, limits.PendingAcks())
    require.Equal(t, 1, limits.Reassemblies())

    require.True(t, s.Disconnect(ReasonAckExhausted, now))
    assert.Zero(t, limits.PendingAcks())
    assert.Zero(t, limits.Reassemblies())

    // a terminal session absorbs late bookkeeping without effect
    require.NoError(t, s.TrackGuaranteed(2, []byte{2}, now))
    assert.Zero(t, limits.PendingAcks())
}

func TestReassemblyAnyPermutation(t *testing.T) {
    data := make([]byte, 700)
    for i := range data { data[i] = byte(i * 7) }

    p := protocol.Packet{Header: protocol.Header{MajorVersion: protocol.MajorVersion}, Payload: data}
    frags, err := p.Fragments(42)
    require.NoError(t, err)
    require.Len(t, frags, 3)

    rng := rand.New(rand.NewSource(1))
    for trial := 0; trial < 10; trial++ {
        now := time.Now()
        s := newTestSession(t, now)
        s.Connect(now)
        order := rng.Perm(len(frags))

        var got []byte
        for _, i := range order {
            payload, err := s.AcceptFragment(frags[i].Frag, frags[i].Payload, now)
            require.NoError(t, err)
            if payload != nil {
                require.Nil(t, got, "delivered more than once")
                got = payload
            }
        }
        require.Equal(t, data, got, "order %v", order)
    }
}

func TestReassemblyDuplicateIdempotent(t *testing.T) {
    data := make([]byte, 600)
    p := protocol.Packet{Header: protocol.Header{MajorVersion: protocol.MajorVersion}, Payload: data}
    frags, err := p.Fragments(1)
    require.NoError(t, err)

    now := time.Now()
    s := newTestSession(t, now)
    s.Connect(now)

    deliveries := 0
    feed := func(f protocol.Packet) {
        payload, err := s.AcceptFragment(f.Frag, f.Payload, now)
        require.NoError(t, err)
        if payload != nil { deliveries++ }
    }
    feed(frags[0])
    feed(frags[0]) // duplicate before completion
    feed(frags[1])
    feed(frags[2])
    feed(frags[2]) // duplicate after completion starts a fresh set
    assert.Equal(t, 1, deliveries)
}

func TestReassemblyStaleEviction(t *testing.T) {
    now := time.Now()
    limits := &Limits{}
    s := New(Key{Remote: "127.0.0.1:9000", ID: 1}, testAddr(9000), 2, true, limits, now)
    s.Connect(now)

    _, err := s.AcceptFragment(protocol.FragInfo{MessageID: 3, Index: 0, Total: 4}, []byte{1}, now)
    require.NoError(t, err)
    require.Equal(t, 1, limits.Reassemblies())

    now = now.Add(protocol.MaxIdleTime + time.Millisecond)
    s.Touch(now) // keep the session itself alive
    s.Sweep(now)
    assert.Zero(t, limits.Reassemblies(), "stale set must be evicted")
}

func TestResourceCeilings(t *testing.T) {
    now := time.Now()
    limits := &Limits{}
    s := New(Key{Remote: "127.0.0.1:9000", ID: 1}, testAddr(9000), 2, true, limits, now)
    s.Connect(now)

    for i := 0; i < protocol.MaxPacketsWaitingAcknowledge; i++ {
        require.NoError(t, s.TrackGuaranteed(uint32(i), nil, now))
    }
    err := s.TrackGuaranteed(uint32(protocol.MaxPacketsWaitingAcknowledge), nil, now)
    assert.ErrorIs(t, err, ErrResourceExhausted)

    // freeing one slot lets a new guaranteed send through
    require.True(t, s.Ack(0))
    assert.NoError(t, s.TrackGuaranteed(uint32(protocol.MaxPacketsWaitingAcknowledge), nil, now))

    for i := 0; i < protocol.MaxPacketsBeingFragmented; i++ {
        _, err := s.AcceptFragment(protocol.FragInfo{MessageID: uint32(i), Index: 0, Total: 2}, []byte{1}, now)
        require.NoError(t, err)
    }
    _, err = s.AcceptFragment(protocol.FragInfo{MessageID: 9999, Index: 0, Total: 2}, []byte{1}, now)
    assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestTableDistinctSessionIDs(t *testing.T) {
    tbl := NewTable()
    now := time.Now()
    mk := func(id uint32) func(*Limits, time.Time) *Session {
        return func(l *Limits, now time.Time) *Session {
            return New(Key{Remote: "127.0.0.1:9000", ID: id}, testAddr(9000), id + 100, false, l, now)
        }
    }

    a, created := tbl.GetOrCreate(Key{Remote: "127.0.0.1:9000", ID: 1}, mk(1), now)
    require.True(t, created)
    b, created := tbl.GetOrCreate(Key{Remote: "127.0.0.1:9000", ID: 2}, mk(2), now)
    require.True(t, created)
    require.NotSame(t, a, b, "same remote with different ids must map to distinct sessions")

    again, created := tbl.GetOrCreate(Key{Remote: "127.0.0.1:9000", ID: 1}, mk(1), now)
    assert.False(t, created)
    assert.Same(t, a, again)

    // lifecycles are independent
    require.True(t, a.Disconnect(ReasonIdleTimeout, now))
    assert.Equal(t, StateConnecting, b.State())

    tbl.Remove(a.Key())
    assert.Nil(t, tbl.Get(a.Key()))
    assert.Same(t, b, tbl.Get(b.Key()))
    assert.Equal(t, 1, tbl.Len())
}

func TestDeliveredSequenceRemembered(t *testing.T) {
    now := time.Now()
    s := newTestSession(t, now)
    s.Connect(now)

    require.True(t, s.MarkDelivered(7, now))
    assert.False(t, s.MarkDelivered(7, now), "retransmitted sequence must read as duplicate")
    require.True(t, s.MarkDelivered(8, now))

    // once the retransmission window has long passed, the entry is let go
    later := now.Add(dupTrackWindow + time.Second)
    s.Touch(later)
    s.Sweep(later)
    assert.True(t, s.MarkDelivered(7, later))
}

func TestCompletedMessageFragmentsNotReplayed(t *testing.T) {
    now := time.Now()
    limits := &Limits{}
    s := New(Key{Remote: "127.0.0.1:9000", ID: 1}, testAddr(9000), 2, true, limits, now)
    s.Connect(now)

    frag := func(idx uint16) protocol.FragInfo {
        return protocol.FragInfo{MessageID: 42, Index: idx, Total: 2}
    }
    first, err := s.AcceptFragment(frag(0), []byte("he"), now)
    require.NoError(t, err)
    require.Nil(t, first)
    whole, err := s.AcceptFragment(frag(1), []byte("llo"), now)
    require.NoError(t, err)
    require.Equal(t, []byte("hello"), whole)
    require.Zero(t, limits.Reassemblies())

    // a straggling retransmit of the finished message must not open a new
    // set or surface a second payload
    again, err := s.AcceptFragment(frag(0), []byte("he"), now)
    require.NoError(t, err)
    assert.Nil(t, again)
    assert.Zero(t, limits.Reassemblies())
}

func TestRebindKeyConcurrentWithSweep(t *testing.T) {
    now := time.Now()
    s := newTestSession(t, now)
    s.Connect(now)

    var wg sync.WaitGroup
    wg.Add(2)
    go func() {
        defer wg.Done()
        for i := 0; i < 200; i++ {
            s.RebindKey(Key{Remote: "127.0.0.1:9000", ID: uint32(i)})
        }
    }()
    go func() {
        defer wg.Done()
        for i := 0; i < 200; i++ {
            _ = s.Key()
            s.Sweep(now)
        }
    }()
    wg.Wait()
    assert.Equal(t, uint32(199), s.Key().ID)
}

func TestTrackGuaranteedAllIsAtomic(t *testing.T) {
    now := time.Now()
    limits := &Limits{}
    s := New(Key{Remote: "127.0.0.1:9000", ID: 1}, testAddr(9000), 2, true, limits, now)
    s.Connect(now)

    // leave room for only two entries, then ask for three
    require.True(t, limits.ReserveAcks(protocol.MaxPacketsWaitingAcknowledge-2))
    frames := []GuaranteedFrame{{Seq: 1}, {Seq: 2}, {Seq: 3}}
    err := s.TrackGuaranteedAll(frames, now)
    require.ErrorIs(t, err, ErrResourceExhausted)
    assert.Zero(t, s.PendingAcks(), "a rejected batch must leave nothing tracked")
    assert.Equal(t, protocol.MaxPacketsWaitingAcknowledge-2, limits.PendingAcks())

    limits.ReleaseAcks(1)
    require.NoError(t, s.TrackGuaranteedAll(frames, now))
    assert.Equal(t, 3, s.PendingAcks())
}
