package session

import (
    "time"

    "gridlink/pkg/protocol"
)

// pendingPacket is one guaranteed frame awaiting acknowledgment. The encoded
// wire frame is kept verbatim so retransmission is a plain rewrite.
type pendingPacket struct {
    seq     uint32
    frame   []byte
    sentAt  time.Time
    resends int
}

// ackQueue tracks guaranteed packets of one session in send order.
type ackQueue struct {
    entries map[uint32]*pendingPacket
    order   []uint32
}

func newAckQueue() *ackQueue {
    return &ackQueue{entries: make(map[uint32]*pendingPacket)}
}

func (q *ackQueue) add(seq uint32, frame []byte, now time.Time) {
    q.entries[seq] = &pendingPacket{seq: seq, frame: frame, sentAt: now}
    q.order = append(q.order, seq)
}

// ack removes the matching entry. Unmatched or duplicate acks report false and
// have no effect.
func (q *ackQueue) ack(seq uint32) bool {
    if _, ok := q.entries[seq]; !ok {
        return false
    }
    delete(q.entries, seq)
    return true
}

// sweep collects entries older than the acknowledge wait. Entries that still
// can still be resent are returned with resendCount bumped and sentAt reset;
// an entry already at MaxResendCount marks the queue exhausted and is not
// retransmitted again.
func (q *ackQueue) sweep(now time.Time) (resend []*pendingPacket, exhausted bool) {
    live := q.order[:0]
    for _, seq := range q.order {
        p, ok := q.entries[seq]
        if !ok {
            continue // acked since
        }
        live = append(live, seq)
        if now.Sub(p.sentAt) < protocol.MaxAcknowledgeWait {
            continue
        }
        if p.resends >= protocol.MaxResendCount {
            exhausted = true
            continue
        }
        p.resends++
        p.sentAt = now
        resend = append(resend, p)
    }
    q.order = live
    return resend, exhausted
}

func (q *ackQueue) len() int { return len(q.entries) }

// clear drops every entry and reports how many were removed.
func (q *ackQueue) clear() int {
    n := len(q.entries)
    q.entries = make(map[uint32]*pendingPacket)
    q.order = q.order[:0]
    return n
}
