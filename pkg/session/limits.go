package session

import (
    "sync/atomic"

    "gridlink/pkg/protocol"
)

// Limits tracks the system-wide resource ceilings shared by all sessions on
// one endpoint: packets waiting for acknowledgment and concurrent reassembly
// sets. Reservations are counted before the resource is created so a burst
// cannot overshoot the cap.
type Limits struct {
    pendingAcks  atomic.Int64
    reassemblies atomic.Int64
}

// ReserveAck reserves one pending-ack slot; false when the cap is reached.
func (l *Limits) ReserveAck() bool {
    if l.pendingAcks.Add(1) > protocol.MaxPacketsWaitingAcknowledge {
        l.pendingAcks.Add(-1)
        return false
    }
    return true
}

// ReserveAcks reserves n pending-ack slots as one unit; false (and nothing
// reserved) when the cap would be crossed.
func (l *Limits) ReserveAcks(n int) bool {
    if l.pendingAcks.Add(int64(n)) > protocol.MaxPacketsWaitingAcknowledge {
        l.pendingAcks.Add(int64(-n))
        return false
    }
    return true
}

// ReleaseAcks returns n pending-ack slots.
func (l *Limits) ReleaseAcks(n int) { l.pendingAcks.Add(int64(-n)) }

// ReserveReassembly reserves one reassembly-set slot; false when full.
func (l *Limits) ReserveReassembly() bool {
    if l.reassemblies.Add(1) > protocol.MaxPacketsBeingFragmented {
        l.reassemblies.Add(-1)
        return false
    }
    return true
}

// ReleaseReassemblies returns n reassembly-set slots.
func (l *Limits) ReleaseReassemblies(n int) { l.reassemblies.Add(int64(-n)) }

// PendingAcks returns the current global pending-ack count.
func (l *Limits) PendingAcks() int { return int(l.pendingAcks.Load()) }

// Reassemblies returns the current global reassembly-set count.
func (l *Limits) Reassemblies() int { return int(l.reassemblies.Load()) }
