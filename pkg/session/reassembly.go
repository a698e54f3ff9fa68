package session

import (
    "bytes"
    "time"

    "gridlink/pkg/protocol"
)

// fragmentSet accumulates the fragments of one message. parts is indexed by
// fragment index; received counts distinct indices seen so far.
type fragmentSet struct {
    total    uint16
    received int
    parts    [][]byte
    lastFrag time.Time
}

// reassembler rebuilds fragmented messages for one session. done remembers
// recently completed message ids so a retransmitted fragment of an already
// delivered message cannot restart a set or provoke a second delivery.
type reassembler struct {
    sets map[uint32]*fragmentSet
    done map[uint32]time.Time
}

func newReassembler() *reassembler {
    return &reassembler{sets: make(map[uint32]*fragmentSet), done: make(map[uint32]time.Time)}
}

// isDone reports whether a message id completed within the duplicate window.
func (r *reassembler) isDone(messageID uint32) bool {
    _, ok := r.done[messageID]
    return ok
}

// add applies one fragment. started reports that a new set was created (the
// caller reserves the global slot before that happens). Duplicate fragments
// are idempotently ignored. When every index 0..total-1 is present the joined
// payload is returned exactly once and the set is removed.
func (r *reassembler) add(frag protocol.FragInfo, data []byte, now time.Time) (payload []byte, complete bool, started bool) {
    if frag.Total == 0 || frag.Index >= frag.Total {
        return nil, false, false
    }
    if r.isDone(frag.MessageID) {
        return nil, false, false // stray fragment of a delivered message
    }
    fs, ok := r.sets[frag.MessageID]
    if !ok {
        fs = &fragmentSet{total: frag.Total, parts: make([][]byte, frag.Total)}
        r.sets[frag.MessageID] = fs
        started = true
    }
    if frag.Total != fs.total {
        // conflicting total for a known message; drop the fragment
        return nil, false, started
    }
    fs.lastFrag = now
    if fs.parts[frag.Index] != nil {
        return nil, false, started // duplicate, already-set slot
    }
    fs.parts[frag.Index] = append([]byte(nil), data...)
    fs.received++
    if fs.received < int(fs.total) {
        return nil, false, started
    }
    delete(r.sets, frag.MessageID)
    r.done[frag.MessageID] = now
    return bytes.Join(fs.parts, nil), true, started
}

// evictStale discards sets with no new fragment for longer than the idle
// bound and reports how many were dropped.
func (r *reassembler) evictStale(now time.Time) int {
    n := 0
    for id, fs := range r.sets {
        if now.Sub(fs.lastFrag) > protocol.MaxIdleTime {
            delete(r.sets, id)
            n++
        }
    }
    for id, at := range r.done {
        if now.Sub(at) > dupTrackWindow {
            delete(r.done, id)
        }
    }
    return n
}

func (r *reassembler) size() int { return len(r.sets) }

// clear drops every set and reports how many were removed.
func (r *reassembler) clear() int {
    n := len(r.sets)
    r.sets = make(map[uint32]*fragmentSet)
    r.done = nil
    return n
}
