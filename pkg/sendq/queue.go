// Package sendq provides the outbound packet queue between Send callers and
// the socket writer: strict priority between classes, deficit round robin
// between destinations within a class, so one chatty peer cannot starve the
// rest and control traffic always goes first.
package sendq

import (
    "net"
    "sync"
)

// Class is a priority class: control > guaranteed > bulk.
type Class int

const (
    ClassControl Class = iota
    ClassGuaranteed
    ClassBulk
    numClasses
)

// Item is one encoded frame bound for a remote address.
type Item struct {
    Frame []byte
    Dest  net.Addr
    Class Class
}

// flow implements a DRR queue per destination.
type flow struct {
    key     string
    q       []Item
    deficit int
    quantum int
}

type level struct {
    flows map[string]*flow
    order []string // round robin order
    idx   int
}

// Queue: strict priority between levels, DRR within a level.
type Queue struct {
    mu     sync.Mutex
    cond   *sync.Cond
    lvls   [numClasses]*level
    closed bool
}

func New() *Queue {
    q := &Queue{}
    q.cond = sync.NewCond(&q.mu)
    for i := 0; i < int(numClasses); i++ {
        q.lvls[i] = &level{flows: make(map[string]*flow), order: make([]string, 0, 8)}
    }
    return q
}

func chooseQuantum(c Class) int {
    switch c {
    case ClassControl:
        return 512 // tiny control bodies, quick turn
    case ClassGuaranteed:
        return 2048
    default:
        return 8192
    }
}

// Enqueue appends an item to the appropriate class/flow. Items enqueued after
// Close are dropped.
func (q *Queue) Enqueue(it Item) {
    key := it.Dest.String()
    q.mu.Lock()
    if q.closed {
        q.mu.Unlock()
        return
    }
    lvl := q.lvls[it.Class]
    f := lvl.flows[key]
    if f == nil {
        f = &flow{key: key, quantum: chooseQuantum(it.Class)}
        lvl.flows[key] = f
        lvl.order = append(lvl.order, key)
    }
    f.q = append(f.q, it)
    q.cond.Signal()
    q.mu.Unlock()
}

// Dequeue blocks until an item is available or the queue is closed.
func (q *Queue) Dequeue() (Item, bool) {
    q.mu.Lock()
    defer q.mu.Unlock()
    for {
        if it, ok := q.tryPop(); ok {
            return it, true
        }
        if q.closed {
            return Item{}, false
        }
        q.cond.Wait()
    }
}

// Close unblocks every waiter; pending items are discarded.
func (q *Queue) Close() {
    q.mu.Lock()
    q.closed = true
    q.cond.Broadcast()
    q.mu.Unlock()
}

// tryPop runs under q.mu.
func (q *Queue) tryPop() (Item, bool) {
    for li := 0; li < int(numClasses); li++ {
        lvl := q.lvls[li]
        n := len(lvl.order)
        if n == 0 {
            continue
        }
        // two passes: the first may only refill deficits
        for pass := 0; pass < 2; pass++ {
            start := lvl.idx
            for i := 0; i < n; i++ {
                j := (start + i) % n
                f := lvl.flows[lvl.order[j]]
                if f == nil || len(f.q) == 0 {
                    continue
                }
                if f.deficit <= 0 {
                    f.deficit += f.quantum
                }
                sz := len(f.q[0].Frame)
                if sz > f.deficit {
                    continue
                }
                it := f.q[0]
                copy(f.q[0:], f.q[1:])
                f.q = f.q[:len(f.q)-1]
                f.deficit -= sz
                lvl.idx = (j + 1) % n
                return it, true
            }
        }
    }
    return Item{}, false
}

// Len reports the number of queued items across all classes.
func (q *Queue) Len() int {
    q.mu.Lock()
    defer q.mu.Unlock()
    n := 0
    for _, lvl := range q.lvls {
        for _, f := range lvl.flows {
            n += len(f.q)
        }
    }
    return n
}
