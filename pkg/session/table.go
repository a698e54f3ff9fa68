package session

import (
    "sync"
    "time"
)

// Table owns every live session of an endpoint, keyed by Key. Values are
// owned exclusively by the table (arena-by-map); nothing else holds a session
// beyond the handle the table returns. The table-level mutex covers lookup,
// insert and remove only; per-session bookkeeping runs under the session's
// own lock so sessions for different keys never block each other.
type Table struct {
    mu       sync.RWMutex
    sessions map[Key]*Session
    limits   *Limits
}

func NewTable() *Table {
    return &Table{sessions: make(map[Key]*Session), limits: &Limits{}}
}

// Limits exposes the shared resource ceilings for sessions created outside
// GetOrCreate (none today) and for metrics.
func (t *Table) Limits() *Limits { return t.limits }

// Get returns the live session for key, or nil.
func (t *Table) Get(key Key) *Session {
    t.mu.RLock()
    defer t.mu.RUnlock()
    return t.sessions[key]
}

// Insert registers a session for its key. Reports false when another live
// session already holds the key.
func (t *Table) Insert(s *Session) bool {
    t.mu.Lock()
    defer t.mu.Unlock()
    if _, ok := t.sessions[s.Key()]; ok {
        return false
    }
    t.sessions[s.Key()] = s
    return true
}

// GetOrCreate returns the session for key, creating one in Connecting when
// the key is unknown. created reports which case occurred.
func (t *Table) GetOrCreate(key Key, mk func(*Limits, time.Time) *Session, now time.Time) (s *Session, created bool) {
    t.mu.Lock()
    defer t.mu.Unlock()
    if s = t.sessions[key]; s != nil {
        return s, false
    }
    s = mk(t.limits, now)
    t.sessions[key] = s
    return s, true
}

// Remove drops the session for key; the caller is responsible for having
// disconnected it first.
func (t *Table) Remove(key Key) {
    t.mu.Lock()
    delete(t.sessions, key)
    t.mu.Unlock()
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
    t.mu.RLock()
    defer t.mu.RUnlock()
    return len(t.sessions)
}

// Snapshot returns the current sessions. The sweep iterates over the snapshot
// so per-session work happens outside the table lock.
func (t *Table) Snapshot() []*Session {
    t.mu.RLock()
    defer t.mu.RUnlock()
    out := make([]*Session, 0, len(t.sessions))
    for _, s := range t.sessions {
        out = append(out, s)
    }
    return out
}
