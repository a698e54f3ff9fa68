package session

// State is the session lifecycle state. Disconnected is terminal; no
// transition ever leaves it.
type State int

const (
    StateConnecting State = iota
    StateConnected
    StateDisconnected
)

func (s State) String() string {
    switch s {
    case StateConnecting:
        return "connecting"
    case StateConnected:
        return "connected"
    case StateDisconnected:
        return "disconnected"
    default:
        return "invalid"
    }
}

// validTransition reports whether moving from one state to another is legal.
func validTransition(from, to State) bool {
    switch from {
    case StateConnecting:
        return to == StateConnected || to == StateDisconnected
    case StateConnected:
        return to == StateDisconnected
    default:
        return false
    }
}

// DisconnectReason explains why a session reached Disconnected. Only these
// reasons ever surface to the application.
type DisconnectReason int

const (
    ReasonNone DisconnectReason = iota
    ReasonHandshakeTimeout
    ReasonAckExhausted
    ReasonIdleTimeout
    ReasonPeerClosed
    ReasonLocalClosed
)

func (r DisconnectReason) String() string {
    switch r {
    case ReasonHandshakeTimeout:
        return "handshake-timeout"
    case ReasonAckExhausted:
        return "ack-exhausted"
    case ReasonIdleTimeout:
        return "idle-timeout"
    case ReasonPeerClosed:
        return "peer-closed"
    case ReasonLocalClosed:
        return "local-closed"
    default:
        return "none"
    }
}
