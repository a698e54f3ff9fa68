package protocol

import "time"

// Protocol version carried in every header. A major mismatch is fatal for the
// packet; minor skew is tolerated by receivers.
const (
    MajorVersion uint8 = 2
    MinorVersion uint8 = 0
)

// Flags bitmask (uint8)
const (
    FlagGuaranteed uint8 = 1 << 0 // delivery tracked by the ack engine
    FlagControl    uint8 = 1 << 1 // protocol-internal, never surfaced upward
    FlagFragment   uint8 = 1 << 2 // payload starts with a fragment sub-header
)

// Sizing limits. MaxFrameDataSize bounds the data portion of one packet; the
// fragment sub-header does not count against it. MaxPacketSize is the
// practical MTU ceiling for a whole datagram.
const (
    MaxPacketSize    = 1500
    MaxFrameDataSize = 255
)

// Timing and retry bounds.
const (
    HandshakeTimeout   = 5 * time.Second
    MaxIdleTime        = 3 * time.Second
    MaxAcknowledgeWait = 500 * time.Millisecond
    MaxResendCount     = 10
)

// System-wide resource ceilings.
const (
    MaxPacketsWaitingAcknowledge = 10000
    MaxPacketsBeingFragmented    = 100
)

// Region topology settle delays and well-known ports.
const (
    RegionConnectDelay    = 3 * time.Second
    RegionDisconnectDelay = 3 * time.Second

    DefaultServerPort = 1253
    DefaultHubPort    = 1254
)
