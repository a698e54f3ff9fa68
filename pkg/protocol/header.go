package protocol

import (
    "encoding/binary"
    "errors"
)

// Fixed header layout (15 bytes) prepended to every datagram.
// All integer fields are little-endian.
//
//  0        MajorVersion u8
//  1        MinorVersion u8
//  2  ..5   SourceRevision u32
//  6  ..9   SessionID u32
//  10       Flags u8
//  11 ..14  Sequence u32
const HeaderSize = 15

var (
    ErrMalformedHeader   = errors.New("malformed header")
    ErrUnsupportedVersion = errors.New("unsupported protocol version")
    ErrPayloadTooLarge   = errors.New("payload too large")
)

// Header describes metadata for one packet.
type Header struct {
    MajorVersion   uint8
    MinorVersion   uint8
    SourceRevision uint32
    SessionID      uint32
    Flags          uint8
    Sequence       uint32
}

// MarshalBinary encodes the header to a 15-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
    buf := make([]byte, HeaderSize)
    buf[0] = h.MajorVersion
    buf[1] = h.MinorVersion
    binary.LittleEndian.PutUint32(buf[2:6], h.SourceRevision)
    binary.LittleEndian.PutUint32(buf[6:10], h.SessionID)
    buf[10] = h.Flags
    binary.LittleEndian.PutUint32(buf[11:15], h.Sequence)
    return buf, nil
}

// UnmarshalBinary decodes the header from buf. The major version must match
// the local build; minor skew is left for the caller to log.
func (h *Header) UnmarshalBinary(buf []byte) error {
    if len(buf) < HeaderSize {
        return ErrMalformedHeader
    }
    if buf[0] != MajorVersion {
        return ErrUnsupportedVersion
    }
    h.MajorVersion = buf[0]
    h.MinorVersion = buf[1]
    h.SourceRevision = binary.LittleEndian.Uint32(buf[2:6])
    h.SessionID = binary.LittleEndian.Uint32(buf[6:10])
    h.Flags = buf[10]
    h.Sequence = binary.LittleEndian.Uint32(buf[11:15])
    return nil
}

// HasFlag checks whether a flag is set.
func (h *Header) HasFlag(flag uint8) bool { return (h.Flags & flag) != 0 }

// SetFlag sets/unsets a flag.
func (h *Header) SetFlag(flag uint8, on bool) {
    if on {
        h.Flags |= flag
    } else {
        h.Flags &^= flag
    }
}
