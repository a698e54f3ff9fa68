package protocol

import (
    "encoding/binary"
    "io"
)

// FragHeaderSize is the fragment sub-header prepended to the data of each
// fragment: messageId u32 | index u16 | total u16, little-endian.
const FragHeaderSize = 8

// FragInfo identifies one fragment of a larger message.
type FragInfo struct {
    MessageID uint32
    Index     uint16
    Total     uint16
}

// Packet is a header + payload pair for a single datagram. For fragment
// packets Frag is valid and Payload holds only the data portion.
type Packet struct {
    Header  Header
    Frag    FragInfo
    Payload []byte
}

// EncodeFrame returns the packet as a single wire frame. The data portion must
// not exceed MaxFrameDataSize and the whole frame must fit MaxPacketSize.
func (p *Packet) EncodeFrame() ([]byte, error) {
    if len(p.Payload) > MaxFrameDataSize {
        return nil, ErrPayloadTooLarge
    }
    hb, err := p.Header.MarshalBinary()
    if err != nil {
        return nil, err
    }
    n := HeaderSize + len(p.Payload)
    if p.Header.HasFlag(FlagFragment) {
        n += FragHeaderSize
    }
    if n > MaxPacketSize {
        return nil, ErrPayloadTooLarge
    }
    out := make([]byte, 0, n)
    out = append(out, hb...)
    if p.Header.HasFlag(FlagFragment) {
        var fh [FragHeaderSize]byte
        binary.LittleEndian.PutUint32(fh[0:4], p.Frag.MessageID)
        binary.LittleEndian.PutUint16(fh[4:6], p.Frag.Index)
        binary.LittleEndian.PutUint16(fh[6:8], p.Frag.Total)
        out = append(out, fh[:]...)
    }
    out = append(out, p.Payload...)
    return out, nil
}

// DecodeFrame parses a single frame from buf.
func (p *Packet) DecodeFrame(buf []byte) error {
    if err := p.Header.UnmarshalBinary(buf); err != nil {
        return err
    }
    rest := buf[HeaderSize:]
    if p.Header.HasFlag(FlagFragment) {
        if len(rest) < FragHeaderSize {
            return io.ErrUnexpectedEOF
        }
        p.Frag.MessageID = binary.LittleEndian.Uint32(rest[0:4])
        p.Frag.Index = binary.LittleEndian.Uint16(rest[4:6])
        p.Frag.Total = binary.LittleEndian.Uint16(rest[6:8])
        rest = rest[FragHeaderSize:]
    } else {
        p.Frag = FragInfo{}
    }
    if len(rest) > MaxFrameDataSize {
        return ErrPayloadTooLarge
    }
    p.Payload = append(p.Payload[:0], rest...)
    return nil
}
