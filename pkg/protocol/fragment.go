package protocol

import "fmt"

// Fragments splits the packet payload into chunks of at most MaxFrameDataSize
// and yields one packet per chunk. Each carries the same message id, an
// ascending index and the explicit total so reassembly tolerates reordering.
// A payload that already fits returns the packet unchanged.
func (p *Packet) Fragments(messageID uint32) ([]Packet, error) {
    data := p.Payload
    total := (len(data) + MaxFrameDataSize - 1) / MaxFrameDataSize
    if total <= 1 {
        return []Packet{*p}, nil
    }
    if total > 0xffff {
        return nil, fmt.Errorf("message of %d bytes exceeds fragment index space", len(data))
    }
    out := make([]Packet, 0, total)
    for i := 0; i < total; i++ {
        start := i * MaxFrameDataSize
        end := start + MaxFrameDataSize
        if end > len(data) { end = len(data) }
        np := Packet{Header: p.Header}
        np.Payload = append([]byte(nil), data[start:end]...)
        np.Header.SetFlag(FlagFragment, true)
        np.Frag = FragInfo{MessageID: messageID, Index: uint16(i), Total: uint16(total)}
        out = append(out, np)
    }
    return out, nil
}
