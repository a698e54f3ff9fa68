package protocol

import (
    "bytes"
    "errors"
    "testing"
)

func TestPacketRoundtrip(t *testing.T) {
    for _, n := range []int{0, 1, 100, MaxFrameDataSize} {
        payload := bytes.Repeat([]byte{0xab}, n)
        p := Packet{
            Header:  Header{MajorVersion: MajorVersion, SessionID: 7, Sequence: 9},
            Payload: payload,
        }
        b, err := p.EncodeFrame()
        if err != nil { t.Fatalf("encode n=%d: %v", n, err) }
        if len(b) != HeaderSize+n { t.Fatalf("frame len = %d", len(b)) }

        var p2 Packet
        if err := p2.DecodeFrame(b); err != nil { t.Fatalf("decode n=%d: %v", n, err) }
        if !bytes.Equal(p2.Payload, payload) { t.Fatalf("payload differs at n=%d", n) }
        if p2.Header != p.Header { t.Fatalf("header differs: %#v", p2.Header) }
    }
}

func TestPacketFragmentRoundtrip(t *testing.T) {
    p := Packet{
        Header:  Header{MajorVersion: MajorVersion, Flags: FlagFragment, SessionID: 3},
        Frag:    FragInfo{MessageID: 0xc0ffee, Index: 2, Total: 5},
        Payload: bytes.Repeat([]byte{1}, MaxFrameDataSize),
    }
    b, err := p.EncodeFrame()
    if err != nil { t.Fatalf("encode: %v", err) }
    if len(b) != HeaderSize+FragHeaderSize+MaxFrameDataSize { t.Fatalf("frame len = %d", len(b)) }

    var p2 Packet
    if err := p2.DecodeFrame(b); err != nil { t.Fatalf("decode: %v", err) }
    if p2.Frag != p.Frag { t.Fatalf("frag differs: %#v", p2.Frag) }
    if !bytes.Equal(p2.Payload, p.Payload) { t.Fatal("payload differs") }
}

func TestPacketOversizedPayloadRejected(t *testing.T) {
    p := Packet{Header: Header{MajorVersion: MajorVersion}, Payload: make([]byte, MaxFrameDataSize+1)}
    if _, err := p.EncodeFrame(); !errors.Is(err, ErrPayloadTooLarge) {
        t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
    }
}

func TestPacketTruncatedFragHeader(t *testing.T) {
    p := Packet{Header: Header{MajorVersion: MajorVersion, Flags: FlagFragment}}
    hb, _ := p.Header.MarshalBinary()
    var p2 Packet
    if err := p2.DecodeFrame(hb); err == nil {
        t.Fatal("truncated fragment sub-header accepted")
    }
}

func TestFragmentsSplit(t *testing.T) {
    data := make([]byte, 600)
    for i := range data { data[i] = byte(i) }
    p := Packet{Header: Header{MajorVersion: MajorVersion, Flags: FlagGuaranteed}, Payload: data}

    frags, err := p.Fragments(99)
    if err != nil { t.Fatalf("fragments: %v", err) }
    if len(frags) != 3 { t.Fatalf("fragments = %d, want 3", len(frags)) }
    sizes := []int{255, 255, 90}
    var rejoined []byte
    for i, f := range frags {
        if len(f.Payload) != sizes[i] { t.Fatalf("frag %d size = %d, want %d", i, len(f.Payload), sizes[i]) }
        if !f.Header.HasFlag(FlagFragment) { t.Fatalf("frag %d missing flag", i) }
        if f.Frag.MessageID != 99 || int(f.Frag.Index) != i || f.Frag.Total != 3 {
            t.Fatalf("frag %d info = %#v", i, f.Frag)
        }
        rejoined = append(rejoined, f.Payload...)
    }
    if !bytes.Equal(rejoined, data) { t.Fatal("rejoined payload differs") }
}

func TestFragmentsSmallPayloadUnsplit(t *testing.T) {
    p := Packet{Header: Header{MajorVersion: MajorVersion}, Payload: make([]byte, MaxFrameDataSize)}
    frags, err := p.Fragments(1)
    if err != nil { t.Fatalf("fragments: %v", err) }
    if len(frags) != 1 || frags[0].Header.HasFlag(FlagFragment) {
        t.Fatalf("unexpected split: %d", len(frags))
    }
}
