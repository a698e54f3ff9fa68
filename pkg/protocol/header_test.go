package protocol

import (
    "errors"
    "testing"
)

func TestHeaderRoundtrip(t *testing.T) {
    h := Header{
        MajorVersion:   MajorVersion,
        MinorVersion:   MinorVersion,
        SourceRevision: 0xdeadbeef,
        SessionID:      0x11223344,
        Flags:          FlagGuaranteed | FlagFragment,
        Sequence:       42,
    }
    b, err := h.MarshalBinary()
    if err != nil { t.Fatalf("marshal: %v", err) }
    if len(b) != HeaderSize { t.Fatalf("header size = %d", len(b)) }

    var h2 Header
    if err := h2.UnmarshalBinary(b); err != nil { t.Fatalf("unmarshal: %v", err) }
    if h2 != h { t.Fatalf("headers differ: %#v vs %#v", h2, h) }
}

func TestHeaderShortBuffer(t *testing.T) {
    var h Header
    if err := h.UnmarshalBinary(make([]byte, HeaderSize-1)); !errors.Is(err, ErrMalformedHeader) {
        t.Fatalf("err = %v, want ErrMalformedHeader", err)
    }
}

func TestHeaderMajorVersionMismatch(t *testing.T) {
    h := Header{MajorVersion: MajorVersion + 1}
    b, _ := h.MarshalBinary()
    var h2 Header
    if err := h2.UnmarshalBinary(b); !errors.Is(err, ErrUnsupportedVersion) {
        t.Fatalf("err = %v, want ErrUnsupportedVersion", err)
    }
}

func TestHeaderMinorSkewTolerated(t *testing.T) {
    h := Header{MajorVersion: MajorVersion, MinorVersion: MinorVersion + 3}
    b, _ := h.MarshalBinary()
    var h2 Header
    if err := h2.UnmarshalBinary(b); err != nil {
        t.Fatalf("minor skew rejected: %v", err)
    }
    if h2.MinorVersion != MinorVersion+3 { t.Fatalf("minor = %d", h2.MinorVersion) }
}

func TestHeaderFlags(t *testing.T) {
    var h Header
    h.SetFlag(FlagControl, true)
    if !h.HasFlag(FlagControl) || h.HasFlag(FlagGuaranteed) {
        t.Fatalf("flags = %08b", h.Flags)
    }
    h.SetFlag(FlagControl, false)
    if h.Flags != 0 { t.Fatalf("flags = %08b", h.Flags) }
}
