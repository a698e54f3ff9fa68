package protocol

import (
    "fmt"

    cbor "github.com/fxamacker/cbor/v2"
)

// ControlType discriminates protocol-internal messages.
type ControlType uint8

const (
    CtrlUnknown ControlType = iota
    CtrlConnect             // handshake request, carries initiator session id
    CtrlConnectAck          // handshake reply, carries responder session id
    CtrlAck                 // acknowledges one guaranteed sequence
    CtrlKeepalive           // refreshes idle timers only
    CtrlDisconnect          // explicit graceful close
)

func (t ControlType) String() string {
    switch t {
    case CtrlConnect:
        return "connect"
    case CtrlConnectAck:
        return "connect-ack"
    case CtrlAck:
        return "ack"
    case CtrlKeepalive:
        return "keepalive"
    case CtrlDisconnect:
        return "disconnect"
    default:
        return "unknown"
    }
}

// ControlBody is the CBOR-encoded payload of a Control packet. SessionID is
// meaningful for connect/connectAck (the sender's id for the reverse
// direction); Sequence for ack (the acknowledged guaranteed sequence).
type ControlBody struct {
    Type      ControlType `cbor:"t"`
    SessionID uint32      `cbor:"sid,omitempty"`
    Sequence  uint32      `cbor:"seq,omitempty"`
}

var ctrlEnc cbor.EncMode

func init() {
    em, err := cbor.CanonicalEncOptions().EncMode()
    if err != nil {
        panic(err)
    }
    ctrlEnc = em
}

// EncodeControl marshals a control body to its wire payload.
func EncodeControl(b ControlBody) ([]byte, error) { return ctrlEnc.Marshal(b) }

// DecodeControl parses a control payload.
func DecodeControl(data []byte) (ControlBody, error) {
    var b ControlBody
    if err := cbor.Unmarshal(data, &b); err != nil {
        return ControlBody{}, fmt.Errorf("decode control: %w", err)
    }
    if b.Type == CtrlUnknown {
        return ControlBody{}, fmt.Errorf("decode control: missing type")
    }
    return b, nil
}
