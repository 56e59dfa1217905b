package protocol

import (
    "fmt"
    "io"

    "github.com/google/uuid"
)

// Envelope is a header + payload wrapper for a single frame.
type Envelope struct {
    Header  Header
    Payload []byte
}

// NewMsgID generates a random (v4 UUID) 16-byte message id.
func NewMsgID() [16]byte { return uuid.New() }

// MsgIDString renders a message id for logs and seen-cache keys.
func MsgIDString(id [16]byte) string { return uuid.UUID(id).String() }

// HasFlag checks whether a flag is set.
func (e *Envelope) HasFlag(flag uint8) bool { return (e.Header.Flags & flag) != 0 }

// SetFlag sets/unsets a flag.
func (e *Envelope) SetFlag(flag uint8, on bool) {
    if on {
        e.Header.Flags |= flag
    } else {
        e.Header.Flags &^= flag
    }
}

// EncodeFrame returns header+payload as a single byte slice.
func (e *Envelope) EncodeFrame() ([]byte, error) {
    if e.Header.Version == 0 { e.Header.Version = CurrentVersion }
    e.Header.PayloadLen = uint32(len(e.Payload))
    out := make([]byte, HeaderSize+len(e.Payload))
    e.Header.put(out)
    copy(out[HeaderSize:], e.Payload)
    return out, nil
}

// DecodeFrame parses a single frame from buf. Trailing bytes are rejected.
func (e *Envelope) DecodeFrame(buf []byte) error {
    if len(buf) < HeaderSize { return io.ErrUnexpectedEOF }
    if err := e.Header.UnmarshalBinary(buf[:HeaderSize]); err != nil { return err }
    need := int(e.Header.PayloadLen)
    switch {
    case HeaderSize+need > len(buf):
        return io.ErrUnexpectedEOF
    case HeaderSize+need < len(buf):
        return fmt.Errorf("frame has %d trailing bytes", len(buf)-HeaderSize-need)
    }
    e.Payload = append(e.Payload[:0], buf[HeaderSize:]...)
    return nil
}
