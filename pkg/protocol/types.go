package protocol

// Message types (fits in uint8).
const (
    MsgUnknown uint8 = iota
    MsgHello          // signed session hello, first frame on every session
    MsgPublish        // topic publication, flooded across the overlay
)

// Flags bitmask (uint8)
const (
    FlagSigned uint8 = 1 << 0 // publication carries an origin signature
)

// ContentType is optional hint for payload decoding.
// Kept as constants to avoid coupling; not serialized in header.
const (
    ContentUnknown = "application/octet-stream"
    ContentCBOR    = "application/cbor"
    ContentJSON    = "application/json"
    ContentProto   = "application/x-protobuf"
)

// TypeName returns a short label for logs and metrics.
func TypeName(t uint8) string {
    switch t {
    case MsgHello:
        return "hello"
    case MsgPublish:
        return "publish"
    default:
        return "unknown"
    }
}
