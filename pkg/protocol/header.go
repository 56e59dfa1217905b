package protocol

import (
    "encoding/binary"
    "errors"

    "github.com/cespare/xxhash/v2"
)

// Fixed header layout (40 bytes) for fast parsing over any channel.
// All integer fields are little-endian.
//
//  0  ..1   Magic      'P''M'
//  2        Version    u8
//  3        Type       u8
//  4        Flags      u8
//  5        Hops       u8
//  6  ..7   Reserved   u16
//  8  ..11  PayloadLen u32
//  12 ..27  MsgID      [16]byte
//  28 ..35  TopicHash  u64
//  36 ..39  Reserved2  u32
const (
    HeaderSize     = 40
    CurrentVersion = 1
    magicWord      = uint16('P') | uint16('M')<<8
)

var (
    ErrShortHeader = errors.New("short header")
    ErrBadMagic    = errors.New("bad magic")
    ErrBadVersion  = errors.New("unsupported version")
)

// Header describes metadata for an envelope.
type Header struct {
    Version    uint8
    Type       uint8
    Flags      uint8
    Hops       uint8
    PayloadLen uint32
    MsgID      [16]byte
    TopicHash  uint64
}

// TopicHash is the 64-bit topic fingerprint carried in every header, so
// frames for a foreign topic are dropped before their payload is decoded.
func TopicHash(topic string) uint64 { return xxhash.Sum64String(topic) }

// MarshalBinary encodes header to a 40-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
    buf := make([]byte, HeaderSize)
    h.put(buf)
    return buf, nil
}

func (h *Header) put(buf []byte) {
    binary.LittleEndian.PutUint16(buf[0:2], magicWord)
    buf[2] = h.Version
    buf[3] = h.Type
    buf[4] = h.Flags
    buf[5] = h.Hops
    // 6..7 reserved
    binary.LittleEndian.PutUint32(buf[8:12], h.PayloadLen)
    copy(buf[12:28], h.MsgID[:])
    binary.LittleEndian.PutUint64(buf[28:36], h.TopicHash)
    // 36..39 reserved2 stays zero
}

// UnmarshalBinary decodes header from a 40-byte buffer.
func (h *Header) UnmarshalBinary(buf []byte) error {
    if len(buf) < HeaderSize { return ErrShortHeader }
    if binary.LittleEndian.Uint16(buf[0:2]) != magicWord { return ErrBadMagic }
    if buf[2] != CurrentVersion { return ErrBadVersion }
    h.Version = buf[2]
    h.Type = buf[3]
    h.Flags = buf[4]
    h.Hops = buf[5]
    h.PayloadLen = binary.LittleEndian.Uint32(buf[8:12])
    copy(h.MsgID[:], buf[12:28])
    h.TopicHash = binary.LittleEndian.Uint64(buf[28:36])
    return nil
}
