package protocol

import (
    "errors"
    "testing"
)

func TestHeaderRoundtrip(t *testing.T) {
    h := Header{Version: CurrentVersion, Type: MsgPublish, Flags: FlagSigned, Hops: 2, PayloadLen: 1234}
    for i := 0; i < len(h.MsgID); i++ { h.MsgID[i] = byte(i) }
    h.TopicHash = TopicHash("cube-transform")

    b, err := h.MarshalBinary()
    if err != nil { t.Fatalf("marshal: %v", err) }
    if len(b) != HeaderSize { t.Fatalf("header size = %d", len(b)) }
    if b[0] != 'P' || b[1] != 'M' { t.Fatalf("magic = %q", b[:2]) }

    var h2 Header
    if err := h2.UnmarshalBinary(b); err != nil { t.Fatalf("unmarshal: %v", err) }
    if h2 != h { t.Fatalf("headers differ: %#v vs %#v", h2, h) }
}

func TestHeaderRejectsGarbage(t *testing.T) {
    var h Header
    if err := h.UnmarshalBinary(make([]byte, 10)); !errors.Is(err, ErrShortHeader) { t.Fatalf("short: %v", err) }
    if err := h.UnmarshalBinary(make([]byte, HeaderSize)); !errors.Is(err, ErrBadMagic) { t.Fatalf("magic: %v", err) }

    good := Header{Version: CurrentVersion}
    b, _ := good.MarshalBinary()
    b[2] = 9
    if err := h.UnmarshalBinary(b); !errors.Is(err, ErrBadVersion) { t.Fatalf("version: %v", err) }
}

func TestTopicHashDistinguishesTopics(t *testing.T) {
    if TopicHash("cube-transform") == TopicHash("cube-transform2") { t.Fatalf("hash collision") }
    if TopicHash("a") != TopicHash("a") { t.Fatalf("hash not stable") }
}
