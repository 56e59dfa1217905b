package mesh

import (
    "crypto/ed25519"
    "crypto/rand"
    "errors"
    "testing"

    "posemesh/pkg/protocol"
    "posemesh/pkg/transport"
)

func sealed(t *testing.T, topic string, data []byte) (protocol.Envelope, transport.PeerID) {
    t.Helper()
    pub, priv, err := ed25519.GenerateKey(rand.Reader)
    if err != nil { t.Fatalf("keygen: %v", err) }
    origin := transport.CanonicalPeerIDFromPubKey("ed25519", pub)
    frame, _, err := sealPublication(priv, origin, topic, data)
    if err != nil { t.Fatalf("seal: %v", err) }
    var env protocol.Envelope
    if err := env.DecodeFrame(frame); err != nil { t.Fatalf("decode frame: %v", err) }
    return env, origin
}

func TestPublicationVerifies(t *testing.T) {
    env, origin := sealed(t, "room", []byte("pose"))
    if env.Header.Type != protocol.MsgPublish || env.Header.TopicHash != protocol.TopicHash("room") {
        t.Fatalf("header %+v", env.Header)
    }
    pub, err := openPublication(&env, "room", true)
    if err != nil { t.Fatalf("open: %v", err) }
    if pub.Origin != string(origin) || string(pub.Data) != "pose" { t.Fatalf("publication %+v", pub) }
}

func TestPublicationRejectsTampering(t *testing.T) {
    env, _ := sealed(t, "room", []byte("pose"))
    env.Header.MsgID[0] ^= 0xff
    if _, err := openPublication(&env, "room", true); !errors.Is(err, ErrBadSignature) {
        t.Fatalf("tampered id accepted: %v", err)
    }
    if _, err := openPublication(&env, "room", false); err != nil {
        t.Fatalf("unverified open failed: %v", err)
    }

    env, _ = sealed(t, "room", []byte("pose"))
    env.SetFlag(protocol.FlagSigned, false)
    if _, err := openPublication(&env, "room", true); !errors.Is(err, ErrBadSignature) {
        t.Fatalf("unsigned publication accepted: %v", err)
    }
}
