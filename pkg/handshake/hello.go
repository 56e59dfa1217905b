package handshake

import (
    "crypto/ed25519"
    "crypto/rand"
    "errors"
    "fmt"
    "time"

    "posemesh/pkg/crypto/sign"
    "posemesh/pkg/transport"
)

var ErrTopicMismatch = errors.New("hello topic mismatch")

// Hello is the signed identity message each side sends first on a new
// session. It binds a public key to a node name, the overlay topic and a
// fresh nonce with a timestamp. It travels CBOR-encoded in a hello frame.
type Hello struct {
    Version   uint32 `cbor:"1,keyasint,omitempty"`
    NodeName  string `cbor:"2,keyasint,omitempty"`
    Topic     string `cbor:"3,keyasint"`
    Alg       string `cbor:"4,keyasint"`
    PubKey    []byte `cbor:"5,keyasint"`
    Nonce     []byte `cbor:"6,keyasint"`
    Timestamp int64  `cbor:"7,keyasint"`
    Sig       []byte `cbor:"8,keyasint"`
    Port      uint16 `cbor:"9,keyasint,omitempty"`
}

// BuildHello constructs a Hello payload and signs it with the provided ed25519 private key.
func BuildHello(nodeName, topic string, port uint16, priv ed25519.PrivateKey) (Hello, transport.PeerID, error) {
    if len(priv) != ed25519.PrivateKeySize { return Hello{}, "", sign.ErrKeySize }
    pub := priv.Public().(ed25519.PublicKey)
    nonce := make([]byte, 16)
    if _, err := rand.Read(nonce); err != nil { return Hello{}, "", err }
    h := Hello{
        Version:   1,
        NodeName:  nodeName,
        Topic:     topic,
        Port:      port,
        Alg:       "ed25519",
        PubKey:    append([]byte(nil), pub...),
        Nonce:     nonce,
        Timestamp: time.Now().UnixMilli(),
    }
    msg := sign.HelloTranscript(h.Alg, h.PubKey, h.Nonce, h.Timestamp, h.NodeName, h.Topic, h.Port)
    sig, err := sign.SignEd25519(priv, msg)
    if err != nil { return Hello{}, "", fmt.Errorf("sign hello: %w", err) }
    h.Sig = sig
    return h, transport.CanonicalPeerIDFromPubKey("ed25519", pub), nil
}

// VerifyHello verifies signature, freshness and topic of a Hello. Returns the canonical PeerID.
func VerifyHello(h Hello, topic string, maxSkew time.Duration) (transport.PeerID, error) {
    if h.Alg != "ed25519" { return "", fmt.Errorf("unsupported alg: %s", h.Alg) }
    if len(h.PubKey) != ed25519.PublicKeySize { return "", errors.New("bad pubkey length") }
    if len(h.Sig) != ed25519.SignatureSize { return "", errors.New("bad signature length") }
    if maxSkew <= 0 { maxSkew = 5 * time.Minute }
    now := time.Now().UnixMilli()
    if dt := now - h.Timestamp; dt > maxSkew.Milliseconds() || dt < -maxSkew.Milliseconds() {
        return "", errors.New("hello timestamp out of bounds")
    }
    if !sign.VerifyEd25519(ed25519.PublicKey(h.PubKey), sign.HelloTranscript(h.Alg, h.PubKey, h.Nonce, h.Timestamp, h.NodeName, h.Topic, h.Port), h.Sig) {
        return "", errors.New("hello signature invalid")
    }
    if h.Topic != topic { return "", fmt.Errorf("%w: got %q want %q", ErrTopicMismatch, h.Topic, topic) }
    return transport.CanonicalPeerIDFromPubKey("ed25519", h.PubKey), nil
}
