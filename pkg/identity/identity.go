package identity

import (
    "crypto/ed25519"
    "crypto/rand"
    "encoding/base64"
    "fmt"

    "go.uber.org/zap"

    "posemesh/pkg/transport"
)

// Generate creates a fresh ed25519 key pair for this process and returns it
// with the derived canonical peer id (pk:ed25519:<b64(pub)>). Keys are never
// persisted: a restarted node joins as a new origin.
func Generate() (ed25519.PrivateKey, transport.PeerID, error) {
    _, pk, err := ed25519.GenerateKey(rand.Reader)
    if err != nil { return nil, "", fmt.Errorf("generate ed25519 key: %w", err) }
    pub := pk.Public().(ed25519.PublicKey)
    pid := transport.CanonicalPeerIDFromPubKey("ed25519", pub)
    zap.L().Info("generated ephemeral identity",
        zap.String("peer", string(pid)),
        zap.String("pub_b64", base64.RawURLEncoding.EncodeToString(pub)))
    return pk, pid, nil
}
