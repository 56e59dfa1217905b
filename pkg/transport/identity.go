package transport

import (
    "crypto/ed25519"
    "encoding/base64"
    "errors"
    "fmt"
    "net"
    "strings"
)

// TempPeerID builds a temporary peer id from transport kind and remote address.
// It is suitable to use before an authenticated hello completes.
func TempPeerID(kind Kind, addr net.Addr) PeerID {
    if addr == nil { return PeerID(fmt.Sprintf("temp:%s:unknown", kind)) }
    return PeerID(fmt.Sprintf("temp:%s:%s", kind, addr.String()))
}

// IsTemp reports whether id was built by TempPeerID.
func (id PeerID) IsTemp() bool { return strings.HasPrefix(string(id), "temp:") }

// Short returns a compact form of the id for logs and mDNS instance names.
func (id PeerID) Short() string {
    s := string(id)
    if i := strings.LastIndexByte(s, ':'); i >= 0 { s = s[i+1:] }
    if len(s) > 12 { s = s[:12] }
    return s
}

// CanonicalPeerIDFromPubKey constructs a canonical peer id from public key bytes.
// The format is: pk:<alg>:<base64url-nopad(pubkey)>
// Example: pk:ed25519:AbCd...
func CanonicalPeerIDFromPubKey(alg string, pub []byte) PeerID {
    alg = strings.ToLower(strings.TrimSpace(alg))
    enc := base64.RawURLEncoding.EncodeToString(pub)
    return PeerID("pk:" + alg + ":" + enc)
}

// PubKeyFromPeerID extracts the ed25519 public key embedded in a canonical id.
func PubKeyFromPeerID(id PeerID) (ed25519.PublicKey, error) {
    parts := strings.SplitN(string(id), ":", 3)
    if len(parts) != 3 || parts[0] != "pk" {
        return nil, fmt.Errorf("not a canonical peer id: %q", id)
    }
    if parts[1] != "ed25519" {
        return nil, fmt.Errorf("unsupported alg: %s", parts[1])
    }
    b, err := base64.RawURLEncoding.DecodeString(parts[2])
    if err != nil { return nil, fmt.Errorf("decode peer id key: %w", err) }
    if len(b) != ed25519.PublicKeySize { return nil, errors.New("bad pubkey length") }
    return ed25519.PublicKey(b), nil
}
