package sign

import (
    "crypto/ed25519"
    "errors"
)

// ErrKeySize is returned for a private key that is not a full ed25519 key.
var ErrKeySize = errors.New("bad ed25519 private key size")

// SignEd25519 signs data using ed25519.
func SignEd25519(priv ed25519.PrivateKey, data []byte) ([]byte, error) {
    if len(priv) != ed25519.PrivateKeySize { return nil, ErrKeySize }
    return ed25519.Sign(priv, data), nil
}

// VerifyEd25519 verifies ed25519 signature.
func VerifyEd25519(pub ed25519.PublicKey, data, sig []byte) bool {
    return ed25519.Verify(pub, data, sig)
}
