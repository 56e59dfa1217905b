package mesh

import (
    "crypto/ed25519"
    "errors"
    "fmt"

    "posemesh/pkg/crypto/sign"
    "posemesh/pkg/protocol"
    "posemesh/pkg/transport"
)

var ErrBadSignature = errors.New("publication signature invalid")

// Publication is the body of a publish frame.
type Publication struct {
    Origin string `cbor:"1,keyasint"`
    Data   []byte `cbor:"2,keyasint"`
    Sig    []byte `cbor:"3,keyasint,omitempty"`
}

// sealPublication signs data as origin and returns the encoded publish frame.
func sealPublication(priv ed25519.PrivateKey, origin transport.PeerID, topic string, data []byte) ([]byte, [16]byte, error) {
    id := protocol.NewMsgID()
    sig, err := sign.SignEd25519(priv, sign.PublicationTranscript(topic, id, string(origin), data))
    if err != nil { return nil, id, err }
    pub := Publication{Origin: string(origin), Data: data, Sig: sig}
    hdr := protocol.Header{Type: protocol.MsgPublish, Flags: protocol.FlagSigned, MsgID: id, TopicHash: protocol.TopicHash(topic)}
    env, err := protocol.NewEnvelopeWithBody(hdr, protocol.FormatCBOR, &pub, nil)
    if err != nil { return nil, id, fmt.Errorf("encode publication: %w", err) }
    frame, err := env.EncodeFrame()
    return frame, id, err
}

// openPublication decodes a publish frame body and, when verify is set,
// checks the origin signature against the key embedded in the origin id.
func openPublication(env *protocol.Envelope, topic string, verify bool) (Publication, error) {
    var pub Publication
    if _, err := protocol.DecodeBody(nil, env.Payload, &pub); err != nil { return Publication{}, fmt.Errorf("decode publication: %w", err) }
    if pub.Origin == "" { return Publication{}, errors.New("publication without origin") }
    if !verify { return pub, nil }
    if !env.HasFlag(protocol.FlagSigned) { return Publication{}, ErrBadSignature }
    pk, err := transport.PubKeyFromPeerID(transport.PeerID(pub.Origin))
    if err != nil { return Publication{}, fmt.Errorf("%w: %v", ErrBadSignature, err) }
    if !sign.VerifyEd25519(pk, sign.PublicationTranscript(topic, env.Header.MsgID, pub.Origin, pub.Data), pub.Sig) {
        return Publication{}, ErrBadSignature
    }
    return pub, nil
}
