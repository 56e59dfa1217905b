package netstack

import (
    "errors"
    "fmt"
    "time"

    "posemesh/pkg/handshake"
    "posemesh/pkg/protocol"
    "posemesh/pkg/transport"
)

var ErrNotHello = errors.New("first frame is not a hello")

// HelloFrame wraps a signed hello into a hello frame for topic.
func HelloFrame(h handshake.Hello, topic string) ([]byte, error) {
    hdr := protocol.Header{Type: protocol.MsgHello, Flags: protocol.FlagSigned, MsgID: protocol.NewMsgID(), TopicHash: protocol.TopicHash(topic)}
    env, err := protocol.NewEnvelopeWithBody(hdr, protocol.FormatCBOR, &h, nil)
    if err != nil { return nil, fmt.Errorf("encode hello: %w", err) }
    return env.EncodeFrame()
}

// ParseHello decodes and verifies a hello frame received for topic.
func ParseHello(frame []byte, topic string, maxSkew time.Duration) (handshake.Hello, transport.PeerID, error) {
    var env protocol.Envelope
    if err := env.DecodeFrame(frame); err != nil { return handshake.Hello{}, "", fmt.Errorf("decode hello frame: %w", err) }
    if env.Header.Type != protocol.MsgHello { return handshake.Hello{}, "", ErrNotHello }
    if env.Header.TopicHash != protocol.TopicHash(topic) { return handshake.Hello{}, "", handshake.ErrTopicMismatch }
    var h handshake.Hello
    if _, err := protocol.DecodeBody(nil, env.Payload, &h); err != nil { return handshake.Hello{}, "", fmt.Errorf("decode hello: %w", err) }
    id, err := handshake.VerifyHello(h, topic, maxSkew)
    if err != nil { return handshake.Hello{}, "", err }
    return h, id, nil
}

// Exchange runs the hello handshake on a fresh stream. The dialer speaks
// first; the listener answers only after the dialer's hello verified. The
// session is closed when the exchange takes longer than timeout.
func Exchange(s transport.Session, st transport.Stream, local []byte, topic string, timeout time.Duration) (handshake.Hello, transport.PeerID, error) {
    if timeout <= 0 { timeout = 10 * time.Second }
    timer := time.AfterFunc(timeout, func() { _ = s.Close() })
    defer timer.Stop()

    recv := func() (handshake.Hello, transport.PeerID, error) {
        b, err := st.RecvBytes()
        if err != nil { return handshake.Hello{}, "", fmt.Errorf("recv hello: %w", err) }
        return ParseHello(b, topic, 0)
    }
    if s.Initiator() {
        if err := st.SendBytes(local); err != nil { return handshake.Hello{}, "", fmt.Errorf("send hello: %w", err) }
        return recv()
    }
    h, id, err := recv()
    if err != nil { return handshake.Hello{}, "", err }
    if err := st.SendBytes(local); err != nil { return handshake.Hello{}, "", fmt.Errorf("send hello: %w", err) }
    return h, id, nil
}
