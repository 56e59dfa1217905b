package sign

import (
    "encoding/base64"
    "strconv"
    "strings"
)

// HelloTranscript builds the canonical transcript used for signing/verifying
// Hello messages. Format:
//   posemesh:hello|v=1|alg=<alg>|ts=<unix_ms>|pub=<b64url>|nonce=<b64url>|name=<nodeName>|topic=<topic>|port=<port>
func HelloTranscript(alg string, pub, nonce []byte, tsUnixMS int64, nodeName, topic string, port uint16) []byte {
    b64 := base64.RawURLEncoding
    var sb strings.Builder
    sb.Grow(96 + len(nodeName) + len(topic))
    sb.WriteString("posemesh:hello|v=1|alg=")
    sb.WriteString(strings.ToLower(strings.TrimSpace(alg)))
    sb.WriteString("|ts=")
    sb.WriteString(strconv.FormatInt(tsUnixMS, 10))
    sb.WriteString("|pub=")
    sb.WriteString(b64.EncodeToString(pub))
    sb.WriteString("|nonce=")
    sb.WriteString(b64.EncodeToString(nonce))
    sb.WriteString("|name=")
    sb.WriteString(nodeName)
    sb.WriteString("|topic=")
    sb.WriteString(topic)
    sb.WriteString("|port=")
    sb.WriteString(strconv.FormatUint(uint64(port), 10))
    return []byte(sb.String())
}

// PublicationTranscript is what an origin signs for every published payload.
// The message id binds the signature to one publication, so a replayed
// payload under a fresh id fails verification.
func PublicationTranscript(topic string, msgID [16]byte, origin string, data []byte) []byte {
    b := make([]byte, 0, 32+len(topic)+len(origin)+len(data))
    b = append(b, "posemesh:pub|v=1|topic="...)
    b = append(b, topic...)
    b = append(b, "|id="...)
    b = append(b, msgID[:]...)
    b = append(b, "|origin="...)
    b = append(b, origin...)
    b = append(b, "|data="...)
    return append(b, data...)
}
