package mesh

import (
    "errors"
    "fmt"
    "unicode"
    "unicode/utf8"
)

// ErrTransportInit is matched by every error Start returns.
var ErrTransportInit = errors.New("transport init failed")

var ErrInvalidTopic = errors.New("invalid topic")

// ErrClosed is returned for work refused because the node is stopping.
var ErrClosed = errors.New("mesh closed")

// MaxTopicLen bounds the topic in bytes.
const MaxTopicLen = 255

// InitError reports which startup step failed. errors.Is matches both
// ErrTransportInit and the underlying cause.
type InitError struct {
    Op  string
    Err error
}

func (e *InitError) Error() string { return fmt.Sprintf("mesh: %s: %v", e.Op, e.Err) }
func (e *InitError) Unwrap() []error { return []error{ErrTransportInit, e.Err} }

func initErr(op string, err error) error { return &InitError{Op: op, Err: err} }

// ValidateTopic rejects empty, oversized, non UTF-8 topics and topics
// containing whitespace or control characters.
func ValidateTopic(topic string) error {
    if topic == "" { return fmt.Errorf("%w: empty", ErrInvalidTopic) }
    if len(topic) > MaxTopicLen { return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidTopic, len(topic), MaxTopicLen) }
    if !utf8.ValidString(topic) { return fmt.Errorf("%w: not utf-8", ErrInvalidTopic) }
    for _, r := range topic {
        if unicode.IsSpace(r) || unicode.IsControl(r) {
            return fmt.Errorf("%w: contains %U", ErrInvalidTopic, r)
        }
    }
    return nil
}
