package codec

import "sync"

// Codec defines a simple interface for marshaling typed messages.
// Implementations should be deterministic and safe for cross-node exchange.
type Codec interface {
    ContentType() string
    Marshal(v any) ([]byte, error)
    Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct { byType map[string]Codec }

// NewRegistry constructs a registry preloaded with the built-in codecs:
// JSON, CBOR and Protobuf.
func NewRegistry() (*Registry, error) {
    r := &Registry{byType: make(map[string]Codec)}
    r.Register(JSON())
    r.Register(Proto())
    c, err := CBOR()
    if err != nil { return nil, err }
    r.Register(c)
    return r, nil
}

// Register adds a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

var (
    defaultOnce sync.Once
    defaultReg  *Registry
)

// Default returns a process-wide registry with the built-in codecs.
func Default() *Registry {
    defaultOnce.Do(func() {
        r, err := NewRegistry()
        if err != nil {
            // CBOR options are static; only JSON and Protobuf remain usable.
            r = &Registry{byType: make(map[string]Codec)}
            r.Register(JSON())
            r.Register(Proto())
        }
        defaultReg = r
    })
    return defaultReg
}
