// Package transport defines the link interfaces of the posemesh overlay and
// provides implementations (udp, tcp, quic, mem) plus a session manager that
// keeps a single canonical session per peer.
//
// Key concepts:
// - Transport: dials/listens for Sessions of a specific Kind
// - Session: a bidirectional connection to a peer carrying one frame Stream
// - Stream: Send/Recv of opaque frames (protocol.Envelope bytes)
// - Manager: deduplicates concurrent inbound/outbound links and selects a
//   canonical session per peer with an election both ends agree on
package transport
