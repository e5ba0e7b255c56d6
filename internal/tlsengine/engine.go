// Package tlsengine abstracts the TLS 1.3 handshake engine that rides
// over stream 0: feeding it handshake bytes, draining the messages and
// secrets it produces, and exporting the 1-RTT traffic secret this draft
// uses in place of the standard QUIC key schedule. quicly.c calls directly
// into picotls (ptls_handshake, ptls_export_secret); this package plays
// the same role against Go's standard library TLS stack.
package tlsengine

import (
	"crypto"

	"draftquic.dev/quicly/internal/protocol"
)

// EventKind distinguishes what a drained Event is reporting.
type EventKind int

const (
	// EventNone means NextEvent has nothing left to report.
	EventNone EventKind = iota
	// EventWriteData carries handshake bytes the caller must write to
	// stream 0's send buffer.
	EventWriteData
	// EventHandshakeComplete signals the handshake has finished; the
	// 1-RTT secret can now be exported and the AEAD installed.
	EventHandshakeComplete
	// EventPeerTransportParameters carries the peer's transport
	// parameters extension payload, undecoded, as it rode out over the
	// TLS handshake this draft carries on stream 0.
	EventPeerTransportParameters
)

// Event is one unit of progress the handshake engine reports back.
type Event struct {
	Kind  EventKind
	Level protocol.EncryptionLevel
	Data  []byte
}

// Engine is the handshake-message I/O, exporter-secret, and AEAD-install
// collaborator a Connection drives from its stream-0 crypto frames. An
// Engine is single-connection, single-role (client or server), and is not
// safe for concurrent use - the same Mutex that serializes a Connection's
// other entry points serializes calls into its Engine.
type Engine interface {
	// HandleData feeds handshake bytes received at the given encryption
	// level into the TLS state machine. Further progress, if any, is
	// reported through subsequent NextEvent calls.
	HandleData(level protocol.EncryptionLevel, data []byte) error

	// NextEvent drains the next pending event, or returns an Event with
	// Kind EventNone when nothing is currently pending.
	NextEvent() (Event, error)

	// ExportSecret exports key material under the given label, the way
	// setup_1rtt_secret calls ptls_export_secret with the
	// "EXPORTER-QUIC {client,server} 1-RTT Secret" labels. It must only
	// be called after an EventHandshakeComplete event has been observed.
	ExportSecret(label string, length int) ([]byte, error)
}

// CipherSuiteHasher is implemented by Engines that can report the hash
// algorithm backing their negotiated cipher suite, needed to size the
// exported secret and the derived AEAD key/IV correctly. Callers should
// type-assert for it and fall back to crypto.SHA256 if absent (e.g. the
// test-only MockEngine doesn't implement it).
type CipherSuiteHasher interface {
	CipherSuiteHash() crypto.Hash
}
