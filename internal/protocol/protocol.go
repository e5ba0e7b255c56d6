// Package protocol defines the basic integer and identifier types shared
// across the engine: connection ids, packet numbers, stream ids and the
// wire packet types of draft-ietf-quic-transport-05.
package protocol

// A PacketNumber identifies a packet within one direction of a connection.
// Packet numbers strictly increase per connection.
type PacketNumber uint64

// A ConnectionID identifies a connection. This draft uses a fixed 8-byte
// connection id, unlike later QUIC drafts' variable-length ids.
type ConnectionID uint64

// A StreamID identifies a stream. Parity encodes the initiator: even ids
// are server-initiated, odd ids are client-initiated.
type StreamID uint32

// IsClientInitiated reports whether id was opened by the client.
func (id StreamID) IsClientInitiated() bool {
	return id%2 == 1
}

// VersionNumber is the 32-bit QUIC version tag on the wire.
type VersionNumber uint32

// Version is the only version this engine speaks.
const Version VersionNumber = 0xff000005

// Role distinguishes the two endpoints of a connection.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// PacketType is the QUIC long-header packet type, or (for short-header
// packets) a synthetic type assigned by the decoder.
type PacketType uint8

const (
	PacketTypeVersionNegotiation   PacketType = 1
	PacketTypeClientInitial        PacketType = 2
	PacketTypeServerStatelessRetry PacketType = 3
	PacketTypeServerCleartext      PacketType = 4
	PacketTypeClientCleartext      PacketType = 5
	PacketType0RTTProtected        PacketType = 6
	PacketType1RTTKeyPhase0        PacketType = 7
	// PacketType1RTTKeyPhase1 shares the wire value 8 with
	// PacketTypePublicReset in the source protocol; this engine treats
	// value 8 as key-phase-1 exclusively and does not implement
	// stateless public reset (see spec Non-goals and DESIGN.md Open
	// Questions).
	PacketType1RTTKeyPhase1 PacketType = 8
)

// IsValidLongHeaderType reports whether t is a known long-header packet
// type (values 1..8 inclusive, mirroring QUICLY_PACKET_TYPE_IS_VALID).
func IsValidLongHeaderType(t PacketType) bool {
	return t >= 1 && t <= 8
}

// EncryptionLevel distinguishes the two protection regimes this draft
// uses: packets authenticated only by FNV-1a-64, and packets sealed under
// the 1-RTT AEAD. Unlike later QUIC drafts there is no separate Initial or
// Handshake AEAD level - the handshake rides in cleartext over stream 0.
type EncryptionLevel int

const (
	EncryptionUnspecified EncryptionLevel = iota
	EncryptionCleartext
	Encryption1RTT
)

// ConnectionState is the handshake phase of a Connection.
type ConnectionState int

const (
	// StateBeforeServerHello: the client has not yet received a
	// SERVER_CLEARTEXT packet. A server stays in this state until its
	// handshake completes.
	StateBeforeServerHello ConnectionState = iota
	// StateBeforeServerFinished: the client has received a
	// SERVER_CLEARTEXT packet, handshake still in progress.
	StateBeforeServerFinished
	// State1RTTEncrypted: handshake complete, 1-RTT keys installed.
	State1RTTEncrypted
)
