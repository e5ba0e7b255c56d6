package quicly

import (
	"encoding/binary"

	"draftquic.dev/quicly/internal/protocol"
	"draftquic.dev/quicly/internal/qerr"
)

// fnv1aOffsetBasis and fnv1aPrime are the 64-bit FNV-1a constants this
// draft uses to authenticate cleartext packets, in place of an AEAD.
const (
	fnv1aOffsetBasis uint64 = 0xcbf29ce484222325
	fnv1aPrime       uint64 = 0x100000001b3
)

// fnv1a computes the FNV-1a-64 hash of data, seeded with basis. Calling it
// again with the previous call's result as basis continues the hash over
// another chunk, the way VerifyCleartextPacket folds the header and
// payload-minus-trailer together.
func fnv1a(basis uint64, data []byte) uint64 {
	h := basis
	for _, b := range data {
		h ^= uint64(b)
		h *= fnv1aPrime
	}
	return h
}

// clientInitialPaddedSize is the payload size (before the FNV trailer)
// every CLIENT_INITIAL packet must be padded to.
const clientInitialPaddedSize = 1272

// fnvTrailerSize is the width of the big-endian FNV-1a-64 trailer appended
// to cleartext long-header packets in place of an AEAD tag.
const fnvTrailerSize = 8

// Header is a decoded packet header: either a long header (type,
// connection id, packet number, version) or a short header (key phase,
// optional connection id, truncated packet number).
type Header struct {
	IsLong       bool
	Type         protocol.PacketType
	KeyPhase1    bool
	HasConnID    bool
	ConnectionID protocol.ConnectionID
	Version      protocol.VersionNumber
	PacketNumber protocol.PacketNumber
	// PacketNumberLen is the number of low-order bytes of PacketNumber
	// that were actually present on the wire (1, 2 or 4).
	PacketNumberLen int
}

// longHeaderSize is the fixed wire size of a long header: 1 type byte, 8
// connection id bytes, 4 packet number bytes, 4 version bytes.
const longHeaderSize = 1 + 8 + 4 + 4

// DecodePacket splits raw into a decoded Header and the remaining payload
// slice (trailer/tag still included). It mirrors quicly_decode_packet's
// header parse, without yet verifying authentication.
func DecodePacket(raw []byte) (Header, []byte, error) {
	if len(raw) < 1 {
		return Header{}, nil, qerr.Error(qerr.InvalidPacketHeader, "empty packet")
	}

	first := raw[0]
	if first&0x80 != 0 {
		return decodeLongHeader(raw)
	}
	return decodeShortHeader(raw, first)
}

func decodeLongHeader(raw []byte) (Header, []byte, error) {
	if len(raw) < longHeaderSize {
		return Header{}, nil, qerr.Error(qerr.InvalidPacketHeader, "long header truncated")
	}
	h := Header{
		IsLong:          true,
		Type:            protocol.PacketType(raw[0] & 0x7f),
		HasConnID:       true,
		PacketNumberLen: 4,
	}
	if !protocol.IsValidLongHeaderType(h.Type) {
		return Header{}, nil, qerr.Error(qerr.InvalidPacketHeader, "invalid long header type")
	}
	h.ConnectionID = protocol.ConnectionID(binary.BigEndian.Uint64(raw[1:9]))
	h.PacketNumber = protocol.PacketNumber(binary.BigEndian.Uint32(raw[9:13]))
	h.Version = protocol.VersionNumber(binary.BigEndian.Uint32(raw[13:17]))
	return h, raw[longHeaderSize:], nil
}

func decodeShortHeader(raw []byte, first byte) (Header, []byte, error) {
	h := Header{
		KeyPhase1: first&0x20 != 0,
		HasConnID: first&0x40 != 0,
	}
	if h.KeyPhase1 {
		h.Type = protocol.PacketType1RTTKeyPhase1
	} else {
		h.Type = protocol.PacketType1RTTKeyPhase0
	}

	switch first & 0x03 {
	case 1:
		h.PacketNumberLen = 1
	case 2:
		h.PacketNumberLen = 2
	case 3:
		h.PacketNumberLen = 4
	default:
		return Header{}, nil, qerr.Error(qerr.InvalidPacketHeader, "invalid packet number width")
	}

	off := 1
	if h.HasConnID {
		if len(raw) < off+8 {
			return Header{}, nil, qerr.Error(qerr.InvalidPacketHeader, "short header truncated")
		}
		h.ConnectionID = protocol.ConnectionID(binary.BigEndian.Uint64(raw[off : off+8]))
		off += 8
	}
	if len(raw) < off+h.PacketNumberLen {
		return Header{}, nil, qerr.Error(qerr.InvalidPacketHeader, "short header truncated")
	}
	var pn uint64
	for i := 0; i < h.PacketNumberLen; i++ {
		pn = pn<<8 | uint64(raw[off+i])
	}
	h.PacketNumber = protocol.PacketNumber(pn)
	off += h.PacketNumberLen

	return h, raw[off:], nil
}

// IsCleartext reports whether this header's packet type is authenticated
// by FNV-1a-64 rather than sealed under an AEAD.
func (h Header) IsCleartext() bool {
	switch h.Type {
	case protocol.PacketTypeClientInitial, protocol.PacketTypeClientCleartext, protocol.PacketTypeServerCleartext:
		return true
	default:
		return false
	}
}

// VerifyCleartextPacket checks the FNV-1a-64 trailer of a cleartext
// long-header packet. raw is the full packet (header + payload + 8-byte
// trailer); header is the slice spanning just the wire header. It returns
// the payload with the trailer stripped off.
func VerifyCleartextPacket(raw, header []byte) ([]byte, error) {
	if len(raw) < len(header)+fnvTrailerSize {
		return nil, qerr.Error(qerr.DecryptionFailure, "packet too short for FNV trailer")
	}
	body := raw[len(header) : len(raw)-fnvTrailerSize]
	wantTrailer := raw[len(raw)-fnvTrailerSize:]

	hash := fnv1a(fnv1aOffsetBasis, header)
	hash = fnv1a(hash, body)

	var gotTrailer [fnvTrailerSize]byte
	binary.BigEndian.PutUint64(gotTrailer[:], hash)
	for i := range gotTrailer {
		if gotTrailer[i] != wantTrailer[i] {
			return nil, qerr.Error(qerr.DecryptionFailure, "FNV-1a-64 trailer mismatch")
		}
	}
	return body, nil
}

// EmitLongHeader appends a long header for typ/connID/pn/version to dst
// and returns the result.
func EmitLongHeader(dst []byte, typ protocol.PacketType, connID protocol.ConnectionID, pn protocol.PacketNumber, version protocol.VersionNumber) []byte {
	dst = append(dst, 0x80|byte(typ))
	var connIDBuf [8]byte
	binary.BigEndian.PutUint64(connIDBuf[:], uint64(connID))
	dst = append(dst, connIDBuf[:]...)
	var pnBuf [4]byte
	binary.BigEndian.PutUint32(pnBuf[:], uint32(pn))
	dst = append(dst, pnBuf[:]...)
	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], uint32(version))
	dst = append(dst, versionBuf[:]...)
	return dst
}

// EmitShortHeader appends a short header for a 1-RTT protected packet to
// dst: key phase, an optional connection id (omitted when the peer has
// negotiated truncate_connection_id), and pn's low-order pnLen bytes (1, 2
// or 4).
func EmitShortHeader(dst []byte, keyPhase1 bool, connID protocol.ConnectionID, includeConnID bool, pn protocol.PacketNumber, pnLen int) []byte {
	first := byte(0)
	if keyPhase1 {
		first |= 0x20
	}
	if includeConnID {
		first |= 0x40
	}
	switch pnLen {
	case 1:
		first |= 1
	case 2:
		first |= 2
	default:
		first |= 3
	}
	dst = append(dst, first)

	if includeConnID {
		var connIDBuf [8]byte
		binary.BigEndian.PutUint64(connIDBuf[:], uint64(connID))
		dst = append(dst, connIDBuf[:]...)
	}
	for i := pnLen - 1; i >= 0; i-- {
		dst = append(dst, byte(uint64(pn)>>(8*uint(i))))
	}
	return dst
}

// AppendFNVTrailer appends the big-endian FNV-1a-64 trailer authenticating
// header followed by the already-written payload in dst[len(header):].
func AppendFNVTrailer(dst []byte, header []byte) []byte {
	hash := fnv1a(fnv1aOffsetBasis, header)
	hash = fnv1a(hash, dst[len(header):])
	var trailer [fnvTrailerSize]byte
	binary.BigEndian.PutUint64(trailer[:], hash)
	return append(dst, trailer[:]...)
}

// PadClientInitial pads payload (the bytes written after the long header,
// before the FNV trailer) with zero PADDING frames up to the required
// 1272-byte CLIENT_INITIAL size.
func PadClientInitial(payload []byte) []byte {
	for len(payload) < clientInitialPaddedSize {
		payload = append(payload, 0x00)
	}
	return payload
}
