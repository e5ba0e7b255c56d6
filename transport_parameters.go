package quicly

import (
	"encoding/binary"

	"draftquic.dev/quicly/internal/protocol"
	"draftquic.dev/quicly/internal/qerr"
)

// Transport parameter TLS extension type and parameter ids, matching
// quicly.c's QUICLY_TLS_EXTENSION_TYPE_TRANSPORT_PARAMETERS and
// QUICLY_TRANSPORT_PARAMETER_ID_* constants.
const (
	transportParametersExtensionType = 26

	paramInitialMaxStreamData = 0
	paramInitialMaxData       = 1
	paramInitialMaxStreamID   = 2
	paramIdleTimeout          = 3
	paramTruncateConnectionID = 4
)

// TransportParameters is the set of connection parameters exchanged in the
// TLS transport_parameters extension during the handshake.
type TransportParameters struct {
	InitialMaxStreamData uint32
	InitialMaxDataKB     uint32
	InitialMaxStreamID   uint32
	IdleTimeout          uint16
	TruncateConnectionID bool
}

// DefaultTransportParameters are assumed for the peer before the handshake
// commits real values, matching quicly.c's transport_params_before_handshake.
var DefaultTransportParameters = TransportParameters{
	InitialMaxStreamData: 8192,
	InitialMaxDataKB:     16,
	InitialMaxStreamID:   100,
	IdleTimeout:          60,
}

// EncodeTransportParameters appends the wire encoding of params to dst, as
// a sequence of (2-byte id, 2-byte length, value) entries.
func EncodeTransportParameters(dst []byte, params TransportParameters) []byte {
	dst = pushParam(dst, paramInitialMaxStreamData, func(b []byte) []byte {
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], params.InitialMaxStreamData)
		return append(b, v[:]...)
	})
	dst = pushParam(dst, paramInitialMaxData, func(b []byte) []byte {
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], params.InitialMaxDataKB)
		return append(b, v[:]...)
	})
	dst = pushParam(dst, paramInitialMaxStreamID, func(b []byte) []byte {
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], params.InitialMaxStreamID)
		return append(b, v[:]...)
	})
	dst = pushParam(dst, paramIdleTimeout, func(b []byte) []byte {
		var v [2]byte
		binary.BigEndian.PutUint16(v[:], params.IdleTimeout)
		return append(b, v[:]...)
	})
	if params.TruncateConnectionID {
		dst = pushParam(dst, paramTruncateConnectionID, func(b []byte) []byte { return b })
	}
	return dst
}

func pushParam(dst []byte, id uint16, body func([]byte) []byte) []byte {
	var idBuf [2]byte
	binary.BigEndian.PutUint16(idBuf[:], id)
	dst = append(dst, idBuf[:]...)

	lenPos := len(dst)
	dst = append(dst, 0, 0) // placeholder length, patched below
	before := len(dst)
	dst = body(dst)
	binary.BigEndian.PutUint16(dst[lenPos:lenPos+2], uint16(len(dst)-before))
	return dst
}

// DecodeTransportParameters parses the wire encoding produced by
// EncodeTransportParameters, starting from DefaultTransportParameters and
// overwriting each field as its id is seen.
//
// quicly.c's decode_transport_parameter_list sets its found_id_bits
// tracking bitmap unconditionally on every parameter it recognizes,
// regardless of whether the bit was already set - so a duplicate id never
// actually triggers its own duplicate check. Rather than carry that dead
// check forward, this decoder enforces it for real: a second occurrence of
// any id below 32 (which covers every known id) is InvalidStreamData.
// Repeated ids of 32 and above are not checked.
func DecodeTransportParameters(src []byte) (TransportParameters, error) {
	params := DefaultTransportParameters
	params.TruncateConnectionID = false

	var seen uint32
	requiredBits := uint32(1<<paramInitialMaxStreamData | 1<<paramInitialMaxData | 1<<paramInitialMaxStreamID | 1<<paramIdleTimeout)

	for len(src) > 0 {
		if len(src) < 4 {
			return TransportParameters{}, qerr.Error(qerr.InvalidStreamData, "transport parameter header truncated")
		}
		id := binary.BigEndian.Uint16(src[0:2])
		length := binary.BigEndian.Uint16(src[2:4])
		src = src[4:]
		if len(src) < int(length) {
			return TransportParameters{}, qerr.Error(qerr.InvalidStreamData, "transport parameter value truncated")
		}
		value := src[:length]
		src = src[length:]

		if id < 32 {
			bit := uint32(1) << id
			if seen&bit != 0 {
				return TransportParameters{}, qerr.Error(qerr.InvalidStreamData, "duplicate transport parameter id")
			}
			seen |= bit
		}

		switch id {
		case paramInitialMaxStreamData:
			if len(value) != 4 {
				return TransportParameters{}, qerr.Error(qerr.InvalidStreamData, "bad initial_max_stream_data length")
			}
			params.InitialMaxStreamData = binary.BigEndian.Uint32(value)
		case paramInitialMaxData:
			if len(value) != 4 {
				return TransportParameters{}, qerr.Error(qerr.InvalidStreamData, "bad initial_max_data length")
			}
			params.InitialMaxDataKB = binary.BigEndian.Uint32(value)
		case paramInitialMaxStreamID:
			if len(value) != 4 {
				return TransportParameters{}, qerr.Error(qerr.InvalidStreamData, "bad initial_max_stream_id length")
			}
			params.InitialMaxStreamID = binary.BigEndian.Uint32(value)
		case paramIdleTimeout:
			if len(value) != 2 {
				return TransportParameters{}, qerr.Error(qerr.InvalidStreamData, "bad idle_timeout length")
			}
			params.IdleTimeout = binary.BigEndian.Uint16(value)
		case paramTruncateConnectionID:
			params.TruncateConnectionID = true
		default:
			// Unknown parameter ids are ignored, the way ptls's
			// extension machinery skips unrecognized extensions.
		}
	}

	if seen&requiredBits != requiredBits {
		return TransportParameters{}, qerr.Error(qerr.InvalidStreamData, "missing required transport parameter")
	}
	return params, nil
}

// SupportedVersions is the list this engine advertises in the server's
// transport_parameters extension, matching quicly.c's
// server_collected_extensions which offers a single-entry list containing
// QUICLY_PROTOCOL_VERSION.
var SupportedVersions = []protocol.VersionNumber{protocol.Version}

// EncodeClientTransportParameters wraps params with the client's
// negotiated and initial QUIC version, per spec.md §4.9: the client
// extension carries two raw 4-byte version fields ahead of the parameter
// list, matching quicly_connect's construction of the ClientHello's
// transport_parameters extension (lib/quicly.c).
func EncodeClientTransportParameters(dst []byte, version protocol.VersionNumber, params TransportParameters) []byte {
	var v [8]byte
	binary.BigEndian.PutUint32(v[0:4], uint32(version)) // negotiated_version
	binary.BigEndian.PutUint32(v[4:8], uint32(version)) // initial_version
	dst = append(dst, v[:]...)
	return EncodeTransportParameters(dst, params)
}

// DecodeClientTransportParameters parses the client's extension payload
// built by EncodeClientTransportParameters, checking that both the
// negotiated and initial version fields equal ours - mirroring
// server_collected_extensions's exact-equality check, which fails the
// handshake with QUICLY_ERROR_VERSION_NEGOTIATION_MISMATCH otherwise.
func DecodeClientTransportParameters(src []byte, ourVersion protocol.VersionNumber) (TransportParameters, error) {
	if len(src) < 8 {
		return TransportParameters{}, qerr.Error(qerr.InvalidStreamData, "transport parameters extension truncated")
	}
	negotiated := protocol.VersionNumber(binary.BigEndian.Uint32(src[0:4]))
	initial := protocol.VersionNumber(binary.BigEndian.Uint32(src[4:8]))
	if negotiated != ourVersion || initial != ourVersion {
		return TransportParameters{}, qerr.Error(qerr.VersionNegotiationMismatch, "client's negotiated/initial version does not match ours")
	}
	return DecodeTransportParameters(src[8:])
}

// EncodeServerTransportParameters prefixes params with a 1-byte-length
// block listing the server's supported versions, per spec.md §4.9 and
// server_collected_extensions's ptls_buffer_push_block(..., 1, ...) of
// QUICLY_PROTOCOL_VERSION entries.
func EncodeServerTransportParameters(dst []byte, supported []protocol.VersionNumber, params TransportParameters) []byte {
	lenPos := len(dst)
	dst = append(dst, 0) // placeholder length, patched below
	before := len(dst)
	for _, v := range supported {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(v))
		dst = append(dst, buf[:]...)
	}
	dst[lenPos] = byte(len(dst) - before)
	return EncodeTransportParameters(dst, params)
}

// DecodeServerTransportParameters parses the server's extension payload
// built by EncodeServerTransportParameters: a 1-byte-length-prefixed list
// of the server's supported versions, which must contain ourVersion, per
// client_collected_extensions's ptls_decode_open_block membership loop -
// failing with VersionNegotiationMismatch (PTLS_ALERT_ILLEGAL_PARAMETER in
// the original) when the negotiated version isn't found.
func DecodeServerTransportParameters(src []byte, ourVersion protocol.VersionNumber) (TransportParameters, error) {
	if len(src) < 1 {
		return TransportParameters{}, qerr.Error(qerr.InvalidStreamData, "transport parameters extension truncated")
	}
	listLen := int(src[0])
	src = src[1:]
	if len(src) < listLen || listLen%4 != 0 {
		return TransportParameters{}, qerr.Error(qerr.InvalidStreamData, "malformed supported-versions list")
	}
	versionList, rest := src[:listLen], src[listLen:]

	found := false
	for i := 0; i+4 <= len(versionList); i += 4 {
		if protocol.VersionNumber(binary.BigEndian.Uint32(versionList[i:i+4])) == ourVersion {
			found = true
			break
		}
	}
	if !found {
		return TransportParameters{}, qerr.Error(qerr.VersionNegotiationMismatch, "negotiated version absent from server's supported-versions list")
	}
	return DecodeTransportParameters(rest)
}
