package qerr

// The error codes this engine raises. These are transport-internal codes,
// not application error codes carried by RST_STREAM/CONNECTION_CLOSE on the
// wire (spec section 7's taxonomy).
const (
	InternalError ErrorCode = iota + 1
	InvalidPacketHeader
	DecryptionFailure
	InvalidFrameData
	InvalidStreamData
	VersionNegotiationMismatch
	PacketIgnored
	HandshakeTooLarge
	TooManyOpenStreams
	NoMemory
	FlowControlError
)

var errorCodeNames = map[ErrorCode]string{
	InternalError:              "InternalError",
	InvalidPacketHeader:        "InvalidPacketHeader",
	DecryptionFailure:          "DecryptionFailure",
	InvalidFrameData:           "InvalidFrameData",
	InvalidStreamData:          "InvalidStreamData",
	VersionNegotiationMismatch: "VersionNegotiationMismatch",
	PacketIgnored:              "PacketIgnored",
	HandshakeTooLarge:          "HandshakeTooLarge",
	TooManyOpenStreams:         "TooManyOpenStreams",
	NoMemory:                   "NoMemory",
	FlowControlError:           "FlowControlError",
}

// String returns the name of e, or "UnknownErrorCode" for unknown codes.
func (e ErrorCode) String() string {
	if name, ok := errorCodeNames[e]; ok {
		return name
	}
	return "UnknownErrorCode"
}
