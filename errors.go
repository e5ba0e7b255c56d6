package quicly

import "draftquic.dev/quicly/internal/qerr"

// Error codes re-exported at the package root so callers don't need to
// import internal/qerr directly, mirroring quic-go/errors.go's pattern of
// aliasing its internal qerr package's names onto the public API.
type ErrorCode = qerr.ErrorCode

const (
	ErrInternalError              = qerr.InternalError
	ErrInvalidPacketHeader        = qerr.InvalidPacketHeader
	ErrDecryptionFailure          = qerr.DecryptionFailure
	ErrInvalidFrameData           = qerr.InvalidFrameData
	ErrInvalidStreamData          = qerr.InvalidStreamData
	ErrVersionNegotiationMismatch = qerr.VersionNegotiationMismatch
	ErrPacketIgnored              = qerr.PacketIgnored
	ErrHandshakeTooLarge          = qerr.HandshakeTooLarge
	ErrTooManyOpenStreams         = qerr.TooManyOpenStreams
	ErrNoMemory                   = qerr.NoMemory
	ErrFlowControlError           = qerr.FlowControlError
)

// QuicError is the concrete error type every connection-fatal error
// returned by this package's public API is, or wraps.
type QuicError = qerr.QuicError

// ToQuicError normalizes err into a *QuicError, defaulting to
// ErrInternalError when err carries no error code of its own.
func ToQuicError(err error) *QuicError {
	return qerr.ToQuicError(err)
}
