package qerr_test

import (
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"draftquic.dev/quicly/internal/qerr"
)

var _ = Describe("Quic error", func() {
	Context("QuicError", func() {
		It("has a string representation", func() {
			err := qerr.Error(qerr.DecryptionFailure, "foobar")
			Expect(err.Error()).To(Equal("DecryptionFailure: foobar"))
		})

		It("omits the separator when there is no reason", func() {
			err := qerr.Error(qerr.FlowControlError, "")
			Expect(err.Error()).To(Equal("FlowControlError"))
		})
	})

	Context("ErrorCode", func() {
		It("works as an error", func() {
			var err error = qerr.DecryptionFailure
			Expect(err).To(MatchError("DecryptionFailure"))
		})

		It("falls back to a placeholder name for unknown codes", func() {
			Expect(qerr.ErrorCode(255).String()).To(Equal("UnknownErrorCode"))
		})
	})

	Context("ToQuicError", func() {
		It("leaves a QuicError unchanged", func() {
			err := qerr.Error(qerr.DecryptionFailure, "foo")
			Expect(qerr.ToQuicError(err)).To(Equal(err))
		})

		It("wraps a bare ErrorCode", func() {
			var err error = qerr.DecryptionFailure
			Expect(qerr.ToQuicError(err)).To(Equal(qerr.Error(qerr.DecryptionFailure, "")))
		})

		It("maps unrelated errors to InternalError", func() {
			Expect(qerr.ToQuicError(io.EOF)).To(Equal(qerr.Error(qerr.InternalError, "")))
		})
	})
})
