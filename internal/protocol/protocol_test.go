package protocol_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"draftquic.dev/quicly/internal/protocol"
)

var _ = Describe("StreamID parity", func() {
	It("treats odd ids as client-initiated", func() {
		Expect(protocol.StreamID(1).IsClientInitiated()).To(BeTrue())
		Expect(protocol.StreamID(3).IsClientInitiated()).To(BeTrue())
	})

	It("treats even ids as server-initiated", func() {
		Expect(protocol.StreamID(0).IsClientInitiated()).To(BeFalse())
		Expect(protocol.StreamID(2).IsClientInitiated()).To(BeFalse())
	})
})

var _ = Describe("encryption levels", func() {
	It("defaults to unspecified", func() {
		var lvl protocol.EncryptionLevel
		Expect(lvl).To(Equal(protocol.EncryptionUnspecified))
	})
})

var _ = Describe("packet types", func() {
	It("accepts the documented range", func() {
		for t := protocol.PacketType(1); t <= 8; t++ {
			Expect(protocol.IsValidLongHeaderType(t)).To(BeTrue())
		}
	})

	It("rejects zero and anything above 8", func() {
		Expect(protocol.IsValidLongHeaderType(0)).To(BeFalse())
		Expect(protocol.IsValidLongHeaderType(9)).To(BeFalse())
	})
})
