package quicly_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"draftquic.dev/quicly"
	"draftquic.dev/quicly/internal/protocol"
)

var _ = Describe("packet codec", func() {
	Context("long header", func() {
		It("round-trips type, connection id, packet number and version", func() {
			var raw []byte
			raw = quicly.EmitLongHeader(raw, protocol.PacketTypeClientInitial, 0x0102030405060708, 42, protocol.Version)

			h, rest, err := quicly.DecodePacket(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.IsLong).To(BeTrue())
			Expect(h.Type).To(Equal(protocol.PacketTypeClientInitial))
			Expect(h.ConnectionID).To(BeEquivalentTo(0x0102030405060708))
			Expect(h.PacketNumber).To(BeEquivalentTo(42))
			Expect(h.Version).To(Equal(protocol.Version))
			Expect(rest).To(BeEmpty())
		})

		It("rejects a truncated long header", func() {
			_, _, err := quicly.DecodePacket([]byte{0x82, 0x01, 0x02})
			Expect(err).To(HaveOccurred())
		})

		It("rejects an invalid long header type", func() {
			raw := make([]byte, 17)
			raw[0] = 0x80 | 0x09
			_, _, err := quicly.DecodePacket(raw)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("short header", func() {
		It("decodes key phase 0 without a connection id", func() {
			raw := []byte{0x01, 0xaa}
			h, rest, err := quicly.DecodePacket(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.IsLong).To(BeFalse())
			Expect(h.Type).To(Equal(protocol.PacketType1RTTKeyPhase0))
			Expect(h.HasConnID).To(BeFalse())
			Expect(h.PacketNumber).To(BeEquivalentTo(0xaa))
			Expect(rest).To(BeEmpty())
		})

		It("decodes key phase 1 with a connection id and 4-byte packet number", func() {
			raw := make([]byte, 1+8+4)
			raw[0] = 0x20 | 0x40 | 0x03
			raw[1] = 0x01
			raw[9], raw[10], raw[11], raw[12] = 0, 0, 0, 7
			h, rest, err := quicly.DecodePacket(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.KeyPhase1).To(BeTrue())
			Expect(h.HasConnID).To(BeTrue())
			Expect(h.PacketNumber).To(BeEquivalentTo(7))
			Expect(rest).To(BeEmpty())
		})

		It("rejects an invalid packet number width", func() {
			_, _, err := quicly.DecodePacket([]byte{0x00})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("FNV-1a-64 authentication", func() {
		It("verifies a correctly authenticated cleartext packet", func() {
			var header []byte
			header = quicly.EmitLongHeader(header, protocol.PacketTypeClientInitial, 1, 1, protocol.Version)

			raw := append([]byte{}, header...)
			raw = append(raw, []byte("hello")...)
			raw = quicly.AppendFNVTrailer(raw, header)

			body, err := quicly.VerifyCleartextPacket(raw, header)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal([]byte("hello")))
		})

		It("rejects a corrupted trailer", func() {
			var header []byte
			header = quicly.EmitLongHeader(header, protocol.PacketTypeClientInitial, 1, 1, protocol.Version)
			raw := append([]byte{}, header...)
			raw = append(raw, []byte("hello")...)
			raw = quicly.AppendFNVTrailer(raw, header)
			raw[len(raw)-1] ^= 0xff

			_, err := quicly.VerifyCleartextPacket(raw, header)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("CLIENT_INITIAL padding", func() {
		It("pads the payload to exactly 1272 bytes", func() {
			padded := quicly.PadClientInitial([]byte("hello"))
			Expect(padded).To(HaveLen(1272))
			Expect(padded[:5]).To(Equal([]byte("hello")))
		})

		It("leaves an already-large payload alone", func() {
			big := make([]byte, 2000)
			Expect(quicly.PadClientInitial(big)).To(HaveLen(2000))
		})
	})
})
