package quicly_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"draftquic.dev/quicly"
	"draftquic.dev/quicly/internal/protocol"
)

var _ = Describe("frame codec", func() {
	It("identifies PADDING by type byte", func() {
		Expect(quicly.PeekFrameType(0x00)).To(Equal(quicly.FramePadding))
	})

	It("identifies the ACK and STREAM ranges", func() {
		Expect(quicly.PeekFrameType(0xa5)).To(Equal(quicly.FrameAck))
		Expect(quicly.PeekFrameType(0xf0)).To(Equal(quicly.FrameStream))
	})

	Context("RST_STREAM", func() {
		It("round-trips", func() {
			f := quicly.RstStreamFrame{StreamID: 4, ErrorCode: 7, FinalOffset: 1000}
			raw := quicly.EncodeRstStreamFrame(nil, f)
			Expect(quicly.PeekFrameType(raw[0])).To(Equal(quicly.FrameRstStream))

			got, n, err := quicly.DecodeRstStreamFrame(raw[1:])
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(f))
			Expect(n).To(Equal(len(raw) - 1))
		})

		It("rejects a truncated frame", func() {
			_, _, err := quicly.DecodeRstStreamFrame([]byte{0x01, 0x02})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("STOP_SENDING", func() {
		It("round-trips", func() {
			f := quicly.StopSendingFrame{StreamID: 9, ErrorCode: 3}
			raw := quicly.EncodeStopSendingFrame(nil, f)
			got, _, err := quicly.DecodeStopSendingFrame(raw[1:])
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(f))
		})
	})

	Context("MAX_DATA / MAX_STREAM_DATA", func() {
		It("round-trips MAX_DATA", func() {
			f := quicly.MaxDataFrame{MaximumData: 65536}
			raw := quicly.EncodeMaxDataFrame(nil, f)
			got, _, err := quicly.DecodeMaxDataFrame(raw[1:])
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(f))
		})

		It("round-trips MAX_STREAM_DATA", func() {
			f := quicly.MaxStreamDataFrame{StreamID: 1, MaximumStreamData: 4096}
			raw := quicly.EncodeMaxStreamDataFrame(nil, f)
			got, _, err := quicly.DecodeMaxStreamDataFrame(raw[1:])
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(f))
		})
	})

	Context("STREAM", func() {
		It("round-trips a FIN-bearing frame with a non-zero offset", func() {
			f := quicly.StreamFrame{StreamID: 5, Offset: 1000, Data: []byte("hello world"), Fin: true}
			raw := quicly.EncodeStreamFrame(nil, f)

			Expect(quicly.PeekFrameType(raw[0])).To(Equal(quicly.FrameStream))
			got, n, err := quicly.DecodeStreamFrame(raw[0], raw[1:])
			Expect(err).NotTo(HaveOccurred())
			Expect(got.StreamID).To(Equal(f.StreamID))
			Expect(got.Offset).To(Equal(f.Offset))
			Expect(got.Data).To(Equal(f.Data))
			Expect(got.Fin).To(BeTrue())
			Expect(n).To(Equal(len(raw) - 1))
		})

		It("round-trips a zero-offset frame without an offset field", func() {
			f := quicly.StreamFrame{StreamID: 0, Offset: 0, Data: []byte("x")}
			raw := quicly.EncodeStreamFrame(nil, f)
			got, _, err := quicly.DecodeStreamFrame(raw[0], raw[1:])
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Offset).To(BeZero())
			Expect(got.Data).To(Equal(f.Data))
		})

		It("rejects truncated data", func() {
			f := quicly.StreamFrame{StreamID: 1, Data: []byte("hello")}
			raw := quicly.EncodeStreamFrame(nil, f)
			_, _, err := quicly.DecodeStreamFrame(raw[0], raw[1:len(raw)-2])
			Expect(err).To(HaveOccurred())
		})
	})

	Context("ACK", func() {
		It("round-trips a single contiguous range", func() {
			ranges := []quicly.AckRange{{Smallest: 0, Largest: 9}}
			raw := quicly.EncodeAckFrame(nil, ranges, 12345)

			got, n, err := quicly.DecodeAckFrame(raw[0], raw[1:])
			Expect(err).NotTo(HaveOccurred())
			Expect(got.LargestAcknowledged).To(BeEquivalentTo(9))
			Expect(got.AckDelay).To(BeEquivalentTo(12345))
			Expect(got.Ranges).To(Equal(ranges))
			Expect(n).To(Equal(len(raw) - 1))
		})

		It("round-trips multiple disjoint ranges in ascending order", func() {
			ranges := []quicly.AckRange{
				{Smallest: 0, Largest: 2},
				{Smallest: 5, Largest: 5},
				{Smallest: 10, Largest: 20},
			}
			raw := quicly.EncodeAckFrame(nil, ranges, 0)

			got, _, err := quicly.DecodeAckFrame(raw[0], raw[1:])
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Ranges).To(Equal(ranges))
		})

		It("chooses minimal field widths for small values and round-trips large ones", func() {
			small := []quicly.AckRange{{Smallest: 0, Largest: 3}}
			raw := quicly.EncodeAckFrame(nil, small, 7)
			// type byte + 1-byte largest + 1-byte delay-width prefix +
			// 1-byte delay + 1-byte numGaps + 1-byte block length.
			Expect(raw).To(HaveLen(6))

			large := []quicly.AckRange{
				{Smallest: 0, Largest: 1000},
				{Smallest: 2000, Largest: 72000},
			}
			rawLarge := quicly.EncodeAckFrame(nil, large, 1<<40)
			got, _, err := quicly.DecodeAckFrame(rawLarge[0], rawLarge[1:])
			Expect(err).NotTo(HaveOccurred())
			Expect(got.AckDelay).To(BeEquivalentTo(1 << 40))
			Expect(got.Ranges).To(Equal(large))
		})
	})
})

var _ = Describe("varWidth selection", func() {
	It("picks widths that match stream id magnitudes used across the suite", func() {
		f := quicly.StreamFrame{StreamID: protocol.StreamID(1 << 20), Data: []byte("x")}
		raw := quicly.EncodeStreamFrame(nil, f)
		got, _, err := quicly.DecodeStreamFrame(raw[0], raw[1:])
		Expect(err).NotTo(HaveOccurred())
		Expect(got.StreamID).To(Equal(f.StreamID))
	})
})
