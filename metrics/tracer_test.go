package metrics_test

import (
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"draftquic.dev/quicly/metrics"
)

var _ = Describe("Tracer", func() {
	It("counts sent, received and dropped packets independently", func() {
		reg := prometheus.NewRegistry()
		tr := metrics.NewTracerWithRegisterer(reg)

		addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1")}
		tr.SentPacket(addr)
		tr.SentPacket(addr)
		tr.ReceivedPacket(addr)
		tr.DroppedPacket("header_parsing")

		mfs, err := reg.Gather()
		Expect(err).NotTo(HaveOccurred())
		Expect(mfs).NotTo(BeEmpty())
	})

	It("tolerates being constructed twice against the same registerer", func() {
		reg := prometheus.NewRegistry()
		Expect(func() {
			metrics.NewTracerWithRegisterer(reg)
			metrics.NewTracerWithRegisterer(reg)
		}).NotTo(Panic())
	})

	It("records handshake completion", func() {
		reg := prometheus.NewRegistry()
		tr := metrics.NewTracerWithRegisterer(reg)
		tr.HandshakeCompleted(50 * time.Millisecond)

		mfs, err := reg.Gather()
		Expect(err).NotTo(HaveOccurred())
		Expect(mfs).NotTo(BeEmpty())
	})
})
