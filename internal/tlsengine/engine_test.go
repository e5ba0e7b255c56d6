package tlsengine_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"draftquic.dev/quicly/internal/protocol"
	"draftquic.dev/quicly/internal/tlsengine"
)

var _ = Describe("Engine (mock)", func() {
	var (
		ctrl *gomock.Controller
		m    *MockEngine
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		m = NewMockEngine(ctrl)
	})

	It("feeds handshake bytes into HandleData", func() {
		m.EXPECT().HandleData(protocol.EncryptionCleartext, []byte("client hello")).Return(nil)
		Expect(m.HandleData(protocol.EncryptionCleartext, []byte("client hello"))).To(Succeed())
	})

	It("reports handshake completion through NextEvent", func() {
		m.EXPECT().NextEvent().Return(tlsengine.Event{Kind: tlsengine.EventHandshakeComplete}, nil)
		ev, err := m.NextEvent()
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.Kind).To(Equal(tlsengine.EventHandshakeComplete))
	})

	It("exports a secret by label", func() {
		m.EXPECT().ExportSecret("EXPORTER-QUIC client 1-RTT Secret", 32).Return(make([]byte, 32), nil)
		secret, err := m.ExportSecret("EXPORTER-QUIC client 1-RTT Secret", 32)
		Expect(err).NotTo(HaveOccurred())
		Expect(secret).To(HaveLen(32))
	})

	It("reports the peer's transport parameters payload through NextEvent", func() {
		raw := []byte{0x01, 0x02, 0x03}
		m.EXPECT().NextEvent().Return(tlsengine.Event{Kind: tlsengine.EventPeerTransportParameters, Data: raw}, nil)
		ev, err := m.NextEvent()
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.Kind).To(Equal(tlsengine.EventPeerTransportParameters))
		Expect(ev.Kind).NotTo(Equal(tlsengine.EventHandshakeComplete))
		Expect(ev.Data).To(Equal(raw))
	})
})
