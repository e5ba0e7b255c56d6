package tlsengine_test

import (
	"crypto"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"draftquic.dev/quicly/internal/tlsengine"
)

var _ = Describe("ExpandLabel", func() {
	It("is deterministic for a fixed secret and label", func() {
		secret := make([]byte, 32)
		a := tlsengine.ExpandLabel(crypto.SHA256, secret, nil, "key", 16)
		b := tlsengine.ExpandLabel(crypto.SHA256, secret, nil, "key", 16)
		Expect(a).To(Equal(b))
		Expect(a).To(HaveLen(16))
	})

	It("produces different output for different labels", func() {
		secret := make([]byte, 32)
		key := tlsengine.ExpandLabel(crypto.SHA256, secret, nil, "key", 16)
		iv := tlsengine.ExpandLabel(crypto.SHA256, secret, nil, "iv", 16)
		Expect(key).NotTo(Equal(iv))
	})
})

var _ = Describe("DeriveAEADKeyAndIV", func() {
	It("derives a key and IV of the requested lengths", func() {
		secret := make([]byte, 32)
		key, iv := tlsengine.DeriveAEADKeyAndIV(crypto.SHA256, secret, 16, 12)
		Expect(key).To(HaveLen(16))
		Expect(iv).To(HaveLen(12))
	})
})
