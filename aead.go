package quicly

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"draftquic.dev/quicly/internal/protocol"
)

// aeadContext seals and opens 1-RTT packets. This draft treats "the AEAD
// the TLS cipher suite negotiated" as AES-128-GCM uniformly: ExportSecret
// already keeps actual TLS record-layer cipher negotiation behind the
// tlsengine.Engine boundary (spec.md's "TLS record-layer primitives stay
// external" non-goal), and AES-128-GCM is the one AEAD both the key size
// HKDF-Expand-Label derives by default and crypto/aes support without
// pulling in a third cipher implementation.
type aeadContext struct {
	aead cipher.AEAD
	iv   []byte
}

// aeadTagOverhead is the authentication tag width AES-GCM appends to every
// sealed packet, budgeted against MaxPacketSize when sizing payloads.
const aeadTagOverhead = 16

func newAEADContext(key, iv []byte) (*aeadContext, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aeadContext{aead: aead, iv: iv}, nil
}

// nonce XORs the packet number into the low-order bytes of iv, the way
// quicly.c's AEAD nonce construction (and RFC 9001 §5.3) combine a static
// IV with the packet number.
func (a *aeadContext) nonce(pn protocol.PacketNumber) []byte {
	nonce := make([]byte, len(a.iv))
	copy(nonce, a.iv)
	var pnBuf [8]byte
	binary.BigEndian.PutUint64(pnBuf[:], uint64(pn))
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[len(nonce)-1-i] ^= pnBuf[7-i]
	}
	return nonce
}

// Seal encrypts plaintext, using header as associated data and the packet
// number as nonce, appends the ciphertext-plus-tag to dst and returns the
// result.
func (a *aeadContext) Seal(dst, header []byte, pn protocol.PacketNumber, plaintext []byte) []byte {
	return a.aead.Seal(dst, a.nonce(pn), plaintext, header)
}

// Open authenticates and decrypts ciphertext (tag included), using header
// as associated data and the packet number as nonce.
func (a *aeadContext) Open(dst, header []byte, pn protocol.PacketNumber, ciphertext []byte) ([]byte, error) {
	return a.aead.Open(dst, a.nonce(pn), ciphertext, header)
}
