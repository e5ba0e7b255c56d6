package tlsengine

import (
	"crypto"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ExpandLabel implements HKDF-Expand-Label as defined in RFC 8446 section
// 7.1, used to turn an exported 1-RTT secret into the AEAD key and IV for
// key phase 0 (and, on key update, phase 1).
func ExpandLabel(hash crypto.Hash, secret, context []byte, label string, length int) []byte {
	b := make([]byte, 3, 3+6+len(label)+1+len(context))
	binary.BigEndian.PutUint16(b, uint16(length))
	b[2] = uint8(6 + len(label))
	b = append(b, []byte("tls13 ")...)
	b = append(b, []byte(label)...)
	b = b[:3+6+len(label)+1]
	b[3+6+len(label)] = uint8(len(context))
	b = append(b, context...)

	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(hash.New, secret, b), out); err != nil {
		panic(fmt.Errorf("quicly: HKDF-Expand-Label invocation failed unexpectedly: %v", err))
	}
	return out
}

// DeriveAEADKeyAndIV derives the key and IV for one direction's AEAD
// context from an exported 1-RTT secret, per RFC 8446 section 7.3.
func DeriveAEADKeyAndIV(hash crypto.Hash, secret []byte, keyLen, ivLen int) (key, iv []byte) {
	key = ExpandLabel(hash, secret, nil, "key", keyLen)
	iv = ExpandLabel(hash, secret, nil, "iv", ivLen)
	return key, iv
}
