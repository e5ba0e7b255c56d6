package quicly

import (
	"draftquic.dev/quicly/internal/qerr"
	"draftquic.dev/quicly/internal/rangeset"
)

// RecvBuffer reassembles a stream's out-of-order byte ranges, mirroring
// quicly_recvbuf_t / do_apply_stream_frame's fast path: a contiguous prefix
// starting at dataOff, plus a received range set recording everything
// absorbed so far (contiguous or not). The first range in received, if its
// Start equals dataOff, is the contiguous run available for delivery.
type RecvBuffer struct {
	buf      []byte // buf[i] holds the byte at absolute offset dataOff+i
	dataOff  uint64
	received rangeset.Set
	eos      uint64
	hasEOS   bool
}

// NewRecvBuffer returns an empty receive buffer.
func NewRecvBuffer() *RecvBuffer {
	return &RecvBuffer{}
}

// Write merges [off, off+len(data)) into received and copies the bytes into
// buf at their offset, whether or not they extend the contiguous prefix, so
// ContiguousData can expose them without the caller re-copying. Writing
// data already behind dataOff (fully retransmitted, already delivered) is
// accepted as a no-op over the already-consumed portion.
func (b *RecvBuffer) Write(off uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	end := off + uint64(len(data))
	if b.hasEOS && end > b.eos {
		return qerr.Error(qerr.InvalidStreamData, "data received past end of stream")
	}
	if end <= b.dataOff {
		return nil // entirely already consumed
	}
	if off < b.dataOff {
		data = data[b.dataOff-off:]
		off = b.dataOff
	}

	b.received.Update(off, end)
	b.absorb(off, data)
	return nil
}

// absorb copies data into buf at the position corresponding to off,
// growing buf as needed, so that once off becomes (or already is) the head
// of the contiguous run, ContiguousData can return a direct slice.
func (b *RecvBuffer) absorb(off uint64, data []byte) {
	rel := off - b.dataOff
	need := rel + uint64(len(data))
	if need > uint64(len(b.buf)) {
		grown := make([]byte, need)
		copy(grown, b.buf)
		b.buf = grown
	}
	copy(b.buf[rel:], data)
}

// MarkEOS fixes eos. Data received beyond it after this call is rejected
// by Write.
func (b *RecvBuffer) MarkEOS(offset uint64) error {
	if b.hasEOS && b.eos != offset {
		return qerr.Error(qerr.InvalidStreamData, "conflicting end-of-stream offsets")
	}
	b.hasEOS = true
	b.eos = offset
	return nil
}

// ContiguousData returns the contiguous run of bytes starting at dataOff
// that has been absorbed so far (possibly empty), without consuming it.
func (b *RecvBuffer) ContiguousData() []byte {
	if b.received.Empty() {
		return nil
	}
	r := b.received.Ranges()[0]
	if r.Start != b.dataOff {
		return nil
	}
	return b.buf[:r.Len()]
}

// Shift advances dataOff by n, dropping the first n bytes of the
// contiguous run exposed by ContiguousData; n must not exceed its length.
// The caller folds n into connection-level flow control accounting.
func (b *RecvBuffer) Shift(n uint64) {
	if n == 0 {
		return
	}
	b.buf = b.buf[n:]
	b.dataOff += n
	b.received.ShrinkLeft(b.dataOff)
}

// TransferComplete reports whether every byte up to eos has been consumed.
func (b *RecvBuffer) TransferComplete() bool {
	return b.hasEOS && b.dataOff == b.eos
}
