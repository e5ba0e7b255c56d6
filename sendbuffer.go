package quicly

import (
	"math"

	"draftquic.dev/quicly/internal/rangeset"
)

// noEOS marks a send buffer that has not yet been shut down: there is no
// FIN offset yet, so eos reads as unbounded.
const noEOS = math.MaxUint64

// SendBuffer is an ordered byte queue addressed by absolute stream offset,
// together with the pending bookkeeping needed to drive retransmission. It
// mirrors quicly_sendbuf_t: data is appended once and never mutated,
// pending tracks what has not yet been put on the wire (or was put on the
// wire and then lost), and everything sent but neither pending nor acked
// is implicitly in flight.
type SendBuffer struct {
	data         []byte
	eos          uint64 // noEOS until Shutdown
	pending      rangeset.Set
	transferDone bool
}

// NewSendBuffer returns an empty send buffer with everything (there is
// nothing yet) pending.
func NewSendBuffer() *SendBuffer {
	return &SendBuffer{eos: noEOS}
}

// Write appends p to the buffer and extends pending to cover the newly
// written range.
func (b *SendBuffer) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	start := uint64(len(b.data))
	b.data = append(b.data, p...)
	b.pending.Update(start, start+uint64(len(p)))
}

// Shutdown fixes eos at the current tail. The FIN bit is thereafter
// scheduled alongside the final byte range emitted by Emit.
func (b *SendBuffer) Shutdown() {
	if b.eos != noEOS {
		return
	}
	b.eos = uint64(len(b.data))
	if b.eos == 0 {
		b.transferDone = true
	}
}

// EOS reports the fixed end-of-stream offset and whether Shutdown has been
// called yet.
func (b *SendBuffer) EOS() (offset uint64, ok bool) {
	if b.eos == noEOS {
		return 0, false
	}
	return b.eos, true
}

// NextPending returns the next pending byte range, capped at maxLen bytes,
// and whether one exists. fin reports whether this range's end coincides
// with eos, so the caller sets the STREAM frame's FIN bit. Once there is no
// pending data left but eos has been reached and not yet emitted as its own
// empty FIN frame, NextPending still reports one final zero-length, fin
// range so the FIN gets scheduled.
func (b *SendBuffer) NextPending(maxLen int) (offset uint64, length int, fin bool, ok bool) {
	if !b.pending.Empty() {
		r := b.pending.Ranges()[0]
		n := int(r.Len())
		if n > maxLen {
			n = maxLen
		}
		atEOS := false
		if eos, shut := b.EOS(); shut && r.Start+uint64(n) == eos {
			atEOS = true
		}
		return r.Start, n, atEOS, true
	}
	if eos, shut := b.EOS(); shut && !b.transferDone && uint64(len(b.data)) == eos {
		return eos, 0, true, true
	}
	return 0, 0, false, false
}

// Emit copies the n bytes starting at offset into out (appending), removes
// [offset, offset+n) from pending (it becomes implicitly in flight), and
// returns the appended slice plus the stream offset range it covers. The
// caller captures (start, end) in the ack and loss callbacks of the packet's
// ack ledger record so Acked/Lost can be dispatched back to this buffer later.
func (b *SendBuffer) Emit(offset uint64, n int, out []byte) (dst []byte, start, end uint64) {
	dst = append(out, b.data[offset:offset+uint64(n)]...)
	b.removeFromPending(offset, offset+uint64(n))
	return dst, offset, offset + uint64(n)
}

func (b *SendBuffer) removeFromPending(start, end uint64) {
	ranges := b.pending.Ranges()
	if len(ranges) == 0 {
		return
	}
	var rebuilt rangeset.Set
	for _, r := range ranges {
		lo, hi := r.Start, r.End
		if hi <= start || lo >= end {
			rebuilt.Update(lo, hi)
			continue
		}
		if lo < start {
			rebuilt.Update(lo, start)
		}
		if hi > end {
			rebuilt.Update(end, hi)
		}
	}
	b.pending = rebuilt
}

// Acked marks [start,end) permanently delivered; it must never re-enter
// pending. If the range reaches eos, the transfer is complete.
func (b *SendBuffer) Acked(start, end uint64) {
	if eos, shut := b.EOS(); shut && end == eos {
		b.transferDone = true
	}
}

// DropPending discards every byte range not yet put on the wire, without
// marking the buffer's transfer complete, so no further STREAM data is
// scheduled for it. Mirrors quicly.c's reset_sender, which follows
// quicly_sendbuf_shutdown with quicly_sendbuf_acked(0, eos) to throw away
// whatever remains unsent once an RST_STREAM supersedes it; transferDone is
// deliberately left false here since this buffer's "send complete" now
// waits on the RST being acknowledged, not on data delivery.
func (b *SendBuffer) DropPending() {
	b.pending = rangeset.Set{}
}

// Lost reinserts [start,end) into pending so it will be retransmitted.
func (b *SendBuffer) Lost(start, end uint64) {
	if end == start {
		// A lost zero-length FIN-only range: eos itself was never
		// acked, so the FIN needs to be rescheduled. NextPending
		// already does this whenever transferDone is still false.
		return
	}
	b.pending.Update(start, end)
}

// TransferComplete reports whether FIN has been acknowledged.
func (b *SendBuffer) TransferComplete() bool {
	return b.transferDone
}
