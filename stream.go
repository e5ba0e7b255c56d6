package quicly

import (
	"draftquic.dev/quicly/internal/flowcontrol"
	"draftquic.dev/quicly/internal/protocol"
)

// senderState tracks a one-shot control frame (RST_STREAM or
// STOP_SENDING) that must be reliably delivered exactly once: scheduled,
// then in flight, then acked. A loss rewinds it back to scheduled so the
// connection's send path re-emits it.
type senderState int

const (
	senderIdle senderState = iota
	senderScheduled
	senderSent
	senderAcked
)

func (s *senderState) schedule() {
	if *s == senderIdle {
		*s = senderScheduled
	}
}

func (s *senderState) onSent() {
	if *s == senderScheduled {
		*s = senderSent
	}
}

func (s *senderState) onAcked() {
	*s = senderAcked
}

func (s *senderState) onLost() {
	if *s == senderSent {
		*s = senderScheduled
	}
}

func (s senderState) pending() bool {
	return s == senderScheduled
}

// armed reports whether this control frame has ever been scheduled,
// including after it has since been sent or acked. Used to suppress
// STREAM data emission once an RST_STREAM has taken over a send buffer.
func (s senderState) armed() bool {
	return s != senderIdle
}

func (s senderState) done() bool {
	return s == senderAcked
}

// Stream is a bidirectional byte channel inside a Connection, joining a
// send buffer, a receive buffer and the per-direction flow-control state,
// mirroring struct st_quicly_stream_t. All methods assume the owning
// Connection's lock is already held, the way quic-go/stream.go's methods
// assume single-threaded access protected by the session.
type Stream struct {
	id   protocol.StreamID
	conn *Connection

	send *SendBuffer
	recv *RecvBuffer

	// Send-side flow control: the peer's advertised window for this
	// stream, and the highest offset ever handed to the connection's
	// send path (used by Reset to skip the RST_STREAM once everything up
	// to eos has been sent).
	peerMaxStreamData uint64
	maxSent           uint64

	rst          senderState
	rstCode      uint32
	stopSending  senderState
	stopSendCode uint32

	// peerRSTCode is latched when an RST_STREAM arrives from the peer;
	// nil until then.
	peerRSTCode *uint32

	// localWindow advertises this stream's receive window to the peer
	// via MAX_STREAM_DATA, deduped through a MaxSender.
	localWindow *flowcontrol.MaxSender

	// recvFC tracks how much of this stream's receive window the peer has
	// consumed against how much the application has read, the way a
	// per-stream flowcontrol.Controller answers "is a window update due"
	// independently of the connection-wide one.
	recvFC *flowcontrol.Controller

	closeRequested bool
}

// newStream constructs a Stream bound to conn, with the peer's stream
// window peerMaxStreamData and a local receive window of
// localWindowIncrement bytes.
func newStream(conn *Connection, id protocol.StreamID, peerMaxStreamData, localWindowIncrement uint64) *Stream {
	return &Stream{
		id:                id,
		conn:              conn,
		send:              NewSendBuffer(),
		recv:              NewRecvBuffer(),
		peerMaxStreamData: peerMaxStreamData,
		localWindow:       flowcontrol.NewMaxSender(),
		recvFC:            flowcontrol.NewController(localWindowIncrement),
	}
}

// ID returns the stream's id.
func (s *Stream) ID() protocol.StreamID { return s.id }

// Read returns the contiguous run of received bytes not yet consumed by
// Consume. The returned slice is only valid until the next Consume call.
func (s *Stream) Read() []byte { return s.recv.ContiguousData() }

// Consume marks the first n bytes of Read's result as delivered to the
// application, advancing the receive buffer and folding the advance into
// this stream's and the connection's receive flow control so a
// MAX_STREAM_DATA/MAX_DATA update is scheduled once warranted.
func (s *Stream) Consume(n int) {
	s.recv.Shift(uint64(n))
	s.recvFC.AddBytesRead(uint64(n))
	s.conn.connFlowControl.AddBytesRead(uint64(n))
	s.conn.scheduleSend()
}

// Write appends p to the stream's send buffer; bytes become eligible for
// STREAM frame emission on the connection's next Send call.
func (s *Stream) Write(p []byte) {
	s.send.Write(p)
	s.conn.scheduleSend()
}

// Shutdown marks this stream's send side FIN at the current write offset.
func (s *Stream) Shutdown() {
	s.send.Shutdown()
	s.conn.scheduleSend()
}

// Reset schedules an RST_STREAM with the given application error code,
// preserving the "send FIN instead if everything was already sent"
// optimization: if max_sent already equals eos, a plain FIN covers it and
// no RST is scheduled. Otherwise the send buffer's remaining pending data
// is discarded (DropPending) so the RST, not the stale STREAM data, is what
// ships from here on.
func (s *Stream) Reset(errorCode uint32) {
	if eos, shut := s.send.EOS(); shut && s.maxSent == eos {
		return
	}
	s.send.Shutdown()
	s.send.DropPending()
	s.rstCode = errorCode
	s.rst.schedule()
	s.conn.scheduleSend()
}

// StopSending schedules a STOP_SENDING asking the peer to reset its send
// side with the given application error code.
func (s *Stream) StopSending(errorCode uint32) {
	s.stopSendCode = errorCode
	s.stopSending.schedule()
	s.conn.scheduleSend()
}

// Close requests destruction of the stream once both directions are
// settled: the send side fully acknowledged (or its RST acknowledged) and
// the receive side transfer-complete.
func (s *Stream) Close() {
	s.closeRequested = true
	s.conn.maybeDestroyStream(s)
}

// sendComplete reports whether this stream's send side no longer needs
// anything retransmitted: either the FIN was acked, or the RST was acked.
func (s *Stream) sendComplete() bool {
	return s.send.TransferComplete() || s.rst.done()
}

// recvComplete reports whether this stream's receive side is done: either
// every byte through eos was delivered, or the peer RST the stream.
func (s *Stream) recvComplete() bool {
	return s.recv.TransferComplete() || s.peerRSTCode != nil
}

// destroyable implements the destruction rule from the connection's
// stream-lifecycle invariant: close() called, send side settled, receive
// side settled.
func (s *Stream) destroyable() bool {
	return s.closeRequested && s.sendComplete() && s.recvComplete()
}

// handleRstStream latches the peer's RST_STREAM, marking the receive side
// complete without requiring delivery of the remaining bytes.
func (s *Stream) handleRstStream(code uint32) {
	c := code
	s.peerRSTCode = &c
	s.conn.maybeDestroyStream(s)
}

// handleStopSending schedules a responding RST_STREAM with the
// application error code zero, the way an implicit local reset answers a
// peer's STOP_SENDING.
func (s *Stream) handleStopSending() {
	s.Reset(0)
}
