package quicly

import (
	"sort"
	"time"

	"draftquic.dev/quicly/internal/protocol"
	"draftquic.dev/quicly/internal/qerr"
)

// streamFrameMaxOverhead is the worst-case STREAM frame header size (type
// byte, a 4-byte stream id, an 8-byte offset, a 2-byte length), used to
// budget how much data a STREAM frame may carry without re-encoding to
// discover it overflowed the packet.
const streamFrameMaxOverhead = 1 + 4 + 8 + 2

// Send fills out with as many packets as there is data or control state to
// carry, up to len(out), grounded on quicly_send/prepare_packet/
// commit_send_packet/send_stream_frames in quicly.c.
func (c *Connection) Send(out []*RawPacket) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.ctx.now()
	c.ledger.HandleTimeouts(now, c.ctx.InitialRTO)

	// clientInitialSent is scoped to this single Send call: the "only one
	// CLIENT_INITIAL packet per call" rule, not "ever" - retransmission of
	// lost initial data produces a fresh CLIENT_INITIAL packet on a later
	// call.
	c.clientInitialSent = false

	n, err := c.sendCleartext(out, 0, now)
	if err != nil {
		return n, err
	}
	if c.state != protocol.State1RTTEncrypted {
		return n, nil
	}
	return c.sendEncrypted(out, n, now)
}

func (c *Connection) cleartextPacketType() (protocol.PacketType, bool) {
	if c.state == protocol.State1RTTEncrypted {
		return 0, false
	}
	if c.role == protocol.RoleClient {
		if c.state == protocol.StateBeforeServerHello {
			return protocol.PacketTypeClientInitial, true
		}
		return protocol.PacketTypeClientCleartext, true
	}
	return protocol.PacketTypeServerCleartext, true
}

func (c *Connection) sendCleartext(out []*RawPacket, n int, now time.Time) (int, error) {
	budget := c.ctx.MaxPacketSize - longHeaderSize - fnvTrailerSize
	if budget < 0 {
		return n, qerr.Error(qerr.InternalError, "max packet size too small for a long header packet")
	}

	for n < len(out) {
		typ, ok := c.cleartextPacketType()
		if !ok {
			return n, nil
		}

		payload, callbacks, ackIncluded := c.buildCleartextPayload(typ, budget)

		if typ == protocol.PacketTypeClientInitial {
			if len(payload) == 0 {
				return n, nil
			}
			if c.clientInitialSent || len(payload) > clientInitialPaddedSize {
				return n, qerr.Error(qerr.HandshakeTooLarge, "handshake data exceeds a single CLIENT_INITIAL packet")
			}
			payload = PadClientInitial(payload)
		} else if len(payload) == 0 {
			return n, nil
		}

		pn := c.egressPacketNumber
		header := EmitLongHeader(nil, typ, c.connID, pn, protocol.Version)
		raw := append([]byte(nil), header...)
		raw = append(raw, payload...)
		raw = AppendFNVTrailer(raw, header)

		c.commitPacket(pn, now, callbacks)
		if ackIncluded {
			c.ingressAcks.Clear()
		}
		c.writePacket(out, n, raw)
		n++

		if typ == protocol.PacketTypeClientInitial {
			c.clientInitialSent = true
		}
	}
	return n, nil
}

// buildCleartextPayload gathers an ACK frame (unless ACKs are latched to
// encrypted-only packets) and stream 0's pending handshake bytes.
func (c *Connection) buildCleartextPayload(typ protocol.PacketType, budget int) ([]byte, []func(bool), bool) {
	var payload []byte
	var ackIncluded bool
	if typ == protocol.PacketTypeClientInitial || !c.ackEncryptedOnly {
		payload, ackIncluded = c.emitAckInto(payload, budget)
	}

	var callbacks []func(bool)
	s := c.streams[0]
	if budget-len(payload) > streamFrameMaxOverhead {
		if enc, start, end, ok := c.buildStreamDataFrame(s, budget-len(payload), false); ok {
			payload = append(payload, enc...)
			callbacks = append(callbacks, func(acked bool) {
				if acked {
					s.send.Acked(start, end)
				} else {
					s.send.Lost(start, end)
				}
			})
		}
	}

	return payload, callbacks, ackIncluded
}

func (c *Connection) sendEncrypted(out []*RawPacket, n int, now time.Time) (int, error) {
	includeConnID := !c.peerTransportParams.TruncateConnectionID

	for n < len(out) {
		pn := c.egressPacketNumber
		header := EmitShortHeader(nil, false, c.connID, includeConnID, pn, 4)
		budget := c.ctx.MaxPacketSize - len(header) - aeadTagOverhead
		if budget < 0 {
			return n, qerr.Error(qerr.InternalError, "max packet size too small for a short header packet")
		}

		var payload []byte
		var callbacks []func(bool)

		payload, ackIncluded := c.emitAckInto(payload, budget)

		var mdCallbacks []func(bool)
		payload, mdCallbacks = c.emitConnMaxData(payload, budget)
		callbacks = append(callbacks, mdCallbacks...)

		for _, id := range c.orderedStreamIDs() {
			if id == 0 {
				continue
			}
			s := c.streams[id]
			var cbs []func(bool)
			payload, cbs = c.emitStreamControlAndData(payload, budget, s)
			callbacks = append(callbacks, cbs...)
		}

		if len(payload) == 0 {
			return n, nil
		}

		raw := append([]byte(nil), header...)
		raw = c.egressAEAD.Seal(raw, header, pn, payload)

		c.commitPacket(pn, now, callbacks)
		if ackIncluded {
			c.ingressAcks.Clear()
		}
		c.writePacket(out, n, raw)
		n++
	}
	return n, nil
}

func (c *Connection) orderedStreamIDs() []protocol.StreamID {
	ids := make([]protocol.StreamID, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// emitAckInto appends an ACK frame covering the ingress ack range set, if
// any and if it fits, reporting whether it was included so the caller can
// clear the range set once the packet is committed.
func (c *Connection) emitAckInto(payload []byte, budget int) ([]byte, bool) {
	if c.ingressAcks.Empty() {
		return payload, false
	}
	ranges := c.ingressAcks.Ranges()
	ackRanges := make([]AckRange, len(ranges))
	for i, r := range ranges {
		ackRanges[i] = AckRange{Smallest: protocol.PacketNumber(r.Start), Largest: protocol.PacketNumber(r.End - 1)}
	}
	frame := EncodeAckFrame(nil, ackRanges, 0)
	if len(payload)+len(frame) > budget {
		return payload, false
	}
	return append(payload, frame...), true
}

// emitConnMaxData appends a connection-level MAX_DATA frame when the
// consumption-vs-window check fires and the advertisement is worth
// resending (MaxSender dedup).
func (c *Connection) emitConnMaxData(payload []byte, budget int) ([]byte, []func(bool)) {
	due, newLimit := c.connFlowControl.MaybeTriggerWindowUpdate()
	if !due || !c.localMaxDataSender.ShouldUpdate(newLimit, 0, 1) {
		return payload, nil
	}
	enc := EncodeMaxDataFrame(nil, MaxDataFrame{MaximumData: newLimit})
	if len(payload)+len(enc) > budget {
		return payload, nil
	}
	payload = append(payload, enc...)
	c.localMaxDataSender.Record(newLimit)
	limit := newLimit
	return payload, []func(bool){func(acked bool) {
		if acked {
			c.localMaxDataSender.Acked(limit)
		} else {
			c.localMaxDataSender.Lost(limit)
		}
	}}
}

// emitStreamControlAndData appends, in order, a pending STOP_SENDING, a
// pending RST_STREAM, a due MAX_STREAM_DATA, and finally as much STREAM
// data as the remaining budget and flow control allow.
func (c *Connection) emitStreamControlAndData(payload []byte, budget int, s *Stream) ([]byte, []func(bool)) {
	var callbacks []func(bool)

	if s.stopSending.pending() {
		enc := EncodeStopSendingFrame(nil, StopSendingFrame{StreamID: s.id, ErrorCode: s.stopSendCode})
		if len(payload)+len(enc) <= budget {
			payload = append(payload, enc...)
			s.stopSending.onSent()
			st := s
			callbacks = append(callbacks, func(acked bool) {
				if acked {
					st.stopSending.onAcked()
				} else {
					st.stopSending.onLost()
				}
			})
		}
	}

	if s.rst.pending() {
		if eos, shut := s.send.EOS(); shut {
			enc := EncodeRstStreamFrame(nil, RstStreamFrame{StreamID: s.id, ErrorCode: s.rstCode, FinalOffset: eos})
			if len(payload)+len(enc) <= budget {
				payload = append(payload, enc...)
				s.rst.onSent()
				st := s
				callbacks = append(callbacks, func(acked bool) {
					if acked {
						st.rst.onAcked()
					} else {
						st.rst.onLost()
					}
					st.conn.maybeDestroyStream(st)
				})
			}
		}
	}

	if due, newLimit := s.recvFC.MaybeTriggerWindowUpdate(); due && s.localWindow.ShouldUpdate(newLimit, 0, 1) {
		enc := EncodeMaxStreamDataFrame(nil, MaxStreamDataFrame{StreamID: s.id, MaximumStreamData: newLimit})
		if len(payload)+len(enc) <= budget {
			payload = append(payload, enc...)
			s.localWindow.Record(newLimit)
			st, limit := s, newLimit
			callbacks = append(callbacks, func(acked bool) {
				if acked {
					st.localWindow.Acked(limit)
				} else {
					st.localWindow.Lost(limit)
				}
			})
		}
	}

	// Once an RST_STREAM has been scheduled, it has dropped this stream's
	// pending data (Stream.Reset), so no STREAM frame should follow it -
	// the RST is what wins, not a trailing FIN or data frame.
	if !s.rst.armed() && budget-len(payload) > streamFrameMaxOverhead {
		if enc, start, end, ok := c.buildStreamDataFrame(s, budget-len(payload), true); ok {
			payload = append(payload, enc...)
			st := s
			callbacks = append(callbacks, func(acked bool) {
				if acked {
					st.send.Acked(start, end)
				} else {
					st.send.Lost(start, end)
				}
				st.conn.maybeDestroyStream(st)
			})
		}
	}

	return payload, callbacks
}

// buildStreamDataFrame emits one STREAM frame for s carrying up to
// maxBudget-streamFrameMaxOverhead bytes, clamped (for non-stream-0
// streams) by the peer's per-stream window and the connection's remaining
// send credit. Stream 0 (the handshake carrier) is exempt from flow
// control, matching spec's treatment of the handshake stream as outside
// the application data accounting.
func (c *Connection) buildStreamDataFrame(s *Stream, maxBudget int, flowControlled bool) (enc []byte, start, end uint64, ok bool) {
	maxLen := maxBudget - streamFrameMaxOverhead
	if maxLen < 0 {
		maxLen = 0
	}

	offset, length, fin, pending := s.send.NextPending(maxLen)
	if !pending {
		return nil, 0, 0, false
	}

	if flowControlled {
		if offset+uint64(length) > s.peerMaxStreamData {
			allowed := int64(s.peerMaxStreamData) - int64(offset)
			if allowed < 0 {
				allowed = 0
			}
			if int64(length) > allowed {
				length = int(allowed)
				fin = false
			}
		}
		credit := c.connFlowControl.SendWindowSize()
		if uint64(length) > credit {
			length = int(credit)
			fin = false
		}
		if length == 0 && !fin {
			return nil, 0, 0, false
		}
	}

	buf, start, end := s.send.Emit(offset, length, nil)
	enc = EncodeStreamFrame(nil, StreamFrame{StreamID: s.id, Offset: offset, Data: buf, Fin: fin})

	if flowControlled {
		c.connFlowControl.AddBytesSent(uint64(length))
	}
	if end > s.maxSent {
		s.maxSent = end
	}

	return enc, start, end, true
}

func (c *Connection) commitPacket(pn protocol.PacketNumber, now time.Time, callbacks []func(bool)) {
	if len(callbacks) > 0 {
		cbs := callbacks
		c.ledger.Allocate(uint64(pn), now, func(acked bool) {
			for _, cb := range cbs {
				cb(acked)
			}
		})
	}
	c.egressPacketNumber++
	c.tracer().SentPacket(c.peer)
}

func (c *Connection) writePacket(out []*RawPacket, idx int, raw []byte) {
	pkt := c.ctx.allocPacket(c.peer, len(raw))
	pkt.Peer = c.peer
	pkt.Data = append(pkt.Data, raw...)
	out[idx] = pkt
}
