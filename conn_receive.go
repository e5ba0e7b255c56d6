package quicly

import (
	"draftquic.dev/quicly/internal/protocol"
	"draftquic.dev/quicly/internal/qerr"
	"draftquic.dev/quicly/internal/rangeset"
)

// Receive processes one already-decoded incoming packet to completion,
// grounded on quicly_receive/get_stream_or_open_if_new in quicly.c.
func (c *Connection) Receive(p *DecodedPacket) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.Header.ConnectionID != c.connID {
		return qerr.Error(qerr.InvalidPacketHeader, "connection id mismatch")
	}

	if !p.Header.IsLong && c.state != protocol.State1RTTEncrypted {
		c.tracer().DroppedPacket("short header before 1-rtt keys installed")
		return nil
	}
	if p.Header.IsLong {
		if err := c.checkLongHeaderRole(p.Header.Type); err != nil {
			return err
		}
	}

	header := p.Raw[:len(p.Raw)-len(p.Payload)]

	var body []byte
	if p.Header.IsCleartext() {
		b, err := VerifyCleartextPacket(p.Raw, header)
		if err != nil {
			c.tracer().DroppedPacket("fnv trailer mismatch")
			return nil
		}
		body = b
		if p.Header.Type == protocol.PacketTypeServerCleartext && c.state == protocol.StateBeforeServerHello {
			c.state = protocol.StateBeforeServerFinished
		}
	} else {
		if c.ingressAEAD == nil {
			c.tracer().DroppedPacket("no 1-rtt keys installed yet")
			return nil
		}
		b, err := c.ingressAEAD.Open(nil, header, p.Header.PacketNumber, p.Payload)
		if err != nil {
			c.tracer().DroppedPacket("aead authentication failure")
			return nil
		}
		body = b
	}

	if len(body) == 0 {
		return qerr.Error(qerr.InvalidPacketHeader, "empty packet payload")
	}

	c.tracer().ReceivedPacket(p.Peer)

	ackEliciting, err := c.dispatchFrames(body)
	if err != nil {
		return err
	}

	if ackEliciting {
		c.ingressAcks.Update(uint64(p.Header.PacketNumber), uint64(p.Header.PacketNumber)+1)
		if c.role == protocol.RoleServer && !p.Header.IsCleartext() {
			c.ackEncryptedOnly = true
		}
	}

	return nil
}

// checkLongHeaderRole enforces that SERVER_CLEARTEXT only ever arrives at
// a client and CLIENT_INITIAL/CLIENT_CLEARTEXT only ever arrive at a
// server.
func (c *Connection) checkLongHeaderRole(typ protocol.PacketType) error {
	switch typ {
	case protocol.PacketTypeServerCleartext:
		if c.role != protocol.RoleClient {
			return qerr.Error(qerr.InvalidPacketHeader, "SERVER_CLEARTEXT received by a server")
		}
	case protocol.PacketTypeClientCleartext, protocol.PacketTypeClientInitial:
		if c.role != protocol.RoleServer {
			return qerr.Error(qerr.InvalidPacketHeader, "CLIENT_CLEARTEXT received by a client")
		}
	}
	return nil
}

// dispatchFrames walks every frame in body, applying each to the
// connection or its streams, and reports whether any ack-eliciting frame
// (anything but PADDING/ACK) was seen.
func (c *Connection) dispatchFrames(body []byte) (bool, error) {
	ackEliciting := false

	for len(body) > 0 {
		typeByte := body[0]
		switch PeekFrameType(typeByte) {
		case FramePadding:
			body = body[1:]

		case FrameRstStream:
			f, used, err := DecodeRstStreamFrame(body[1:])
			if err != nil {
				return false, err
			}
			body = body[1+used:]
			ackEliciting = true
			if s := c.streams[f.StreamID]; s != nil {
				s.handleRstStream(f.ErrorCode)
			}

		case FrameStopSending:
			f, used, err := DecodeStopSendingFrame(body[1:])
			if err != nil {
				return false, err
			}
			body = body[1+used:]
			ackEliciting = true
			if s := c.streams[f.StreamID]; s != nil {
				s.handleStopSending()
			}

		case FrameMaxData:
			f, used, err := DecodeMaxDataFrame(body[1:])
			if err != nil {
				return false, err
			}
			body = body[1+used:]
			ackEliciting = true
			c.connFlowControl.UpdateSendWindow(f.MaximumData)

		case FrameMaxStreamData:
			f, used, err := DecodeMaxStreamDataFrame(body[1:])
			if err != nil {
				return false, err
			}
			body = body[1+used:]
			ackEliciting = true
			if s := c.streams[f.StreamID]; s != nil && f.MaximumStreamData > s.peerMaxStreamData {
				s.peerMaxStreamData = f.MaximumStreamData
			}

		case FrameAck:
			f, used, err := DecodeAckFrame(typeByte, body[1:])
			if err != nil {
				return false, err
			}
			body = body[1+used:]
			var acked rangeset.Set
			for _, r := range f.Ranges {
				acked.Update(uint64(r.Smallest), uint64(r.Largest)+1)
			}
			c.ledger.HandleAck(&acked)

		case FrameStream:
			f, used, err := DecodeStreamFrame(typeByte, body[1:])
			if err != nil {
				return false, err
			}
			body = body[1+used:]
			ackEliciting = true
			if err := c.handleStreamFrame(f); err != nil {
				return false, err
			}

		default:
			return false, qerr.Error(qerr.InvalidFrameData, "unrecognized frame type")
		}
	}

	return ackEliciting, nil
}

// handleStreamFrame implements the implicit-open rule (getOrOpenStream),
// reassembly, flow-control accounting and the stream-0/TLS feed path.
func (c *Connection) handleStreamFrame(f StreamFrame) error {
	s, err := c.getOrOpenStream(f.StreamID)
	if err != nil {
		return err
	}

	if err := s.recv.Write(f.Offset, f.Data); err != nil {
		return err
	}
	if f.Fin {
		if err := s.recv.MarkEOS(f.Offset + uint64(len(f.Data))); err != nil {
			return err
		}
	}

	highest := f.Offset + uint64(len(f.Data))
	if increment := s.recvFC.UpdateHighestReceived(highest); increment > 0 {
		c.connFlowControl.IncrementHighestReceived(increment)
	}
	if s.recvFC.CheckFlowControlViolation() || c.connFlowControl.CheckFlowControlViolation() {
		return qerr.Error(qerr.FlowControlError, "peer exceeded advertised flow control window")
	}
	c.maybeDestroyStream(s)

	if f.StreamID == 0 {
		return c.feedHandshakeStream()
	}
	return nil
}
