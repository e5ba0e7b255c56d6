// Package flowcontrol implements the two flow-control building blocks the
// engine needs: MaxSender, a dedup state machine deciding when a window
// advertisement is worth retransmitting, and Controller, the per-stream /
// per-connection consumed-vs-permitted tracker that decides when a new
// advertisement is due in the first place.
package flowcontrol

// AckArgs is the opaque token the ack ledger hands back to identify a
// MAX_DATA/MAX_STREAM_DATA record it is tracking on MaxSender's behalf.
type AckArgs struct {
	PacketNumber uint64
	Value        uint64
}

// MaxSender tracks the currently-advertised flow-control limit and the
// highest value for which an advertisement is still in flight, mirroring
// quicly_maxsender_t. It answers one question - is a new advertisement
// worth sending - and records the outcome of whatever packet carries it.
type MaxSender struct {
	sent     uint64
	inFlight uint64
	hasSent  bool
}

// NewMaxSender returns a MaxSender with nothing yet advertised.
func NewMaxSender() *MaxSender {
	return &MaxSender{}
}

// ShouldUpdate reports whether advertising consumed+window would improve
// on the highest in-flight advertisement by at least slack. Avoids sending
// a new MAX_DATA/MAX_STREAM_DATA for every byte consumed.
func (m *MaxSender) ShouldUpdate(consumed, window, slack uint64) bool {
	newValue := consumed + window
	if !m.hasSent {
		return true
	}
	if newValue < m.inFlight {
		return false
	}
	return newValue-m.inFlight >= slack
}

// Record registers newValue as in flight, to be latched by Acked or
// rewound by Lost once the packet carrying it is reconciled.
func (m *MaxSender) Record(newValue uint64) {
	m.inFlight = newValue
	m.hasSent = true
}

// Acked latches value as the confirmed advertised value.
func (m *MaxSender) Acked(value uint64) {
	if value > m.sent {
		m.sent = value
	}
}

// Lost rewinds the in-flight high-water mark so ShouldUpdate schedules a
// retransmission of the lost advertisement.
func (m *MaxSender) Lost(value uint64) {
	if value == m.inFlight {
		m.inFlight = m.sent
	}
}
