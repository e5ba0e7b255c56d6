package quicly

import (
	"net"
	"time"

	"draftquic.dev/quicly/internal/tlsengine"
	"draftquic.dev/quicly/metrics"
)

// RawPacket is an outgoing packet ready to be written to the wire:
// destination address plus the fully framed, committed bytes.
type RawPacket struct {
	Peer net.Addr
	Data []byte
}

// DecodedPacket is an incoming packet, already split into header and
// payload by DecodePacket but not yet authenticated or decrypted -
// Connection.Receive does that once it knows which AEAD state applies.
type DecodedPacket struct {
	Header  Header
	Raw     []byte // the full packet, header included, as received
	Payload []byte // raw[len(header):], trailer/tag still included
	Peer    net.Addr
}

// Context carries everything shared across every Connection a process
// drives: the TLS engine factory, allocator hooks, the stream-open
// callback, clock and timer injection points, and the ambient tracer. It
// mirrors quicly_context_t, generalizing its function-pointer fields into
// Go closures and interfaces.
type Context struct {
	// TLS builds the per-connection handshake engine. Required.
	TLS tlsengine.Factory

	// MaxPacketSize caps how large a single committed packet may be
	// before coalescing further frames into it. Required, typically 1280
	// (the IPv6 minimum MTU) or the path MTU if known.
	MaxPacketSize int

	// InitialRTO is the fixed retransmission timeout driving loss
	// detection; this draft does none of RFC 9002's RTT-adaptive
	// congestion control, matching spec.md's Non-goals.
	InitialRTO time.Duration

	// TransportParams are the locally offered transport parameters sent
	// to the peer during the handshake.
	TransportParams TransportParameters

	// AllocPacket and FreePacket let the caller pool outgoing packet
	// buffers; both may be nil, in which case Connection.Send allocates
	// plainly and FreePacket is skipped.
	AllocPacket func(peer net.Addr, payloadSize int) *RawPacket
	FreePacket  func(*RawPacket)

	// OnStreamOpen is invoked once for every stream implicitly opened by
	// an incoming frame naming a previously-unseen peer-initiated stream
	// id (see Stream's lifecycle invariant). A non-nil error aborts
	// processing of the packet that triggered the open.
	OnStreamOpen func(*Stream) error

	// Now returns the current time; defaults to time.Now when nil. Tests
	// inject a controllable clock here.
	Now func() time.Time

	// SetTimeout is called with a zero duration whenever new output is
	// queued (handshake data on stream 0, or a stream operation such as
	// Write, Shutdown, Reset or Consume), asking the caller to call Send
	// again soon. It is not called to report retransmission deadlines: loss
	// detection runs only inside Send, which declares lost every packet
	// sent more than InitialRTO ago.
	SetTimeout func(*Connection, time.Duration)

	// Tracer receives packet and handshake metrics; nil-safe, default
	// to a fresh metrics.Tracer when unset so callers aren't required to
	// wire one up themselves.
	Tracer *metrics.Tracer
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Context) tracer() *metrics.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return metrics.NewTracer()
}

func (c *Context) allocPacket(peer net.Addr, payloadSize int) *RawPacket {
	if c.AllocPacket != nil {
		return c.AllocPacket(peer, payloadSize)
	}
	return &RawPacket{Peer: peer, Data: make([]byte, 0, payloadSize)}
}

func (c *Context) setTimeout(conn *Connection, d time.Duration) {
	if c.SetTimeout != nil {
		c.SetTimeout(conn, d)
	}
}
