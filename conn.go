package quicly

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"draftquic.dev/quicly/internal/ackhandler"
	"draftquic.dev/quicly/internal/flowcontrol"
	"draftquic.dev/quicly/internal/protocol"
	"draftquic.dev/quicly/internal/qerr"
	"draftquic.dev/quicly/internal/rangeset"
	"draftquic.dev/quicly/internal/tlsengine"
	"draftquic.dev/quicly/metrics"
)

// Connection is one QUIC connection: the role, handshake state, stream
// table and ack/flow-control bookkeeping described in spec.md §3's
// Connection type, realized behind a single mutex per the single-threaded
// cooperative concurrency model (spec.md §5).
type Connection struct {
	mu sync.Mutex

	ctx  *Context
	role protocol.Role

	connID protocol.ConnectionID
	state  protocol.ConnectionState
	peer   net.Addr

	hostNextStreamID protocol.StreamID
	peerNextStreamID protocol.StreamID
	peerMaxStreamID  protocol.StreamID

	peerTransportParams TransportParameters

	streams map[protocol.StreamID]*Stream

	tls              tlsengine.Engine
	handshakeStarted time.Time

	ingressAEAD *aeadContext
	egressAEAD  *aeadContext

	egressPacketNumber protocol.PacketNumber
	ingressAcks        rangeset.Set
	ledger             *ackhandler.Ledger

	connFlowControl    *flowcontrol.Controller
	localMaxDataSender *flowcontrol.MaxSender

	ackEncryptedOnly  bool
	clientInitialSent bool
}

const defaultStreamWindowIncrement = 64 * 1024

func newConnection(ctx *Context, role protocol.Role, connID protocol.ConnectionID, peer net.Addr) *Connection {
	c := &Connection{
		ctx:                 ctx,
		role:                role,
		connID:              connID,
		state:               protocol.StateBeforeServerHello,
		peer:                peer,
		streams:             make(map[protocol.StreamID]*Stream),
		ledger:              ackhandler.NewLedger(),
		connFlowControl:     flowcontrol.NewController(uint64(DefaultTransportParameters.InitialMaxDataKB) * 1024),
		localMaxDataSender:  flowcontrol.NewMaxSender(),
		peerTransportParams: DefaultTransportParameters,
	}
	if role == protocol.RoleClient {
		c.hostNextStreamID = 1
		c.peerNextStreamID = 2
	} else {
		c.hostNextStreamID = 2
		c.peerNextStreamID = 1
	}
	c.streams[0] = newStream(c, 0, uint64(DefaultTransportParameters.InitialMaxStreamData), defaultStreamWindowIncrement)
	return c
}

func randomConnectionID() (protocol.ConnectionID, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return protocol.ConnectionID(binary.BigEndian.Uint64(b[:])), nil
}

// Connect begins a client handshake toward peer, returning a Connection
// whose first Send call will produce the CLIENT_INITIAL packet.
func Connect(ctx *Context, serverName string, peer net.Addr, hp *tlsengine.HandshakeProperties) (*Connection, error) {
	connID, err := randomConnectionID()
	if err != nil {
		return nil, err
	}
	c := newConnection(ctx, protocol.RoleClient, connID, peer)

	engine, err := ctx.TLS.NewClientEngine(context.Background(), serverName, hp)
	if err != nil {
		return nil, err
	}
	c.tls = engine
	c.handshakeStarted = ctx.now()
	applyLocalTransportParameters(c)

	if err := c.drainHandshakeEvents(); err != nil {
		return nil, err
	}
	c.scheduleSend()
	return c, nil
}

// Accept begins a server handshake in response to a peer's first packet
// (expected to be CLIENT_INITIAL), returning a Connection and having
// already processed that first packet.
func Accept(ctx *Context, peer net.Addr, hp *tlsengine.HandshakeProperties, first *DecodedPacket) (*Connection, error) {
	c := newConnection(ctx, protocol.RoleServer, first.Header.ConnectionID, peer)

	engine, err := ctx.TLS.NewServerEngine(context.Background(), hp)
	if err != nil {
		return nil, err
	}
	c.tls = engine
	c.handshakeStarted = ctx.now()
	applyLocalTransportParameters(c)

	if err := c.Receive(first); err != nil {
		return nil, err
	}
	return c, nil
}

func applyLocalTransportParameters(c *Connection) {
	setter, ok := c.tls.(tlsParameterSetter)
	if !ok {
		return
	}
	var raw []byte
	if c.role == protocol.RoleClient {
		raw = EncodeClientTransportParameters(nil, protocol.Version, c.ctx.TransportParams)
	} else {
		raw = EncodeServerTransportParameters(nil, SupportedVersions, c.ctx.TransportParams)
	}
	setter.SetTransportParameters(raw)
}

type tlsParameterSetter interface {
	SetTransportParameters(params []byte)
}

func (c *Connection) tracer() *metrics.Tracer {
	return c.ctx.tracer()
}

// scheduleSend requests the caller call Send again as soon as possible.
func (c *Connection) scheduleSend() {
	c.ctx.setTimeout(c, 0)
}

// maybeDestroyStream drops s from the stream table once it is destroyable
// (see Stream.destroyable), implementing the destruction half of the
// lifecycle invariant in spec.md §3.
func (c *Connection) maybeDestroyStream(s *Stream) {
	if s.destroyable() && s.id != 0 {
		delete(c.streams, s.id)
	}
}

// OpenStream creates a new host-initiated stream using the next id of this
// connection's parity. Mirrors quicly_open_stream's exhaustion check: 0 is
// never a valid host stream id, so it is used as the sentinel marking that
// next_stream_id has wrapped past the id space.
func (c *Connection) OpenStream() (*Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hostNextStreamID == 0 {
		return nil, qerr.Error(qerr.TooManyOpenStreams, "host stream id space exhausted")
	}

	id := c.hostNextStreamID
	if next := c.hostNextStreamID + 2; next >= 2 {
		c.hostNextStreamID = next
	} else {
		c.hostNextStreamID = 0
	}
	s := newStream(c, id, uint64(c.peerTransportParams.InitialMaxStreamData), defaultStreamWindowIncrement)
	c.streams[id] = s
	return s, nil
}

// GetStream returns the stream with the given id, or nil if it doesn't
// exist (never opened, or already destroyed).
func (c *Connection) GetStream(id protocol.StreamID) *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[id]
}

// Free releases the connection. The caller must not use it afterward.
func (c *Connection) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = nil
}

// isPeerInitiated reports whether id belongs to the peer's parity.
func (c *Connection) isPeerInitiated(id protocol.StreamID) bool {
	peerIsClient := c.role == protocol.RoleServer
	return id.IsClientInitiated() == peerIsClient
}

// getOrOpenStream implements spec.md §4.10's implicit-open rule: a STREAM
// frame naming a previously-unseen peer-parity id opens every stream from
// peerNextStreamID up to and including id, invoking ctx.OnStreamOpen for
// each newly created stream.
func (c *Connection) getOrOpenStream(id protocol.StreamID) (*Stream, error) {
	if s, ok := c.streams[id]; ok {
		return s, nil
	}
	if !c.isPeerInitiated(id) {
		return nil, qerr.Error(qerr.InvalidStreamData, "frame names an unopened host-initiated stream")
	}
	if id < c.peerNextStreamID {
		// Already opened and since destroyed; treat as a fresh open
		// rather than erroring, since destruction is a local-only
		// bookkeeping event the peer has no visibility into.
		s := newStream(c, id, uint64(c.peerTransportParams.InitialMaxStreamData), defaultStreamWindowIncrement)
		c.streams[id] = s
		return s, nil
	}

	var opened *Stream
	for next := c.peerNextStreamID; next <= id; next += 2 {
		s := newStream(c, next, uint64(c.peerTransportParams.InitialMaxStreamData), defaultStreamWindowIncrement)
		c.streams[next] = s
		if c.ctx.OnStreamOpen != nil {
			if err := c.ctx.OnStreamOpen(s); err != nil {
				return nil, err
			}
		}
		opened = s
	}
	if id+2 < c.peerNextStreamID {
		// overflow past the positive range: stop opening further peer
		// streams, mirroring spec.md's "disabled" behavior.
	} else {
		c.peerNextStreamID = id + 2
	}
	return opened, nil
}
