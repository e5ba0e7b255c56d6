package quicly

import (
	"bytes"
	"net"
	"time"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"draftquic.dev/quicly/internal/protocol"
)

// This file exercises the connection engine (Send/Receive/dispatchFrames)
// end-to-end across two Connections, the way quic-go's session_test.go
// drives a pair of sessions through hand-built packets rather than a real
// socket. The TLS handshake itself is bypassed: Context.TLS is the
// concrete tlsengine.Factory struct, not an interface, so nothing short of
// a real crypto/tls.QUICConn can be substituted through Connect/Accept.
// Instead each test builds its Connections directly with newConnection and
// installs symmetric 1-RTT AEAD state by hand, landing both ends in
// State1RTTEncrypted before a single frame is ever exchanged - every other
// layer (packet/frame codec, flow control, the ack ledger, retransmission,
// stream lifecycle) runs for real.

type connTestAddr string

func (a connTestAddr) Network() string { return "test" }
func (a connTestAddr) String() string  { return string(a) }

var (
	connTestClientAddr net.Addr = connTestAddr("client")
	connTestServerAddr net.Addr = connTestAddr("server")
	connTestID                  = protocol.ConnectionID(0x1122334455667788)
)

// generousTransportParams grants both flow-control windows room enough
// that only the tests which mean to exercise a stall ever hit one.
var generousTransportParams = TransportParameters{
	InitialMaxStreamData: 1 << 20,
	InitialMaxDataKB:     1 << 16,
	InitialMaxStreamID:   100,
}

// connTestClock is a manually advanced clock, injected via Context.Now, so
// RTO-driven retransmission can be tested without a real timer.
type connTestClock struct{ now time.Time }

func newConnTestClock() *connTestClock {
	return &connTestClock{now: time.Unix(1000, 0)}
}

func (c *connTestClock) Now() time.Time          { return c.now }
func (c *connTestClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newConnTestContext(clock *connTestClock, onOpen func(*Stream) error) *Context {
	return &Context{
		MaxPacketSize:   1400,
		InitialRTO:      50 * time.Millisecond,
		TransportParams: generousTransportParams,
		OnStreamOpen:    onOpen,
		Now:             clock.Now,
	}
}

// installConnTestAEAD wires client and server with cross-symmetric 1-RTT
// keys - each side's egress key is the other's ingress key - and marks
// both State1RTTEncrypted, standing in for a completed handshake.
func installConnTestAEAD(client, server *Connection) {
	toServer, err := newAEADContext([]byte("0123456789abcdef"), []byte("clientiv1234"))
	Expect(err).NotTo(HaveOccurred())
	toClient, err := newAEADContext([]byte("fedcba9876543210"), []byte("serveriv5678"))
	Expect(err).NotTo(HaveOccurred())

	client.egressAEAD = toServer
	server.ingressAEAD = toServer
	server.egressAEAD = toClient
	client.ingressAEAD = toClient

	client.state = protocol.State1RTTEncrypted
	server.state = protocol.State1RTTEncrypted
}

// newConnTestPair builds a connected client/server pair bypassing
// Connect/Accept entirely: no handshake runs, but both ends carry real
// peer transport parameters and real 1-RTT AEAD state.
func newConnTestPair(clientCtx, serverCtx *Context, clientParams, serverParams TransportParameters) (client, server *Connection) {
	client = newConnection(clientCtx, protocol.RoleClient, connTestID, connTestServerAddr)
	server = newConnection(serverCtx, protocol.RoleServer, connTestID, connTestClientAddr)
	installConnTestAEAD(client, server)
	client.commitTransportParameters(serverParams)
	server.commitTransportParameters(clientParams)
	return client, server
}

// newConnTestSolo builds a single State1RTTEncrypted connection with no
// live peer, for tests that drive it with hand-built frames
// (connTestDeliverFrame) instead of a second Connection.
func newConnTestSolo(ctx *Context, role protocol.Role, peerParams TransportParameters) *Connection {
	var peer net.Addr = connTestServerAddr
	if role == protocol.RoleServer {
		peer = connTestClientAddr
	}
	c := newConnection(ctx, role, connTestID, peer)
	aead, err := newAEADContext([]byte("0123456789abcdef"), []byte("soloiv123456"))
	Expect(err).NotTo(HaveOccurred())
	c.ingressAEAD = aead
	c.egressAEAD = aead
	c.state = protocol.State1RTTEncrypted
	c.commitTransportParameters(peerParams)
	return c
}

// connTestDrainSend calls Send until it stops producing packets, returning
// everything written. A single Send call already loops internally until
// there is nothing left to fit, so one call is normally enough; this
// exists so a test never has to reason about out-slice capacity.
func connTestDrainSend(c *Connection) []*RawPacket {
	var all []*RawPacket
	for {
		out := make([]*RawPacket, 8)
		n, err := c.Send(out)
		Expect(err).NotTo(HaveOccurred())
		if n == 0 {
			return all
		}
		all = append(all, out[:n]...)
		if n < len(out) {
			return all
		}
	}
}

// connTestDeliver decodes each packet in pkts and feeds it to to.Receive,
// as if it had just arrived over the wire from fromPeer.
func connTestDeliver(to *Connection, pkts []*RawPacket, fromPeer net.Addr) {
	for _, pkt := range pkts {
		h, payload, err := DecodePacket(pkt.Data)
		Expect(err).NotTo(HaveOccurred())
		err = to.Receive(&DecodedPacket{Header: h, Raw: pkt.Data, Payload: payload, Peer: fromPeer})
		Expect(err).NotTo(HaveOccurred())
	}
}

// connTestDeliverFrame hand-builds a single short-header 1-RTT packet
// carrying exactly frame and feeds it to to.Receive, letting a test pick
// packet numbers and frame contents precisely - used to simulate a drop, a
// reorder, or a duplicate ACK without needing a live peer connection.
func connTestDeliverFrame(to *Connection, pn protocol.PacketNumber, frame []byte, fromPeer net.Addr) {
	header := EmitShortHeader(nil, false, to.connID, true, pn, 4)
	raw := append([]byte(nil), header...)
	raw = to.ingressAEAD.Seal(raw, header, pn, frame)
	h, payload, err := DecodePacket(raw)
	Expect(err).NotTo(HaveOccurred())
	Expect(to.Receive(&DecodedPacket{Header: h, Raw: raw, Payload: payload, Peer: fromPeer})).To(Succeed())
}

var _ = ginkgo.Describe("Connection engine", func() {
	ginkgo.It("echoes data and destroys both streams once everything settles (echo smoke)", func() {
		clock := newConnTestClock()
		var serverStream *Stream
		clientCtx := newConnTestContext(clock, nil)
		serverCtx := newConnTestContext(clock, func(s *Stream) error {
			serverStream = s
			return nil
		})
		client, server := newConnTestPair(clientCtx, serverCtx, generousTransportParams, generousTransportParams)

		cs, err := client.OpenStream()
		Expect(err).NotTo(HaveOccurred())
		cs.Write([]byte("hello"))
		cs.Shutdown()

		echoed := false
		for round := 0; round < 12; round++ {
			connTestDeliver(server, connTestDrainSend(client), connTestClientAddr)

			if serverStream != nil && !echoed {
				if data := serverStream.Read(); len(data) > 0 {
					got := append([]byte(nil), data...)
					serverStream.Consume(len(got))
					serverStream.Write(got)
					serverStream.Shutdown()
					echoed = true
				}
			}

			connTestDeliver(client, connTestDrainSend(server), connTestServerAddr)

			if echoed {
				if data := cs.Read(); len(data) > 0 {
					Expect(string(data)).To(Equal("hello"))
					cs.Consume(len(data))
				}
				cs.Close()
				serverStream.Close()
			}

			if client.GetStream(cs.ID()) == nil && server.GetStream(serverStream.ID()) == nil {
				break
			}
		}

		Expect(client.GetStream(cs.ID())).To(BeNil())
		Expect(server.GetStream(serverStream.ID())).To(BeNil())
	})

	ginkgo.It("buffers out-of-order STREAM data and exposes it only once the gap fills (reordered packets)", func() {
		clock := newConnTestClock()
		var serverStream *Stream
		clientCtx := newConnTestContext(clock, nil)
		serverCtx := newConnTestContext(clock, func(s *Stream) error {
			serverStream = s
			return nil
		})
		client, server := newConnTestPair(clientCtx, serverCtx, generousTransportParams, generousTransportParams)

		cs, err := client.OpenStream()
		Expect(err).NotTo(HaveOccurred())

		cs.Write([]byte("first-"))
		first := connTestDrainSend(client)
		Expect(first).To(HaveLen(1))

		cs.Write([]byte("second"))
		second := connTestDrainSend(client)
		Expect(second).To(HaveLen(1))

		connTestDeliver(server, second, connTestClientAddr)
		Expect(serverStream).NotTo(BeNil())
		Expect(serverStream.Read()).To(BeEmpty())

		connTestDeliver(server, first, connTestClientAddr)
		Expect(string(serverStream.Read())).To(Equal("first-second"))
	})

	ginkgo.It("retransmits only the range an RTO declares lost, preserving byte order (retransmit)", func() {
		clock := newConnTestClock()
		var serverStream *Stream
		clientCtx := &Context{
			MaxPacketSize:   144,
			InitialRTO:      50 * time.Millisecond,
			TransportParams: generousTransportParams,
			Now:             clock.Now,
		}
		serverCtx := newConnTestContext(clock, func(s *Stream) error {
			serverStream = s
			return nil
		})
		client, server := newConnTestPair(clientCtx, serverCtx, generousTransportParams, generousTransportParams)

		cs, err := client.OpenStream()
		Expect(err).NotTo(HaveOccurred())

		payload := make([]byte, 300)
		for i := range payload {
			payload[i] = byte('a' + i%26)
		}
		cs.Write(payload)

		pkts := connTestDrainSend(client)
		Expect(pkts).To(HaveLen(3))

		// Packet 2 (index 1) is dropped in flight; 0 and 2 arrive and get
		// acked normally.
		connTestDeliver(server, []*RawPacket{pkts[0], pkts[2]}, connTestClientAddr)

		ack := EncodeAckFrame(nil, []AckRange{{Smallest: 0, Largest: 0}, {Smallest: 2, Largest: 2}}, 0)
		connTestDeliverFrame(client, 0, ack, connTestServerAddr)

		clock.Advance(time.Second)
		retrans := connTestDrainSend(client)
		Expect(retrans).To(HaveLen(1))

		connTestDeliver(server, retrans, connTestClientAddr)

		Expect(serverStream).NotTo(BeNil())
		Expect(serverStream.Read()).To(Equal(payload))
	})

	ginkgo.It("drops the send side's remaining pending bytes so RST_STREAM ships instead of a trailing FIN (RST wins over FIN)", func() {
		clock := newConnTestClock()
		var serverStream *Stream
		clientCtx := newConnTestContext(clock, nil)
		serverCtx := newConnTestContext(clock, func(s *Stream) error {
			serverStream = s
			return nil
		})
		client, server := newConnTestPair(clientCtx, serverCtx, generousTransportParams, generousTransportParams)

		cs, err := client.OpenStream()
		Expect(err).NotTo(HaveOccurred())

		cs.Write([]byte("abc"))
		connTestDeliver(server, connTestDrainSend(client), connTestClientAddr)
		Expect(serverStream).NotTo(BeNil())
		Expect(string(serverStream.Read())).To(Equal("abc"))

		cs.Write([]byte("def"))
		cs.Shutdown()
		cs.Reset(99)

		pkts := connTestDrainSend(client)
		Expect(pkts).To(HaveLen(1))
		connTestDeliver(server, pkts, connTestClientAddr)

		Expect(serverStream.recvComplete()).To(BeTrue())
		Expect(string(serverStream.Read())).To(Equal("abc"))
		Expect(serverStream.peerRSTCode).NotTo(BeNil())
		Expect(*serverStream.peerRSTCode).To(BeEquivalentTo(99))
	})

	ginkgo.It("stalls at the peer's advertised connection window until MAX_DATA lifts it (flow-control stall)", func() {
		clock := newConnTestClock()
		clientCtx := newConnTestContext(clock, nil)
		tinyWindow := TransportParameters{InitialMaxStreamData: 1 << 20, InitialMaxDataKB: 1, InitialMaxStreamID: 100}
		client := newConnTestSolo(clientCtx, protocol.RoleClient, tinyWindow)

		cs, err := client.OpenStream()
		Expect(err).NotTo(HaveOccurred())
		cs.Write(bytes.Repeat([]byte{'x'}, 2048))

		pkts := connTestDrainSend(client)
		Expect(pkts).To(HaveLen(1))
		Expect(client.connFlowControl.SendWindowSize()).To(BeZero())

		_, pendingLen, _, pending := cs.send.NextPending(1 << 20)
		Expect(pending).To(BeTrue())
		Expect(pendingLen).To(Equal(1024))

		Expect(connTestDrainSend(client)).To(BeEmpty())

		maxData := EncodeMaxDataFrame(nil, MaxDataFrame{MaximumData: 4096})
		connTestDeliverFrame(client, 0, maxData, connTestServerAddr)
		Expect(client.connFlowControl.SendWindowSize()).To(BeEquivalentTo(uint64(4096 - 1024)))

		more := connTestDrainSend(client)
		Expect(more).To(HaveLen(1))
	})

	ginkgo.It("is idempotent when the same packet number is acked twice (duplicate ACK)", func() {
		clock := newConnTestClock()
		clientCtx := newConnTestContext(clock, nil)
		client := newConnTestSolo(clientCtx, protocol.RoleClient, generousTransportParams)

		cs, err := client.OpenStream()
		Expect(err).NotTo(HaveOccurred())
		cs.Write([]byte("hello"))
		cs.Shutdown()

		pkts := connTestDrainSend(client)
		Expect(pkts).To(HaveLen(1))

		ack := EncodeAckFrame(nil, []AckRange{{Smallest: 0, Largest: 0}}, 0)
		connTestDeliverFrame(client, 0, ack, connTestServerAddr)
		Expect(cs.send.TransferComplete()).To(BeTrue())
		Expect(client.ledger.Len()).To(Equal(0))

		// The same ACK arriving a second time must not panic or re-fire a
		// callback that would double-count the stream's bookkeeping.
		connTestDeliverFrame(client, 1, ack, connTestServerAddr)
		Expect(cs.send.TransferComplete()).To(BeTrue())
		Expect(client.ledger.Len()).To(Equal(0))
	})
})
