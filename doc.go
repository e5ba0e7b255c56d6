// Package quicly implements the core transport engine of draft-ietf-quic-transport
// revision 0xff000005: packet and frame framing, stream multiplexing, flow
// control, loss recovery by fixed RTO, and the TLS 1.3 handshake carried
// over stream 0. Congestion control beyond the fixed RTO, 0-RTT, connection
// migration, version negotiation beyond rejecting mismatches, stateless
// retry and PMTU discovery are out of scope.
//
// A Connection is driven entirely by its owner: Receive is called once per
// incoming packet, Send fills a caller-provided packet vector, and nothing
// blocks or spawns goroutines internally. The caller owns the I/O loop, the
// clock, and retransmission timer scheduling: Send runs the RTO scan each
// time it is called, and Context.SetTimeout only signals that new output is
// waiting to be sent.
package quicly
