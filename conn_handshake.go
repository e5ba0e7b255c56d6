package quicly

import (
	"crypto"

	"draftquic.dev/quicly/internal/protocol"
	"draftquic.dev/quicly/internal/tlsengine"
)

// Stream 0 carries TLS handshake bytes cleartext, the way crypto_stream.go
// feeds a dedicated stream object into the TLS engine rather than treating
// it like an application stream. feedHandshakeStream is invoked whenever
// stream 0's receive buffer gains new contiguous bytes.
func (c *Connection) feedHandshakeStream() error {
	stream := c.streams[0]
	for {
		data := stream.recv.ContiguousData()
		if len(data) == 0 {
			return nil
		}
		consumed := len(data)
		if err := c.tls.HandleData(protocol.EncryptionCleartext, data); err != nil {
			return err
		}
		stream.recv.Shift(uint64(consumed))

		if err := c.drainHandshakeEvents(); err != nil {
			return err
		}
	}
}

// drainHandshakeEvents pumps tlsengine.Engine.NextEvent until it reports
// EventNone, writing handshake bytes back into stream 0's send buffer and
// installing 1-RTT keys on EventHandshakeComplete.
func (c *Connection) drainHandshakeEvents() error {
	for {
		ev, err := c.tls.NextEvent()
		if err != nil {
			return err
		}
		switch ev.Kind {
		case tlsengine.EventNone:
			return nil
		case tlsengine.EventWriteData:
			c.streams[0].send.Write(ev.Data)
			c.scheduleSend()
		case tlsengine.EventHandshakeComplete:
			if err := c.installOneRTTKeys(); err != nil {
				return err
			}
		case tlsengine.EventPeerTransportParameters:
			// The client validates the server's supported-versions list
			// (client_collected_extensions); the server validates the
			// client's negotiated/initial version pair
			// (server_collected_extensions). See spec.md §4.9.
			var params TransportParameters
			var err error
			if c.role == protocol.RoleClient {
				params, err = DecodeServerTransportParameters(ev.Data, protocol.Version)
			} else {
				params, err = DecodeClientTransportParameters(ev.Data, protocol.Version)
			}
			if err != nil {
				return err
			}
			c.commitTransportParameters(params)
		}
	}
}

// exporterLabelClient and exporterLabelServer are this draft's 1-RTT key
// export labels, used in place of
// RFC 9000's HKDF-based key schedule - see spec.md §4.9.
const (
	exporterLabelClient = "EXPORTER-QUIC client 1-RTT Secret"
	exporterLabelServer = "EXPORTER-QUIC server 1-RTT Secret"
)

// installOneRTTKeys implements setup_1rtt/setup_1rtt_secret: export both
// directions' secrets, derive AEAD key+IV for each via HKDF-Expand-Label,
// and flip the connection into State1RTTEncrypted.
//
// quicly.c's setup_1rtt swallows any error from setup_1rtt_secret (`goto
// Exit; ret = 0`), silently leaving the connection without 1-RTT keys
// installed. Per the repo's standing instruction not to carry forward a
// defect like that silently, this Go rendition propagates the error
// instead, failing the handshake outright rather than continuing in a
// half-initialized state.
func (c *Connection) installOneRTTKeys() error {
	clientSecret, err := c.tls.ExportSecret(exporterLabelClient, exporterSecretLength(c.tls))
	if err != nil {
		return err
	}
	serverSecret, err := c.tls.ExportSecret(exporterLabelServer, exporterSecretLength(c.tls))
	if err != nil {
		return err
	}

	var ingressSecret, egressSecret []byte
	if c.role == protocol.RoleClient {
		ingressSecret, egressSecret = serverSecret, clientSecret
	} else {
		ingressSecret, egressSecret = clientSecret, serverSecret
	}

	hash := cipherSuiteHash(c.tls)
	ingressKey, ingressIV := tlsengine.DeriveAEADKeyAndIV(hash, ingressSecret, aeadKeyLength, aeadIVLength)
	egressKey, egressIV := tlsengine.DeriveAEADKeyAndIV(hash, egressSecret, aeadKeyLength, aeadIVLength)

	ingress, err := newAEADContext(ingressKey, ingressIV)
	if err != nil {
		return err
	}
	egress, err := newAEADContext(egressKey, egressIV)
	if err != nil {
		return err
	}

	c.ingressAEAD = ingress
	c.egressAEAD = egress
	c.state = protocol.State1RTTEncrypted
	c.tracer().HandshakeCompleted(c.ctx.now().Sub(c.handshakeStarted))
	return nil
}

const (
	aeadKeyLength = 16 // AES-128-GCM key size
	aeadIVLength  = 12 // AES-GCM standard nonce size
)

// exporterSecretLength sizes the exported secret to the negotiated cipher
// suite's hash output, falling back to SHA-256 for engines (such as the
// test-only MockEngine) that don't report one.
func exporterSecretLength(e tlsengine.Engine) int {
	return cipherSuiteHash(e).Size()
}

func cipherSuiteHash(e tlsengine.Engine) crypto.Hash {
	if h, ok := e.(tlsengine.CipherSuiteHasher); ok {
		return h.CipherSuiteHash()
	}
	return crypto.SHA256
}

// commitTransportParameters applies newly learned peer transport
// parameters: initial flow-control windows and the peer's maximum stream
// id, per spec.md §4.9 step 1.
func (c *Connection) commitTransportParameters(params TransportParameters) {
	c.peerTransportParams = params
	c.peerMaxStreamID = protocol.StreamID(params.InitialMaxStreamID)
	c.connFlowControl.UpdateSendWindow(uint64(params.InitialMaxDataKB) * 1024)
}
