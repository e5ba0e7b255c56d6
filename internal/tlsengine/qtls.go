package tlsengine

import (
	"context"
	"crypto"
	"crypto/tls"
	"fmt"

	"draftquic.dev/quicly/internal/protocol"
)

// QUICConn adapts the standard library's crypto/tls.QUICConn - the
// stdlib's own QUIC-TLS binding - to the Engine interface. It is the only
// Engine implementation this module ships; other implementations exist
// purely as test doubles.
type QUICConn struct {
	conn    *tls.QUICConn
	started bool
}

// NewClientEngine returns an Engine that drives the client side of a TLS
// 1.3 handshake toward config.ServerName.
func NewClientEngine(ctx context.Context, config *tls.Config) (*QUICConn, error) {
	qc := tls.QUICClient(&tls.QUICConfig{TLSConfig: config})
	e := &QUICConn{conn: qc}
	if err := e.start(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// NewServerEngine returns an Engine that drives the server side of a TLS
// 1.3 handshake.
func NewServerEngine(ctx context.Context, config *tls.Config) (*QUICConn, error) {
	qc := tls.QUICServer(&tls.QUICConfig{TLSConfig: config})
	e := &QUICConn{conn: qc}
	if err := e.start(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *QUICConn) start(ctx context.Context) error {
	if e.started {
		return nil
	}
	e.started = true
	return e.conn.Start(ctx)
}

func toStdLevel(level protocol.EncryptionLevel) tls.QUICEncryptionLevel {
	if level == protocol.Encryption1RTT {
		return tls.QUICEncryptionLevelApplication
	}
	return tls.QUICEncryptionLevelInitial
}

func fromStdLevel(level tls.QUICEncryptionLevel) protocol.EncryptionLevel {
	if level == tls.QUICEncryptionLevelApplication {
		return protocol.Encryption1RTT
	}
	return protocol.EncryptionCleartext
}

// HandleData implements Engine.
func (e *QUICConn) HandleData(level protocol.EncryptionLevel, data []byte) error {
	return e.conn.HandleData(toStdLevel(level), data)
}

// NextEvent implements Engine, translating tls.QUICEvent values into this
// package's smaller Event vocabulary. Events this engine has no use for
// (session tickets, transport parameter requests, early data) are drained
// and skipped rather than surfaced.
func (e *QUICConn) NextEvent() (Event, error) {
	for {
		ev := e.conn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return Event{Kind: EventNone}, nil
		case tls.QUICWriteData:
			return Event{Kind: EventWriteData, Level: fromStdLevel(ev.Level), Data: ev.Data}, nil
		case tls.QUICHandshakeDone:
			return Event{Kind: EventHandshakeComplete}, nil
		case tls.QUICTransportParameters:
			return Event{Kind: EventPeerTransportParameters, Data: ev.Data}, nil
		default:
			// QUICSetReadSecret / QUICSetWriteSecret /
			// QUICTransportParametersRequired / QUICRejectedEarlyData /
			// QUICStoreSession: this draft derives its own 1-RTT secret via
			// ExportSecret instead of consuming the stdlib's per-level
			// secrets, so these events carry nothing this engine needs.
			continue
		}
	}
}

// ExportSecret implements Engine using tls.ConnectionState.ExportKeyingMaterial.
func (e *QUICConn) ExportSecret(label string, length int) ([]byte, error) {
	state := e.conn.ConnectionState()
	if !state.HandshakeComplete {
		return nil, fmt.Errorf("quicly: ExportSecret called before handshake completion")
	}
	return state.ExportKeyingMaterial(label, nil, length)
}

// CipherSuiteHash reports the hash algorithm backing the connection's
// negotiated cipher suite, needed to size the exported secret correctly.
func (e *QUICConn) CipherSuiteHash() crypto.Hash {
	suite := e.conn.ConnectionState().CipherSuite
	switch suite {
	case tls.TLS_CHACHA20_POLY1305_SHA256, tls.TLS_AES_128_GCM_SHA256:
		return crypto.SHA256
	case tls.TLS_AES_256_GCM_SHA384:
		return crypto.SHA384
	default:
		return crypto.SHA256
	}
}

// SetTransportParameters forwards locally chosen transport parameters into
// the underlying QUICConn so they ride out as the standard QUIC transport
// parameters TLS extension alongside the handshake this engine drives.
func (e *QUICConn) SetTransportParameters(params []byte) {
	e.conn.SetTransportParameters(params)
}

// Close releases the underlying connection.
func (e *QUICConn) Close() error {
	return e.conn.Close()
}
