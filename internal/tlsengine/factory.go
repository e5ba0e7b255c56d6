package tlsengine

import (
	"context"
	"crypto/tls"
)

// HandshakeProperties carries per-handshake TLS configuration that isn't
// part of the long-lived Factory, mirroring ptls_handshake_properties_t's
// role alongside quicly.c's per-context ptls_context_t.
type HandshakeProperties struct {
	// NextProtos overrides the Factory's configured ALPN protocol list
	// for this handshake only, when non-empty.
	NextProtos []string
}

func applyProperties(base *tls.Config, hp *HandshakeProperties) *tls.Config {
	cfg := base.Clone()
	if hp != nil && len(hp.NextProtos) > 0 {
		cfg.NextProtos = hp.NextProtos
	}
	return cfg
}

// Factory builds Engines sharing a common *tls.Config, the way a
// ptls_context_t is constructed once and handed to every connection.
type Factory struct {
	Config *tls.Config
}

// NewClientEngine returns an Engine driving the client side of a handshake
// against serverName.
func (f Factory) NewClientEngine(ctx context.Context, serverName string, hp *HandshakeProperties) (Engine, error) {
	cfg := applyProperties(f.Config, hp)
	cfg.ServerName = serverName
	return NewClientEngine(ctx, cfg)
}

// NewServerEngine returns an Engine driving the server side of a handshake.
func (f Factory) NewServerEngine(ctx context.Context, hp *HandshakeProperties) (Engine, error) {
	cfg := applyProperties(f.Config, hp)
	return NewServerEngine(ctx, cfg)
}
