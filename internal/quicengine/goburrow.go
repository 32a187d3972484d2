package quicengine

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/goburrow/quic/transport"
)

// goburrowEngine implements Engine on top of github.com/goburrow/quic.
// It is the concrete answer to "downward interface to the QUIC
// library": NewConfig wraps transport.NewConfig, ParseHeader wraps
// transport.Header.Decode, Builder wraps
// transport.NegotiateVersion/transport.Retry, and Accept wraps
// transport.Accept — the same calls a recv/negotiate/retry/handleNewConn
// loop would make directly.
type goburrowEngine struct{}

// NewGoburrowEngine returns the Engine backed by github.com/goburrow/quic.
func NewGoburrowEngine() Engine {
	return goburrowEngine{}
}

func (goburrowEngine) NewConfig(params Params, tlsMaterial TLSMaterial) (Config, error) {
	cfg := transport.NewConfig()
	if tlsMaterial.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsMaterial.CertFile, tlsMaterial.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("quicengine: load TLS certificate: %w", err)
		}
		if cfg.TLS == nil {
			cfg.TLS = &tls.Config{}
		}
		cfg.TLS.Certificates = []tls.Certificate{cert}
	}
	if len(tlsMaterial.ALPN) > 0 {
		if cfg.TLS == nil {
			cfg.TLS = &tls.Config{}
		}
		cfg.TLS.NextProtos = tlsMaterial.ALPN
	}
	cfg.Params.MaxIdleTimeout = params.MaxIdleTimeout
	cfg.Params.InitialMaxData = params.InitialMaxData
	cfg.Params.InitialMaxStreamDataBidiLocal = params.InitialMaxStreamDataBidiLocal
	cfg.Params.InitialMaxStreamDataBidiRemote = params.InitialMaxStreamDataBidiRemote
	cfg.Params.InitialMaxStreamDataUni = params.InitialMaxStreamDataUni
	cfg.Params.InitialMaxStreamsBidi = params.InitialMaxStreamsBidi
	cfg.Params.InitialMaxStreamsUni = params.InitialMaxStreamsUni
	cfg.Params.DisableActiveMigration = params.DisableActiveMigration
	return &goburrowConfig{cfg: cfg}, nil
}

type goburrowConfig struct {
	cfg *transport.Config
}

// Destroy is a no-op for goburrow/quic: transport.Config carries no
// handles beyond Go-GC'd memory. It exists to satisfy Config, and to give
// the dispatcher a single unconditional release path regardless of which
// Engine backs it (some engines do own native resources here).
func (c *goburrowConfig) Destroy() {}

type goburrowBuilder struct{}

func (goburrowEngine) NewBuilder() Builder {
	return &goburrowBuilder{}
}

func (*goburrowBuilder) BuildNegotiateVersion(buf []byte, scid, dcid []byte) (int, error) {
	return transport.NegotiateVersion(buf, scid, dcid)
}

func (*goburrowBuilder) BuildRetry(buf []byte, scid, dcid, newCID, tok []byte, version uint32) (int, error) {
	return transport.Retry(buf, scid, newCID, dcid, tok)
}

func (*goburrowBuilder) Destroy() {}

func (goburrowEngine) ParseHeader(datagram []byte, maxCIDLen int) (Header, error) {
	var h transport.Header
	if _, err := h.Decode(datagram, maxCIDLen); err != nil {
		return Header{}, fmt.Errorf("quicengine: decode header: %w", err)
	}
	kind := KindShort
	if h.Type != 0 {
		switch h.Type {
		case transport.PacketTypeHandshake:
			kind = KindHandshake
		case transport.PacketType0RTT:
			kind = KindZeroRTT
		case transport.PacketTypeRetry:
			kind = KindRetry
		default:
			kind = KindHandshake
		}
	} else {
		kind = KindInitial
	}
	if h.Version == 0 {
		kind = KindVersionNegotiation
	}
	return Header{
		Type: kind,
		Version: h.Version,
		SCID: h.SCID,
		DCID: h.DCID,
		Token: h.Token,
		VersionSupported: h.Version == transport.ProtocolVersion,
	}, nil
}

func (goburrowEngine) IsVersionSupported(version uint32) bool {
	return version == transport.ProtocolVersion
}

func (goburrowEngine) Accept(config Config, scid, odcid []byte, peer net.Addr) (Conn, error) {
	gc, ok := config.(*goburrowConfig)
	if !ok {
		return nil, fmt.Errorf("quicengine: config from a different engine")
	}
	conn, err := transport.Accept(scid, odcid, gc.cfg)
	if err != nil {
		return nil, fmt.Errorf("quicengine: accept: %w", err)
	}
	return &goburrowConn{conn: conn, peer: peer}, nil
}

type goburrowConn struct {
	conn *transport.Conn
	peer net.Addr
	closed bool
}

// ProcessPacket feeds a received datagram's payload into the connection.
// goburrow/quic models this as Conn.Write consuming received ciphertext;
// outgoing datagrams are produced separately via Conn.Read by the owning
// connection actor (out of this module's scope).
func (c *goburrowConn) ProcessPacket(_ net.Addr, payload []byte) error {
	_, err := c.conn.Write(payload)
	return err
}

func (c *goburrowConn) Close(appErr bool, code uint64, reason string) error {
	c.closed = true
	return c.conn.Close(appErr, code, reason)
}

func (c *goburrowConn) IsClosed() bool {
	return c.closed || c.conn.IsClosed()
}

func (c *goburrowConn) Destroy() {}
