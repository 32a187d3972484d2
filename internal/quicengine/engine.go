// Package quicengine is the downward interface to the QUIC library that
// parses frames, drives TLS, and produces outgoing datagrams: the external
// collaborator, kept behind an interface so the dispatch/supervisor
// packages never hard-code a single vendor the way a server's recv loop
// might hard-code github.com/goburrow/quic/transport directly.
package quicengine

import (
	"net"
	"time"
)

// Header is the result of parsing just enough of a datagram to route it:
// the PacketClassifier's output. It is produced by Engine.ParseHeader,
// which wraps the QUIC library's header decode (transport.Header.Decode
// in the goburrow-backed implementation).
type Header struct {
	Type PacketKind
	Version uint32
	SCID []byte
	DCID []byte
	Token []byte
	VersionSupported bool
}

// PacketKind enumerates the datagram classes the dispatcher routes on.
type PacketKind int

const (
	KindInitial PacketKind = iota
	KindHandshake
	KindZeroRTT
	KindShort
	KindRetry
	KindVersionNegotiation
)

// Params carries the QUIC transport knobs a dispatcher's engine Config is built from.
type Params struct {
	InitialMaxData uint64
	MaxUDPPayloadSize uint64
	InitialMaxStreamDataBidiLocal uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni uint64
	InitialMaxStreamsBidi uint64
	InitialMaxStreamsUni uint64
	MaxIdleTimeout time.Duration
	DisableActiveMigration bool
	EnableEarlyData bool
	EnableDgram bool
}

// Config is the opaque per-dispatcher handle the data model describes:
// owned by one dispatcher, shared by reference with every connection
// actor that dispatcher spawns, destroyed only after every child is
// gone (including the init-failure path).
type Config interface {
	// Destroy releases the underlying library resources. Safe to call
	// once; it is always called, even when dispatcher init fails partway
	// through.
	Destroy()
}

// Conn is the per-connection handle the external collaborator owns.
// The core never inspects its internals; it only routes datagrams to it
// and asks it to close.
type Conn interface {
	ProcessPacket(peer net.Addr, payload []byte) error
	Close(appErr bool, code uint64, reason string) error
	IsClosed() bool
	Destroy()
}

// Builder is the opaque per-dispatcher stateless-packet builder: version
// negotiation and retry packets, built and torn down alongside it. Like
// Config, it is owned by one dispatcher and destroyed on every exit path
// from that dispatcher's lifetime, including init failure.
type Builder interface {
	BuildNegotiateVersion(buf []byte, scid, dcid []byte) (int, error)
	BuildRetry(buf []byte, scid, dcid, newCID, tok []byte, version uint32) (int, error)
	Destroy()
}

// Engine is the full external collaborator surface: it builds Configs and
// Builders, parses headers, and accepts inbound connections.
type Engine interface {
	NewConfig(params Params, tlsMaterial TLSMaterial) (Config, error)
	NewBuilder() Builder
	ParseHeader(datagram []byte, maxCIDLen int) (Header, error)
	IsVersionSupported(version uint32) bool
	Accept(config Config, scid, odcid []byte, peer net.Addr) (Conn, error)
}

// TLSMaterial is the certificate/key pair and ALPN list an Engine needs to
// build a server Config. TLS certificate loading itself is out of scope
// here; this struct is just the hand-off shape.
type TLSMaterial struct {
	CertFile string
	KeyFile string
	ALPN []string
}
