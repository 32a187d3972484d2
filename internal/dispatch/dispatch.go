// Package dispatch implements the Dispatcher, the heart of the ingress
// pipeline: classification-to-routing for one shard of incoming
// datagrams. The routing algorithm in OnPacket is a direct restructuring
// of a single recv/negotiate/retry/handleNewConn loop into explicit
// INIT/REGULAR branches, pulled out of a single per-socket goroutine
// into a standalone worker so an M-worker dispatcher pool can run
// independently of the N-socket reader pool.
package dispatch

import (
	"fmt"
	"time"

	"github.com/Mabuchin/requiem/internal/classify"
	"github.com/Mabuchin/requiem/internal/connid"
	"github.com/Mabuchin/requiem/internal/coreerr"
	"github.com/Mabuchin/requiem/internal/quicaddr"
	"github.com/Mabuchin/requiem/internal/quicengine"
	"github.com/Mabuchin/requiem/internal/registry"
	"github.com/Mabuchin/requiem/internal/supervisor"
	"github.com/Mabuchin/requiem/internal/token"
	"github.com/Mabuchin/requiem/logging"
	"go.uber.org/zap"
)

// Sender is the narrow slice of the sender pool a dispatcher needs: a
// single outbound, address-targeted write. Each dispatcher is bound to
// exactly one concrete implementation (internal/ingress.Sender) via
// sender_index = dispatcher_index mod socket_count; several dispatchers
// share one sender when there are more dispatchers than sockets.
type Sender interface {
	Send(peer quicaddr.Address, packet []byte) error
}

// Secrets are the two process-wide immutable keys every dispatcher
// shares: token_secret for RetryToken and conn_id_secret for
// ConnectionID derivation.
type Secrets struct {
	TokenSecret []byte
	ConnIDSecret []byte
}

// Config bundles a Dispatcher's construction-time dependencies.
type Config struct {
	HandlerID string
	WorkerIndex int
	SocketCount int
	EngineConfig quicengine.Config
	Engine quicengine.Engine
	Sender Sender
	Secrets Secrets
	Registry *registry.Registry
	Supervisor *supervisor.Supervisor
	Logger logging.Logger
	// RetryValidity is the address-validation token lifetime; defaults
	// to token.DefaultValidity when zero.
	RetryValidity time.Duration
	// AddressRoute is the optional peer-address -> local-CID side table
	// enabled by allow_address_routing. Nil disables migration tracking
	// entirely: every path behaves as if the option were off.
	AddressRoute *registry.AddressRoute
}

// Dispatcher is one worker in the Dispatcher pool. Per-worker state is
// handler_id, worker_index, socket_count, config, sender, the two
// secrets, and a packet_builder, alongside the engine, classifier, token
// validity, logger, and handles to the shared registry, supervisor, and
// optional address-route table.
type Dispatcher struct {
	handlerID string
	workerIndex int
	socketCount int

	engine quicengine.Engine
	engineConfig quicengine.Config
	builder quicengine.Builder
	classifier *classify.Classifier
	sender Sender

	tokenSecret []byte
	connIDSecret []byte
	retryValidity time.Duration

	registry *registry.Registry
	supervisor *supervisor.Supervisor
	addressRoute *registry.AddressRoute
	log logging.Logger
}

// New builds a Dispatcher. The packet builder is created here and
// destroyed only in Close. New itself cannot fail, but a caller whose
// later init step fails after New has returned must still call Close.
func New(cfg Config) *Dispatcher {
	validity := cfg.RetryValidity
	if validity == 0 {
		validity = token.DefaultValidity
	}
	return &Dispatcher{
		handlerID: cfg.HandlerID,
		workerIndex: cfg.WorkerIndex,
		socketCount: cfg.SocketCount,
		engine: cfg.Engine,
		engineConfig: cfg.EngineConfig,
		builder: cfg.Engine.NewBuilder(),
		classifier: classify.New(cfg.Engine),
		sender: cfg.Sender,
		tokenSecret: cfg.Secrets.TokenSecret,
		connIDSecret: cfg.Secrets.ConnIDSecret,
		retryValidity: validity,
		registry: cfg.Registry,
		supervisor: cfg.Supervisor,
		addressRoute: cfg.AddressRoute,
		log: cfg.Logger.With(
			zap.String("handler", cfg.HandlerID),
			zap.Int("worker", cfg.WorkerIndex),
		),
	}
}

// SenderIndex returns the sender this dispatcher's stateless replies and
// forwarded packets must flow through: dispatcher_index mod socket_count,
// a fixed and deliberate binding.
func (d *Dispatcher) SenderIndex() int {
	return d.workerIndex % d.socketCount
}

// Close destroys the dispatcher-owned engine Config and Builder handles.
// Safe to call after a partially failed construction: each handle is
// destroyed once, and skipped if it is nil.
func (d *Dispatcher) Close() {
	if d.builder != nil {
		d.builder.Destroy()
	}
	if d.engineConfig != nil {
		d.engineConfig.Destroy()
	}
}

// OnPacket classifies and routes one received datagram: given
// (peer, payload), it parses out scid, dcid, token, version, kind, and
// version_supported, then dispatches on them. Every non-fatal outcome is
// absorbed here as a drop — the caller never retries or replies on its
// own — but the reason is still returned as one of the coreerr sentinels
// so callers and tests can classify it with errors.Is instead of
// string-matching a log line. Returns nil only when the packet was
// forwarded to a connection actor; a packet answered with a stateless
// reply still returns its sentinel (ErrUnsupportedVersion for version
// negotiation, ErrTokenMissing for retry).
func (d *Dispatcher) OnPacket(peer quicaddr.Address, payload []byte) error {
	rec, err := d.classifier.Classify(payload)
	if err != nil {
		d.log.Log(logging.LevelDebug, "dropped malformed packet", zap.String("peer", peer.String()), zap.Error(err))
		return err
	}
	h := rec.Header

	if h.Type == quicengine.KindInitial {
		if !h.VersionSupported {
			d.replyVersionNegotiation(peer, h)
			return fmt.Errorf("dispatch: %w", coreerr.ErrUnsupportedVersion)
		}
		return d.routeInitial(peer, rec)
	}
	return d.routeRegular(peer, rec)
}

func (d *Dispatcher) routeInitial(peer quicaddr.Address, rec classify.Record) error {
	h := rec.Header
	if entry, ok := d.registry.Lookup(string(h.DCID)); ok {
		return d.forward(peer, entry, rec.Payload)
	}
	if len(h.Token) == 0 {
		d.replyRetry(peer, h)
		return fmt.Errorf("dispatch: %w", coreerr.ErrTokenMissing)
	}
	if len(h.DCID) != connid.Length {
		d.log.Log(logging.LevelDebug, "dropped initial with bad dcid length on token path", zap.Int("len", len(h.DCID)))
		return fmt.Errorf("dispatch: %w", coreerr.ErrBadDCIDLength)
	}
	odcid, err := token.Validate(d.tokenSecret, peer, h.DCID, h.Token, time.Now(), d.retryValidity)
	if err != nil {
		// Any validation failure is a silent drop, never a stateless
		// reset.
		d.log.Log(logging.LevelDebug, "dropped initial with invalid retry token", zap.String("peer", peer.String()))
		return err
	}
	return d.createAndForward(peer, h, odcid, rec.Payload)
}

func (d *Dispatcher) routeRegular(peer quicaddr.Address, rec classify.Record) error {
	h := rec.Header
	if len(h.DCID) != connid.Length && len(h.DCID) != 0 {
		d.log.Log(logging.LevelDebug, "dropped packet with bad dcid length", zap.Int("len", len(h.DCID)))
		return fmt.Errorf("dispatch: %w", coreerr.ErrBadDCIDLength)
	}
	entry, ok := d.registry.Lookup(string(h.DCID))
	if !ok && len(h.DCID) == 0 && d.addressRoute != nil {
		// A zero-length DCID short-header packet can't be routed by CID;
		// fall back to the last CID seen from this peer address, to
		// survive connection migration.
		if cid, routed := d.addressRoute.Lookup(peer); routed {
			entry, ok = d.registry.Lookup(cid)
		}
	}
	if !ok {
		// Unknown connection for a non-Initial packet: silently dropped.
		// No stateless response — this is the anti-amplification boundary.
		return fmt.Errorf("dispatch: %w", coreerr.ErrUnknownConnection)
	}
	return d.forward(peer, entry, rec.Payload)
}

func (d *Dispatcher) createAndForward(peer quicaddr.Address, h quicengine.Header, odcid, payload []byte) error {
	if len(h.DCID) == 0 {
		// Permitted only on the very first Initial; routeInitial already
		// rejects any token-bearing Initial whose DCID isn't
		// connid.Length bytes. Reaching here with an empty DCID means
		// there is no connection to create against — treat as success.
		return nil
	}
	actor, err := d.supervisor.CreateConnection(d.engineConfig, h.DCID, h.SCID, odcid, peer.Raw())
	if err != nil {
		d.log.Log(logging.LevelError, "failed to create connection", zap.Error(err))
		return err
	}
	if d.addressRoute != nil {
		d.addressRoute.Record(peer, string(h.DCID))
	}
	if err := actor.Conn.ProcessPacket(peer.Raw(), payload); err != nil {
		d.log.Log(logging.LevelDebug, "connection rejected packet", zap.Error(err))
		return err
	}
	return nil
}

func (d *Dispatcher) forward(peer quicaddr.Address, entry registry.Entry, payload []byte) error {
	actor, ok := d.supervisor.LookupConnection([]byte(entry.LocalCID))
	if !ok {
		// The registry entry outlived the local actor handle (shouldn't
		// happen given the registry/supervisor lockstep invariant, but
		// treat defensively as unknown-connection rather than panicking).
		return fmt.Errorf("dispatch: %w", coreerr.ErrUnknownConnection)
	}
	if d.addressRoute != nil {
		d.addressRoute.Record(peer, entry.LocalCID)
	}
	if err := actor.Conn.ProcessPacket(peer.Raw(), payload); err != nil {
		d.log.Log(logging.LevelDebug, "connection rejected forwarded packet", zap.Error(err))
		return err
	}
	return nil
}

func (d *Dispatcher) replyVersionNegotiation(peer quicaddr.Address, h quicengine.Header) {
	buf := make([]byte, 1500)
	n, err := d.builder.BuildNegotiateVersion(buf, h.SCID, h.DCID)
	if err != nil {
		d.log.Log(logging.LevelError, "build version negotiation failed", zap.Error(err))
		return
	}
	d.sendStateless(peer, buf[:n], "version negotiation")
}

func (d *Dispatcher) replyRetry(peer quicaddr.Address, h quicengine.Header) {
	newCID := connid.Derive(d.connIDSecret, h.DCID)
	tok := token.Mint(d.tokenSecret, peer, h.DCID, newCID[:], time.Now())
	buf := make([]byte, 1500)
	n, err := d.builder.BuildRetry(buf, h.SCID, h.DCID, newCID[:], tok, h.Version)
	if err != nil {
		d.log.Log(logging.LevelError, "build retry failed", zap.Error(err))
		return
	}
	d.sendStateless(peer, buf[:n], "retry")
}

// sendStateless writes a stateless reply through this dispatcher's bound
// sender. Sender backpressure (a full send queue) drops the reply rather
// than blocking ingress.
func (d *Dispatcher) sendStateless(peer quicaddr.Address, packet []byte, kind string) {
	if err := d.sender.Send(peer, packet); err != nil {
		d.log.Log(logging.LevelDebug, fmt.Sprintf("dropped %s reply: sender backpressure", kind), zap.Error(err))
	}
}

// UnknownConnectionError lets callers that collect error statistics
// compare OnPacket's return value against the shared taxonomy with
// errors.Is, without reaching into coreerr directly.
var UnknownConnectionError = coreerr.ErrUnknownConnection
