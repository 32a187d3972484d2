package ingress

import (
	"errors"
	"hash/maphash"
	"net"
	"time"

	"github.com/Mabuchin/requiem/internal/connid"
	"github.com/Mabuchin/requiem/internal/quicaddr"
	"github.com/Mabuchin/requiem/internal/quicengine"
	"github.com/Mabuchin/requiem/logging"
	"go.uber.org/zap"
)

// Inbox is a dispatcher's bounded mailbox. SocketReader delivers
// classified-enough envelopes to it; the Dispatcher pool drains it.
// Overflow drops the oldest queued envelope rather than blocking; the
// inbox does not tell pre-handshake packets from packets of established
// connections, so either kind can be evicted.
type Inbox struct {
	ch chan Envelope
}

// Envelope is one datagram handed from a socket reader to a dispatcher.
type Envelope struct {
	Peer quicaddr.Address
	Payload []byte
}

// NewInbox builds a bounded Inbox of the given depth.
func NewInbox(depth int) *Inbox {
	return &Inbox{ch: make(chan Envelope, depth)}
}

// Enqueue delivers env, evicting the oldest queued envelope if the inbox
// is full rather than blocking the socket reader.
func (b *Inbox) Enqueue(env Envelope) {
	select {
	case b.ch <- env:
		return
	default:
	}
	select {
	case <-b.ch:
	default:
	}
	select {
	case b.ch <- env:
	default:
	}
}

// Recv exposes the channel for a dispatcher's drain loop.
func (b *Inbox) Recv() <-chan Envelope { return b.ch }

// Sharder picks which dispatcher inbox a datagram's DCID routes to.
// dispatcher_index = hash(local_cid_derived_from_dcid) mod M when a DCID
// is present, else round-robin. Every datagram carrying the same DCID
// lands on the same dispatcher, so a connection's packets after retry
// (which all carry the issued local CID) share one dispatcher. The
// Initial that redeems a retry token carries that issued CID rather than
// the client's first DCID, so it generally shards to a different
// dispatcher than the Initial that triggered the retry.
type Sharder struct {
	connIDSecret []byte
	workerCount int
	seed maphash.Seed
	rrCounter uint64
}

// NewSharder builds a Sharder over workerCount dispatchers.
func NewSharder(connIDSecret []byte, workerCount int) *Sharder {
	return &Sharder{
		connIDSecret: connIDSecret,
		workerCount: workerCount,
		seed: maphash.MakeSeed(),
	}
}

// Shard returns the dispatcher index for a datagram whose DCID is dcid
// (nil/empty falls back to round-robin).
func (s *Sharder) Shard(dcid []byte) int {
	if len(dcid) == 0 {
		s.rrCounter++
		return int(s.rrCounter % uint64(s.workerCount))
	}
	localCID := connid.Derive(s.connIDSecret, dcid)
	h := maphash.Bytes(s.seed, localCID[:])
	return int(h % uint64(s.workerCount))
}

// SocketReader owns one UDP socket and a receive loop that reads one
// datagram per ReadFrom call under a polling_timeout read deadline,
// classifying just enough (the DCID) to pick a dispatcher shard before
// handing the full envelope off. The loop does not batch reads; the
// stored event_capacity does not bound or group them. Generalized from a
// single ListenAndServe/Serve receive loop.
type SocketReader struct {
	index int
	conn *net.UDPConn
	engine quicengine.Engine
	shard *Sharder
	inbox []*Inbox // one per dispatcher

	eventCapacity int
	pollingTimeout time.Duration
	maxDatagram int

	log logging.Logger
}

// SocketReaderConfig bundles a SocketReader's construction-time deps.
// Conn is the same *net.UDPConn the sibling Sender at the same index
// writes through — one socket, shared read and write path, since each
// sender is bound 1:1 to exactly one UDP socket.
type SocketReaderConfig struct {
	Index int
	Conn *net.UDPConn
	Engine quicengine.Engine
	Sharder *Sharder
	Inboxes []*Inbox
	EventCapacity int
	PollingTimeout time.Duration
	MaxDatagram int
	Logger logging.Logger
}

// OpenSocket opens a UDP socket on host:port, to be shared between a
// SocketReader and its bound Sender.
func OpenSocket(host string, port int) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	return net.ListenUDP("udp", addr)
}

// NewSocketReader wraps an already-open socket as a reader ready to have
// Run called on it.
func NewSocketReader(cfg SocketReaderConfig) (*SocketReader, error) {
	maxDatagram := cfg.MaxDatagram
	if maxDatagram == 0 {
		maxDatagram = 65527
	}
	return &SocketReader{
		index: cfg.Index,
		conn: cfg.Conn,
		engine: cfg.Engine,
		shard: cfg.Sharder,
		inbox: cfg.Inboxes,
		eventCapacity: cfg.EventCapacity,
		pollingTimeout: cfg.PollingTimeout,
		maxDatagram: maxDatagram,
		log: cfg.Logger.With(zap.Int("socket", cfg.Index)),
	}, nil
}

// LocalAddr returns the socket's bound local address.
func (r *SocketReader) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// Close closes the underlying UDP socket, unblocking Run.
func (r *SocketReader) Close() error { return r.conn.Close() }

// Run executes the receive loop until the socket is closed or an
// unrecoverable error occurs, at which point it returns that error so the
// owning supervisor can restart this reader.
func (r *SocketReader) Run() error {
	r.log.Log(logging.LevelInfo, "socket reader listening", zap.String("addr", r.conn.LocalAddr().String()))
	buf := make([]byte, r.maxDatagram)
	for {
		if r.pollingTimeout > 0 {
			if err := r.conn.SetReadDeadline(time.Now().Add(r.pollingTimeout)); err != nil {
				return err
			}
		}
		n, addr, err := r.conn.ReadFrom(buf)
		if n > 0 {
			r.dispatch(addr, buf[:n])
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return err
		}
	}
}

func (r *SocketReader) dispatch(addr net.Addr, payload []byte) {
	peer := quicaddr.FromNetAddr(addr)
	h, err := r.engine.ParseHeader(payload, connid.Length)
	var dcid []byte
	if err == nil {
		dcid = h.DCID
	}
	idx := r.shard.Shard(dcid)
	if idx < 0 || idx >= len(r.inbox) {
		return
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	r.inbox[idx].Enqueue(Envelope{Peer: peer, Payload: data})
}
