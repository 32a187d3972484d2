// Package ingress implements the socket reader pool and sender pool:
// one UDP socket and one bound sender per index, generalized from a
// single ListenAndServe/Serve receive loop and its packet-pool reuse
// (newPacket/freePacket) into standalone, independently restartable
// workers.
package ingress

import (
	"fmt"
	"net"
	"sync"

	"github.com/Mabuchin/requiem/internal/coreerr"
	"github.com/Mabuchin/requiem/internal/quicaddr"
	"github.com/Mabuchin/requiem/logging"
	"go.uber.org/zap"
)

// Sender owns a send-side handle bound to exactly one UDP socket.
// Writes through a Sender are serialized and delivered to the kernel in
// submission order; ordering across Senders is unspecified and not
// required, since QUIC tolerates datagram reordering.
type Sender struct {
	index int
	conn net.PacketConn
	log logging.Logger

	mu sync.Mutex
	closed bool

	queue chan outboundPacket
	closeOnce sync.Once
	done chan struct{}
}

type outboundPacket struct {
	addr net.Addr
	data []byte
}

// NewSender wraps conn as sender index idx, with an outbound queue of
// depth queueDepth. A full queue makes Send return immediately with an
// error rather than blocking the caller — the dispatcher-side backpressure
// behavior callers depend on.
func NewSender(idx int, conn net.PacketConn, queueDepth int, log logging.Logger) *Sender {
	s := &Sender{
		index: idx,
		conn: conn,
		log: log.With(zap.Int("sender", idx)),
		queue: make(chan outboundPacket, queueDepth),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sender) run() {
	defer close(s.done)
	for pkt := range s.queue {
		if _, err := s.conn.WriteTo(pkt.data, pkt.addr); err != nil {
			s.log.Log(logging.LevelError, "write failed", zap.Error(err), zap.String("peer", pkt.addr.String()))
		}
	}
}

// Send enqueues a single outbound packet, non-blocking. A full queue
// (backpressure) drops the packet and returns an error; callers must
// never block ingress waiting on send capacity. Send after Close returns
// coreerr.ErrAlreadyClosed rather than panicking on a closed channel.
func (s *Sender) Send(peer quicaddr.Address, packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("ingress: sender %d: %w", s.index, coreerr.ErrAlreadyClosed)
	}
	buf := make([]byte, len(packet))
	copy(buf, packet)
	select {
	case s.queue <- outboundPacket{addr: peer.Raw(), data: buf}:
		return nil
	default:
		return fmt.Errorf("ingress: sender %d queue full", s.index)
	}
}

// BatchSend enqueues multiple packets to distinct addresses. Each packet
// is subject to the same non-blocking backpressure as Send; a failure on
// one packet doesn't prevent the rest from being attempted.
func (s *Sender) BatchSend(packets []struct {
	Addr quicaddr.Address
	Data []byte
}) error {
	var firstErr error
	for _, p := range packets {
		if err := s.Send(p.Addr, p.Data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close stops accepting new packets and waits for the write loop to
// drain what's already queued. Marking closed under the same lock Send
// takes means Send can never race a concurrent Close into sending on a
// closed channel.
func (s *Sender) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.queue)
	})
	<-s.done
}
