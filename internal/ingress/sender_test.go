package ingress

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mabuchin/requiem/internal/coreerr"
	"github.com/Mabuchin/requiem/internal/quicaddr"
	"github.com/Mabuchin/requiem/logging"
)

// blockingConn lets a test hold the writer goroutine hostage so the
// queue fills up and backpressure kicks in.
type blockingConn struct {
	net.PacketConn
	mu      sync.Mutex
	release chan struct{}
	writes  int
}

func (c *blockingConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	<-c.release
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return len(b), nil
}

func TestSenderSendSucceedsUnderCapacity(t *testing.T) {
	conn := &blockingConn{release: make(chan struct{})}
	close(conn.release) // never actually block for this test
	s := NewSender(0, conn, 4, logging.Nop())
	defer s.Close()

	addr := quicaddr.FromNetAddr(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})
	assert.NoError(t, s.Send(addr, []byte("hello")))
}

func TestSenderSendFailsWhenQueueFull(t *testing.T) {
	conn := &blockingConn{release: make(chan struct{})}
	s := NewSender(1, conn, 1, logging.Nop())
	defer func() {
		close(conn.release)
		s.Close()
	}()

	addr := quicaddr.FromNetAddr(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})
	// First send is picked up by run() and blocks on conn.release; the
	// second fills the depth-1 queue; the third must be rejected.
	require.NoError(t, s.Send(addr, []byte("a")))
	time.Sleep(20 * time.Millisecond) // let run() dequeue the first
	require.NoError(t, s.Send(addr, []byte("b")))
	err := s.Send(addr, []byte("c"))
	assert.Error(t, err)
}

func TestSenderCloseDrainsQueue(t *testing.T) {
	conn := &blockingConn{release: make(chan struct{})}
	close(conn.release)
	s := NewSender(2, conn, 4, logging.Nop())

	addr := quicaddr.FromNetAddr(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})
	require.NoError(t, s.Send(addr, []byte("x")))
	s.Close()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, 1, conn.writes)
}

func TestSenderSendAfterCloseReturnsAlreadyClosed(t *testing.T) {
	conn := &blockingConn{release: make(chan struct{})}
	close(conn.release)
	s := NewSender(3, conn, 4, logging.Nop())
	s.Close()

	addr := quicaddr.FromNetAddr(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})
	err := s.Send(addr, []byte("late"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, coreerr.ErrAlreadyClosed))
}
