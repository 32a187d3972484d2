package requiem

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mabuchin/requiem/internal/quicengine"
	"github.com/Mabuchin/requiem/logging"
)

type stubConfig struct{}

func (stubConfig) Destroy() {}

type stubBuilder struct{}

func (stubBuilder) BuildNegotiateVersion(buf, scid, dcid []byte) (int, error) { return 0, nil }
func (stubBuilder) BuildRetry(buf, scid, dcid, newCID, tok []byte, version uint32) (int, error) {
	return 0, nil
}
func (stubBuilder) Destroy() {}

type stubConn struct{}

func (stubConn) ProcessPacket(net.Addr, []byte) error { return nil }
func (stubConn) Close(bool, uint64, string) error     { return nil }
func (stubConn) IsClosed() bool                       { return false }
func (stubConn) Destroy()                             {}

// stubEngine never actually parses real QUIC wire bytes; it is only
// exercised here to prove the pool wiring in NewServer/Serve/Close
// succeeds and tears down cleanly without a real transport library.
type stubEngine struct{}

func (stubEngine) NewConfig(quicengine.Params, quicengine.TLSMaterial) (quicengine.Config, error) {
	return stubConfig{}, nil
}
func (stubEngine) NewBuilder() quicengine.Builder { return stubBuilder{} }
func (stubEngine) ParseHeader([]byte, int) (quicengine.Header, error) {
	return quicengine.Header{Type: quicengine.KindShort}, nil
}
func (stubEngine) IsVersionSupported(uint32) bool { return true }
func (stubEngine) Accept(quicengine.Config, []byte, []byte, net.Addr) (quicengine.Conn, error) {
	return stubConn{}, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0 // ephemeral, avoids test port collisions
	cfg.SocketPoolSize = 2
	cfg.DispatcherPoolSize = 2
	cfg.TokenSecret = []byte("01234567890123456789012345678901")
	cfg.ConnectionIDSecret = []byte("abcdefghijabcdefghijabcdefghijab")
	return cfg
}

func TestNewServerWiresPoolsInOrder(t *testing.T) {
	srv, err := NewServer(testConfig(t), stubEngine{}, logging.Nop())
	require.NoError(t, err)
	defer srv.Close()

	assert.Len(t, srv.sockets, 2)
	assert.Len(t, srv.senders, 2)
	assert.Len(t, srv.dispatchers, 2)
	// dispatcher_index mod socket_count binds dispatcher 1 to sender 1
	// when socket_count == dispatcher_count.
	assert.Equal(t, 1, srv.dispatchers[1].SenderIndex())
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.TokenSecret = nil
	_, err := NewServer(cfg, stubEngine{}, logging.Nop())
	assert.Error(t, err)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	srv, err := NewServer(testConfig(t), stubEngine{}, logging.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
