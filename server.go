// Server is the root coordinator: it wires the socket
// reader pool, sender pool, dispatcher pool, and connection registry/
// supervisor into a running QUIC ingress pipeline, and owns orderly
// startup and shutdown. Generalized from a single accept loop and a
// single peers map into a pool-of-sockets, pool-of-dispatchers model,
// with the registry and supervisor taking over what an inline peers
// map and handleNewConn would otherwise do.
package requiem

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mabuchin/requiem/internal/dispatch"
	"github.com/Mabuchin/requiem/internal/ingress"
	"github.com/Mabuchin/requiem/internal/poolrun"
	"github.com/Mabuchin/requiem/internal/quicengine"
	"github.com/Mabuchin/requiem/internal/registry"
	"github.com/Mabuchin/requiem/internal/supervisor"
	"github.com/Mabuchin/requiem/logging"
)

// restartResetWindow is how long a socket reader loop must run without
// error before a subsequent crash is treated as a fresh
// failure rather than a continuation of a crash loop.
const restartResetWindow = time.Minute

// ShutdownGrace is the window the connection supervisor gets to drain
// live connections before the pools are torn down unconditionally.
const ShutdownGrace = 5 * time.Second

// Server is the running root coordinator. Construct with NewServer and
// call Serve to block until shutdown.
type Server struct {
	cfg Config
	engine quicengine.Engine
	log logging.Logger

	registry *registry.Registry
	addressRoute *registry.AddressRoute
	supervisor *supervisor.Supervisor

	sockets []*ingress.SocketReader
	senders []*ingress.Sender
	dispatchers []*dispatch.Dispatcher
	inboxes []*ingress.Inbox

	group *errgroup.Group
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewServer wires every pool in dependency order: registry → connection
// supervisor → sockets/senders → dispatcher pool → socket readers bound
// to the dispatcher pool's inboxes. On any wiring
// failure, everything already built is torn down before the error is
// returned, mirroring "on init failure the partially built
// config is destroyed before re-raising".
func NewServer(cfg Config, engine quicengine.Engine, log logging.Logger) (srv *Server, err error) {
	if verr := cfg.Validate(); verr != nil {
		return nil, verr
	}

	s := &Server{
		cfg: cfg,
		engine: engine,
		log: log,
		registry: registry.New(),
	}
	defer func() {
		if err != nil {
			s.teardownPartial()
		}
	}()

	if cfg.AllowAddressRouting {
		ar, aerr := registry.NewAddressRoute(cfg.AddressRouteCacheSize)
		if aerr != nil {
			return nil, fmt.Errorf("requiem: address route table: %w", aerr)
		}
		s.addressRoute = ar
	}

	s.supervisor = supervisor.New(s.registry, engine, log)

	// One UDP socket per index, shared by its reader and its 1:1-bound
	// sender.
	rawConns, serr := openSockets(cfg)
	if serr != nil {
		return nil, serr
	}
	defer func() {
		// teardownPartial only reaches sockets already wrapped by a
		// SocketReader; close the rest here.
		if err != nil {
			for _, conn := range rawConns[len(s.sockets):] {
				conn.Close()
			}
		}
	}()
	for i, conn := range rawConns {
		s.senders = append(s.senders, ingress.NewSender(i, conn, cfg.SocketEventCapacity, log))
	}

	// Dispatcher pool: dispatcher_index mod socket_count binds each
	// worker to its sender, a fixed and deliberate relationship.
	s.inboxes = make([]*ingress.Inbox, cfg.DispatcherPoolSize)
	for i := 0; i < cfg.DispatcherPoolSize; i++ {
		s.inboxes[i] = ingress.NewInbox(cfg.SocketEventCapacity * 4)
		engineConfig, cerr := engine.NewConfig(cfg.Transport, cfg.TLS)
		if cerr != nil {
			return nil, fmt.Errorf("requiem: dispatcher %d engine config: %w", i, cerr)
		}
		d := dispatch.New(dispatch.Config{
			HandlerID: "requiem",
			WorkerIndex: i,
			SocketCount: cfg.SocketPoolSize,
			EngineConfig: engineConfig,
			Engine: engine,
			Sender: s.senders[i%cfg.SocketPoolSize],
			Secrets: dispatch.Secrets{
				TokenSecret: cfg.TokenSecret,
				ConnIDSecret: cfg.ConnectionIDSecret,
			},
			Registry: s.registry,
			Supervisor: s.supervisor,
			Logger: log,
			RetryValidity: cfg.RetryValidity,
			AddressRoute: s.addressRoute,
		})
		s.dispatchers = append(s.dispatchers, d)
	}

	// Socket readers, wired to the now-complete dispatcher inbox set via a
	// shared Sharder: dispatcher_index = hash(local_cid_derived_from_dcid)
	// mod M, so every datagram carrying the same DCID reaches the same
	// dispatcher.
	sharder := ingress.NewSharder(cfg.ConnectionIDSecret, cfg.DispatcherPoolSize)
	for i, conn := range rawConns {
		r, rerr := ingress.NewSocketReader(ingress.SocketReaderConfig{
			Index: i,
			Conn: conn,
			Engine: engine,
			Sharder: sharder,
			Inboxes: s.inboxes,
			EventCapacity: cfg.SocketEventCapacity,
			PollingTimeout: cfg.SocketPollingTimeout,
			Logger: log,
		})
		if rerr != nil {
			return nil, fmt.Errorf("requiem: socket reader %d: %w", i, rerr)
		}
		s.sockets = append(s.sockets, r)
	}

	return s, nil
}

func openSockets(cfg Config) ([]*net.UDPConn, error) {
	conns := make([]*net.UDPConn, 0, cfg.SocketPoolSize)
	for i := 0; i < cfg.SocketPoolSize; i++ {
		c, err := ingress.OpenSocket(cfg.Host, cfg.Port)
		if err != nil {
			for _, opened := range conns {
				opened.Close()
			}
			return nil, fmt.Errorf("requiem: open socket %d: %w", i, err)
		}
		conns = append(conns, c)
	}
	return conns, nil
}

// teardownPartial releases whatever was constructed before a wiring
// failure: dispatchers (and their engine Config/Builder handles),
// senders, and sockets, in reverse dependency order.
func (s *Server) teardownPartial() {
	for _, d := range s.dispatchers {
		d.Close()
	}
	for _, sn := range s.senders {
		sn.Close()
	}
	for _, sock := range s.sockets {
		sock.Close()
	}
}

// Serve starts the socket readers and dispatcher drain loops and blocks
// until ctx is canceled or Close is called, then performs orderly,
// reverse-order shutdown bounded by ShutdownGrace. A crashed socket
// reader is restarted through poolrun rather than ending Serve; the pool
// goroutines always return nil, so a pool failure never stops Serve.
func (s *Server) Serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	s.group = g

	for i, sock := range s.sockets {
		sock := sock
		label := fmt.Sprintf("socket-reader-%d", i)
		g.Go(func() error {
			poolrun.Restart(gctx, label, restartResetWindow, s.log, sock.Run)
			return nil
		})
	}
	for i, d := range s.dispatchers {
		d := d
		inbox := s.inboxes[i]
		g.Go(func() error {
			runDispatcher(gctx, d, inbox)
			return nil
		})
	}

	<-gctx.Done()
	s.shutdown()
	if err := g.Wait(); err != nil && gctx.Err() != context.Canceled {
		return err
	}
	return nil
}

// runDispatcher drains a dispatcher's bound inbox until ctx is canceled.
func runDispatcher(ctx context.Context, d *dispatch.Dispatcher, inbox *ingress.Inbox) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-inbox.Recv():
			d.OnPacket(env.Peer, env.Payload)
		}
	}
}

// Close requests shutdown and waits for the pools to drain.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	if s.group != nil {
		return s.group.Wait()
	}
	return nil
}

// shutdown tears down dispatchers → senders → sockets in reverse
// dependency order, giving the connection supervisor up to
// ShutdownGrace to drain live connections first: shutdown propagates
// from the root, and each level gets a bounded window to terminate
// cleanly before the next level tears down.
func (s *Server) shutdown() {
	graceCtx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	s.supervisor.Shutdown(graceCtx)

	for _, d := range s.dispatchers {
		d.Close()
	}
	for _, sn := range s.senders {
		sn.Close()
	}
	for _, sock := range s.sockets {
		sock.Close()
	}
}
