// Package supervisor is a factory and lifecycle manager for
// per-connection actors, generalized from a handleNewConn that checks a
// peers map for an existing entry under the same key and, on conflict,
// merely logs "connection id conflict" and drops the packet. This
// package turns that log-and-drop race outcome into explicit
// already-registered-adopts-winner semantics, using
// golang.org/x/sync/singleflight to collapse concurrent
// create-connection calls for the same DCID into exactly one winner.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Mabuchin/requiem/internal/coreerr"
	"github.com/Mabuchin/requiem/internal/quicengine"
	"github.com/Mabuchin/requiem/internal/registry"
	"github.com/Mabuchin/requiem/logging"
)

// Actor is a live connection: the owning actor id plus the engine-level
// Conn handle the dispatcher forwards datagrams to.
type Actor struct {
	ID string
	Conn quicengine.Conn
}

// Supervisor spawns, tracks, and terminates connection actors. The root
// coordinator builds one Supervisor over the process-wide Registry and
// shares it with every dispatcher in the pool.
type Supervisor struct {
	registry *registry.Registry
	engine quicengine.Engine
	log logging.Logger

	group singleflight.Group

	mu sync.Mutex
	children map[string]*Actor // keyed by LocalCID
	closing bool
}

// New builds a Supervisor over the shared registry and engine.
func New(reg *registry.Registry, engine quicengine.Engine, log logging.Logger) *Supervisor {
	return &Supervisor{
		registry: reg,
		engine: engine,
		log: log,
		children: make(map[string]*Actor),
	}
}

// CreateConnection starts the actor (engine Accept) first and then
// inserts its registry entry; if the insert loses a race, the freshly
// accepted Conn is destroyed. The registry entry is not reserved before
// Accept runs. Two concurrent calls for the same localCID are collapsed by singleflight
// into one Accept call; the loser adopts the winner's Actor rather than
// accepting twice.
func (s *Supervisor) CreateConnection(config quicengine.Config, localCID, scid, odcid []byte, peer net.Addr) (*Actor, error) {
	key := string(localCID)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.createOnce(config, key, scid, odcid, peer)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Actor), nil
}

func (s *Supervisor) createOnce(config quicengine.Config, key string, scid, odcid []byte, peer net.Addr) (*Actor, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, fmt.Errorf("supervisor: closing: %w", coreerr.ErrSystemError)
	}
	if existing, ok := s.children[key]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	conn, err := s.engine.Accept(config, scid, odcid, peer)
	if err != nil {
		return nil, fmt.Errorf("supervisor: accept: %w: %v", coreerr.ErrSystemError, err)
	}
	actorID := fmt.Sprintf("conn-%x", scid)
	actor := &Actor{ID: actorID, Conn: conn}

	_, regErr := s.registry.InsertUnique(registry.Entry{
		LocalCID: key,
		ActorID: actorID,
		CreatedAt: time.Now(),
	})
	if regErr != nil {
		// Lost the race at the registry level (a sibling dispatcher beat
		// us to the same DCID). Roll back our half-built actor and adopt
		// whichever one already owns the registry entry.
		conn.Destroy()
		s.mu.Lock()
		existing, ok := s.children[key]
		s.mu.Unlock()
		if ok {
			return existing, nil
		}
		return nil, fmt.Errorf("supervisor: %w", coreerr.ErrAlreadyRegistered)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.registry.Remove(key)
		conn.Destroy()
		return nil, fmt.Errorf("supervisor: closing: %w", coreerr.ErrSystemError)
	}
	s.children[key] = actor
	s.mu.Unlock()
	s.log.Log(logging.LevelDebug, "connection created")
	return actor, nil
}

// LookupConnection returns the owning Actor for a local CID from this
// supervisor's child set, which CreateConnection, Terminate, and Shutdown
// keep in step with the registry.
func (s *Supervisor) LookupConnection(localCID []byte) (*Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.children[string(localCID)]
	return a, ok
}

// Terminate removes an actor (normal exit or crash) from both the local
// child set and the shared registry, preserving the invariant that a
// local CID is present in the registry iff its owning connection actor
// is alive.
func (s *Supervisor) Terminate(localCID []byte, appErr bool, code uint64, reason string) {
	key := string(localCID)
	s.mu.Lock()
	actor, ok := s.children[key]
	if ok {
		delete(s.children, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = actor.Conn.Close(appErr, code, reason)
	actor.Conn.Destroy()
	s.registry.Remove(key)
}

// Shutdown terminates every child actor, waiting up to the grace window
// for them to close. It does not itself enforce the timeout on
// individual Close calls — those are expected to be fast engine-side
// operations — but bounds the overall wait via ctx.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closing = true
	keys := make([]string, 0, len(s.children))
	children := make([]*Actor, 0, len(s.children))
	for key, a := range s.children {
		keys = append(keys, key)
		children = append(children, a)
	}
	s.children = make(map[string]*Actor)
	s.mu.Unlock()

	for _, key := range keys {
		s.registry.Remove(key)
	}

	done := make(chan struct{})
	go func() {
		for _, a := range children {
			_ = a.Conn.Close(false, 0, "server shutting down")
			a.Conn.Destroy()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Log(logging.LevelWarn, "shutdown grace window expired with children still draining")
	}
}
