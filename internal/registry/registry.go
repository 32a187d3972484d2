// Package registry implements the connection registry: a sharded CID ->
// connection-actor mapping with insert/lookup/remove and uniqueness on
// insert, plus an optional address->CID side-table for connection
// migration tracking (allow_address_routing).
//
// A single map[string]*remoteConn guarded by one sync.RWMutex is the
// simplest version of this idea; a two-map variant (by CID, by reset
// token) still keeps a single lock with one writer, the listen loop.
// Dispatchers must not share mutable state beyond the registry across
// an M-worker dispatcher pool, so this sharded version spreads the lock
// contention a single mutex would otherwise concentrate.
package registry

import (
	"hash/maphash"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Mabuchin/requiem/internal/coreerr"
	"github.com/Mabuchin/requiem/internal/quicaddr"
)

// Entry is ConnectionEntry: {local_cid, owning_actor_id, created_at}.
type Entry struct {
	LocalCID string
	ActorID string
	CreatedAt time.Time
}

const defaultShardCount = 64

// Registry is a sharded concurrent map from CID to Entry. Lookup is
// wait-free in the common case (a single RLock per shard); InsertUnique
// is the primitive that makes concurrent create_connection calls for the
// same DCID benign.
type Registry struct {
	shards []shard
	seed maphash.Seed
}

type shard struct {
	mu sync.RWMutex
	entries map[string]Entry
}

// New builds a Registry with the default shard count.
func New() *Registry {
	return NewWithShards(defaultShardCount)
}

// NewWithShards builds a Registry with an explicit shard count, mostly
// useful for tests exercising shard-boundary behavior.
func NewWithShards(shardCount int) *Registry {
	if shardCount < 1 {
		shardCount = 1
	}
	r := &Registry{
		shards: make([]shard, shardCount),
		seed: maphash.MakeSeed(),
	}
	for i := range r.shards {
		r.shards[i].entries = make(map[string]Entry)
	}
	return r
}

func (r *Registry) shardFor(cid string) *shard {
	h := maphash.Bytes(r.seed, []byte(cid))
	return &r.shards[h%uint64(len(r.shards))]
}

// InsertUnique inserts entry keyed by entry.LocalCID. If the CID is
// already present it returns coreerr.ErrAlreadyRegistered and the
// existing entry, so the caller (ConnectionSupervisor) can adopt the
// winner instead of treating the race as fatal.
func (r *Registry) InsertUnique(entry Entry) (existing Entry, err error) {
	s := r.shardFor(entry.LocalCID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.entries[entry.LocalCID]; ok {
		return prior, coreerr.ErrAlreadyRegistered
	}
	s.entries[entry.LocalCID] = entry
	return Entry{}, nil
}

// Lookup returns the entry for cid, if any.
func (r *Registry) Lookup(cid string) (Entry, bool) {
	s := r.shardFor(cid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[cid]
	return e, ok
}

// Remove deletes cid's entry. Called when the owning actor terminates,
// normally or by crash — never by the dispatcher.
func (r *Registry) Remove(cid string) {
	s := r.shardFor(cid)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, cid)
}

// Len returns the total number of entries across all shards. Intended
// for tests and diagnostics, not the packet-path.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		r.shards[i].mu.RLock()
		n += len(r.shards[i].entries)
		r.shards[i].mu.RUnlock()
	}
	return n
}

// AddressRoute is the bounded side-table the allow_address_routing
// option enables: a peer address maps to the local
// CID last seen from it, so the dispatcher can route a zero-length-DCID
// packet from that address. Unlike the CID registry, eviction under
// memory pressure is acceptable here — a miss just means such a packet is
// dropped as an unknown connection, not a correctness violation — so
// this is the one place an LRU
// cache (rather than an exact map) is the right data structure.
type AddressRoute struct {
	cache *lru.Cache[string, string]
}

// NewAddressRoute builds an AddressRoute side-table bounded at capacity
// entries.
func NewAddressRoute(capacity int) (*AddressRoute, error) {
	c, err := lru.New[string, string](capacity)
	if err != nil {
		return nil, err
	}
	return &AddressRoute{cache: c}, nil
}

// Record notes that addr last sent on cid.
func (a *AddressRoute) Record(addr quicaddr.Address, cid string) {
	a.cache.Add(addr.String(), cid)
}

// Lookup returns the CID last associated with addr, if still cached.
func (a *AddressRoute) Lookup(addr quicaddr.Address) (string, bool) {
	return a.cache.Get(addr.String())
}
