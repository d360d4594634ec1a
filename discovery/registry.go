package discovery

import (
	"net/netip"
	"sync"
	"time"
)

const (
	// EventPeerUpserted is emitted when a peer appears or its display name changes.
	EventPeerUpserted EventType = "peer_upserted"
	// EventPeerRemoved is emitted when a peer is evicted for staleness.
	EventPeerRemoved EventType = "peer_removed"
)

// EventType identifies registry membership updates.
type EventType string

// Event carries registry updates for UI/log consumers.
type Event struct {
	Type EventType
	Peer PeerIdentity
}

// PeerIdentity is the immutable per-announcement view of a peer.
type PeerIdentity struct {
	Addr netip.Addr
	Name string
}

type registryEntry struct {
	identity PeerIdentity
	lastSeen time.Time
}

// Registry is the shared table of recently heard peers, keyed by address.
//
// Every operation runs under one exclusive lock and performs no I/O while
// holding it.
type Registry struct {
	mu      sync.Mutex
	entries map[netip.Addr]registryEntry

	events chan Event
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[netip.Addr]registryEntry),
		events:  make(chan Event, 128),
	}
}

// Upsert inserts or replaces the entry for addr and refreshes its last-seen
// instant to now. A now earlier than the stored instant keeps the stored one.
func (r *Registry) Upsert(addr netip.Addr, identity PeerIdentity, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, exists := r.entries[addr]
	lastSeen := now
	if exists && previous.lastSeen.After(now) {
		lastSeen = previous.lastSeen
	}
	r.entries[addr] = registryEntry{identity: identity, lastSeen: lastSeen}

	if !exists || previous.identity != identity {
		r.emitEvent(Event{Type: EventPeerUpserted, Peer: identity})
	}
}

// Snapshot returns a copy of every held identity in no particular order.
func (r *Registry) Snapshot() []PeerIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PeerIdentity, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.identity)
	}
	return out
}

// EvictOlderThan removes every entry whose last-seen predates now-ttl and
// returns how many were removed.
func (r *Registry) EvictOlderThan(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for addr, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(r.entries, addr)
			removed++
			r.emitEvent(Event{Type: EventPeerRemoved, Peer: entry.identity})
		}
	}
	return removed
}

// Len returns the number of held entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// LastSeen returns the last-seen instant for addr.
func (r *Registry) LastSeen(addr netip.Addr) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[addr]
	return entry.lastSeen, ok
}

// Events provides asynchronous membership updates. Updates are dropped when
// nobody drains the channel.
func (r *Registry) Events() <-chan Event {
	return r.events
}

func (r *Registry) emitEvent(event Event) {
	select {
	case r.events <- event:
	default:
	}
}
