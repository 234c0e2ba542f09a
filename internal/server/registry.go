package server

import (
	"sync"

	"github.com/google/uuid"
)

// Registry holds the set of live connections. All mutation happens under one
// mutex; iteration always works on a point-in-time snapshot so a concurrent
// removal cannot corrupt a long-running sweep.
type Registry struct {
	mu    sync.Mutex
	conns []*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add inserts a connection at the end of the iteration order.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	r.conns = append(r.conns, c)
	r.mu.Unlock()
}

// Remove deletes the connection and reports whether it was present. The
// result gates disconnect teardown, making double-removal a no-op.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.conns {
		if c.ID == id {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a point-in-time copy of the connection list in insertion
// order, safe to iterate while the registry is concurrently mutated.
func (r *Registry) Snapshot() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]*Connection, len(r.conns))
	copy(snapshot, r.conns)
	return snapshot
}

// FindByConnectionID returns the connection with the given token.
func (r *Registry) FindByConnectionID(id uuid.UUID) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// FindBySteamID returns the authenticated connection bound to the identity.
func (r *Registry) FindBySteamID(steamID uint64) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.Authenticated() && c.SteamID() == steamID {
			return c, true
		}
	}
	return nil, false
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
