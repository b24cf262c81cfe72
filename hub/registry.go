package hub

import (
	"sync"
)

// Conn is a live connection as seen by the registry and router
type Conn interface {
	// ID is unique per connection
	ID() string

	// UserID is the identity the connection was bound to at open, it never changes
	UserID() string

	// Send queues a frame for the connection without blocking, returning false if it was not accepted
	Send(frame []byte) bool
}

// Registry maps each user identity to the set of connections currently open for it. A
// connection belongs to exactly one group, the one for its bound identity, and empty
// groups are removed.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[string]Conn
	owners map[string]string // conn id -> user id
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]map[string]Conn),
		owners: make(map[string]string),
	}
}

// Join adds conn to the group of its bound identity. Joining twice is a no-op. Returns
// whether the connection was added.
func (r *Registry) Join(conn Conn) bool {
	userID := conn.UserID()
	if userID == "" || conn.ID() == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, joined := r.owners[conn.ID()]; joined {
		return false
	}

	group, found := r.groups[userID]
	if !found {
		group = make(map[string]Conn)
		r.groups[userID] = group
	}
	group[conn.ID()] = conn
	r.owners[conn.ID()] = userID
	return true
}

// Leave removes conn from whatever group it belongs to. Leaving a connection that isn't
// registered is a no-op. Returns whether the connection was removed.
func (r *Registry) Leave(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, joined := r.owners[conn.ID()]
	if !joined {
		return false
	}
	delete(r.owners, conn.ID())

	group := r.groups[userID]
	delete(group, conn.ID())
	if len(group) == 0 {
		delete(r.groups, userID)
	}
	return true
}

// ConnectionsFor returns a snapshot of the connections open for userID, possibly empty
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group := r.groups[userID]
	conns := make([]Conn, 0, len(group))
	for _, conn := range group {
		conns = append(conns, conn)
	}
	return conns
}

// All returns a snapshot of every registered connection
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.owners))
	for _, group := range r.groups {
		for _, conn := range group {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

// Users returns the number of identities with at least one open connection
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
