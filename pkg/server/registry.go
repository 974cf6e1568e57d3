package server

import (
	"log/slog"
	"sync"

	"github.com/NicolasHaas/gotodo/pkg/protocol"
)

// Conn is a live client connection as seen by sessions and the registry.
// The WebSocket peer implements it; tests use in-memory fakes.
type Conn interface {
	ID() string
	Send(msg protocol.Message) error
	// Writable reports whether the transport is still open for writes.
	Writable() bool
	Close() error
}

// Registry tracks the authenticated connections of every user.
// A connection belongs to at most one user at a time.
type Registry struct {
	mu      sync.RWMutex
	members map[string]map[Conn]struct{} // userID -> set of connections
	owner   map[Conn]string              // connection -> userID
	metrics *Metrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		members: make(map[string]map[Conn]struct{}),
		owner:   make(map[Conn]string),
		metrics: metrics,
	}
}

// Register adds c to userID's set. Registering again is a no-op; a
// connection registered under another user is moved.
func (r *Registry) Register(userID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owner[c]; ok {
		if prev == userID {
			return
		}
		r.removeLocked(prev, c)
	}

	set, ok := r.members[userID]
	if !ok {
		set = make(map[Conn]struct{})
		r.members[userID] = set
	}
	set[c] = struct{}{}
	r.owner[c] = userID
}

// Deregister removes c from userID's set, dropping the entry when it
// empties. Unknown pairs are ignored.
func (r *Registry) Deregister(userID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner[c] != userID {
		return
	}
	r.removeLocked(userID, c)
}

func (r *Registry) removeLocked(userID string, c Conn) {
	delete(r.owner, c)
	set := r.members[userID]
	delete(set, c)
	if len(set) == 0 {
		delete(r.members, userID)
	}
}

// Connections returns a snapshot of userID's connections.
func (r *Registry) Connections(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.members[userID]
	result := make([]Conn, 0, len(set))
	for c := range set {
		result = append(result, c)
	}
	return result
}

// UserOf returns the user c is registered under.
func (r *Registry) UserOf(c Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owner[c]
	return userID, ok
}

// UserCount returns how many users have at least one connection.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Count returns the total number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owner)
}

// Broadcast sends msg to every writable connection of userID except
// exclude (which may be nil). Delivery happens outside the lock; a failing
// peer is logged and skipped. It returns the number of successful sends.
func (r *Registry) Broadcast(userID string, msg protocol.Message, exclude Conn) int {
	msg.ID = ""

	delivered := 0
	for _, c := range r.Connections(userID) {
		if c == exclude || !c.Writable() {
			continue
		}
		if err := c.Send(msg); err != nil {
			slog.Warn("broadcast write failed", "user", userID, "conn", c.ID(), "type", msg.Type, "err", err)
			if r.metrics != nil {
				r.metrics.BroadcastFailures.Add(1)
			}
			continue
		}
		delivered++
	}
	if r.metrics != nil {
		r.metrics.BroadcastsSent.Add(int64(delivered))
	}
	return delivered
}
