package chat

import (
	"sort"
	"sync"

	"github.com/tanvir/relaychat/internal/identity"
)

// Conn is the registry's view of a live connection. The transport layer owns
// the underlying socket; the registry holds a non-owning reference keyed by
// canonical user identity.
//
// Send enqueues one named event for delivery. It must not block the caller:
// implementations buffer writes and report an error only when the connection
// is gone or its buffer is full.
type Conn interface {
	ID() string
	Send(event string, payload any) error
	Close() error
}

// Registry is the process-wide map from canonical user identity to the single
// active connection for that user. It is the only server-side state mutated
// from multiple goroutines; all four operations share one mutex so no reader
// can observe a half-updated map.
//
// The registry holds no durable state. It is rebuilt empty on process start,
// so presence is never authoritative beyond the current process lifetime.
type Registry struct {
	mu    sync.Mutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register binds userID to conn. If the identity already has a live
// connection, the newer one wins and the replaced connection is returned so
// the caller can close it; otherwise replaced is nil.
func (r *Registry) Register(userID string, conn Conn) (replaced Conn) {
	userID = identity.Normalize(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[userID]; ok && prev.ID() != conn.ID() {
		replaced = prev
	}
	r.conns[userID] = conn
	return replaced
}

// Unregister removes the entry for userID, but only if conn is the
// connection currently registered. A stale disconnect from a connection that
// was already replaced must not evict the newer, still-live one. Reports
// whether the entry was removed.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	userID = identity.Normalize(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[userID]
	if !ok || current.ID() != conn.ID() {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Lookup returns the live connection for userID. Absence means realtime
// delivery is not possible and the caller should skip it.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[identity.Normalize(userID)]
	return conn, ok
}

// Snapshot returns all currently registered identities, sorted.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports how many identities are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// others returns every registered connection except the one for userID.
func (r *Registry) others(userID string) []Conn {
	userID = identity.Normalize(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]Conn, 0, len(r.conns))
	for id, c := range r.conns {
		if id != userID {
			conns = append(conns, c)
		}
	}
	return conns
}

// all returns every registered connection.
func (r *Registry) all() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
