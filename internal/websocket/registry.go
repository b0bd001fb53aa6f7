package websocket

import (
	"sync"

	"echorelay/pkg/interfaces"
)

// Registry maps claimed identities to live connections.
// The map is only reachable through its methods.
type Registry struct {
	mu         sync.RWMutex
	identities map[string]interfaces.Peer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		identities: make(map[string]interfaces.Peer),
	}
}

// Register maps identity to peer, silently replacing any earlier
// connection. The displaced connection stays open.
func (r *Registry) Register(identity string, peer interfaces.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities[identity] = peer
}

// Lookup returns the connection currently registered as identity.
func (r *Registry) Lookup(identity string) (interfaces.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.identities[identity]
	return peer, ok
}

// Unregister removes identity only while it still maps to this exact
// connection, so a late close of a superseded connection cannot evict
// its successor. It reports whether an entry was removed.
func (r *Registry) Unregister(identity string, peer interfaces.Peer) bool {
	if peer == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.identities[identity]
	if !ok || current != peer {
		return false
	}
	delete(r.identities, identity)
	return true
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}
