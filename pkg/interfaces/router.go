package interfaces

// Registry maps identities to live connections.
type Registry interface {
	// Register overwrites any prior mapping for identity.
	Register(identity string, peer Peer)

	// Lookup returns the connection currently registered as identity.
	Lookup(identity string) (Peer, bool)

	// Unregister removes the mapping only if it still points at peer.
	Unregister(identity string, peer Peer) bool

	// Len returns the number of registered identities.
	Len() int
}

// MessageRouter runs the per-connection protocol state machine.
type MessageRouter interface {
	// HandleFrame processes one admitted inbound frame from peer.
	HandleFrame(peer Peer, raw []byte)

	// Disconnect releases whatever peer holds in the registry.
	Disconnect(peer Peer)
}

// Limiter gates inbound frames per remote key.
type Limiter interface {
	Allow(key string) bool
}
