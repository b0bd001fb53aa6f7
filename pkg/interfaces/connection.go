package interfaces

// Peer is one live client connection as seen by the router.
// Implementations must be safe for concurrent use.
type Peer interface {
	// ID is a unique connection identifier, stable for the connection's life.
	ID() string

	// RemoteKey is the network address used for rate limiting.
	RemoteKey() string

	// Identity returns the bound identity and whether any Hello was accepted.
	Identity() (string, bool)

	// Bind records identity as this connection's claimed name.
	Bind(identity string)

	// Send enqueues an encoded frame without blocking.
	Send(frame []byte) error

	// Close tears the connection down.
	Close() error
}
