package types

import "time"

// Presence event kinds recorded by the journal.
const (
	EventOpened = "opened"
	EventBound  = "bound"
	EventClosed = "closed"
)

// PresenceEvent is connection metadata only. Payloads are never recorded.
type PresenceEvent struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Kind         string    `json:"kind"`
	Identity     string    `json:"identity,omitempty"`
	RemoteKey    string    `json:"remote_key"`
	At           time.Time `json:"at"`
}

// Stats is a point-in-time snapshot of relay state.
type Stats struct {
	RegisteredIdentities int     `json:"registered_identities"`
	OpenConnections      int     `json:"open_connections"`
	RateLimitBuckets     int     `json:"rate_limit_buckets"`
	UptimeSeconds        float64 `json:"uptime_seconds"`
}
