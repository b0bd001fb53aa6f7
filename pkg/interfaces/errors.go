package interfaces

import "errors"

// Delivery errors returned by Peer.Send.
var (
	ErrPeerClosed = errors.New("peer connection closed")

	// ErrOutboundOverflow means the peer's outbound queue was full and its
	// overflow policy was applied.
	ErrOutboundOverflow = errors.New("outbound queue overflow")
)
