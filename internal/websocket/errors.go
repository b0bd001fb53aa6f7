package websocket

import (
	"errors"
	"fmt"

	"echorelay/pkg/interfaces"
)

// Connection errors. Both wrap the interfaces sentinels so the router can
// classify them without importing this package.
var (
	ErrConnectionClosed = fmt.Errorf("websocket: %w", interfaces.ErrPeerClosed)
	ErrQueueOverflow    = fmt.Errorf("websocket: %w", interfaces.ErrOutboundOverflow)
)

// ErrInvalidOverflowPolicy is returned by ParseOverflowPolicy.
var ErrInvalidOverflowPolicy = errors.New("overflow policy must be drop_oldest or disconnect")

// Handler errors.
var ErrHandlerShuttingDown = errors.New("handler is shutting down")
