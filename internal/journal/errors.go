package journal

import "errors"

var (
	// ErrDisabled is returned by Open when no database path is configured.
	ErrDisabled = errors.New("presence journal is disabled")

	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("presence journal is closed")
)
