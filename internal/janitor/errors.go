package janitor

import "errors"

var (
	ErrAlreadyRunning  = errors.New("janitor is already running")
	ErrNotRunning      = errors.New("janitor is not running")
	ErrInvalidInterval = errors.New("janitor interval must be positive")
)
