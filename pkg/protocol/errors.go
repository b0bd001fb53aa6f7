package protocol

import "errors"

// Decode failures. ErrMalformedFrame is dropped without a reply;
// ErrUnknownType is answered with an unknown_type error frame.
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown frame type")
)
