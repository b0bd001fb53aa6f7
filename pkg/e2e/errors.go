package e2e

import "errors"

var (
	ErrInvalidKey         = errors.New("e2e: invalid key")
	ErrCiphertextTooShort = errors.New("e2e: ciphertext too short")
	ErrDecrypt            = errors.New("e2e: message authentication failed")
)
