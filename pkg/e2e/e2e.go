// Package e2e implements the end-to-end encryption used by relay clients.
// The relay never sees keys or plaintext; it forwards the sealed, base64
// encoded payload as an opaque string.
//
// Two peers exchange X25519 public keys out of band, derive the same
// 32-byte key with DeriveSharedKey and seal payloads with NaCl secretbox:
//
//	key, err := e2e.DeriveSharedKey(mine.Secret, theirPublic)
//	data, err := e2e.SealString(&key, "hello", nil)
package e2e

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24
)

// kdfContext keys the BLAKE2b hash applied to the raw X25519 output.
var kdfContext = []byte("echo/v1/kdf")

// KeyPair is an X25519 key pair.
type KeyPair struct {
	Public [KeySize]byte
	Secret [KeySize]byte
}

// GenerateKeyPair creates a key pair from r, or crypto/rand when r is nil.
func GenerateKeyPair(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	var secret [KeySize]byte
	if _, err := io.ReadFull(r, secret[:]); err != nil {
		return nil, fmt.Errorf("e2e: failed to read random secret: %w", err)
	}
	return KeyPairFromSecret(secret)
}

// KeyPairFromSecret derives the public half of secret.
func KeyPairFromSecret(secret [KeySize]byte) (*KeyPair, error) {
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	kp := &KeyPair{Secret: secret}
	copy(kp.Public[:], pub)
	return kp, nil
}

// DeriveSharedKey computes X25519(secret, peerPublic) and hashes it with
// BLAKE2b-256 keyed by the protocol context. Both peers obtain the same key.
func DeriveSharedKey(secret, peerPublic [KeySize]byte) ([KeySize]byte, error) {
	var key [KeySize]byte

	shared, err := curve25519.X25519(secret[:], peerPublic[:])
	if err != nil {
		// Low-order peer points yield an all-zero output and are rejected.
		return key, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	defer wipe(shared)

	h, err := blake2b.New256(kdfContext)
	if err != nil {
		return key, err
	}
	h.Write(shared)
	copy(key[:], h.Sum(nil))
	return key, nil
}

// Seal encrypts plaintext under key. The output is a random 24-byte nonce
// followed by the secretbox ciphertext. r supplies the nonce; nil means
// crypto/rand.
func Seal(key *[KeySize]byte, plaintext []byte, r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return nil, fmt.Errorf("e2e: failed to read nonce: %w", err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, key), nil
}

// Open reverses Seal.
func Open(key *[KeySize]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < NonceSize+secretbox.Overhead {
		return nil, ErrCiphertextTooShort
	}
	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[NonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// SealString seals plaintext and returns it base64 encoded, ready for a
// relay frame's data field.
func SealString(key *[KeySize]byte, plaintext string, r io.Reader) (string, error) {
	sealed, err := Seal(key, []byte(plaintext), r)
	if err != nil {
		return "", err
	}
	return EncodeBase64(sealed), nil
}

// OpenString reverses SealString.
func OpenString(key *[KeySize]byte, data string) (string, error) {
	sealed, err := DecodeBase64(data)
	if err != nil {
		return "", err
	}
	plaintext, err := Open(key, sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncodeBase64 uses the standard padded alphabet.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("e2e: invalid base64: %w", err)
	}
	return b, nil
}

// DecodeKey parses a base64 encoded 32-byte key.
func DecodeKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	b, err := DecodeBase64(s)
	if err != nil {
		return key, err
	}
	if len(b) != KeySize {
		return key, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(b), KeySize)
	}
	copy(key[:], b)
	return key, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
