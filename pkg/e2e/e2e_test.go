package e2e

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func mustKey(t *testing.T, h string) [KeySize]byte {
	t.Helper()
	b, err := hex.DecodeString(h)
	require.NoError(t, err)
	require.Len(t, b, KeySize)
	var k [KeySize]byte
	copy(k[:], b)
	return k
}

// RFC 7748 section 6.1.
const (
	aliceSecret = "77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a"
	alicePublic = "8520f0098930a754748b7ddcb43ef75a0dbf3a0d26381af4eba4a98eaa9b4e6a"
	bobSecret   = "5dab087e624a8a4b79e17f8b83800ee66f3bb1292618b6fd1c2f8b27ff88e0eb"
	bobPublic   = "de9edb7d7b7dc1b4d35b61c2ece435373f8343c85b78674dadfc7e146f882b4f"
	rawShared   = "4a5d9d5ba4ce2de1728e3bf480350f25e07e21c947d19e3376f09b3c1e161742"
)

func TestKeyPairFromSecret_KnownVector(t *testing.T) {
	kp, err := KeyPairFromSecret(mustKey(t, aliceSecret))
	require.NoError(t, err)
	assert.Equal(t, mustKey(t, alicePublic), kp.Public)

	kp, err = KeyPairFromSecret(mustKey(t, bobSecret))
	require.NoError(t, err)
	assert.Equal(t, mustKey(t, bobPublic), kp.Public)
}

func TestDeriveSharedKey_KnownVector(t *testing.T) {
	h, err := blake2b.New256([]byte("echo/v1/kdf"))
	require.NoError(t, err)
	shared := mustKey(t, rawShared)
	h.Write(shared[:])
	var want [KeySize]byte
	copy(want[:], h.Sum(nil))

	got, err := DeriveSharedKey(mustKey(t, aliceSecret), mustKey(t, bobPublic))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = DeriveSharedKey(mustKey(t, bobSecret), mustKey(t, alicePublic))
	require.NoError(t, err)
	assert.Equal(t, want, got, "both sides derive the same key")
}

func TestDeriveSharedKey_RejectsLowOrderPoint(t *testing.T) {
	kp, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	_, err = DeriveSharedKey(kp.Secret, [KeySize]byte{})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestGenerateKeyPair_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, KeySize)
	a, err := GenerateKeyPair(bytes.NewReader(seed))
	require.NoError(t, err)
	b, err := GenerateKeyPair(bytes.NewReader(seed))
	require.NoError(t, err)
	assert.Equal(t, a.Public, b.Public)

	_, err = GenerateKeyPair(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err, "short random source")
}

func TestSealOpen(t *testing.T) {
	alice, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	bob, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	k1, err := DeriveSharedKey(alice.Secret, bob.Public)
	require.NoError(t, err)
	k2, err := DeriveSharedKey(bob.Secret, alice.Public)
	require.NoError(t, err)

	sealed, err := Seal(&k1, []byte("meet at noon"), nil)
	require.NoError(t, err)
	assert.Len(t, sealed, NonceSize+len("meet at noon")+16)

	plain, err := Open(&k2, sealed)
	require.NoError(t, err)
	assert.Equal(t, "meet at noon", string(plain))
}

func TestOpen_Failures(t *testing.T) {
	var key, other [KeySize]byte
	other[0] = 1

	sealed, err := Seal(&key, []byte("payload"), nil)
	require.NoError(t, err)

	_, err = Open(&other, sealed)
	assert.ErrorIs(t, err, ErrDecrypt, "wrong key")

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = Open(&key, tampered)
	assert.ErrorIs(t, err, ErrDecrypt, "tampered ciphertext")

	_, err = Open(&key, sealed[:NonceSize])
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestSealString_FitsRelayPayload(t *testing.T) {
	var key [KeySize]byte
	key[5] = 42

	data, err := SealString(&key, "hi", nil)
	require.NoError(t, err)
	assert.False(t, strings.ContainsAny(data, "\"\\"), "base64 needs no JSON escaping")

	plain, err := OpenString(&key, data)
	require.NoError(t, err)
	assert.Equal(t, "hi", plain)

	_, err = OpenString(&key, "***")
	assert.Error(t, err)
}

func TestDecodeKey(t *testing.T) {
	kp, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	got, err := DecodeKey(EncodeBase64(kp.Public[:]))
	require.NoError(t, err)
	assert.Equal(t, kp.Public, got)

	_, err = DecodeKey(EncodeBase64([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = DecodeKey("not base64!")
	assert.Error(t, err)
}
