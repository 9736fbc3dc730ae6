// Package crypto implements the anonymous-sender sealed box used to encrypt
// GitHub Actions secrets. The construction is libsodium's crypto_box_seal,
// provided by golang.org/x/crypto/nacl/box.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// KeySize is the size in bytes of a Curve25519 public or private key.
const KeySize = 32

var (
	ErrInvalidKeyEncoding = errors.New("public key is not valid base64")
	ErrInvalidKeySize     = errors.New("public key has the wrong size")
	ErrEmptyCiphertext    = errors.New("sealed box produced an empty ciphertext")
	ErrOpenFailed         = errors.New("sealed box could not be opened")
)

// EncryptionError is returned when a secret value cannot be sealed for a
// recipient key.
type EncryptionError struct {
	Reason string
	Err    error
}

func (e *EncryptionError) Error() string {
	if e.Err == nil {
		return "encryption failed: " + e.Reason
	}
	return fmt.Sprintf("encryption failed: %s: %v", e.Reason, e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// SealFunc matches Seal and lets callers substitute the encryptor in tests.
type SealFunc func(publicKey string, plaintext []byte) (string, error)

// Seal decodes a base64 encoded recipient public key, seals plaintext for it
// and returns the base64 encoded ciphertext. Each call uses a fresh ephemeral
// keypair, so sealing the same input twice gives different ciphertexts.
func Seal(publicKey string, plaintext []byte) (string, error) {
	recipient, err := ParsePublicKey(publicKey)
	if err != nil {
		return "", err
	}

	sealed, err := box.SealAnonymous(nil, plaintext, &recipient, rand.Reader)
	if err != nil {
		return "", &EncryptionError{Reason: "seal anonymous", Err: err}
	}
	if len(sealed) == 0 {
		return "", &EncryptionError{Reason: "seal anonymous", Err: ErrEmptyCiphertext}
	}

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// ParsePublicKey decodes the base64 transport encoding of a recipient key.
func ParsePublicKey(publicKey string) ([KeySize]byte, error) {
	var key [KeySize]byte

	raw, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return key, &EncryptionError{Reason: "decode public key", Err: fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)}
	}
	if len(raw) != KeySize {
		return key, &EncryptionError{
			Reason: "decode public key",
			Err:    fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeySize, len(raw), KeySize),
		}
	}

	copy(key[:], raw)
	return key, nil
}
