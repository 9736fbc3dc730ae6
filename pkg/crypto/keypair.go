package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// Keypair is a Curve25519 keypair. GitHub holds the private half of every
// repository key; locally a Keypair is only needed to open sealed boxes when
// verifying the encryptor.
type Keypair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// Generate fills the keypair with fresh random keys.
func (kp *Keypair) Generate() error {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	kp.Public = *pub
	kp.Private = *priv
	return nil
}

// PublicString returns the public key in the base64 form GitHub serves.
func (kp *Keypair) PublicString() string {
	return base64.StdEncoding.EncodeToString(kp.Public[:])
}

// PrivateString returns the base64 encoded private key.
func (kp *Keypair) PrivateString() string {
	return base64.StdEncoding.EncodeToString(kp.Private[:])
}

// Open decrypts a base64 encoded sealed box addressed to this keypair.
func (kp *Keypair) Open(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, ok := box.OpenAnonymous(nil, raw, &kp.Public, &kp.Private)
	if !ok {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}
