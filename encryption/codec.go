// Package encryption seals and opens message bodies with the
// per-conversation symmetric key. The cipher is XChaCha20-Poly1305, so
// every stored body is authenticated: a tampered or mis-keyed ciphertext
// fails closed with errors.ErrDecryptionFailed instead of yielding
// garbage plaintext.
package encryption

import (
	"crypto/rand"
	"fmt"

	cerrors "campus-chat/errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of a conversation key in bytes.
const KeySize = chacha20poly1305.KeySize

// GenerateKey returns fresh key material for a new confidential
// conversation. Keys are never rotated.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under key. The random 24-byte nonce is
// prepended to the ciphertext so the result is self-contained.
func Seal(plaintext, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a sealed body. Any authentication failure, including a
// wrong key or a truncated box, comes back as ErrDecryptionFailed;
// callers must treat it as data-integrity evidence, never fall back to
// returning the ciphertext.
func Open(box, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: bad key material", cerrors.ErrDecryptionFailed)
	}
	if len(box) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: truncated ciphertext", cerrors.ErrDecryptionFailed)
	}
	nonce, ciphertext := box[:aead.NonceSize()], box[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", cerrors.ErrDecryptionFailed)
	}
	return plaintext, nil
}
