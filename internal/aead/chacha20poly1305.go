package aead

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"infuse/internal/infuseerr"
)

// chaCha20Poly1305 is the default, always-available Cipher, backed
// by golang.org/x/crypto/chacha20poly1305.
type chaCha20Poly1305 struct{}

// ChaCha20Poly1305 is the default AEAD algorithm.
var ChaCha20Poly1305 Cipher = chaCha20Poly1305{}

func (chaCha20Poly1305) Name() string      { return "chacha20poly1305" }
func (chaCha20Poly1305) IsAvailable() bool { return true }
func (chaCha20Poly1305) KeySize() int      { return chacha20poly1305.KeySize }

func (chaCha20Poly1305) Seal(key, nonce, ad, plaintext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("aead: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: init cipher: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

func (chaCha20Poly1305) Open(key, nonce, ad, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("aead: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: init cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, infuseerr.ErrUnauthenticated
	}
	return plaintext, nil
}
