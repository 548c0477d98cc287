package eventcore

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Encryptor is the narrow interface the core uses for payload encryption;
// concrete AEAD/KDF implementations are injected through this interface
// rather than hardcoded into the store.
type Encryptor interface {
	Encrypt(plaintext, additionalData []byte) (ciphertext []byte, err error)
	Decrypt(ciphertext, additionalData []byte) (plaintext []byte, err error)
}

// ChaCha20Poly1305Encryptor is the default Encryptor adapter, built on
// golang.org/x/crypto's AEAD implementation. The nonce is prepended to
// the returned ciphertext.
type ChaCha20Poly1305Encryptor struct {
	key []byte // must be chacha20poly1305.KeySize bytes
}

// NewChaCha20Poly1305Encryptor validates the key length up front so a
// misconfigured key surfaces as a ConfigurationError, not a later
// EncryptionError on the first payload.
func NewChaCha20Poly1305Encryptor(key []byte) (*ChaCha20Poly1305Encryptor, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, &ConfigurationError{Field: "encryption.key", Reason: fmt.Sprintf("want %d bytes, got %d", chacha20poly1305.KeySize, len(key))}
	}
	return &ChaCha20Poly1305Encryptor{key: key}, nil
}

func (e *ChaCha20Poly1305Encryptor) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(e.key)
	if err != nil {
		return nil, &EncryptionError{Reason: err.Error()}
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, &EncryptionError{Reason: fmt.Sprintf("generate nonce: %v", err)}
	}
	sealed := aead.Seal(nil, nonce, plaintext, additionalData)
	return append(nonce, sealed...), nil
}

func (e *ChaCha20Poly1305Encryptor) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(e.key)
	if err != nil {
		return nil, &EncryptionError{Reason: err.Error()}
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, &EncryptionError{Reason: "ciphertext shorter than nonce"}
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return nil, &EncryptionError{Reason: fmt.Sprintf("open: %v", err)}
	}
	return plaintext, nil
}
