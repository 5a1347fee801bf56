package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const saltSize = 16

// ErrPassphrase is returned when a sealed blob cannot be opened with the
// given passphrase.
var ErrPassphrase = errors.New("wrong passphrase or corrupted data")

func deriveAEADKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

// SealWithPassphrase encrypts plaintext under a key derived from passphrase.
// Output layout: salt || nonce || ciphertext.
func SealWithPassphrase(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveAEADKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	out := append(salt, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// OpenWithPassphrase reverses SealWithPassphrase.
func OpenWithPassphrase(passphrase string, sealed []byte) ([]byte, error) {
	if len(sealed) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, ErrPassphrase
	}
	salt := sealed[:saltSize]
	aead, err := chacha20poly1305.NewX(deriveAEADKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	nonce := sealed[saltSize : saltSize+aead.NonceSize()]
	plain, err := aead.Open(nil, nonce, sealed[saltSize+aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrPassphrase
	}
	return plain, nil
}
