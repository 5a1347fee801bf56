// Package crypto provides the primitives the session core consumes:
// name blinding, signatures, symmetric sealing, key wrapping, fingerprints
// and constant-time comparison.
package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/atinyakov/keepsync/internal/models"
)

const (
	// KeySize is the size of symmetric session keys and blinding keys.
	KeySize   = 32
	nonceSize = 24
)

var (
	// ErrDecrypt is returned when a ciphertext fails authentication.
	ErrDecrypt = errors.New("decryption failed")
	// ErrKeySize is returned for keys of the wrong length.
	ErrKeySize = errors.New("invalid key size")
)

// NaCl implements the provider on top of NaCl box/secretbox and ed25519.
// The zero value is ready to use.
type NaCl struct{}

// Blind returns the hex HMAC-SHA256 of name under key. The result is
// deterministic for a given key and name.
func (NaCl) Blind(key []byte, name string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(name))
	return hex.EncodeToString(mac.Sum(nil))
}

// RandomBytes returns n bytes from the system CSPRNG.
func (NaCl) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// Hash returns the SHA-256 digest of data.
func (NaCl) Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Sign signs digest with an ed25519 private key.
func (NaCl) Sign(priv, digest []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("sign: %w", ErrKeySize)
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), digest), nil
}

// Verify checks an ed25519 signature over digest.
func (NaCl) Verify(pub, digest, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest, sig)
}

// Seal encrypts and authenticates plaintext with a 32-byte key.
// The random nonce is prepended to the output.
func (c NaCl) Seal(key, plaintext []byte) ([]byte, error) {
	k, err := toKey(key)
	if err != nil {
		return nil, err
	}
	nonce, err := c.RandomBytes(nonceSize)
	if err != nil {
		return nil, err
	}
	var n [nonceSize]byte
	copy(n[:], nonce)
	return secretbox.Seal(n[:], plaintext, &n, k), nil
}

// Open reverses Seal.
func (NaCl) Open(key, ciphertext []byte) ([]byte, error) {
	k, err := toKey(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	var n [nonceSize]byte
	copy(n[:], ciphertext[:nonceSize])
	out, ok := secretbox.Open(nil, ciphertext[nonceSize:], &n, k)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}

// WrapKey seals a symmetric key for the holder of recipientPub.
func (NaCl) WrapKey(recipientPub, key []byte) ([]byte, error) {
	pub, err := toKey(recipientPub)
	if err != nil {
		return nil, fmt.Errorf("wrap key: %w", err)
	}
	out, err := box.SealAnonymous(nil, key, pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("wrap key: %w", err)
	}
	return out, nil
}

// UnwrapKey opens a key sealed with WrapKey.
func (NaCl) UnwrapKey(pub, priv, wrapped []byte) ([]byte, error) {
	pk, err := toKey(pub)
	if err != nil {
		return nil, fmt.Errorf("unwrap key: %w", err)
	}
	sk, err := toKey(priv)
	if err != nil {
		return nil, fmt.Errorf("unwrap key: %w", err)
	}
	out, ok := box.OpenAnonymous(nil, wrapped, pk, sk)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}

// Fingerprint returns the hex BLAKE2b-256 digest of a peer's public
// encryption and signing keys.
func (NaCl) Fingerprint(pubKey, signKeyPub []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write(pubKey)
	h.Write(signKeyPub)
	return hex.EncodeToString(h.Sum(nil))
}

// Equal compares two strings in constant time.
func (NaCl) Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewAccount generates fresh key material for username.
func NewAccount(username string) (*models.Account, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate box key: %w", err)
	}
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate sign key: %w", err)
	}
	var c NaCl
	containerKey, err := c.RandomBytes(KeySize)
	if err != nil {
		return nil, err
	}
	itemKey, err := c.RandomBytes(KeySize)
	if err != nil {
		return nil, err
	}
	return &models.Account{
		Username:             username,
		PubKey:               pub[:],
		PrivKey:              priv[:],
		SignKeyPub:           signPub,
		SignKeyPrivate:       signPriv,
		ContainerNameHmacKey: containerKey,
		ItemNameHmacKey:      itemKey,
	}, nil
}

func toKey(b []byte) (*[KeySize]byte, error) {
	if len(b) != KeySize {
		return nil, ErrKeySize
	}
	var k [KeySize]byte
	copy(k[:], b)
	return &k, nil
}
