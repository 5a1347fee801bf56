package models

import (
	"sync/atomic"
	"time"
)

// TrustStateContainer is the reserved container name holding pinned fingerprints.
const TrustStateContainer = "_trust_state"

// TrustKeysField is the trust-state container key under which records live.
const TrustKeysField = "keys"

// Peer represents a remote identity.
type Peer struct {
	// Username identifies the peer account.
	Username string
	// PubKey is the peer's public encryption key.
	PubKey []byte
	// SignKeyPub is the peer's public signing key.
	SignKeyPub []byte
	// SignKeyPrivate is only set on the self peer.
	SignKeyPrivate []byte
	// Fingerprint is the digest of the peer's public key material, set once fetched.
	Fingerprint string

	trusted atomic.Bool
}

// IsTrusted reports whether the peer's fingerprint matched a pinned record
// or the peer represents the local account.
func (p *Peer) IsTrusted() bool {
	return p.trusted.Load()
}

// SetTrusted updates the trust flag.
func (p *Peer) SetTrusted(v bool) {
	p.trusted.Store(v)
}

// TrustRecord is a previously observed fingerprint for a username.
type TrustRecord struct {
	// Fingerprint is the pinned fingerprint.
	Fingerprint string `json:"fingerprint"`
	// TrustedAt is the time the fingerprint was pinned.
	TrustedAt time.Time `json:"trustedAt"`
}
