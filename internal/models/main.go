// Package models defines the core data structures shared by the session
// core and its backends: accounts, peers, containers, items, transaction
// chunks and push notifications.
package models

import "errors"

// ErrNotFound is returned by backends when a peer, container, item or
// message does not exist remotely.
var ErrNotFound = errors.New("not found")

// Account holds the local user's key material.
type Account struct {
	// Username is the account's login name.
	Username string `json:"username"`
	// PubKey is the public encryption (box) key.
	PubKey []byte `json:"pubKey"`
	// PrivKey is the private encryption (box) key.
	PrivKey []byte `json:"privKey"`
	// SignKeyPub is the public signing key.
	SignKeyPub []byte `json:"signKeyPub"`
	// SignKeyPrivate is the private signing key.
	SignKeyPrivate []byte `json:"signKeyPrivate"`
	// ContainerNameHmacKey blinds container names.
	ContainerNameHmacKey []byte `json:"containerNameHmacKey"`
	// ItemNameHmacKey blinds item names.
	ItemNameHmacKey []byte `json:"itemNameHmacKey"`
}

// SignedPayload is an encrypted blob together with the signature over its hash.
type SignedPayload struct {
	// Ciphertext is the sealed payload.
	Ciphertext []byte `json:"ciphertext"`
	// Signature is the author's signature over the ciphertext hash.
	Signature []byte `json:"signature"`
}
