package models

import (
	"sync"
	"time"
)

// Item is a named, optionally shared encrypted object with a single writer.
// The session keeps exactly one Item per blinded name; sync refreshes it in
// place.
type Item struct {
	// Name is the plaintext name, empty on the shared path.
	Name string
	// NameHmac is the blinded name the item is cached under.
	NameHmac string
	// Creator is the peer that owns and writes the item.
	Creator *Peer

	mu         sync.RWMutex
	sessionKey []byte
	value      []byte
	version    int64
	modTime    time.Time
	deleted    bool
	listener   func(error)
}

// NewItem returns an item handle that has not been synced yet.
func NewItem(name, nameHmac string, creator *Peer) *Item {
	return &Item{Name: name, NameHmac: nameHmac, Creator: creator}
}

// Update replaces the synced state. A version older than the current one is
// ignored and Update reports false.
func (i *Item) Update(sessionKey, value []byte, version int64, modTime time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if version < i.version {
		return false
	}
	i.sessionKey = sessionKey
	i.value = value
	i.version = version
	i.modTime = modTime
	return true
}

// SessionKey returns the item's symmetric key.
func (i *Item) SessionKey() []byte {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.sessionKey
}

// Value returns the decrypted value.
func (i *Item) Value() []byte {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.value
}

// Version returns the server-side version of the value.
func (i *Item) Version() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.version
}

// ModTime returns when the value was last written.
func (i *Item) ModTime() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.modTime
}

// MarkDeleted records that the backend confirmed removal.
func (i *Item) MarkDeleted() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deleted = true
}

// Deleted reports whether removal was confirmed.
func (i *Item) Deleted() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.deleted
}

// OnChange sets the per-instance listener invoked after push-driven re-syncs.
func (i *Item) OnChange(fn func(error)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.listener = fn
}

// Listener returns the per-instance listener, or nil.
func (i *Item) Listener() func(error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.listener
}
