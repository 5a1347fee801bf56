package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Container is a named, shared, mutable encrypted record store.
//
// Name is empty when the container is only known by its blinded name.
// State is replaced in place by sync so that references held by callers
// stay valid.
type Container struct {
	// Name is the plaintext name, known to the creator only.
	Name string
	// NameHmac is the blinded, network-visible name.
	NameHmac string
	// Peer is the owner; the self peer for the account's own containers.
	Peer *Peer

	mu          sync.RWMutex
	sessionKey  []byte
	recordIndex int64
	state       map[string]json.RawMessage
	listener    func(error)
}

// NewContainer returns an empty container bound to the given names and owner.
func NewContainer(name, nameHmac string, owner *Peer) *Container {
	return &Container{
		Name:        name,
		NameHmac:    nameHmac,
		Peer:        owner,
		recordIndex: -1,
		state:       make(map[string]json.RawMessage),
	}
}

// SessionKey returns the unwrapped symmetric key, or nil before the first sync.
func (c *Container) SessionKey() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionKey
}

// SetSessionKey stores the unwrapped symmetric key.
func (c *Container) SetSessionKey(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionKey = key
}

// RecordIndex returns the index of the last applied record, -1 when none.
func (c *Container) RecordIndex() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recordIndex
}

// Apply merges a record delta into the state. Top-level keys are replaced
// and a JSON null removes the key. Records at or below the current index
// are ignored.
func (c *Container) Apply(index int64, delta map[string]json.RawMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index <= c.recordIndex {
		return false
	}
	for k, v := range delta {
		if string(v) == "null" {
			delete(c.state, k)
			continue
		}
		c.state[k] = v
	}
	c.recordIndex = index
	return true
}

// Get decodes the value stored under key into v.
// It reports false when the key is absent.
func (c *Container) Get(key string, v any) (bool, error) {
	c.mu.RLock()
	raw, ok := c.state[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Keys returns the sorted top-level keys.
func (c *Container) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.state))
	for k := range c.state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalState returns the current state as a JSON object.
func (c *Container) MarshalState() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c.state)
}

// OnChange sets the per-instance listener invoked after push-driven re-syncs.
func (c *Container) OnChange(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = fn
}

// Listener returns the per-instance listener, or nil.
func (c *Container) Listener() func(error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listener
}
