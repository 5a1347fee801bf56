package session

import (
	"context"

	"github.com/atinyakov/keepsync/internal/models"
)

// Crypto is the subset of the crypto provider the core consumes.
type Crypto interface {
	// Blind returns the deterministic keyed hash of name.
	Blind(key []byte, name string) string
	RandomBytes(n int) ([]byte, error)
	Hash(data []byte) []byte
	Sign(priv, digest []byte) ([]byte, error)
	// Seal is authenticated symmetric encryption.
	Seal(key, plaintext []byte) ([]byte, error)
	// WrapKey encrypts a symmetric key for the holder of recipientPub.
	WrapKey(recipientPub, key []byte) ([]byte, error)
	Fingerprint(pubKey, signKeyPub []byte) string
	// Equal compares in constant time.
	Equal(a, b string) bool
}

// PeerFetcher populates a peer's public keys and fingerprint.
type PeerFetcher interface {
	FetchPeer(ctx context.Context, peer *models.Peer) error
}

// ContainerSyncer refreshes a container in place. Implementations unwrap the
// session key on first sync and apply records newer than RecordIndex.
type ContainerSyncer interface {
	SyncContainer(ctx context.Context, c *models.Container) error
}

// ItemStore reads and writes items. SyncItem refreshes the item in place;
// when the item carries a plaintext name and does not exist yet, it is
// created for its creator.
type ItemStore interface {
	SyncItem(ctx context.Context, item *models.Item) error
	SaveItem(ctx context.Context, item *models.Item, value []byte) error
	// RemoveItem deletes the item remotely and marks it deleted on success.
	RemoveItem(ctx context.Context, item *models.Item) error
}

// TxBackend opens remote write transactions.
type TxBackend interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx applies chunks in order and commits or aborts them as a unit.
type Tx interface {
	Save(ctx context.Context, chunk models.Chunk) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Inbox resolves message identifiers carried by push notifications.
type Inbox interface {
	Get(ctx context.Context, messageID string) (*models.Message, error)
}
