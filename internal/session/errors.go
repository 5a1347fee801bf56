package session

import (
	"errors"
	"fmt"

	"github.com/atinyakov/keepsync/internal/models"
)

var (
	// ErrArgMissing reports a missing required argument.
	ErrArgMissing = errors.New("missing required argument")
	// ErrContainerExists is returned by Create for a name already cached.
	ErrContainerExists = errors.New("container already exists")
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("session closed")
	// ErrMalformedNotification reports a push payload missing required fields.
	ErrMalformedNotification = errors.New("malformed notification")
	// ErrItemNotCached is returned by RemoveItem for an unknown blinded name.
	ErrItemNotCached = errors.New("item not cached")
	// ErrRemoveUnconfirmed is returned when the backend did not confirm deletion.
	ErrRemoveUnconfirmed = errors.New("item removal not confirmed")
	// ErrPeerMismatch is the integrity failure wrapped by IntegrityError.
	ErrPeerMismatch = errors.New("server has provided malformed peer")
	// ErrNoSessionKey is returned when writing to a container that was never synced.
	ErrNoSessionKey = errors.New("container has no session key")
	// ErrCreatorMismatch is returned when a cached item belongs to another creator.
	ErrCreatorMismatch = errors.New("item creator mismatch")
	// ErrNotOwner is returned when writing an entity owned by another account.
	ErrNotOwner = errors.New("not the owner")
)

// IntegrityError reports that a fetched peer's fingerprint does not match the
// pinned one. The peer must not be used for confidential operations.
type IntegrityError struct {
	Username string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%v: %s", ErrPeerMismatch, e.Username)
}

func (e *IntegrityError) Unwrap() error {
	return ErrPeerMismatch
}

// TransactionError reports the chunk that failed. The transaction was aborted.
type TransactionError struct {
	Index int
	Type  models.ChunkType
	Err   error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction chunk %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
