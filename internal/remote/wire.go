package remote

import (
	"time"

	"github.com/atinyakov/keepsync/internal/models"
)

type peerResponse struct {
	Username   string `json:"username"`
	PubKey     []byte `json:"pubKey"`
	SignKeyPub []byte `json:"signKeyPub"`
}

// recordsResponse carries the caller's wrapped session key and the sealed
// records after the requested index, oldest first.
type recordsResponse struct {
	SessionKeyShare []byte                 `json:"sessionKeyShare"`
	Records         []models.SignedPayload `json:"records"`
}

type itemResponse struct {
	SessionKeyCiphertext []byte               `json:"sessionKeyCiphertext"`
	Value                models.SignedPayload `json:"value"`
	Version              int64                `json:"version"`
	ModTime              time.Time            `json:"modTime"`
}

type createItemRequest struct {
	ItemNameHmac         string               `json:"itemNameHmac"`
	SessionKeyCiphertext []byte               `json:"sessionKeyCiphertext"`
	Value                models.SignedPayload `json:"value"`
}

type saveItemRequest struct {
	Value   models.SignedPayload `json:"value"`
	Version int64                `json:"version"`
}

type versionResponse struct {
	Version int64     `json:"version"`
	ModTime time.Time `json:"modTime"`
}

type transactionResponse struct {
	ID string `json:"id"`
}

type subscribeRequest struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}
