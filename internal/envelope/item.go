package envelope

import (
	"fmt"

	"github.com/atinyakov/keepsync/internal/models"
)

// SealedItem is the remote representation of an item as seen by one recipient.
type SealedItem struct {
	// SessionKeyCiphertext is the item key wrapped for the recipient.
	SessionKeyCiphertext []byte
	// Value is the sealed value, signed by the creator.
	Value models.SignedPayload
}

// NewItem creates a fresh item key and seals value for the account itself.
func NewItem(c Cipher, acct *models.Account, value []byte) (key []byte, sealed SealedItem, err error) {
	key, err = c.RandomBytes(32)
	if err != nil {
		return nil, SealedItem{}, err
	}
	share, err := c.WrapKey(acct.PubKey, key)
	if err != nil {
		return nil, SealedItem{}, err
	}
	payload, err := Seal(c, key, acct.SignKeyPrivate, value)
	if err != nil {
		return nil, SealedItem{}, err
	}
	return key, SealedItem{SessionKeyCiphertext: share, Value: payload}, nil
}

// OpenItem unwraps the item key with the account's keys and opens the value,
// verifying it was signed by creatorSignPub.
func OpenItem(c Cipher, acct *models.Account, creatorSignPub []byte, sealed SealedItem) (key, value []byte, err error) {
	key, err = c.UnwrapKey(acct.PubKey, acct.PrivKey, sealed.SessionKeyCiphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("unwrap item key: %w", err)
	}
	value, err = Open(c, key, creatorSignPub, sealed.Value)
	if err != nil {
		return nil, nil, err
	}
	return key, value, nil
}
