// Package envelope seals and opens the encrypted payloads stored remotely:
// container records, wrapped session keys and item values. Both backends and
// the session core build on it so that the wire layout is defined once.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atinyakov/keepsync/internal/models"
)

var (
	// ErrSignature is returned when a payload signature does not verify.
	ErrSignature = errors.New("payload signature verification failed")
	// ErrRecordGap is wrapped by RecordGapError.
	ErrRecordGap = errors.New("container records are not contiguous")
)

// RecordGapError reports a record whose index does not follow the last
// applied one, meaning records were withheld or reordered.
type RecordGapError struct {
	// Position is the record's position in the fetched batch.
	Position int
	Want     int64
	Got      int64
}

func (e *RecordGapError) Error() string {
	return fmt.Sprintf("record %d: index %d, want %d: %v", e.Position, e.Got, e.Want, ErrRecordGap)
}

func (e *RecordGapError) Unwrap() error {
	return ErrRecordGap
}

// Sealer encrypts and signs.
type Sealer interface {
	Seal(key, plaintext []byte) ([]byte, error)
	Sign(priv, digest []byte) ([]byte, error)
	Hash(data []byte) []byte
}

// Opener verifies and decrypts.
type Opener interface {
	Open(key, ciphertext []byte) ([]byte, error)
	Verify(pub, digest, sig []byte) bool
	Hash(data []byte) []byte
}

// Keyer generates and wraps symmetric keys.
type Keyer interface {
	RandomBytes(n int) ([]byte, error)
	WrapKey(recipientPub, key []byte) ([]byte, error)
	UnwrapKey(pub, priv, wrapped []byte) ([]byte, error)
}

// Cipher is everything a backend needs.
type Cipher interface {
	Sealer
	Opener
	Keyer
}

// Record is the plaintext of one container record.
type Record struct {
	RecordIndex int64                      `json:"recordIndex"`
	Delta       map[string]json.RawMessage `json:"delta"`
}

// NewRecord encodes each delta value. A nil value encodes as JSON null and
// removes the key when applied.
func NewRecord(index int64, delta map[string]any) (Record, error) {
	rec := Record{RecordIndex: index, Delta: make(map[string]json.RawMessage, len(delta))}
	for k, v := range delta {
		raw, err := json.Marshal(v)
		if err != nil {
			return Record{}, fmt.Errorf("encode delta %q: %w", k, err)
		}
		rec.Delta[k] = raw
	}
	return rec, nil
}

// Seal encrypts plaintext under key and signs the ciphertext hash.
func Seal(s Sealer, key, signPriv, plaintext []byte) (models.SignedPayload, error) {
	ct, err := s.Seal(key, plaintext)
	if err != nil {
		return models.SignedPayload{}, fmt.Errorf("seal payload: %w", err)
	}
	sig, err := s.Sign(signPriv, s.Hash(ct))
	if err != nil {
		return models.SignedPayload{}, fmt.Errorf("sign payload: %w", err)
	}
	return models.SignedPayload{Ciphertext: ct, Signature: sig}, nil
}

// Open verifies the signature with signPub and decrypts.
func Open(o Opener, key, signPub []byte, p models.SignedPayload) ([]byte, error) {
	if !o.Verify(signPub, o.Hash(p.Ciphertext), p.Signature) {
		return nil, ErrSignature
	}
	plain, err := o.Open(key, p.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	return plain, nil
}

// SealRecord encodes and seals a container record.
func SealRecord(s Sealer, key, signPriv []byte, rec Record) (models.SignedPayload, error) {
	if rec.Delta == nil {
		rec.Delta = map[string]json.RawMessage{}
	}
	plain, err := json.Marshal(rec)
	if err != nil {
		return models.SignedPayload{}, fmt.Errorf("encode record: %w", err)
	}
	return Seal(s, key, signPriv, plain)
}

// OpenRecord verifies, decrypts and decodes a container record.
func OpenRecord(o Opener, key, signPub []byte, p models.SignedPayload) (Record, error) {
	plain, err := Open(o, key, signPub, p)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(plain, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// ApplyRecords opens every payload with the container's session key and
// applies the ones newer than the container's current index. Replays are
// skipped; any other index must be the next one, otherwise a RecordGapError
// is returned. It returns the number of records applied.
func ApplyRecords(o Opener, c *models.Container, signPub []byte, payloads []models.SignedPayload) (int, error) {
	key := c.SessionKey()
	if len(key) == 0 {
		return 0, errors.New("container has no session key")
	}
	applied := 0
	for i, p := range payloads {
		rec, err := OpenRecord(o, key, signPub, p)
		if err != nil {
			return applied, fmt.Errorf("record %d: %w", i, err)
		}
		next := c.RecordIndex() + 1
		if rec.RecordIndex < next {
			continue
		}
		if rec.RecordIndex > next {
			return applied, &RecordGapError{Position: i, Want: next, Got: rec.RecordIndex}
		}
		if c.Apply(rec.RecordIndex, rec.Delta) {
			applied++
		}
	}
	return applied, nil
}

// Refresh unwraps the container's session key from share when the container
// has none yet, then applies records signed by signPub.
func Refresh(c Cipher, acct *models.Account, ct *models.Container, signPub, share []byte, records []models.SignedPayload) (int, error) {
	if len(ct.SessionKey()) == 0 {
		if len(share) == 0 {
			return 0, errors.New("no session key share for this account")
		}
		key, err := c.UnwrapKey(acct.PubKey, acct.PrivKey, share)
		if err != nil {
			return 0, fmt.Errorf("unwrap session key: %w", err)
		}
		ct.SetSessionKey(key)
	}
	return ApplyRecords(c, ct, signPub, records)
}
