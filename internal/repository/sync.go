package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/envelope"
	"github.com/atinyakov/keepsync/internal/models"
)

// SyncContainer unwraps the session key on first sync and applies the
// records newer than the container's index. Records must be signed by the
// container owner.
func (s *PostgresStore) SyncContainer(ctx context.Context, ct *models.Container) error {
	owner, signPub := s.account.Username, s.account.SignKeyPub
	if ct.Peer != nil {
		owner, signPub = ct.Peer.Username, ct.Peer.SignKeyPub
	}
	if len(signPub) == 0 {
		return fmt.Errorf("container owner %s has no signing key", owner)
	}

	var share []byte
	err := s.DB.QueryRowContext(ctx, `
		SELECT s.session_key_ciphertext FROM containers c
		LEFT JOIN container_session_key_shares s
		  ON s.owner = c.owner AND s.name_hmac = c.name_hmac AND s.to_account = $3
		WHERE c.owner = $1 AND c.name_hmac = $2 AND c.deleted = false
	`, owner, ct.NameHmac, s.account.Username).Scan(&share)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("SyncContainer share: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT ciphertext, signature FROM container_records
		WHERE owner = $1 AND name_hmac = $2 ORDER BY id OFFSET $3
	`, owner, ct.NameHmac, ct.RecordIndex()+1)
	if err != nil {
		return fmt.Errorf("SyncContainer records: %w", err)
	}
	defer rows.Close()

	var records []models.SignedPayload
	for rows.Next() {
		var p models.SignedPayload
		if err := rows.Scan(&p.Ciphertext, &p.Signature); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("SyncContainer records: %w", err)
	}

	n, err := envelope.Refresh(s.crypto, s.account, ct, signPub, share, records)
	if err != nil {
		return err
	}
	s.log.Debug("container synced",
		zap.String("container", ct.NameHmac),
		zap.Int("applied", n),
		zap.Int64("record_index", ct.RecordIndex()),
	)
	return nil
}

// SyncItem refreshes item in place. The account's own named items are
// created when they do not exist yet.
func (s *PostgresStore) SyncItem(ctx context.Context, item *models.Item) error {
	if item.Creator == nil {
		return errors.New("item has no creator")
	}
	var (
		sealed  envelope.SealedItem
		version int64
		modTime time.Time
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT s.session_key_ciphertext, i.ciphertext, i.signature, i.version, i.mod_time FROM items i
		JOIN item_session_key_shares s
		  ON s.creator = i.creator AND s.name_hmac = i.name_hmac AND s.to_account = $3
		WHERE i.creator = $1 AND i.name_hmac = $2 AND i.deleted = false
	`, item.Creator.Username, item.NameHmac, s.account.Username).Scan(
		&sealed.SessionKeyCiphertext, &sealed.Value.Ciphertext, &sealed.Value.Signature, &version, &modTime)
	if errors.Is(err, sql.ErrNoRows) {
		if item.Name != "" && item.Creator.Username == s.account.Username {
			return s.createItem(ctx, item)
		}
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("SyncItem: %w", err)
	}

	key, value, err := envelope.OpenItem(s.crypto, s.account, item.Creator.SignKeyPub, sealed)
	if err != nil {
		return fmt.Errorf("open item %s: %w", item.NameHmac, err)
	}
	item.Update(key, value, version, modTime)
	return nil
}

// createItem inserts an empty item and the creator's own key share.
// A tombstone left by an earlier removal is replaced.
func (s *PostgresStore) createItem(ctx context.Context, item *models.Item) error {
	key, sealed, err := envelope.NewItem(s.crypto, s.account, nil)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	creator := s.account.Username
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM items WHERE creator = $1 AND name_hmac = $2 AND deleted = true
	`, creator, item.NameHmac); err != nil {
		return fmt.Errorf("drop tombstone: %w", err)
	}

	var (
		version int64
		modTime time.Time
	)
	err = tx.QueryRowContext(ctx, `
		INSERT INTO items (creator, name_hmac, ciphertext, signature)
		VALUES ($1, $2, $3, $4) RETURNING version, mod_time
	`, creator, item.NameHmac, sealed.Value.Ciphertext, sealed.Value.Signature).Scan(&version, &modTime)
	if err != nil {
		return fmt.Errorf("create item %s: %w", item.NameHmac, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO item_session_key_shares (creator, name_hmac, to_account, session_key_ciphertext)
		VALUES ($1, $2, $3, $4)
	`, creator, item.NameHmac, creator, sealed.SessionKeyCiphertext); err != nil {
		return fmt.Errorf("share item %s: %w", item.NameHmac, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	item.Update(key, nil, version, modTime)
	return nil
}

// SaveItem seals value under the item key as the next version. It fails with
// ErrStaleVersion when another writer got there first.
func (s *PostgresStore) SaveItem(ctx context.Context, item *models.Item, value []byte) error {
	key := item.SessionKey()
	if len(key) == 0 {
		return fmt.Errorf("item %s has not been synced", item.NameHmac)
	}
	payload, err := envelope.Seal(s.crypto, key, s.account.SignKeyPrivate, value)
	if err != nil {
		return err
	}

	var (
		version int64
		modTime time.Time
	)
	err = s.DB.QueryRowContext(ctx, `
		UPDATE items SET ciphertext = $3, signature = $4, version = version + 1, mod_time = now()
		WHERE creator = $1 AND name_hmac = $2 AND version = $5 AND deleted = false
		RETURNING version, mod_time
	`, s.account.Username, item.NameHmac, payload.Ciphertext, payload.Signature, item.Version()).Scan(&version, &modTime)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("save item %s: %w", item.NameHmac, ErrStaleVersion)
	}
	if err != nil {
		return fmt.Errorf("SaveItem: %w", err)
	}
	item.Update(key, value, version, modTime)
	return nil
}

// RemoveItem soft-deletes the item and marks it deleted.
func (s *PostgresStore) RemoveItem(ctx context.Context, item *models.Item) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE items SET deleted = true, deleted_at = now()
		WHERE creator = $1 AND name_hmac = $2 AND deleted = false
	`, s.account.Username, item.NameHmac)
	if err != nil {
		return fmt.Errorf("RemoveItem: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("RemoveItem: %w", err)
	} else if n == 0 {
		return models.ErrNotFound
	}
	item.MarkDeleted()
	return nil
}
