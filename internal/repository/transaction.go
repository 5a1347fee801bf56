package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atinyakov/keepsync/internal/models"
	"github.com/atinyakov/keepsync/internal/session"
)

// Tx stages chunks inside a database transaction. Chunks always act on the
// account's own containers.
type Tx struct {
	tx    *sql.Tx
	owner string
}

// Begin opens a transaction. The transaction outlives ctx: it ends only on
// Commit or Abort.
func (s *PostgresStore) Begin(ctx context.Context) (session.Tx, error) {
	tx, err := s.DB.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx, owner: s.account.Username}, nil
}

// Save applies one chunk inside the transaction.
func (t *Tx) Save(ctx context.Context, c models.Chunk) error {
	switch c.Type {
	case models.ChunkAddContainer:
		if _, err := t.tx.ExecContext(ctx, `
			DELETE FROM containers WHERE owner = $1 AND name_hmac = $2 AND deleted = true
		`, t.owner, c.ContainerNameHmac); err != nil {
			return fmt.Errorf("drop tombstone: %w", err)
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO containers (owner, name_hmac) VALUES ($1, $2)
		`, t.owner, c.ContainerNameHmac); err != nil {
			return fmt.Errorf("add container: %w", err)
		}
		return nil

	case models.ChunkAddContainerSessionKey:
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO container_session_keys (owner, name_hmac, signature) VALUES ($1, $2, $3)
			ON CONFLICT (owner, name_hmac) DO UPDATE SET signature = EXCLUDED.signature
		`, t.owner, c.ContainerNameHmac, c.Signature)
		if err != nil {
			return fmt.Errorf("add session key: %w", err)
		}
		return nil

	case models.ChunkAddContainerSessionKeyShare:
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO container_session_key_shares (owner, name_hmac, to_account, session_key_ciphertext)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (owner, name_hmac, to_account) DO UPDATE SET session_key_ciphertext = EXCLUDED.session_key_ciphertext
		`, t.owner, c.ContainerNameHmac, c.ToAccount, c.SessionKeyCiphertext)
		if err != nil {
			return fmt.Errorf("add session key share: %w", err)
		}
		return nil

	case models.ChunkAddContainerRecord:
		if c.PayloadCiphertext == nil {
			return errors.New("add record: missing payload")
		}
		res, err := t.tx.ExecContext(ctx, `
			INSERT INTO container_records (owner, name_hmac, ciphertext, signature)
			SELECT $1, $2, $3, $4
			WHERE EXISTS (SELECT 1 FROM containers WHERE owner = $1 AND name_hmac = $2 AND deleted = false)
		`, t.owner, c.ContainerNameHmac, c.PayloadCiphertext.Ciphertext, c.PayloadCiphertext.Signature)
		return expectRow(res, err, "add record")

	case models.ChunkDeleteContainer:
		res, err := t.tx.ExecContext(ctx, `
			UPDATE containers SET deleted = true, deleted_at = now()
			WHERE owner = $1 AND name_hmac = $2 AND deleted = false
		`, t.owner, c.ContainerNameHmac)
		return expectRow(res, err, "delete container")

	default:
		return fmt.Errorf("unknown chunk type %q", c.Type)
	}
}

// Commit applies every staged chunk atomically.
func (t *Tx) Commit(context.Context) error {
	return t.tx.Commit()
}

// Abort rolls the transaction back. Aborting a finished transaction is a no-op.
func (t *Tx) Abort(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// expectRow turns a statement that touched no rows into ErrNotFound.
func expectRow(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}
