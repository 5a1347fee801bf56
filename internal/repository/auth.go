package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atinyakov/keepsync/internal/models"
)

// AccountExists checks whether an account with the specified username exists.
func (s *PostgresStore) AccountExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(
		ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE username = $1)`,
		username,
	).Scan(&exists)
	return exists, err
}

// RegisterAccount publishes the account's public keys.
// If the username is already taken, the ON CONFLICT DO NOTHING clause prevents an error.
func (s *PostgresStore) RegisterAccount(ctx context.Context) error {
	_, err := s.DB.ExecContext(
		ctx,
		`INSERT INTO accounts (username, pub_key, sign_key_pub) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		s.account.Username, s.account.PubKey, s.account.SignKeyPub,
	)
	return err
}

// FetchPeer fills in the peer's public keys and fingerprint.
func (s *PostgresStore) FetchPeer(ctx context.Context, p *models.Peer) error {
	var pub, signPub []byte
	err := s.DB.QueryRowContext(
		ctx,
		`SELECT pub_key, sign_key_pub FROM accounts WHERE username = $1`,
		p.Username,
	).Scan(&pub, &signPub)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("FetchPeer: %w", err)
	}
	p.PubKey = pub
	p.SignKeyPub = signPub
	p.Fingerprint = s.crypto.Fingerprint(pub, signPub)
	return nil
}
