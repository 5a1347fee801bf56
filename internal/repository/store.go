// Package repository implements the session collaborators directly against
// a self-hosted PostgreSQL store.
package repository

import (
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/envelope"
	"github.com/atinyakov/keepsync/internal/logger"
	"github.com/atinyakov/keepsync/internal/models"
)

// ErrStaleVersion is returned when an item changed since it was last synced.
var ErrStaleVersion = errors.New("item version is stale")

// Crypto is what the Postgres backend needs from the crypto provider.
type Crypto interface {
	envelope.Cipher
	Fingerprint(pubKey, signKeyPub []byte) string
}

// PostgresStore serves one account's peers, containers, items, transactions
// and inbox from PostgreSQL.
type PostgresStore struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB

	account *models.Account
	crypto  Crypto
	log     *zap.Logger
}

// NewPostgresStore creates a PostgresStore acting as account.
// db must be a valid connection to a PostgreSQL instance with the schema
// from package db.
func NewPostgresStore(db *sql.DB, account *models.Account, c Crypto, log *zap.Logger) (*PostgresStore, error) {
	if db == nil || account == nil || c == nil {
		return nil, errors.New("repository: db, account and crypto are required")
	}
	return &PostgresStore{DB: db, account: account, crypto: c, log: logger.OrNop(log)}, nil
}
