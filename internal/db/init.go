// Package db bootstraps the Postgres store and runs its background jobs.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PushChannel is the LISTEN/NOTIFY channel the schema triggers publish on.
const PushChannel = "keepsync_push"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    username TEXT PRIMARY KEY,
    pub_key BYTEA NOT NULL,
    sign_key_pub BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS containers (
    name_hmac TEXT NOT NULL,
    owner TEXT NOT NULL REFERENCES accounts(username) ON DELETE CASCADE,
    deleted BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at TIMESTAMPTZ,
    PRIMARY KEY (owner, name_hmac)
);

CREATE TABLE IF NOT EXISTS container_session_keys (
    owner TEXT NOT NULL,
    name_hmac TEXT NOT NULL,
    signature BYTEA NOT NULL,
    PRIMARY KEY (owner, name_hmac),
    FOREIGN KEY (owner, name_hmac) REFERENCES containers(owner, name_hmac) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS container_session_key_shares (
    owner TEXT NOT NULL,
    name_hmac TEXT NOT NULL,
    to_account TEXT NOT NULL,
    session_key_ciphertext BYTEA NOT NULL,
    PRIMARY KEY (owner, name_hmac, to_account),
    FOREIGN KEY (owner, name_hmac) REFERENCES containers(owner, name_hmac) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS container_records (
    id BIGSERIAL PRIMARY KEY,
    owner TEXT NOT NULL,
    name_hmac TEXT NOT NULL,
    ciphertext BYTEA NOT NULL,
    signature BYTEA NOT NULL,
    FOREIGN KEY (owner, name_hmac) REFERENCES containers(owner, name_hmac) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS items (
    name_hmac TEXT NOT NULL,
    creator TEXT NOT NULL REFERENCES accounts(username) ON DELETE CASCADE,
    ciphertext BYTEA NOT NULL,
    signature BYTEA NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,
    mod_time TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at TIMESTAMPTZ,
    PRIMARY KEY (creator, name_hmac)
);

CREATE TABLE IF NOT EXISTS item_session_key_shares (
    creator TEXT NOT NULL,
    name_hmac TEXT NOT NULL,
    to_account TEXT NOT NULL,
    session_key_ciphertext BYTEA NOT NULL,
    PRIMARY KEY (creator, name_hmac, to_account),
    FOREIGN KEY (creator, name_hmac) REFERENCES items(creator, name_hmac) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    from_account TEXT NOT NULL,
    to_account TEXT NOT NULL,
    headers JSONB NOT NULL DEFAULT '{}',
    payload JSONB NOT NULL,
    created TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION keepsync_notify_container() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('keepsync_push', json_build_object(
        'kind', 'containerUpdate',
        'containerNameHmac', NEW.name_hmac)::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS container_records_notify ON container_records;
CREATE TRIGGER container_records_notify AFTER INSERT ON container_records
    FOR EACH ROW EXECUTE FUNCTION keepsync_notify_container();

CREATE OR REPLACE FUNCTION keepsync_notify_item() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('keepsync_push', json_build_object(
        'kind', 'itemUpdate',
        'to', s.to_account,
        'item', json_build_object(
            'itemNameHmac', NEW.name_hmac,
            'creator', NEW.creator,
            'toUsername', s.to_account))::text)
      FROM item_session_key_shares s
     WHERE s.creator = NEW.creator AND s.name_hmac = NEW.name_hmac;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS items_notify ON items;
CREATE TRIGGER items_notify AFTER UPDATE OF version ON items
    FOR EACH ROW EXECUTE FUNCTION keepsync_notify_item();

CREATE OR REPLACE FUNCTION keepsync_notify_message() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('keepsync_push', json_build_object(
        'kind', 'message',
        'to', NEW.to_account,
        'messageId', NEW.id)::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS messages_notify ON messages;
CREATE TRIGGER messages_notify AFTER INSERT ON messages
    FOR EACH ROW EXECUTE FUNCTION keepsync_notify_message();
`

// InitPostgres opens the database at dsn and makes sure the schema exists.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func createSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
