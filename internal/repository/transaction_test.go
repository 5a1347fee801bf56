package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/keepsync/internal/models"
)

func TestTx_ContainerChunks(t *testing.T) {
	store, mock, _ := setupMock(t)
	ctx := context.Background()
	payload := &models.SignedPayload{Ciphertext: []byte("ct"), Signature: []byte("sig")}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM containers WHERE owner = $1 AND name_hmac = $2 AND deleted = true`)).
		WithArgs("bob", "h").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO containers (owner, name_hmac) VALUES ($1, $2)`)).
		WithArgs("bob", "h").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO container_session_keys`)).
		WithArgs("bob", "h", []byte("ksig")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO container_session_key_shares`)).
		WithArgs("bob", "h", "bob", []byte("wrapped")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO container_records`)).
		WithArgs("bob", "h", []byte("ct"), []byte("sig")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	for _, c := range []models.Chunk{
		{Type: models.ChunkAddContainer, ContainerNameHmac: "h"},
		{Type: models.ChunkAddContainerSessionKey, ContainerNameHmac: "h", Signature: []byte("ksig")},
		{Type: models.ChunkAddContainerSessionKeyShare, ContainerNameHmac: "h", ToAccount: "bob", SessionKeyCiphertext: []byte("wrapped")},
		{Type: models.ChunkAddContainerRecord, ContainerNameHmac: "h", PayloadCiphertext: payload},
	} {
		require.NoError(t, tx.Save(ctx, c), c.Type)
	}
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_SurvivesCallerCancel(t *testing.T) {
	store, mock, _ := setupMock(t)
	ctx, cancel := context.WithCancel(context.Background())

	mock.ExpectBegin()
	mock.ExpectCommit()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	cancel()
	require.NoError(t, tx.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_RecordForMissingContainer(t *testing.T) {
	store, mock, _ := setupMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO container_records`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	err = tx.Save(ctx, models.Chunk{
		Type:              models.ChunkAddContainerRecord,
		ContainerNameHmac: "h",
		PayloadCiphertext: &models.SignedPayload{},
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
	require.NoError(t, tx.Abort(ctx))
	require.NoError(t, tx.Abort(ctx), "second abort is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_DeleteContainer(t *testing.T) {
	store, mock, _ := setupMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE containers SET deleted = true, deleted_at = now()`)).
		WithArgs("bob", "h").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE containers SET deleted = true`)).
		WithArgs("bob", "other").
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Save(ctx, models.Chunk{Type: models.ChunkDeleteContainer, ContainerNameHmac: "h"}))
	err = tx.Save(ctx, models.Chunk{Type: models.ChunkDeleteContainer, ContainerNameHmac: "other"})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_RejectsBadChunks(t *testing.T) {
	store, mock, _ := setupMock(t)
	ctx := context.Background()
	mock.ExpectBegin()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	assert.ErrorContains(t, tx.Save(ctx, models.Chunk{Type: "bogus"}), "unknown chunk type")
	assert.ErrorContains(t, tx.Save(ctx, models.Chunk{Type: models.ChunkAddContainerRecord}), "missing payload")
}

func TestTx_ExecError(t *testing.T) {
	store, mock, _ := setupMock(t)
	ctx := context.Background()
	boom := errors.New("exec fail")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM containers`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO containers`)).
		WillReturnError(boom)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	err = tx.Save(ctx, models.Chunk{Type: models.ChunkAddContainer, ContainerNameHmac: "h"})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "add container")
}

func TestBegin_Error(t *testing.T) {
	store, mock, _ := setupMock(t)
	mock.ExpectBegin().WillReturnError(errors.New("begin fail"))

	_, err := store.Begin(context.Background())
	assert.ErrorContains(t, err, "begin tx")
}
