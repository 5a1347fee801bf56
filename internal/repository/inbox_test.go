package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/keepsync/internal/models"
)

func TestGetMessage(t *testing.T) {
	store, mock, _ := setupMock(t)
	created := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, from_account, headers, payload, created FROM messages`)).
		WithArgs("m-1", "bob").
		WillReturnRows(sqlmock.NewRows([]string{"id", "from_account", "headers", "payload", "created"}).
			AddRow("m-1", "alice", []byte(`{"subject":"hi"}`), []byte(`{"body":1}`), created))

	msg, err := store.Get(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, map[string]string{"subject": "hi"}, msg.Headers)
	assert.JSONEq(t, `{"body":1}`, string(msg.Payload))
	assert.Equal(t, created, msg.Created)
}

func TestGetMessage_NotFound(t *testing.T) {
	store, mock, _ := setupMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM messages`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "from_account", "headers", "payload", "created"}))

	_, err := store.Get(context.Background(), "m-2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetMessage_BadHeaders(t *testing.T) {
	store, mock, _ := setupMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM messages`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "from_account", "headers", "payload", "created"}).
			AddRow("m-1", "alice", []byte(`[1]`), []byte(`{}`), time.Now()))

	_, err := store.Get(context.Background(), "m-1")
	assert.ErrorContains(t, err, "decode headers")
}
