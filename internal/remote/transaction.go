package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/atinyakov/keepsync/internal/models"
	"github.com/atinyakov/keepsync/internal/session"
)

// Tx is a server-side transaction. Chunks are staged until Commit.
type Tx struct {
	c    *Client
	path string
}

// Begin opens a transaction.
func (c *Client) Begin(ctx context.Context) (session.Tx, error) {
	var resp transactionResponse
	if err := c.do(ctx, http.MethodPost, "/transaction", struct{}{}, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, errors.New("invalid response: empty transaction id")
	}
	return &Tx{c: c, path: "/transaction/" + url.PathEscape(resp.ID)}, nil
}

// Save stages one chunk.
func (t *Tx) Save(ctx context.Context, chunk models.Chunk) error {
	return t.c.do(ctx, http.MethodPost, t.path+"/chunk", chunk, nil)
}

// Commit applies every staged chunk atomically.
func (t *Tx) Commit(ctx context.Context) error {
	return t.c.do(ctx, http.MethodPost, t.path+"/commit", struct{}{}, nil)
}

// Abort discards the transaction.
func (t *Tx) Abort(ctx context.Context) error {
	return t.c.do(ctx, http.MethodDelete, t.path, nil, nil)
}
