// Package remote implements the session collaborators against the storage
// service's HTTPS API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/envelope"
	"github.com/atinyakov/keepsync/internal/logger"
	"github.com/atinyakov/keepsync/internal/models"
)

// Header names sent with every request.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderUsername  = "X-Username"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// Crypto is what the HTTP backend needs from the crypto provider.
type Crypto interface {
	envelope.Cipher
	Fingerprint(pubKey, signKeyPub []byte) string
}

// StatusError is returned for non-2xx responses other than 404.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Body)
}

// Client talks to the storage service on behalf of one account.
type Client struct {
	http    *http.Client
	baseURL string
	account *models.Account
	crypto  Crypto
	log     *zap.Logger
	zstd    *compressor
}

// Option configures a Client.
type Option func(*Client) error

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) error {
		c.log = logger.OrNop(log)
		return nil
	}
}

// WithCompression enables zstd request bodies and advertises zstd responses.
func WithCompression() Option {
	return func(c *Client) error {
		z, err := newCompressor()
		if err != nil {
			return err
		}
		c.zstd = z
		return nil
	}
}

// New returns a client for baseURL using httpClient, which normally carries
// the account's mTLS certificate.
func New(httpClient *http.Client, baseURL string, account *models.Account, crypto Crypto, opts ...Option) (*Client, error) {
	if httpClient == nil || account == nil || crypto == nil {
		return nil, errors.New("remote: http client, account and crypto are required")
	}
	c := &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		account: account,
		crypto:  crypto,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Close releases compression resources.
func (c *Client) Close() error {
	if c.zstd != nil {
		c.zstd.close()
	}
	return nil
}

// do sends in as JSON and decodes the response into out. Either may be nil.
// A 404 is reported as models.ErrNotFound.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var (
		body     io.Reader
		encoding string
	)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		if c.zstd != nil {
			var ok bool
			if b, ok = c.zstd.compress(b); ok {
				encoding = encodingZstd
			}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set(HeaderRequestID, reqID)
	req.Header.Set(HeaderUsername, c.account.Username)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if c.zstd != nil {
		req.Header.Set("Accept-Encoding", encodingZstd)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("remote call",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", reqID),
		zap.Int("status", resp.StatusCode),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.ErrNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.Header.Get("Content-Encoding") == encodingZstd {
		if c.zstd == nil {
			return errors.New("invalid response: unexpected zstd body")
		}
		if data, err = c.zstd.decompress(data); err != nil {
			return fmt.Errorf("invalid response: %w", err)
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}
