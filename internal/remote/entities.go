package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/envelope"
	"github.com/atinyakov/keepsync/internal/models"
)

// RegisterAccount publishes the account's public keys. Registering an
// already registered account with the same keys succeeds.
func (c *Client) RegisterAccount(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/account", peerResponse{
		Username:   c.account.Username,
		PubKey:     c.account.PubKey,
		SignKeyPub: c.account.SignKeyPub,
	}, nil)
}

// FetchPeer fills in the peer's public keys and fingerprint.
func (c *Client) FetchPeer(ctx context.Context, p *models.Peer) error {
	var resp peerResponse
	if err := c.do(ctx, http.MethodGet, "/peer/"+url.PathEscape(p.Username), nil, &resp); err != nil {
		return err
	}
	if resp.Username != p.Username {
		return fmt.Errorf("invalid response: asked for peer %q, got %q", p.Username, resp.Username)
	}
	if len(resp.PubKey) == 0 || len(resp.SignKeyPub) == 0 {
		return fmt.Errorf("invalid response: peer %q has no public keys", p.Username)
	}
	p.PubKey = resp.PubKey
	p.SignKeyPub = resp.SignKeyPub
	p.Fingerprint = c.crypto.Fingerprint(resp.PubKey, resp.SignKeyPub)
	return nil
}

// SyncContainer unwraps the session key on first sync and applies the
// records newer than the container's index. Records must be signed by the
// container owner.
func (c *Client) SyncContainer(ctx context.Context, ct *models.Container) error {
	owner, signPub := c.account.Username, c.account.SignKeyPub
	if ct.Peer != nil {
		owner, signPub = ct.Peer.Username, ct.Peer.SignKeyPub
	}
	if len(signPub) == 0 {
		return fmt.Errorf("container owner %s has no signing key", owner)
	}

	q := url.Values{"after": {strconv.FormatInt(ct.RecordIndex(), 10)}}
	if owner != c.account.Username {
		q.Set("owner", owner)
	}
	var resp recordsResponse
	path := "/container/" + url.PathEscape(ct.NameHmac) + "/records?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	n, err := envelope.Refresh(c.crypto, c.account, ct, signPub, resp.SessionKeyShare, resp.Records)
	if err != nil {
		return err
	}
	c.log.Debug("container synced",
		zap.String("container", ct.NameHmac),
		zap.Int("applied", n),
		zap.Int64("record_index", ct.RecordIndex()),
	)
	return nil
}

// SyncItem refreshes item in place. The account's own named items are
// created when they do not exist yet.
func (c *Client) SyncItem(ctx context.Context, item *models.Item) error {
	if item.Creator == nil {
		return errors.New("item has no creator")
	}
	var resp itemResponse
	path := "/item/" + url.PathEscape(item.NameHmac) + "?" + url.Values{"creator": {item.Creator.Username}}.Encode()
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if errors.Is(err, models.ErrNotFound) && item.Name != "" && item.Creator.Username == c.account.Username {
		return c.createItem(ctx, item)
	}
	if err != nil {
		return err
	}

	key, value, err := envelope.OpenItem(c.crypto, c.account, item.Creator.SignKeyPub, envelope.SealedItem{
		SessionKeyCiphertext: resp.SessionKeyCiphertext,
		Value:                resp.Value,
	})
	if err != nil {
		return fmt.Errorf("open item %s: %w", item.NameHmac, err)
	}
	item.Update(key, value, resp.Version, resp.ModTime)
	return nil
}

func (c *Client) createItem(ctx context.Context, item *models.Item) error {
	key, sealed, err := envelope.NewItem(c.crypto, c.account, nil)
	if err != nil {
		return err
	}
	var resp versionResponse
	err = c.do(ctx, http.MethodPost, "/item", createItemRequest{
		ItemNameHmac:         item.NameHmac,
		SessionKeyCiphertext: sealed.SessionKeyCiphertext,
		Value:                sealed.Value,
	}, &resp)
	if err != nil {
		return fmt.Errorf("create item %s: %w", item.NameHmac, err)
	}
	item.Update(key, nil, resp.Version, resp.ModTime)
	return nil
}

// SaveItem seals value under the item key as the next version.
func (c *Client) SaveItem(ctx context.Context, item *models.Item, value []byte) error {
	key := item.SessionKey()
	if len(key) == 0 {
		return fmt.Errorf("item %s has not been synced", item.NameHmac)
	}
	payload, err := envelope.Seal(c.crypto, key, c.account.SignKeyPrivate, value)
	if err != nil {
		return err
	}
	var resp versionResponse
	err = c.do(ctx, http.MethodPut, "/item/"+url.PathEscape(item.NameHmac), saveItemRequest{
		Value:   payload,
		Version: item.Version() + 1,
	}, &resp)
	if err != nil {
		return err
	}
	item.Update(key, value, resp.Version, resp.ModTime)
	return nil
}

// RemoveItem deletes the item and marks it deleted once the server confirms.
func (c *Client) RemoveItem(ctx context.Context, item *models.Item) error {
	if err := c.do(ctx, http.MethodDelete, "/item/"+url.PathEscape(item.NameHmac), nil, nil); err != nil {
		return err
	}
	item.MarkDeleted()
	return nil
}

// Get resolves an inbox message.
func (c *Client) Get(ctx context.Context, messageID string) (*models.Message, error) {
	var msg models.Message
	if err := c.do(ctx, http.MethodGet, "/inbox/"+url.PathEscape(messageID), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Subscribe registers a webhook that receives this account's push
// notifications, authenticated with token.
func (c *Client) Subscribe(ctx context.Context, webhookURL, token string) error {
	return c.do(ctx, http.MethodPost, "/push/subscribe", subscribeRequest{URL: webhookURL, Token: token}, nil)
}
