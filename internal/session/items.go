package session

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/atinyakov/keepsync/internal/models"
)

// ItemNameHmac blinds an item name under the account key.
func (s *Session) ItemNameHmac(name string) string {
	return s.crypto.Blind(s.account.ItemNameHmacKey, name)
}

// Items returns the cached items ordered by blinded name.
func (s *Session) Items() []*models.Item {
	var out []*models.Item
	_ = s.exec(context.Background(), func() {
		out = make([]*models.Item, 0, len(s.items))
		for _, item := range s.items {
			out = append(out, item)
		}
	})
	slices.SortFunc(out, func(a, b *models.Item) int { return strings.Compare(a.NameHmac, b.NameHmac) })
	return out
}

// GetOrCreateItem returns the account's item called name, creating it
// remotely if it does not exist yet. The result is cached and repeated calls
// return the same *models.Item.
func (s *Session) GetOrCreateItem(ctx context.Context, name string) (*models.Item, error) {
	if name == "" {
		return nil, fmt.Errorf("item name: %w", ErrArgMissing)
	}
	nameHmac := s.ItemNameHmac(name)
	item, _, err := s.loadItemOnce(ctx, nameHmac, func() *models.Item {
		return models.NewItem(name, nameHmac, s.CreateSelfPeer())
	})
	return item, err
}

// GetSharedItem resolves an item shared by peer. A cached item is re-synced
// in place; otherwise the item is fetched and cached. A cached item created
// by someone else fails with ErrCreatorMismatch.
func (s *Session) GetSharedItem(ctx context.Context, nameHmac string, peer *models.Peer) (*models.Item, error) {
	switch {
	case nameHmac == "":
		return nil, fmt.Errorf("item name hmac: %w", ErrArgMissing)
	case peer == nil:
		return nil, fmt.Errorf("item creator: %w", ErrArgMissing)
	}

	item, err := s.lookupItem(ctx, nameHmac)
	if err != nil {
		return nil, err
	}
	if item == nil {
		item, _, err = s.loadItemOnce(ctx, nameHmac, func() *models.Item {
			return models.NewItem("", nameHmac, peer)
		})
		return item, err
	}
	if err := checkCreator(item, peer.Username); err != nil {
		return nil, err
	}
	if err := s.resyncItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Session) lookupItem(ctx context.Context, nameHmac string) (*models.Item, error) {
	var item *models.Item
	err := s.exec(ctx, func() { item = s.items[nameHmac] })
	return item, err
}

func checkCreator(item *models.Item, username string) error {
	if item.Creator != nil && item.Creator.Username != username {
		return fmt.Errorf("item %s cached for %s, not %s: %w",
			item.NameHmac, item.Creator.Username, username, ErrCreatorMismatch)
	}
	return nil
}

type itemLoad struct {
	item   *models.Item
	synced bool
}

// loadItemOnce returns the cached item for nameHmac or syncs the one built
// by newItem and caches it. Concurrent calls share one sync. synced reports
// whether the returned item comes from that sync rather than the cache.
func (s *Session) loadItemOnce(ctx context.Context, nameHmac string, newItem func() *models.Item) (*models.Item, bool, error) {
	if item, err := s.lookupItem(ctx, nameHmac); err != nil || item != nil {
		return item, false, err
	}
	v, err, _ := s.loads.Do("item:"+nameHmac, func() (any, error) {
		if item, err := s.lookupItem(ctx, nameHmac); err != nil || item != nil {
			return itemLoad{item: item}, err
		}
		item := newItem()
		if err := s.syncItem(ctx, item); err != nil {
			return nil, err
		}
		res := itemLoad{item: item, synced: true}
		err := s.exec(context.WithoutCancel(ctx), func() {
			if existing, ok := s.items[nameHmac]; ok {
				res = itemLoad{item: existing}
				return
			}
			s.items[nameHmac] = item
		})
		return res, err
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(itemLoad)
	return res.item, res.synced, nil
}

func (s *Session) syncItem(ctx context.Context, item *models.Item) error {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.itemDB.SyncItem(cctx, item); err != nil {
		return fmt.Errorf("sync item %s: %w", item.NameHmac, err)
	}
	return nil
}

// resyncItem refreshes a cached item, folding concurrent requests into at
// most one sync in flight.
func (s *Session) resyncItem(ctx context.Context, item *models.Item) error {
	return s.syncs.Do(ctx, "item:"+item.NameHmac, func(ctx context.Context) error {
		return s.syncItem(ctx, item)
	})
}

// SaveItem writes value as the item's next version. Only the creator may
// write.
func (s *Session) SaveItem(ctx context.Context, item *models.Item, value []byte) error {
	if item == nil {
		return fmt.Errorf("item: %w", ErrArgMissing)
	}
	if item.Creator == nil || item.Creator.Username != s.account.Username {
		return fmt.Errorf("save item %s: %w", item.NameHmac, ErrNotOwner)
	}

	unlock := s.writeLocks.Lock("item:" + item.NameHmac)
	defer unlock()

	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.itemDB.SaveItem(cctx, item, value); err != nil {
		return fmt.Errorf("save item %s: %w", item.NameHmac, err)
	}
	return nil
}

// RemoveItem deletes a cached item remotely. The cache entry is evicted only
// after the backend confirms the deletion.
func (s *Session) RemoveItem(ctx context.Context, nameHmac string) error {
	if nameHmac == "" {
		return fmt.Errorf("item name hmac: %w", ErrArgMissing)
	}
	item, err := s.lookupItem(ctx, nameHmac)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("remove %s: %w", nameHmac, ErrItemNotCached)
	}

	unlock := s.writeLocks.Lock("item:" + nameHmac)
	defer unlock()

	cctx, cancel := s.callCtx(ctx)
	err = s.itemDB.RemoveItem(cctx, item)
	cancel()
	if err != nil {
		return fmt.Errorf("remove item %s: %w", nameHmac, err)
	}
	if !item.Deleted() {
		return fmt.Errorf("remove %s: %w", nameHmac, ErrRemoveUnconfirmed)
	}

	return s.exec(context.WithoutCancel(ctx), func() {
		if s.items[nameHmac] == item {
			delete(s.items, nameHmac)
		}
	})
}
