package session

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/envelope"
	"github.com/atinyakov/keepsync/internal/models"
)

// ContainerNameHmac blinds a container name under the account key.
func (s *Session) ContainerNameHmac(name string) string {
	return s.crypto.Blind(s.account.ContainerNameHmacKey, name)
}

// Containers returns the cached containers in discovery order.
func (s *Session) Containers() []*models.Container {
	var out []*models.Container
	_ = s.exec(context.Background(), func() { out = slices.Clone(s.containers) })
	return out
}

// Load returns the cached container called name, fetching and caching it on
// a miss. Concurrent loads of the same name share one fetch.
func (s *Session) Load(ctx context.Context, name string) (*models.Container, error) {
	if name == "" {
		return nil, fmt.Errorf("container name: %w", ErrArgMissing)
	}
	return s.loadContainer(ctx, s.ContainerNameHmac(name), func(ctx context.Context) (*models.Container, error) {
		return s.GetContainer(ctx, name)
	})
}

// LoadWithHmac is Load by blinded name, for containers owned by peer.
// A nil peer means the local account.
func (s *Session) LoadWithHmac(ctx context.Context, nameHmac string, peer *models.Peer) (*models.Container, error) {
	if nameHmac == "" {
		return nil, fmt.Errorf("container name hmac: %w", ErrArgMissing)
	}
	return s.loadContainer(ctx, nameHmac, func(ctx context.Context) (*models.Container, error) {
		return s.GetContainerWithHmac(ctx, nameHmac, peer)
	})
}

func (s *Session) loadContainer(ctx context.Context, nameHmac string, fetch func(context.Context) (*models.Container, error)) (*models.Container, error) {
	if c, err := s.lookupContainer(ctx, nameHmac); err != nil || c != nil {
		return c, err
	}
	v, err, _ := s.loads.Do("container:"+nameHmac, func() (any, error) {
		if c, err := s.lookupContainer(ctx, nameHmac); err != nil || c != nil {
			return c, err
		}
		c, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return s.cacheContainer(context.WithoutCancel(ctx), c)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Container), nil
}

func (s *Session) lookupContainer(ctx context.Context, nameHmac string) (*models.Container, error) {
	var c *models.Container
	err := s.exec(ctx, func() { c = s.containerIndex[nameHmac] })
	return c, err
}

// cacheContainer appends c unless its blinded name is already cached, and
// returns the cached entry.
func (s *Session) cacheContainer(ctx context.Context, c *models.Container) (*models.Container, error) {
	err := s.exec(ctx, func() {
		if existing, ok := s.containerIndex[c.NameHmac]; ok {
			c = existing
			return
		}
		s.containers = append(s.containers, c)
		s.containerIndex[c.NameHmac] = c
	})
	return c, err
}

func (s *Session) evictContainer(ctx context.Context, nameHmac string) error {
	return s.exec(ctx, func() {
		delete(s.containerIndex, nameHmac)
		s.containers = slices.DeleteFunc(s.containers, func(c *models.Container) bool {
			return c.NameHmac == nameHmac
		})
	})
}

// GetContainer fetches the account's container called name, bypassing the
// cache. The result is not cached.
func (s *Session) GetContainer(ctx context.Context, name string) (*models.Container, error) {
	if name == "" {
		return nil, fmt.Errorf("container name: %w", ErrArgMissing)
	}
	c := models.NewContainer(name, s.ContainerNameHmac(name), s.CreateSelfPeer())
	if err := s.syncContainer(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetContainerWithHmac fetches a container by blinded name on behalf of
// peer, bypassing the cache. A nil peer means the local account.
func (s *Session) GetContainerWithHmac(ctx context.Context, nameHmac string, peer *models.Peer) (*models.Container, error) {
	if nameHmac == "" {
		return nil, fmt.Errorf("container name hmac: %w", ErrArgMissing)
	}
	if peer == nil {
		peer = s.CreateSelfPeer()
	}
	c := models.NewContainer("", nameHmac, peer)
	if err := s.syncContainer(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Session) syncContainer(ctx context.Context, c *models.Container) error {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.containerDB.SyncContainer(cctx, c); err != nil {
		if errors.Is(err, envelope.ErrSignature) || errors.Is(err, envelope.ErrRecordGap) {
			s.log.Error("container records failed verification",
				zap.String("container", c.NameHmac), zap.Error(err))
		}
		return fmt.Errorf("sync container %s: %w", c.NameHmac, err)
	}
	return nil
}

// Create stores a new empty container called name and caches it once the
// transaction commits. It fails with ErrContainerExists if the name is
// already cached.
func (s *Session) Create(ctx context.Context, name string) (*models.Container, error) {
	if name == "" {
		return nil, fmt.Errorf("container name: %w", ErrArgMissing)
	}
	nameHmac := s.ContainerNameHmac(name)

	unlock := s.writeLocks.Lock("container:" + nameHmac)
	defer unlock()

	if c, err := s.lookupContainer(ctx, nameHmac); err != nil {
		return nil, err
	} else if c != nil {
		return nil, fmt.Errorf("create %s: %w", nameHmac, ErrContainerExists)
	}

	self := s.CreateSelfPeer()
	key, err := s.crypto.RandomBytes(sessionKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	share, err := s.crypto.WrapKey(self.PubKey, key)
	if err != nil {
		return nil, fmt.Errorf("wrap session key: %w", err)
	}
	keySig, err := s.crypto.Sign(s.account.SignKeyPrivate, s.crypto.Hash(share))
	if err != nil {
		return nil, fmt.Errorf("sign session key: %w", err)
	}
	payload, err := envelope.SealRecord(s.crypto, key, s.account.SignKeyPrivate, envelope.Record{RecordIndex: 0})
	if err != nil {
		return nil, err
	}

	chunks := []models.Chunk{
		{Type: models.ChunkAddContainer, ContainerNameHmac: nameHmac},
		{Type: models.ChunkAddContainerSessionKey, ContainerNameHmac: nameHmac, Signature: keySig},
		{
			Type:                 models.ChunkAddContainerSessionKeyShare,
			ContainerNameHmac:    nameHmac,
			ToAccount:            self.Username,
			SessionKeyCiphertext: share,
		},
		{Type: models.ChunkAddContainerRecord, ContainerNameHmac: nameHmac, PayloadCiphertext: &payload},
	}
	if err := s.commit(ctx, chunks); err != nil {
		return nil, err
	}

	c := models.NewContainer(name, nameHmac, self)
	c.SetSessionKey(key)
	c.Apply(0, nil)
	return s.cacheContainer(context.WithoutCancel(ctx), c)
}

// DeleteContainer removes the account's container called name remotely and
// evicts it from the cache.
func (s *Session) DeleteContainer(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("container name: %w", ErrArgMissing)
	}
	nameHmac := s.ContainerNameHmac(name)

	unlock := s.writeLocks.Lock("container:" + nameHmac)
	defer unlock()

	chunk := models.Chunk{Type: models.ChunkDeleteContainer, ContainerNameHmac: nameHmac}
	if err := s.commit(ctx, []models.Chunk{chunk}); err != nil {
		return err
	}
	return s.evictContainer(context.WithoutCancel(ctx), nameHmac)
}

// SaveContainer appends delta as the container's next record. Top-level
// keys are replaced and a nil value removes the key. Only the owner may
// write.
func (s *Session) SaveContainer(ctx context.Context, c *models.Container, delta map[string]any) error {
	if c == nil {
		return fmt.Errorf("container: %w", ErrArgMissing)
	}
	unlock := s.writeLocks.Lock("container:" + c.NameHmac)
	defer unlock()
	return s.appendRecord(ctx, c, delta)
}

// appendRecord is SaveContainer without locking.
func (s *Session) appendRecord(ctx context.Context, c *models.Container, delta map[string]any) error {
	if c.Peer != nil && c.Peer.Username != s.account.Username {
		return fmt.Errorf("save container %s: %w", c.NameHmac, ErrNotOwner)
	}
	key := c.SessionKey()
	if len(key) == 0 {
		return fmt.Errorf("save container %s: %w", c.NameHmac, ErrNoSessionKey)
	}

	rec, err := envelope.NewRecord(c.RecordIndex()+1, delta)
	if err != nil {
		return err
	}
	payload, err := envelope.SealRecord(s.crypto, key, s.account.SignKeyPrivate, rec)
	if err != nil {
		return err
	}
	chunk := models.Chunk{
		Type:              models.ChunkAddContainerRecord,
		ContainerNameHmac: c.NameHmac,
		PayloadCiphertext: &payload,
	}
	if err := s.commit(ctx, []models.Chunk{chunk}); err != nil {
		return err
	}
	c.Apply(rec.RecordIndex, rec.Delta)
	return nil
}
