package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/models"
)

// peerEntry is a cached lookup outcome. A peer rejected for an integrity
// failure is cached together with its error.
type peerEntry struct {
	peer *models.Peer
	err  error
}

// CreateSelfPeer returns a trusted peer for the local account, carrying the
// private signing key.
func (s *Session) CreateSelfPeer() *models.Peer {
	p := &models.Peer{
		Username:       s.account.Username,
		PubKey:         s.account.PubKey,
		SignKeyPub:     s.account.SignKeyPub,
		SignKeyPrivate: s.account.SignKeyPrivate,
		Fingerprint:    s.crypto.Fingerprint(s.account.PubKey, s.account.SignKeyPub),
	}
	p.SetTrusted(true)
	return p
}

// GetPeer resolves username to a cached or freshly fetched peer.
//
// A peer without a pinned fingerprint is returned untrusted. A peer whose
// fingerprint differs from the pinned one is returned together with an
// *IntegrityError and must not be used for confidential operations.
func (s *Session) GetPeer(ctx context.Context, username string) (*models.Peer, error) {
	if username == "" {
		return nil, fmt.Errorf("username: %w", ErrArgMissing)
	}
	if e, ok, err := s.cachedPeer(ctx, username); err != nil || ok {
		if err != nil {
			return nil, err
		}
		return e.peer, e.err
	}

	v, err, _ := s.loads.Do("peer:"+username, func() (any, error) {
		if e, ok, err := s.cachedPeer(ctx, username); err != nil || ok {
			return e, err
		}
		e, err := s.resolvePeer(ctx, username)
		if err != nil {
			return nil, err
		}
		return s.cachePeer(context.WithoutCancel(ctx), username, e)
	})
	if err != nil {
		return nil, err
	}
	e := v.(peerEntry)
	return e.peer, e.err
}

func (s *Session) cachedPeer(ctx context.Context, username string) (peerEntry, bool, error) {
	var (
		e  peerEntry
		ok bool
	)
	err := s.exec(ctx, func() { e, ok = s.peers[username] })
	return e, ok, err
}

// cachePeer stores e unless an entry already exists, and returns the
// entry that ends up cached.
func (s *Session) cachePeer(ctx context.Context, username string, e peerEntry) (peerEntry, error) {
	err := s.exec(ctx, func() {
		if existing, ok := s.peers[username]; ok {
			e = existing
			return
		}
		s.peers[username] = e
	})
	return e, err
}

func (s *Session) resolvePeer(ctx context.Context, username string) (peerEntry, error) {
	if username == s.account.Username {
		return peerEntry{peer: s.CreateSelfPeer()}, nil
	}

	peer := &models.Peer{Username: username}
	cctx, cancel := s.callCtx(ctx)
	err := s.peerFetcher.FetchPeer(cctx, peer)
	cancel()
	if err != nil {
		return peerEntry{}, fmt.Errorf("fetch peer %s: %w", username, err)
	}

	_, records, err := s.trustRecords(ctx)
	if err != nil {
		return peerEntry{}, err
	}

	rec, pinned := records[username]
	switch {
	case !pinned:
		peer.SetTrusted(false)
	case !s.crypto.Equal(rec.Fingerprint, peer.Fingerprint):
		peer.SetTrusted(false)
		s.log.Error("peer fingerprint does not match pinned value",
			zap.String("username", username))
		return peerEntry{peer: peer, err: &IntegrityError{Username: username}}, nil
	default:
		peer.SetTrusted(true)
	}
	return peerEntry{peer: peer}, nil
}

// trustRecords loads the trust-state container, creating it on first use,
// and decodes the pinned fingerprints.
func (s *Session) trustRecords(ctx context.Context) (*models.Container, map[string]models.TrustRecord, error) {
	c, err := s.Load(ctx, models.TrustStateContainer)
	if errors.Is(err, models.ErrNotFound) {
		c, err = s.Create(ctx, models.TrustStateContainer)
		if errors.Is(err, ErrContainerExists) {
			c, err = s.Load(ctx, models.TrustStateContainer)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load trust state: %w", err)
	}

	records := make(map[string]models.TrustRecord)
	if _, err := c.Get(models.TrustKeysField, &records); err != nil {
		return nil, nil, fmt.Errorf("decode trust state: %w", err)
	}
	return c, records, nil
}

// TrustPeer pins peer's current fingerprint and marks it trusted. Pinning a
// username that already has a different fingerprint fails with an
// *IntegrityError.
func (s *Session) TrustPeer(ctx context.Context, peer *models.Peer) error {
	switch {
	case peer == nil || peer.Username == "":
		return fmt.Errorf("peer: %w", ErrArgMissing)
	case peer.Fingerprint == "":
		return fmt.Errorf("peer fingerprint: %w", ErrArgMissing)
	}

	c, _, err := s.trustRecords(ctx)
	if err != nil {
		return err
	}

	unlock := s.writeLocks.Lock("container:" + c.NameHmac)
	defer unlock()

	records := make(map[string]models.TrustRecord)
	if _, err := c.Get(models.TrustKeysField, &records); err != nil {
		return fmt.Errorf("decode trust state: %w", err)
	}
	if rec, ok := records[peer.Username]; ok {
		if !s.crypto.Equal(rec.Fingerprint, peer.Fingerprint) {
			s.log.Error("refusing to pin peer with changed fingerprint",
				zap.String("username", peer.Username))
			return &IntegrityError{Username: peer.Username}
		}
	} else {
		records[peer.Username] = models.TrustRecord{
			Fingerprint: peer.Fingerprint,
			TrustedAt:   time.Now().UTC(),
		}
		if err := s.appendRecord(ctx, c, map[string]any{models.TrustKeysField: records}); err != nil {
			return fmt.Errorf("pin peer %s: %w", peer.Username, err)
		}
	}

	peer.SetTrusted(true)
	return s.exec(context.WithoutCancel(ctx), func() {
		e, ok := s.peers[peer.Username]
		switch {
		case !ok:
			s.peers[peer.Username] = peerEntry{peer: peer}
		case e.err == nil && s.crypto.Equal(e.peer.Fingerprint, peer.Fingerprint):
			e.peer.SetTrusted(true)
		}
	})
}
