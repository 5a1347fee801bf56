package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/models"
)

// Run dispatches notifications from notes until ctx is done, notes is
// closed or the session is closed.
func (s *Session) Run(ctx context.Context, notes <-chan models.Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return ErrClosed
		case n, ok := <-notes:
			if !ok {
				return nil
			}
			s.Dispatch(n)
		}
	}
}

// Dispatch handles n on its own goroutine. Errors are logged; notifications
// arriving after Close are dropped.
func (s *Session) Dispatch(n models.Notification) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.log.Debug("dropping notification after close", zap.String("kind", string(n.Kind)))
		return
	}
	s.handlers.Go(func() {
		if err := s.HandleNotification(s.ctx, n); err != nil {
			s.log.Error("handle notification", zap.String("kind", string(n.Kind)), zap.Error(err))
		}
	})
}

// HandleNotification handles n and waits for it. Malformed notifications
// fail with ErrMalformedNotification before any remote call.
func (s *Session) HandleNotification(ctx context.Context, n models.Notification) error {
	switch n.Kind {
	case models.KindMessage:
		return s.handleMessage(ctx, n.MessageID)
	case models.KindContainerUpdate:
		return s.handleContainerUpdate(ctx, n.ContainerNameHmac)
	case models.KindItemUpdate:
		return s.handleItemUpdate(ctx, n.Item)
	default:
		return fmt.Errorf("kind %q: %w", n.Kind, ErrMalformedNotification)
	}
}

func (s *Session) handleMessage(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("message id: %w", ErrMalformedNotification)
	}
	cctx, cancel := s.callCtx(ctx)
	msg, err := s.inbox.Get(cctx, id)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch message %s: %w", id, err)
	}
	s.Emit(EventMessage, msg)
	return nil
}

// handleContainerUpdate re-syncs the matching cached container. Containers
// that are not cached are ignored.
func (s *Session) handleContainerUpdate(ctx context.Context, nameHmac string) error {
	if nameHmac == "" {
		return fmt.Errorf("container name hmac: %w", ErrMalformedNotification)
	}
	c, err := s.lookupContainer(ctx, nameHmac)
	if err != nil || c == nil {
		return err
	}

	err = s.syncs.Do(ctx, "container:"+nameHmac, func(ctx context.Context) error {
		return s.syncContainer(ctx, c)
	})
	if err != nil {
		s.log.Warn("re-sync cached container", zap.String("container", nameHmac), zap.Error(err))
	}
	if l := c.Listener(); l != nil {
		s.safeCall("container "+nameHmac, func() { l(err) })
	}
	return nil
}

// handleItemUpdate re-syncs a cached item in place, or resolves the creator
// and loads the item when it is not cached yet.
func (s *Session) handleItemUpdate(ctx context.Context, u *models.ItemUpdate) error {
	switch {
	case u == nil:
		return fmt.Errorf("item: %w", ErrMalformedNotification)
	case u.ItemNameHmac == "":
		return fmt.Errorf("item name hmac: %w", ErrMalformedNotification)
	case u.Creator == "":
		return fmt.Errorf("item creator: %w", ErrMalformedNotification)
	case u.ToUsername == "":
		return fmt.Errorf("item recipient: %w", ErrMalformedNotification)
	}
	item, err := s.lookupItem(ctx, u.ItemNameHmac)
	if err != nil {
		return err
	}
	if item != nil {
		return s.resyncNotifiedItem(ctx, item, u.Creator)
	}

	peer, err := s.GetPeer(ctx, u.Creator)
	if err != nil {
		return fmt.Errorf("resolve creator %s: %w", u.Creator, err)
	}
	item, synced, err := s.loadItemOnce(ctx, u.ItemNameHmac, func() *models.Item {
		return models.NewItem("", u.ItemNameHmac, peer)
	})
	if err != nil {
		return err
	}
	if !synced {
		return s.resyncNotifiedItem(ctx, item, u.Creator)
	}
	s.Emit(EventSharedItemSync, item)
	return nil
}

// resyncNotifiedItem re-syncs a cached item after an itemUpdate. The event
// is emitted only on success; the item listener gets the outcome either way.
func (s *Session) resyncNotifiedItem(ctx context.Context, item *models.Item, creator string) error {
	if err := checkCreator(item, creator); err != nil {
		return err
	}
	err := s.resyncItem(ctx, item)
	if err != nil {
		s.log.Warn("re-sync cached item", zap.String("item", item.NameHmac), zap.Error(err))
	} else {
		s.Emit(EventSharedItemSync, item)
	}
	if l := item.Listener(); l != nil {
		s.safeCall("item "+item.NameHmac, func() { l(err) })
	}
	return nil
}
