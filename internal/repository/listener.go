package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/db"
	"github.com/atinyakov/keepsync/internal/logger"
	"github.com/atinyakov/keepsync/internal/models"
)

const (
	minReconnect = 10 * time.Second
	maxReconnect = time.Minute
	pingInterval = 90 * time.Second
)

// pushPayload is the JSON emitted by the schema triggers. To is empty for
// notifications meant for every listener.
type pushPayload struct {
	models.Notification
	To string `json:"to,omitempty"`
}

// decodePushPayload parses a trigger payload and reports whether it is
// addressed to username.
func decodePushPayload(payload, username string) (models.Notification, bool, error) {
	var p pushPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return models.Notification{}, false, fmt.Errorf("decode push payload: %w", err)
	}
	if p.To != "" && p.To != username {
		return models.Notification{}, false, nil
	}
	return p.Notification, true, nil
}

// PushListener turns Postgres NOTIFY events into push notifications for one
// account.
type PushListener struct {
	dsn      string
	username string
	log      *zap.Logger
}

// NewPushListener creates a listener for username's notifications.
func NewPushListener(dsn, username string, log *zap.Logger) *PushListener {
	return &PushListener{dsn: dsn, username: username, log: logger.OrNop(log)}
}

// Listen subscribes to the push channel and delivers notifications until ctx
// is done, then closes the returned channel.
func (p *PushListener) Listen(ctx context.Context) (<-chan models.Notification, error) {
	l := pq.NewListener(p.dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.log.Warn("push listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := l.Listen(db.PushChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("listen %s: %w", db.PushChannel, err)
	}

	out := make(chan models.Notification)
	go func() {
		defer close(out)
		defer l.Close()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Ping(); err != nil {
					p.log.Warn("push listener ping failed", zap.Error(err))
				}
			case n := <-l.Notify:
				// nil after a reconnect; missed events are not replayed.
				if n == nil {
					continue
				}
				note, ok, err := decodePushPayload(n.Extra, p.username)
				if err != nil {
					p.log.Error("dropping push notification", zap.Error(err))
					continue
				}
				if !ok {
					continue
				}
				select {
				case out <- note:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
