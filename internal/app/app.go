// Package app wires configuration, the selected backend, the session and
// the push source together.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atinyakov/keepsync/internal/account"
	"github.com/atinyakov/keepsync/internal/config"
	"github.com/atinyakov/keepsync/internal/crypto"
	"github.com/atinyakov/keepsync/internal/db"
	"github.com/atinyakov/keepsync/internal/logger"
	"github.com/atinyakov/keepsync/internal/models"
	"github.com/atinyakov/keepsync/internal/push"
	"github.com/atinyakov/keepsync/internal/remote"
	"github.com/atinyakov/keepsync/internal/repository"
	"github.com/atinyakov/keepsync/internal/session"
)

// Backend is everything the session needs from a storage backend, plus
// account registration.
type Backend interface {
	session.PeerFetcher
	session.ContainerSyncer
	session.ItemStore
	session.TxBackend
	session.Inbox
	RegisterAccount(ctx context.Context) error
}

// App is one running client.
type App struct {
	Options *config.Options
	Account *models.Account
	Session *session.Session
	Backend Backend

	log     *zap.Logger
	db      *sql.DB
	closers []func() error
}

// New loads the account and connects the configured backend.
func New(opts *config.Options, log *zap.Logger) (*App, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	acct, err := account.Load(opts.AccountFile, opts.Passphrase)
	if err != nil {
		return nil, err
	}
	if acct.Username != opts.Username {
		return nil, fmt.Errorf("account file belongs to %q, not %q", acct.Username, opts.Username)
	}
	return NewWithAccount(opts, acct, log)
}

// NewWithAccount connects the configured backend for acct.
func NewWithAccount(opts *config.Options, acct *models.Account, log *zap.Logger) (*App, error) {
	a := &App{Options: opts, Account: acct, log: logger.OrNop(log)}

	var err error
	switch opts.Backend {
	case config.BackendHTTP:
		err = a.openHTTP()
	case config.BackendPostgres:
		err = a.openPostgres()
	default:
		err = fmt.Errorf("unknown backend %q", opts.Backend)
	}
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	s, err := session.New(acct, session.Deps{
		Crypto:       crypto.NaCl{},
		Peers:        a.Backend,
		Containers:   a.Backend,
		Items:        a.Backend,
		Transactions: a.Backend,
		Inbox:        a.Backend,
	}, session.WithLogger(a.log), session.WithCallTimeout(opts.CallTimeout))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Session = s
	a.closers = append([]func() error{s.Close}, a.closers...)
	return a, nil
}

func (a *App) openHTTP() error {
	hc := &http.Client{Timeout: a.Options.CallTimeout}
	if a.Options.CertFile != "" {
		var err error
		if hc, err = remote.NewMTLSClient(a.Options.CertFile, a.Options.KeyFile, a.Options.CAFile, a.Options.CallTimeout); err != nil {
			return err
		}
	}
	opts := []remote.Option{remote.WithLogger(a.log)}
	if a.Options.Compress {
		opts = append(opts, remote.WithCompression())
	}
	c, err := remote.New(hc, a.Options.ServerURL, a.Account, crypto.NaCl{}, opts...)
	if err != nil {
		return err
	}
	a.Backend = c
	a.closers = append(a.closers, c.Close)
	return nil
}

func (a *App) openPostgres() error {
	conn, err := db.InitPostgres(a.Options.DatabaseDSN)
	if err != nil {
		return err
	}
	a.db = conn
	a.closers = append(a.closers, conn.Close)
	store, err := repository.NewPostgresStore(conn, a.Account, crypto.NaCl{}, a.log)
	if err != nil {
		return err
	}
	a.Backend = store
	return nil
}

// Close shuts the session down, then releases the backend.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Register publishes the account's public keys to the backend.
func (a *App) Register(ctx context.Context) error {
	if err := a.Backend.RegisterAccount(ctx); err != nil {
		return fmt.Errorf("register account: %w", err)
	}
	a.log.Info("account registered", zap.String("username", a.Account.Username))
	return nil
}

// PushHandler is the webhook receiver feeding the session.
func (a *App) PushHandler() http.Handler {
	return push.NewRouter(&push.Handler{Dispatcher: a.Session}, a.Options.PushToken, a.log)
}

// Watch keeps the session in sync with the push source until ctx is done.
// Resolved messages and shared item updates are logged.
func (a *App) Watch(ctx context.Context) error {
	a.Session.On(session.EventMessage, func(data any) {
		if m, ok := data.(*models.Message); ok {
			a.log.Info("message received", zap.String("id", m.ID), zap.String("from", m.From))
		}
	})
	a.Session.On(session.EventSharedItemSync, func(data any) {
		if it, ok := data.(*models.Item); ok {
			a.log.Info("shared item synced", zap.String("item", it.NameHmac), zap.Int64("version", it.Version()))
		}
	})

	var err error
	if a.db != nil {
		err = a.watchPostgres(ctx)
	} else {
		err = a.watchHTTP(ctx)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) watchPostgres(ctx context.Context) error {
	if a.Options.TombstoneInterval > 0 {
		db.StartTombstoneCleaner(ctx, a.db, a.Options.TombstoneInterval, a.Options.TombstoneRetention, a.log)
	}
	notes, err := repository.NewPushListener(a.Options.DatabaseDSN, a.Account.Username, a.log).Listen(ctx)
	if err != nil {
		return err
	}
	a.log.Info("listening for push notifications", zap.String("channel", db.PushChannel))
	return a.Session.Run(ctx, notes)
}

func (a *App) watchHTTP(ctx context.Context) error {
	if a.Options.PushToken == "" {
		return errors.New("push-token is required to receive push notifications")
	}
	ln, err := net.Listen("tcp", a.Options.PushListen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.Options.PushListen, err)
	}
	srv := &http.Server{Handler: a.PushHandler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("starting push receiver", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.Options.PushURL != "" {
		g.Go(func() error {
			c, ok := a.Backend.(*remote.Client)
			if !ok {
				return nil
			}
			if err := c.Subscribe(gctx, a.Options.PushURL, a.Options.PushToken); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			a.log.Info("push subscription registered", zap.String("url", a.Options.PushURL))
			return nil
		})
	}
	return g.Wait()
}
