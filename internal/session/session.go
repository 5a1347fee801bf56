// Package session is the client-side synchronization hub. A Session keeps
// authenticated caches of peers, containers and items, keeps them consistent
// with the remote store through push notifications, verifies peer identities
// against pinned fingerprints and submits multi-chunk writes atomically.
//
// All cache state is owned by a single loop goroutine. Public methods hand
// short closures to that loop and perform remote I/O outside of it, so a
// slow fetch never blocks unrelated lookups.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/atinyakov/keepsync/internal/logger"
	"github.com/atinyakov/keepsync/internal/models"
)

// DefaultCallTimeout bounds every collaborator call unless overridden.
const DefaultCallTimeout = 10 * time.Second

const sessionKeySize = 32

// Deps are the collaborators a session drives.
type Deps struct {
	Crypto       Crypto
	Peers        PeerFetcher
	Containers   ContainerSyncer
	Items        ItemStore
	Transactions TxBackend
	Inbox        Inbox
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCallTimeout bounds each collaborator call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Session) { s.callTimeout = d }
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session is the root object of one authenticated client session.
type Session struct {
	id          string
	account     *models.Account
	crypto      Crypto
	peerFetcher PeerFetcher
	containerDB ContainerSyncer
	itemDB      ItemStore
	txs         TxBackend
	inbox       Inbox
	log         *zap.Logger
	callTimeout time.Duration

	ops  chan func()
	done chan struct{}

	// ctx scopes notification handlers; cancelled by Close.
	ctx      context.Context
	cancel   context.CancelFunc
	closeMu  sync.RWMutex
	closed   bool
	handlers conc.WaitGroup

	// Owned by the loop goroutine.
	peers          map[string]peerEntry
	containers     []*models.Container
	containerIndex map[string]*models.Container
	items          map[string]*models.Item
	events         map[string]Listener

	loads      singleflight.Group
	syncs      *syncGuard
	writeLocks *keyedMutex
}

// New starts a session for account. Every dependency is required.
func New(account *models.Account, deps Deps, opts ...Option) (*Session, error) {
	switch {
	case account == nil:
		return nil, fmt.Errorf("account: %w", ErrArgMissing)
	case deps.Crypto == nil:
		return nil, fmt.Errorf("crypto provider: %w", ErrArgMissing)
	case deps.Peers == nil:
		return nil, fmt.Errorf("peer fetcher: %w", ErrArgMissing)
	case deps.Containers == nil:
		return nil, fmt.Errorf("container syncer: %w", ErrArgMissing)
	case deps.Items == nil:
		return nil, fmt.Errorf("item store: %w", ErrArgMissing)
	case deps.Transactions == nil:
		return nil, fmt.Errorf("transaction backend: %w", ErrArgMissing)
	case deps.Inbox == nil:
		return nil, fmt.Errorf("inbox: %w", ErrArgMissing)
	}

	s := &Session{
		id:             uuid.NewString(),
		account:        account,
		crypto:         deps.Crypto,
		peerFetcher:    deps.Peers,
		containerDB:    deps.Containers,
		itemDB:         deps.Items,
		txs:            deps.Transactions,
		inbox:          deps.Inbox,
		log:            zap.NewNop(),
		callTimeout:    DefaultCallTimeout,
		ops:            make(chan func()),
		done:           make(chan struct{}),
		peers:          make(map[string]peerEntry),
		containerIndex: make(map[string]*models.Container),
		items:          make(map[string]*models.Item),
		events:         make(map[string]Listener),
		syncs:          newSyncGuard(),
		writeLocks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrNop(s.log).With(zap.String("session", s.id))
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.loop()
	return s, nil
}

// ID returns the opaque session identifier.
func (s *Session) ID() string {
	return s.id
}

// Account returns the local account.
func (s *Session) Account() *models.Account {
	return s.account
}

// Close cancels in-flight notification handlers, waits for them and stops
// the loop. Calls after the first are no-ops.
func (s *Session) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.cancel()
	if r := s.handlers.WaitAndRecover(); r != nil {
		s.log.Error("notification handler panicked", zap.String("panic", r.String()))
	}
	close(s.done)
	return nil
}

func (s *Session) loop() {
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.done:
			return
		}
	}
}

// exec runs fn on the loop goroutine and waits for it. fn must not block
// and must not call exec.
func (s *Session) exec(ctx context.Context, fn func()) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}
	select {
	case s.ops <- op:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// callCtx derives the context for one collaborator call.
func (s *Session) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

// safeCall runs an application callback, logging instead of propagating panics.
func (s *Session) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("listener panicked", zap.String("listener", what), zap.Any("panic", r))
		}
	}()
	fn()
}
