package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/crypto"
	"github.com/atinyakov/keepsync/internal/models"
	"github.com/atinyakov/keepsync/internal/session"
)

type mockPeers struct {
	calls     atomic.Int32
	FetchFunc func(ctx context.Context, p *models.Peer) error
}

func (m *mockPeers) FetchPeer(ctx context.Context, p *models.Peer) error {
	m.calls.Add(1)
	return m.FetchFunc(ctx, p)
}

type mockContainers struct {
	calls    atomic.Int32
	SyncFunc func(ctx context.Context, c *models.Container) error
}

func (m *mockContainers) SyncContainer(ctx context.Context, c *models.Container) error {
	m.calls.Add(1)
	return m.SyncFunc(ctx, c)
}

type mockItems struct {
	syncs      atomic.Int32
	SyncFunc   func(ctx context.Context, item *models.Item) error
	SaveFunc   func(ctx context.Context, item *models.Item, value []byte) error
	RemoveFunc func(ctx context.Context, item *models.Item) error
}

func (m *mockItems) SyncItem(ctx context.Context, item *models.Item) error {
	m.syncs.Add(1)
	return m.SyncFunc(ctx, item)
}

func (m *mockItems) SaveItem(ctx context.Context, item *models.Item, value []byte) error {
	return m.SaveFunc(ctx, item, value)
}

func (m *mockItems) RemoveItem(ctx context.Context, item *models.Item) error {
	return m.RemoveFunc(ctx, item)
}

type mockTx struct {
	mu        sync.Mutex
	chunks    []models.Chunk
	commits   int
	aborts    int
	SaveFunc  func(i int, c models.Chunk) error
	CommitErr error
}

func (m *mockTx) Save(_ context.Context, c models.Chunk) error {
	m.mu.Lock()
	i := len(m.chunks)
	m.chunks = append(m.chunks, c)
	m.mu.Unlock()
	if m.SaveFunc != nil {
		return m.SaveFunc(i, c)
	}
	return nil
}

func (m *mockTx) Commit(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	return m.CommitErr
}

func (m *mockTx) Abort(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborts++
	return nil
}

func (m *mockTx) Chunks() []models.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Chunk(nil), m.chunks...)
}

type mockTxs struct {
	mu  sync.Mutex
	txs []*mockTx
	// NewTx customizes each opened transaction.
	NewTx    func() *mockTx
	BeginErr error
}

func (m *mockTxs) Begin(context.Context) (session.Tx, error) {
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	tx := &mockTx{}
	if m.NewTx != nil {
		tx = m.NewTx()
	}
	m.mu.Lock()
	m.txs = append(m.txs, tx)
	m.mu.Unlock()
	return tx, nil
}

func (m *mockTxs) Opened() []*mockTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*mockTx(nil), m.txs...)
}

type mockInbox struct {
	GetFunc func(ctx context.Context, id string) (*models.Message, error)
}

func (m *mockInbox) Get(ctx context.Context, id string) (*models.Message, error) {
	return m.GetFunc(ctx, id)
}

type testEnv struct {
	acct       *models.Account
	peers      *mockPeers
	containers *mockContainers
	items      *mockItems
	txs        *mockTxs
	inbox      *mockInbox
	s          *session.Session
}

// newTestEnv starts a session whose backends succeed with empty state.
// Tests replace the mock funcs before exercising the session.
func newTestEnv(t *testing.T, opts ...session.Option) *testEnv {
	t.Helper()
	acct, err := crypto.NewAccount("bob")
	require.NoError(t, err)

	e := &testEnv{
		acct: acct,
		peers: &mockPeers{FetchFunc: func(_ context.Context, p *models.Peer) error {
			p.Fingerprint = "fp-" + p.Username
			return nil
		}},
		containers: &mockContainers{SyncFunc: func(_ context.Context, c *models.Container) error {
			c.SetSessionKey(make([]byte, crypto.KeySize))
			c.Apply(0, nil)
			return nil
		}},
		items: &mockItems{
			SyncFunc: func(context.Context, *models.Item) error { return nil },
			SaveFunc: func(context.Context, *models.Item, []byte) error { return nil },
			RemoveFunc: func(_ context.Context, item *models.Item) error {
				item.MarkDeleted()
				return nil
			},
		},
		txs: &mockTxs{},
		inbox: &mockInbox{GetFunc: func(_ context.Context, id string) (*models.Message, error) {
			return &models.Message{ID: id}, nil
		}},
	}

	e.s, err = session.New(acct, session.Deps{
		Crypto:       crypto.NaCl{},
		Peers:        e.peers,
		Containers:   e.containers,
		Items:        e.items,
		Transactions: e.txs,
		Inbox:        e.inbox,
	}, append([]session.Option{session.WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.s.Close() })
	return e
}

// pinFingerprints makes the trust-state container carry the given records.
func (e *testEnv) pinFingerprints(records map[string]string) {
	trustHmac := e.s.ContainerNameHmac(models.TrustStateContainer)
	keys := make(map[string]models.TrustRecord, len(records))
	for u, fp := range records {
		keys[u] = models.TrustRecord{Fingerprint: fp}
	}
	prev := e.containers.SyncFunc
	e.containers.SyncFunc = func(ctx context.Context, c *models.Container) error {
		if c.NameHmac != trustHmac {
			return prev(ctx, c)
		}
		c.SetSessionKey(make([]byte, crypto.KeySize))
		raw, err := json.Marshal(keys)
		if err != nil {
			return err
		}
		c.Apply(0, map[string]json.RawMessage{models.TrustKeysField: raw})
		return nil
	}
}
