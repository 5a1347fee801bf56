package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/account"
	"github.com/atinyakov/keepsync/internal/config"
	"github.com/atinyakov/keepsync/internal/crypto"
	"github.com/atinyakov/keepsync/internal/models"
	"github.com/atinyakov/keepsync/internal/session"
)

// stubService records registrations and subscriptions and serves one inbox
// message.
type stubService struct {
	mu         sync.Mutex
	registered []string
	subscribed []string
}

func (s *stubService) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/account", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.registered = append(s.registered, req.Username)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	r.Post("/push/subscribe", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.subscribed = append(s.subscribed, req.URL)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/inbox/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.Message{ID: chi.URLParam(r, "id"), From: "alice"})
	})
	return r
}

func (s *stubService) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribed...)
}

func httpOptions(serverURL string) *config.Options {
	return &config.Options{
		Username:    "bob",
		Backend:     config.BackendHTTP,
		ServerURL:   serverURL,
		CallTimeout: time.Second,
		PushListen:  "127.0.0.1:0",
		PushToken:   "secret",
	}
}

func newHTTPApp(t *testing.T) (*App, *stubService) {
	t.Helper()
	stub := &stubService{}
	ts := httptest.NewServer(stub.router())
	t.Cleanup(ts.Close)

	acct, err := crypto.NewAccount("bob")
	require.NoError(t, err)
	a, err := NewWithAccount(httpOptions(ts.URL), acct, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, stub
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(&config.Options{Backend: config.BackendHTTP}, nil)
	assert.ErrorContains(t, err, "invalid config")
}

func TestNew_AccountMismatch(t *testing.T) {
	acct, err := crypto.NewAccount("alice")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "account.json")
	require.NoError(t, account.Save(path, "pw", acct))

	opts := httpOptions("https://example.invalid")
	opts.AccountFile = path
	opts.Passphrase = "pw"
	_, err = New(opts, nil)
	assert.ErrorContains(t, err, `belongs to "alice"`)
}

func TestNew_LoadsAccount(t *testing.T) {
	acct, err := crypto.NewAccount("bob")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "account.json")
	require.NoError(t, account.Save(path, "pw", acct))

	opts := httpOptions("https://example.invalid")
	opts.AccountFile = path
	opts.Passphrase = "pw"
	a, err := New(opts, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, acct.PubKey, a.Account.PubKey)
	assert.Equal(t, "bob", a.Session.CreateSelfPeer().Username)
}

func TestRegister(t *testing.T) {
	a, stub := newHTTPApp(t)
	require.NoError(t, a.Register(context.Background()))
	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, []string{"bob"}, stub.registered)
}

func TestPushHandler_DeliversMessage(t *testing.T) {
	a, _ := newHTTPApp(t)
	got := make(chan *models.Message, 1)
	a.Session.On(session.EventMessage, func(data any) {
		got <- data.(*models.Message)
	})

	req := httptest.NewRequest(http.MethodPost, "/push/message", bytes.NewBufferString(`{"messageId":"m-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	a.PushHandler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case m := <-got:
		assert.Equal(t, "m-1", m.ID)
		assert.Equal(t, "alice", m.From)
	case <-time.After(2 * time.Second):
		t.Fatal("message event not emitted")
	}
}

func TestWatch_HTTPSubscribesAndStops(t *testing.T) {
	a, stub := newHTTPApp(t)
	a.Options.PushURL = "https://client.example/push"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Watch(ctx) }()

	require.Eventually(t, func() bool { return len(stub.Subscribed()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestWatch_RequiresPushToken(t *testing.T) {
	a, _ := newHTTPApp(t)
	a.Options.PushToken = ""
	assert.ErrorContains(t, a.Watch(context.Background()), "push-token is required")
}
