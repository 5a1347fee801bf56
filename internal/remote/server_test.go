package remote

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/zstd"

	"github.com/atinyakov/keepsync/internal/models"
)

type fakeContainer struct {
	shares  map[string][]byte
	records []models.SignedPayload
}

// fakeServer is an in-memory storage service speaking the client's API.
type fakeServer struct {
	mu         sync.Mutex
	peers      map[string]peerResponse
	containers map[string]*fakeContainer
	items      map[string]itemResponse
	txs        map[string][]models.Chunk
	messages   map[string]models.Message
	subscribed []subscribeRequest
	headers    []http.Header
	nextTx     int
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{
		peers:      make(map[string]peerResponse),
		containers: make(map[string]*fakeContainer),
		items:      make(map[string]itemResponse),
		txs:        make(map[string][]models.Chunk),
		messages:   make(map[string]models.Message),
	}

	r := chi.NewRouter()
	r.Use(f.record, decompressBody)
	r.Post("/account", f.register)
	r.Get("/peer/{username}", f.getPeer)
	r.Get("/container/{hmac}/records", f.getRecords)
	r.Post("/transaction", f.beginTx)
	r.Post("/transaction/{id}/chunk", f.saveChunk)
	r.Post("/transaction/{id}/commit", f.commitTx)
	r.Delete("/transaction/{id}", f.abortTx)
	r.Get("/item/{hmac}", f.getItem)
	r.Post("/item", f.createItem)
	r.Put("/item/{hmac}", f.saveItem)
	r.Delete("/item/{hmac}", f.deleteItem)
	r.Get("/inbox/{id}", f.getMessage)
	r.Post("/push/subscribe", f.subscribe)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return f, ts
}

func (f *fakeServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func decompressBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == encodingZstd {
			dec, err := zstd.NewReader(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer dec.Close()
			r.Body = io.NopCloser(dec)
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeServer) register(w http.ResponseWriter, r *http.Request) {
	var req peerResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.peers[req.Username]; ok && !bytes.Equal(p.PubKey, req.PubKey) {
		http.Error(w, "user already exists", http.StatusConflict)
		return
	}
	f.peers[req.Username] = req
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeServer) getPeer(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.peers[chi.URLParam(r, "username")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, p)
}

func (f *fakeServer) getRecords(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[chi.URLParam(r, "hmac")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	after, err := strconv.Atoi(r.URL.Query().Get("after"))
	if err != nil {
		http.Error(w, "bad after", http.StatusBadRequest)
		return
	}
	var records []models.SignedPayload
	if after+1 < len(c.records) {
		records = c.records[after+1:]
	}
	writeJSON(w, recordsResponse{
		SessionKeyShare: c.shares[r.Header.Get(HeaderUsername)],
		Records:         records,
	})
}

func (f *fakeServer) beginTx(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTx++
	id := "tx-" + strconv.Itoa(f.nextTx)
	f.txs[id] = nil
	writeJSON(w, transactionResponse{ID: id})
}

func (f *fakeServer) saveChunk(w http.ResponseWriter, r *http.Request) {
	var chunk models.Chunk
	if err := json.NewDecoder(r.Body).Decode(&chunk); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := chi.URLParam(r, "id")
	if _, ok := f.txs[id]; !ok {
		http.NotFound(w, r)
		return
	}
	f.txs[id] = append(f.txs[id], chunk)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeServer) commitTx(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := chi.URLParam(r, "id")
	chunks, ok := f.txs[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	delete(f.txs, id)
	for _, ch := range chunks {
		c := f.containers[ch.ContainerNameHmac]
		if c == nil && ch.Type != models.ChunkAddContainer {
			http.Error(w, "no such container", http.StatusConflict)
			return
		}
		switch ch.Type {
		case models.ChunkAddContainer:
			f.containers[ch.ContainerNameHmac] = &fakeContainer{shares: make(map[string][]byte)}
		case models.ChunkAddContainerSessionKeyShare:
			c.shares[ch.ToAccount] = ch.SessionKeyCiphertext
		case models.ChunkAddContainerRecord:
			c.records = append(c.records, *ch.PayloadCiphertext)
		case models.ChunkDeleteContainer:
			delete(f.containers, ch.ContainerNameHmac)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeServer) abortTx(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.txs, chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeServer) getItem(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[chi.URLParam(r, "hmac")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, it)
}

func (f *fakeServer) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[req.ItemNameHmac]; ok {
		http.Error(w, "exists", http.StatusConflict)
		return
	}
	it := itemResponse{
		SessionKeyCiphertext: req.SessionKeyCiphertext,
		Value:                req.Value,
		Version:              1,
		ModTime:              time.Now().UTC(),
	}
	f.items[req.ItemNameHmac] = it
	writeJSON(w, versionResponse{Version: it.Version, ModTime: it.ModTime})
}

func (f *fakeServer) saveItem(w http.ResponseWriter, r *http.Request) {
	var req saveItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	hmac := chi.URLParam(r, "hmac")
	it, ok := f.items[hmac]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if req.Version != it.Version+1 {
		http.Error(w, "version conflict", http.StatusConflict)
		return
	}
	it.Value = req.Value
	it.Version = req.Version
	it.ModTime = time.Now().UTC()
	f.items[hmac] = it
	writeJSON(w, versionResponse{Version: it.Version, ModTime: it.ModTime})
}

func (f *fakeServer) deleteItem(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hmac := chi.URLParam(r, "hmac")
	if _, ok := f.items[hmac]; !ok {
		http.NotFound(w, r)
		return
	}
	delete(f.items, hmac)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeServer) getMessage(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[chi.URLParam(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, m)
}

func (f *fakeServer) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.subscribed = append(f.subscribed, req)
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
