package session

import (
	"context"
	"sync"
)

// syncGuard allows at most one sync per key. Requests arriving while a sync
// runs are folded into a single follow-up run, whose result they all receive.
type syncGuard struct {
	mu      sync.Mutex
	flights map[string]*flight
}

type flight struct {
	waiting []chan error
}

func newSyncGuard() *syncGuard {
	return &syncGuard{flights: make(map[string]*flight)}
}

func (g *syncGuard) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	g.mu.Lock()
	if f, ok := g.flights[key]; ok {
		ch := make(chan error, 1)
		f.waiting = append(f.waiting, ch)
		g.mu.Unlock()
		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &flight{}
	g.flights[key] = f
	g.mu.Unlock()

	err := fn(ctx)
	for {
		g.mu.Lock()
		waiters := f.waiting
		f.waiting = nil
		if len(waiters) == 0 {
			delete(g.flights, key)
			g.mu.Unlock()
			return err
		}
		g.mu.Unlock()

		rerr := fn(ctx)
		for _, ch := range waiters {
			ch <- rerr
		}
	}
}

// keyedMutex serializes writers per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
