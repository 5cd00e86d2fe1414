package cache

import (
	"context"
	"sync"
	"time"

	"github.com/decency/contentfilter/internal/session"
)

// LocalStore is an in-process Store, adequate within a single host: a
// sync.RWMutex-guarded map storing a TTL-stamped snapshot per queue-id. A
// background goroutine sweeps expired entries, since there's no
// server-side TTL to rely on without Redis.
type LocalStore struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	users   map[string]userEntry

	stopOnce sync.Once
	stop     chan struct{}
}

type localEntry struct {
	snap    session.Snapshot
	expires time.Time
}

type userEntry struct {
	user    string
	expires time.Time
}

func NewLocalStore() *LocalStore {
	s := &LocalStore{
		entries: make(map[string]localEntry),
		users:   make(map[string]userEntry),
		stop:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *LocalStore) Set(_ context.Context, queueID string, snap session.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key(queueID)] = localEntry{snap: snap, expires: time.Now().Add(EntryTTL)}
	return nil
}

func (s *LocalStore) Get(_ context.Context, queueID string) (session.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key(queueID)]
	if !ok || time.Now().After(e.expires) {
		return session.Snapshot{}, ErrNotFound
	}
	return e.snap, nil
}

func (s *LocalStore) Touch(_ context.Context, queueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(queueID)
	e, ok := s.entries[k]
	if !ok {
		return nil
	}
	e.expires = time.Now().Add(EntryTTL)
	s.entries[k] = e
	return nil
}

func (s *LocalStore) SetUser(_ context.Context, recipient, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userKey(recipient)] = userEntry{user: user, expires: time.Now().Add(EntryTTL)}
	return nil
}

func (s *LocalStore) GetUser(_ context.Context, recipient string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.users[userKey(recipient)]
	if !ok || time.Now().After(e.expires) {
		return "", ErrNotFound
	}
	return e.user, nil
}

func (s *LocalStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *LocalStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *LocalStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
	for k, e := range s.users {
		if now.After(e.expires) {
			delete(s.users, k)
		}
	}
}
