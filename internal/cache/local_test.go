package cache

import (
	"context"
	"testing"
	"time"

	"github.com/decency/contentfilter/internal/session"
)

func TestLocalStoreSetGet(t *testing.T) {
	s := NewLocalStore()
	defer s.Close()
	ctx := context.Background()

	snap := session.Snapshot{QueueID: "QABC", SpamScore: -12, From: "a@example.com"}
	if err := s.Set(ctx, "QABC", snap); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(ctx, "QABC")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SpamScore != -12 || got.From != "a@example.com" {
		t.Errorf("Get = %+v, want matching snapshot", got)
	}
}

func TestLocalStoreGetMissing(t *testing.T) {
	s := NewLocalStore()
	defer s.Close()

	if _, err := s.Get(context.Background(), "NOPE"); err != ErrNotFound {
		t.Errorf("Get on missing key = %v, want ErrNotFound", err)
	}
}

func TestLocalStoreTouchRefreshesExpiry(t *testing.T) {
	s := NewLocalStore()
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "QDEF", session.Snapshot{SpamScore: -1}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s.mu.Lock()
	e := s.entries[key("QDEF")]
	e.expires = time.Now().Add(-time.Second)
	s.entries[key("QDEF")] = e
	s.mu.Unlock()

	if _, err := s.Get(ctx, "QDEF"); err != ErrNotFound {
		t.Fatalf("expired entry should read as ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "QDEF", session.Snapshot{SpamScore: -2}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s.mu.Lock()
	e = s.entries[key("QDEF")]
	e.expires = time.Now().Add(time.Second)
	s.entries[key("QDEF")] = e
	s.mu.Unlock()

	if err := s.Touch(ctx, "QDEF"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	s.mu.RLock()
	remaining := time.Until(s.entries[key("QDEF")].expires)
	s.mu.RUnlock()
	if remaining < EntryTTL-time.Minute {
		t.Errorf("expiry %v away after Touch, want about %v", remaining, EntryTTL)
	}
	if _, err := s.Get(ctx, "QDEF"); err != nil {
		t.Fatalf("Get after Touch: %v", err)
	}
}

func TestLocalStoreTouchMissingIsNoop(t *testing.T) {
	s := NewLocalStore()
	defer s.Close()
	if err := s.Touch(context.Background(), "NEVER-SET"); err != nil {
		t.Errorf("Touch on missing key = %v, want nil", err)
	}
}

func TestQueueCacheFacade(t *testing.T) {
	store := NewLocalStore()
	defer store.Close()
	qc := New(store)

	if err := qc.Save("Q1", session.Snapshot{SpamScore: -3}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap, err := qc.Load("Q1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.SpamScore != -3 {
		t.Errorf("Load = %+v", snap)
	}
	if err := qc.Touch("Q1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
}
