// Package cache implements QueueCache, the shared key/value store that
// carries scoring across the ingress/egress boundary and links
// parent/next queue-ids for bounces.
//
// Two backends are provided: Redis, for distributed deployments, and an
// in-process map, adequate within a single host.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/decency/contentfilter/internal/session"
)

// ErrNotFound is returned by Get when no entry exists under the given key
// (either never written, or expired by TTL).
var ErrNotFound = errors.New("cache: entry not found")

// EntryTTL is the TTL every write refreshes to.
const EntryTTL = 600 * time.Second

// Store is the process-safe key/value contract QueueCache backends
// implement. Every write is a total replacement of the key, with no
// read-modify-write protocol; atomicity is therefore only required at
// single-key granularity.
type Store interface {
	// Set writes snap under "QUEUE-"+queueID with EntryTTL, replacing any
	// prior value.
	Set(ctx context.Context, queueID string, snap session.Snapshot) error
	// Get reads back a snapshot, or ErrNotFound.
	Get(ctx context.Context, queueID string) (session.Snapshot, error)
	// Touch refreshes the TTL of an existing key without changing its
	// value (used to keep a predecessor queue-id entry alive across a
	// bounce chain).
	Touch(ctx context.Context, queueID string) error

	// SetUser/GetUser cache a CmdFilter %user% resolution under its
	// recipient address with EntryTTL, separately from queue-id snapshots.
	SetUser(ctx context.Context, recipient, user string) error
	GetUser(ctx context.Context, recipient string) (string, error)

	Close() error
}

// QueueCache is the session.QueueCache-compatible façade a pipeline run
// uses; it binds a Store to a context so Touch has the simple signature
// the session.QueueCache interface expects.
type QueueCache struct {
	store Store
	ctx   context.Context
}

func New(store Store) *QueueCache {
	return &QueueCache{store: store, ctx: context.Background()}
}

func (c *QueueCache) WithContext(ctx context.Context) *QueueCache {
	return &QueueCache{store: c.store, ctx: ctx}
}

func (c *QueueCache) Load(queueID string) (session.Snapshot, error) {
	return c.store.Get(c.ctx, queueID)
}

func (c *QueueCache) Save(queueID string, snap session.Snapshot) error {
	return c.store.Set(c.ctx, queueID, snap)
}

// Touch implements session.QueueCache.
func (c *QueueCache) Touch(queueID string) error {
	return c.store.Touch(c.ctx, queueID)
}

// SaveUser/LoadUser implement cmdfilter.UserCache, letting a CmdFilter
// module cache its %user% resolution per recipient.
func (c *QueueCache) SaveUser(recipient, user string) error {
	return c.store.SetUser(c.ctx, recipient, user)
}

func (c *QueueCache) LoadUser(recipient string) (string, error) {
	return c.store.GetUser(c.ctx, recipient)
}

func (c *QueueCache) Close() error { return c.store.Close() }

func key(queueID string) string {
	return "QUEUE-" + queueID
}

func userKey(recipient string) string {
	return "USER-" + recipient
}

func encode(snap session.Snapshot) (string, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("cache: encode snapshot: %w", err)
	}
	return string(b), nil
}

func decode(raw string) (session.Snapshot, error) {
	var snap session.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("cache: decode snapshot: %w", err)
	}
	return snap, nil
}
