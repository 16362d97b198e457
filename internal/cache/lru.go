// Package cache holds trained model snapshots for the delay predictor,
// either in process or in Redis.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultMaxEntries = 10000

// LRUCache is a bounded in-process cache with per-entry expiry.
type LRUCache struct {
	mu      sync.Mutex
	max     int
	entries map[entryKey]*list.Element
	recency *list.List // front is most recently used
	now     func() time.Time
}

type entryKey struct {
	tenant string
	key    string
}

type entry struct {
	id        entryKey
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most maxEntries values.
func NewLRUCache(maxEntries int) *LRUCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &LRUCache{
		max:     maxEntries,
		entries: make(map[entryKey]*list.Element),
		recency: list.New(),
		now:     time.Now,
	}
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return &domain.ValidationError{Field: "tenantId", Reason: "is required"}
	}
	return nil
}

// Get returns nil, nil on a miss or an expired entry.
func (c *LRUCache) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[entryKey{tenantID, key}]
	if !ok {
		return nil, nil
	}
	e := elem.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.evict(elem)
		return nil, nil
	}
	c.recency.MoveToFront(elem)
	return e.value, nil
}

func (c *LRUCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	id := entryKey{tenantID, key}
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		e := elem.Value.(*entry)
		e.value, e.expiresAt = value, expiresAt
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[id] = c.recency.PushFront(&entry{id: id, value: value, expiresAt: expiresAt})
	for c.recency.Len() > c.max {
		c.evict(c.recency.Back())
	}
	return nil
}

func (c *LRUCache) Delete(ctx context.Context, tenantID, key string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[entryKey{tenantID, key}]; ok {
		c.evict(elem)
	}
	return nil
}

func (c *LRUCache) Ping(ctx context.Context) error { return nil }

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[entryKey]*list.Element)
	c.recency.Init()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

func (c *LRUCache) evict(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*entry).id)
}
