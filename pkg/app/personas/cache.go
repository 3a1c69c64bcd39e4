package personas

import (
	"context"
	"sync"
	"time"

	"github.com/uhyunpark/tulipdesk/pkg/util"
)

// Cache is a time-boxed read cache in front of the persona store. Entries may
// be served stale for up to the TTL; refreshes are last-writer-wins.
type Cache interface {
	// Get returns a persona cached within the TTL.
	Get(ctx context.Context, userID string) (Persona, bool)
	// All returns the full listing while the last Refresh is within the TTL.
	All(ctx context.Context) ([]Persona, bool)
	// Refresh replaces the full listing and restarts the TTL window.
	Refresh(ctx context.Context, items []Persona)
	Put(ctx context.Context, p Persona)
	Delete(ctx context.Context, userID string)
}

type cacheEntry struct {
	persona  Persona
	storedAt time.Time
}

// MemoryCache is an in-process Cache. Safe for concurrent use.
type MemoryCache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	clock    util.Clock
	entries  map[string]cacheEntry
	loadedAt time.Time // zero until the first Refresh
}

func NewMemoryCache(ttl time.Duration, clock util.Clock) *MemoryCache {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &MemoryCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, userID string) (Persona, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	if !ok || c.clock.Now().Sub(e.storedAt) >= c.ttl {
		return Persona{}, false
	}
	return e.persona, true
}

func (c *MemoryCache) All(_ context.Context) ([]Persona, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loadedAt.IsZero() || len(c.entries) == 0 || c.clock.Now().Sub(c.loadedAt) >= c.ttl {
		return nil, false
	}
	out := make([]Persona, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.persona)
	}
	return out, true
}

func (c *MemoryCache) Refresh(_ context.Context, items []Persona) {
	now := c.clock.Now()
	entries := make(map[string]cacheEntry, len(items))
	for _, p := range items {
		entries[p.UserID] = cacheEntry{persona: p, storedAt: now}
	}
	c.mu.Lock()
	c.entries = entries
	c.loadedAt = now
	c.mu.Unlock()
}

func (c *MemoryCache) Put(_ context.Context, p Persona) {
	now := c.clock.Now()
	c.mu.Lock()
	c.entries[p.UserID] = cacheEntry{persona: p, storedAt: now}
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(_ context.Context, userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

var _ Cache = (*MemoryCache)(nil)
