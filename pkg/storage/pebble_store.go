package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/tulipdesk/pkg/app/orders"
	"github.com/uhyunpark/tulipdesk/pkg/app/personas"
)

type PebbleOptions struct {
	// IdempotencyIndex provisions (and backfills) the idempotency index on
	// open. Without it GetByIndex answers orders.ErrIndexUnavailable.
	IdempotencyIndex bool
	CacheSize        int64
}

// PebbleStore persists orders, the idempotency index and personas in one
// Pebble database. Conditional writes are serialised by mu; reads go
// straight to Pebble.
type PebbleStore struct {
	mu      sync.Mutex
	db      *pebble.DB
	indexed bool
}

func NewPebbleStore(path string, opts PebbleOptions) (*PebbleStore, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64 << 20
	}
	cache := pebble.NewCache(opts.CacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:        cache,
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}

	s := &PebbleStore{db: db}
	if opts.IdempotencyIndex {
		if err := s.provisionIndex(); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		s.indexed, err = s.has([]byte(keyIdemIndexMeta))
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// provisionIndex backfills index entries for orders written while the index
// was absent, then marks it available.
func (s *PebbleStore) provisionIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.has([]byte(keyIdemIndexMeta))
	if err != nil {
		return err
	}
	if ok {
		s.indexed = true
		return nil
	}

	iter, err := s.prefixIter([]byte(prefixOrder))
	if err != nil {
		return err
	}
	defer iter.Close()

	batch := s.db.NewBatch()
	defer batch.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		o, err := decodeOrder(iter.Value())
		if err != nil || o.IdempotencyHash == "" {
			continue // legacy or corrupt record, nothing to index
		}
		if err := batch.Set(idemIndexKey(o.IdempotencyHash), []byte(o.OrderID), nil); err != nil {
			return err
		}
	}
	if err := batch.Set([]byte(keyIdemIndexMeta), []byte("1"), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to provision idempotency index: %w", err)
	}
	s.indexed = true
	return nil
}

func (s *PebbleStore) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStore) prefixIter(prefix []byte) (*pebble.Iterator, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	return iter, nil
}

func (s *PebbleStore) loadOrder(orderID string) (*orders.Order, error) {
	data, closer, err := s.db.Get(orderKey(orderID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	defer closer.Close()
	return decodeOrder(data)
}

// ============================================================================
// Orders
// ============================================================================

func (s *PebbleStore) ConditionalPut(_ context.Context, o *orders.Order) error {
	data, err := encodeOrder(o)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.has(orderKey(o.OrderID))
	if err != nil {
		return fmt.Errorf("failed to check order: %w", err)
	}
	if exists {
		return orders.ErrDuplicateOrder
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(orderKey(o.OrderID), data, nil); err != nil {
		return err
	}
	if s.indexed && o.IdempotencyHash != "" {
		if err := batch.Set(idemIndexKey(o.IdempotencyHash), []byte(o.OrderID), nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *PebbleStore) GetByIndex(_ context.Context, hash string) (*orders.Order, error) {
	if !s.indexed {
		return nil, orders.ErrIndexUnavailable
	}
	id, closer, err := s.db.Get(idemIndexKey(hash))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency index: %w", err)
	}
	orderID := string(id)
	closer.Close()
	return s.loadOrder(orderID)
}

func (s *PebbleStore) Scan(_ context.Context, limit int) ([]orders.Order, error) {
	iter, err := s.prefixIter([]byte(prefixOrder))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	// keys are ORDER#<uuid>, so this is a bounded sample in id order, not
	// the newest orders
	var out []orders.Order
	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		o, err := decodeOrder(iter.Value())
		if err != nil {
			continue // Skip invalid entries
		}
		out = append(out, *o)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}
	return out, nil
}

func (s *PebbleStore) Update(_ context.Context, orderID string, mutate func(*orders.Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.loadOrder(orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return orders.ErrOrderNotFound
	}
	mutate(o)
	data, err := encodeOrder(o)
	if err != nil {
		return err
	}
	if err := s.db.Set(orderKey(orderID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

func (s *PebbleStore) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.loadOrder(orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(orderKey(orderID), nil); err != nil {
		return err
	}
	if o.IdempotencyHash != "" {
		// drop the index entry only if it still points at this order
		id, closer, err := s.db.Get(idemIndexKey(o.IdempotencyHash))
		if err == nil {
			owned := string(id) == orderID
			closer.Close()
			if owned {
				if err := batch.Delete(idemIndexKey(o.IdempotencyHash), nil); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, pebble.ErrNotFound) {
			return fmt.Errorf("failed to read idempotency index: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

var _ orders.Store = (*PebbleStore)(nil)

// ============================================================================
// Personas
// ============================================================================

func (s *PebbleStore) loadPersona(userID string) (*personas.Persona, error) {
	data, closer, err := s.db.Get(personaKey(userID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get persona: %w", err)
	}
	defer closer.Close()
	return decodePersona(data)
}

func (s *PebbleStore) ScanPersonas(_ context.Context) ([]personas.Persona, error) {
	iter, err := s.prefixIter([]byte(prefixPersona))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []personas.Persona
	for iter.First(); iter.Valid(); iter.Next() {
		p, err := decodePersona(iter.Value())
		if err != nil {
			continue
		}
		out = append(out, *p)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan personas: %w", err)
	}
	return out, nil
}

func (s *PebbleStore) GetPersona(_ context.Context, userID string) (*personas.Persona, error) {
	return s.loadPersona(userID)
}

func (s *PebbleStore) InsertPersona(_ context.Context, p personas.Persona) error {
	data, err := encodePersona(&p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.has(personaKey(p.UserID))
	if err != nil {
		return fmt.Errorf("failed to check persona: %w", err)
	}
	if exists {
		return personas.ErrPersonaExists
	}
	if err := s.db.Set(personaKey(p.UserID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save persona: %w", err)
	}
	return nil
}

func (s *PebbleStore) UpdatePersona(_ context.Context, userID string, u personas.Update, updatedAt int64) (*personas.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadPersona(userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, personas.ErrPersonaNotFound
	}
	u.Apply(p, updatedAt)
	data, err := encodePersona(p)
	if err != nil {
		return nil, err
	}
	if err := s.db.Set(personaKey(userID), data, pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to update persona: %w", err)
	}
	return p, nil
}

func (s *PebbleStore) DeletePersona(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.has(personaKey(userID))
	if err != nil {
		return fmt.Errorf("failed to check persona: %w", err)
	}
	if !exists {
		return personas.ErrPersonaNotFound
	}
	if err := s.db.Delete(personaKey(userID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete persona: %w", err)
	}
	return nil
}

var _ personas.Store = (*PebbleStore)(nil)
