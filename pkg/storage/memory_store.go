package storage

import (
	"context"
	"sync"

	"github.com/uhyunpark/tulipdesk/pkg/app/orders"
	"github.com/uhyunpark/tulipdesk/pkg/app/personas"
)

// MemoryStore keeps orders and personas in process. Map iteration makes Scan
// an unordered sample, like a table scan.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[string]orders.Order
	byHash   map[string]string // idempotencyHash -> orderId; nil when unindexed
	personas map[string]personas.Persona
}

func NewMemoryStore(idempotencyIndex bool) *MemoryStore {
	s := &MemoryStore{
		orders:   make(map[string]orders.Order),
		personas: make(map[string]personas.Persona),
	}
	if idempotencyIndex {
		s.byHash = make(map[string]string)
	}
	return s
}

func (s *MemoryStore) ConditionalPut(_ context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.OrderID]; ok {
		return orders.ErrDuplicateOrder
	}
	s.orders[o.OrderID] = *o
	if s.byHash != nil && o.IdempotencyHash != "" {
		s.byHash[o.IdempotencyHash] = o.OrderID
	}
	return nil
}

func (s *MemoryStore) GetByIndex(_ context.Context, hash string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byHash == nil {
		return nil, orders.ErrIndexUnavailable
	}
	id, ok := s.byHash[hash]
	if !ok {
		return nil, nil
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *MemoryStore) Scan(_ context.Context, limit int) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0, min(limit, len(s.orders)))
	for _, o := range s.orders {
		if len(out) >= limit {
			break
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, orderID string, mutate func(*orders.Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	mutate(&o)
	s.orders[orderID] = o
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil
	}
	delete(s.orders, orderID)
	if s.byHash != nil && s.byHash[o.IdempotencyHash] == orderID {
		delete(s.byHash, o.IdempotencyHash)
	}
	return nil
}

// Len reports the number of stored orders.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

var _ orders.Store = (*MemoryStore)(nil)

func (s *MemoryStore) ScanPersonas(_ context.Context) ([]personas.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]personas.Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) GetPersona(_ context.Context, userID string) (*personas.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) InsertPersona(_ context.Context, p personas.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.personas[p.UserID]; ok {
		return personas.ErrPersonaExists
	}
	s.personas[p.UserID] = p
	return nil
}

func (s *MemoryStore) UpdatePersona(_ context.Context, userID string, u personas.Update, updatedAt int64) (*personas.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[userID]
	if !ok {
		return nil, personas.ErrPersonaNotFound
	}
	u.Apply(&p, updatedAt)
	s.personas[userID] = p
	return &p, nil
}

func (s *MemoryStore) DeletePersona(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.personas[userID]; !ok {
		return personas.ErrPersonaNotFound
	}
	delete(s.personas, userID)
	return nil
}

var _ personas.Store = (*MemoryStore)(nil)
