package orders

import (
	"context"
	"errors"
	"sync"

	"github.com/uhyunpark/tulipdesk/params"
	"github.com/uhyunpark/tulipdesk/pkg/app/personas"
)

type fakeStore struct {
	mu        sync.Mutex
	orders    map[string]Order
	byHash    map[string]string
	unindex   bool
	lookupErr error
	putErr    error
	scanErr   error
	updateErr error
	deleteErr error
	deleted   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]Order), byHash: make(map[string]string)}
}

func (s *fakeStore) ConditionalPut(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	if _, ok := s.orders[o.OrderID]; ok {
		return ErrDuplicateOrder
	}
	s.orders[o.OrderID] = *o
	s.byHash[o.IdempotencyHash] = o.OrderID
	return nil
}

func (s *fakeStore) GetByIndex(_ context.Context, hash string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unindex {
		return nil, ErrIndexUnavailable
	}
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	id, ok := s.byHash[hash]
	if !ok {
		return nil, nil
	}
	o := s.orders[id]
	return &o, nil
}

func (s *fakeStore) Scan(_ context.Context, limit int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	var out []Order
	for _, o := range s.orders {
		if len(out) >= limit {
			break
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *fakeStore) Update(_ context.Context, orderID string, mutate func(*Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	o, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	mutate(&o)
	s.orders[orderID] = o
	return nil
}

func (s *fakeStore) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, orderID)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if o, ok := s.orders[orderID]; ok {
		if s.byHash[o.IdempotencyHash] == orderID {
			delete(s.byHash, o.IdempotencyHash)
		}
		delete(s.orders, orderID)
	}
	return nil
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type sentMessage struct {
	key     string
	dedupID string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (p *fakePublisher) Send(_ context.Context, key, dedupID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMessage{key: key, dedupID: dedupID, payload: payload})
	return nil
}

type staticPersonas map[string]personas.Persona

func (m staticPersonas) Get(_ context.Context, userID string) personas.Persona {
	if p, ok := m[userID]; ok {
		return p
	}
	return personas.Unknown(userID)
}

var errBoom = errors.New("boom")

func testConfig() *params.Config {
	cfg := params.Default()
	cfg.Build.Region = "eu-west-1"
	cfg.Build.AvailabilityZone = "eu-west-1a"
	cfg.Build.Env = "test"
	cfg.Build.Version = "1.2.3"
	return &cfg
}
