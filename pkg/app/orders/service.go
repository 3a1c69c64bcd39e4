package orders

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/tulipdesk/params"
	"github.com/uhyunpark/tulipdesk/pkg/app/personas"
	"github.com/uhyunpark/tulipdesk/pkg/metrics"
	"github.com/uhyunpark/tulipdesk/pkg/util"
)

// Store is the order table: primary key orderId plus a secondary index on
// idempotencyHash.
type Store interface {
	// ConditionalPut inserts o, failing with ErrDuplicateOrder if the key exists.
	ConditionalPut(ctx context.Context, o *Order) error
	// GetByIndex returns nil, nil when no order carries hash. Returns
	// ErrIndexUnavailable if the index is not provisioned.
	GetByIndex(ctx context.Context, hash string) (*Order, error)
	// Scan returns up to limit orders in no particular order.
	Scan(ctx context.Context, limit int) ([]Order, error)
	// Update applies mutate to a stored order; ErrOrderNotFound if absent.
	Update(ctx context.Context, orderID string, mutate func(*Order)) error
	Delete(ctx context.Context, orderID string) error
}

// Publisher is an at-least-once queue, ordered per partition key and
// deduplicated by dedupID.
type Publisher interface {
	Send(ctx context.Context, partitionKey, dedupID string, payload []byte) error
}

// PersonaLookup resolves display profiles; it never fails.
type PersonaLookup interface {
	Get(ctx context.Context, userID string) personas.Persona
}

// Service implements order intake, listing and the market pulse. A nil
// store or publisher leaves the corresponding operations answering
// ErrNotConfigured.
type Service struct {
	cfg       *params.Config
	store     Store
	publisher Publisher
	personas  PersonaLookup
	logger    *zap.SugaredLogger

	Clock   util.Clock
	NewID   func() string
	Metrics *metrics.Intake

	// OnAccepted is called after an order is published.
	OnAccepted func(v View)
}

func NewService(cfg *params.Config, store Store, publisher Publisher, lookup PersonaLookup, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		personas:  lookup,
		logger:    logger,
		Clock:     util.RealClock{},
		NewID:     uuid.NewString,
	}
}

func (s *Service) persona(ctx context.Context, userID string) personas.Persona {
	if s.personas == nil {
		return personas.Unknown(userID)
	}
	return s.personas.Get(ctx, userID)
}

func (s *Service) view(ctx context.Context, o *Order) View {
	return o.View(s.persona(ctx, o.UserID), s.cfg.Orders.MarketSymbol)
}
