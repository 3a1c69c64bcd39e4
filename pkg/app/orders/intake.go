package orders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uhyunpark/tulipdesk/pkg/metrics"
)

// SubmitRequest is the POST /api/orders body.
type SubmitRequest struct {
	Side           string `json:"side"`
	Price          Amount `json:"price"`
	Quantity       Amount `json:"quantity"`
	IdempotencyKey string `json:"idempotencyKey"`
	UserID         string `json:"userId"`
	ClientID       string `json:"clientId"`
	TimeInForce    string `json:"timeInForce"`
}

// SubmitResult is the accepted order. Replayed is set when the submission
// matched an earlier one and nothing was written.
type SubmitResult struct {
	Order    View
	Replayed bool
}

// IdempotencyHash is hex(sha256("clientId:idempotencyKey")). userId is not
// part of the identity.
func IdempotencyHash(clientID, idempotencyKey string) string {
	sum := sha256.Sum256([]byte(clientID + ":" + idempotencyKey))
	return hex.EncodeToString(sum[:])
}

// PartitionKey is the queue ordering group for a market.
func PartitionKey(market string) string { return "market-" + market }

func (s *Service) validate(req *SubmitRequest) (*Order, error) {
	var details []string
	side := Side(req.Side)
	if !side.Valid() {
		details = append(details, "side must be BUY or SELL")
	}
	price, ok := req.Price.Positive()
	if !ok {
		details = append(details, "price must be a positive number")
	}
	quantity, ok := req.Quantity.Positive()
	if !ok {
		details = append(details, "quantity must be a positive number")
	}
	if req.IdempotencyKey == "" {
		details = append(details, "idempotencyKey is required")
	}
	if req.UserID == "" {
		details = append(details, "userId is required")
	}
	if len(details) > 0 {
		return nil, &ValidationError{Details: details}
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = s.cfg.Orders.DefaultClientID
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = "GTC"
	}
	return &Order{
		ClientID:    clientID,
		UserID:      req.UserID,
		Side:        side,
		Price:       price,
		Quantity:    quantity,
		TimeInForce: tif,
	}, nil
}

// Submit validates, deduplicates, persists and publishes an order.
//
// The store write and the publish are not atomic: if the publish fails the
// stored record is deleted on a best-effort basis and ErrEnqueueFailed is
// returned.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if s.store == nil || s.publisher == nil {
		return nil, ErrNotConfigured
	}
	start := s.Clock.Now()

	order, err := s.validate(req)
	if err != nil {
		s.Metrics.Outcome(metrics.OutcomeInvalid)
		return nil, err
	}
	hash := IdempotencyHash(order.ClientID, req.IdempotencyKey)

	existing, err := s.store.GetByIndex(ctx, hash)
	switch {
	case errors.Is(err, ErrIndexUnavailable):
		s.logger.Warnw("idempotency_index_unavailable", "clientId", order.ClientID, "err", err)
	case err != nil:
		s.logger.Errorw("idempotency_lookup_failed", "clientId", order.ClientID, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrIdempotencyLookup, err)
	case existing != nil:
		s.Metrics.Outcome(metrics.OutcomeReplayed)
		s.logger.Infow("order_replayed", "orderId", existing.OrderID, "clientId", existing.ClientID, "idempotency", hash)
		return &SubmitResult{Order: s.view(ctx, existing), Replayed: true}, nil
	}

	order.OrderID = s.NewID()
	order.Status = StatusAccepted
	order.AcceptedAt = FormatAcceptedAt(s.Clock.Now())
	order.Region = s.cfg.Build.Region
	order.AcceptedAZ = s.cfg.Build.AvailabilityZone
	if order.AcceptedAZ == "" {
		order.AcceptedAZ = order.Region
	}
	order.IdempotencyHash = hash
	order.SimulationSeed = hash
	order.Env = s.cfg.Build.Env
	order.Version = s.cfg.Build.Version
	order.Market = s.cfg.Orders.MarketSymbol

	if err := s.store.ConditionalPut(ctx, order); err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			s.Metrics.Outcome(metrics.OutcomeDuplicate)
			s.logger.Warnw("order_duplicate", "orderId", order.OrderID, "clientId", order.ClientID)
			return nil, err
		}
		s.Metrics.Outcome(metrics.OutcomeStoreFailed)
		s.logger.Errorw("order_store_failed", "orderId", order.OrderID, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	payload, err := json.Marshal(order.AcceptedEvent())
	if err == nil {
		err = s.publisher.Send(ctx, PartitionKey(order.Market), hash, payload)
	}
	if err != nil {
		s.logger.Errorw("order_enqueue_failed", "orderId", order.OrderID, "err", err)
		s.rollback(ctx, order.OrderID)
		s.Metrics.Outcome(metrics.OutcomeEnqueueFailed)
		return nil, fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}

	elapsed := s.Clock.Now().Sub(start).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	order.ProcessingMs = &elapsed
	if err := s.store.Update(ctx, order.OrderID, func(o *Order) { o.ProcessingMs = &elapsed }); err != nil {
		s.logger.Warnw("processing_ms_update_failed", "orderId", order.OrderID, "err", err)
	}
	s.Metrics.ProcessingMs(elapsed)
	s.Metrics.Outcome(metrics.OutcomeCreated)

	s.logger.Infow("order_accepted",
		"orderId", order.OrderID,
		"clientId", order.ClientID,
		"userId", order.UserID,
		"side", order.Side,
		"qty", order.Quantity.String(),
		"price", order.Price.String(),
		"timeInForce", order.TimeInForce,
		"idempotency", hash,
		"market", order.Market,
		"acceptedAt", order.AcceptedAt,
		"processingMs", elapsed)

	view := s.view(ctx, order)
	if s.OnAccepted != nil {
		s.OnAccepted(view)
	}
	return &SubmitResult{Order: view}, nil
}

// rollback removes an order whose event never made it to the queue. Failure
// is logged only; the caller already reports the enqueue failure.
func (s *Service) rollback(ctx context.Context, orderID string) {
	// the request context may already be done; the delete must still run
	if err := s.store.Delete(context.WithoutCancel(ctx), orderID); err != nil {
		s.Metrics.Rollback(false)
		s.logger.Errorw("order_rollback_failed", "orderId", orderID, "err", err)
		return
	}
	s.Metrics.Rollback(true)
	s.logger.Warnw("order_rolled_back", "orderId", orderID)
}
