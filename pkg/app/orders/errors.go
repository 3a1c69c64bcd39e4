package orders

import (
	"errors"
	"strings"
)

var (
	// ErrNotConfigured means the store or the queue was not wired.
	ErrNotConfigured = errors.New("orders infrastructure not configured")
	// ErrDuplicateOrder is a primary key collision on insert.
	ErrDuplicateOrder = errors.New("order already exists")
	// ErrIdempotencyLookup is a failed idempotency index read.
	ErrIdempotencyLookup = errors.New("idempotency lookup failed")
	// ErrIndexUnavailable is returned by stores whose idempotency index is
	// not provisioned. Intake treats it as "no prior order".
	ErrIndexUnavailable = errors.New("idempotency index unavailable")
	ErrStoreUnavailable = errors.New("failed to store order")
	// ErrEnqueueFailed means the event could not be published after the
	// order was persisted; the record has been rolled back.
	ErrEnqueueFailed = errors.New("failed to enqueue order event")
	ErrOrderNotFound = errors.New("order not found")
	ErrScanFailed    = errors.New("failed to load orders")
)

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}
