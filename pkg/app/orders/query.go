package orders

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 50
)

// ParseLimit reads the ?limit= parameter: empty means DefaultListLimit,
// larger values are clamped to MaxListLimit.
func ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{Details: []string{"limit must be numeric"}}
	}
	if n < 1 {
		return 0, &ValidationError{Details: []string{"limit must be positive"}}
	}
	return min(n, MaxListLimit), nil
}

// List returns up to limit recent orders, newest first.
//
// The read is a capped scan, not an index ordered by time: under heavy write
// volume the result is a sample of the table, sorted, rather than the exact
// newest N orders.
func (s *Service) List(ctx context.Context, limit int) ([]View, error) {
	if s.store == nil {
		return nil, ErrNotConfigured
	}
	limit = min(max(limit, 1), MaxListLimit)

	items, err := s.store.Scan(ctx, limit)
	if err != nil {
		s.logger.Errorw("orders_scan_failed", "limit", limit, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
	SortNewestFirst(items)
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]View, 0, len(items))
	for i := range items {
		out = append(out, s.view(ctx, &items[i]))
	}
	s.logger.Infow("orders_fetched", "count", len(out))
	return out, nil
}

// SortNewestFirst orders by acceptedAt descending. Records whose timestamp
// does not parse go last.
func SortNewestFirst(items []Order) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, okI := ParseAcceptedAt(items[i].AcceptedAt)
		tj, okJ := ParseAcceptedAt(items[j].AcceptedAt)
		switch {
		case okI && okJ:
			return ti.After(tj)
		case okI != okJ:
			return okI
		default:
			return items[i].AcceptedAt > items[j].AcceptedAt
		}
	})
}
