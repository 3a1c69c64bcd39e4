package orders

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MaxPulsePoints caps the report to the most recent minutes in the sample.
const MaxPulsePoints = 60

type PulsePoint struct {
	TS         string  `json:"ts"`
	AvgPrice   float64 `json:"avgPrice"`
	BuyOrders  int     `json:"buyOrders"`
	SellOrders int     `json:"sellOrders"`
}

type PulseStats struct {
	LastPrice     float64 `json:"lastPrice"`
	BuyShare      float64 `json:"buyShare"`
	SellShare     float64 `json:"sellShare"`
	OrdersSampled int     `json:"ordersSampled"`
}

type PulseReport struct {
	Points []PulsePoint `json:"points"`
	Stats  PulseStats   `json:"stats"`
}

type minuteBucket struct {
	sum   decimal.Decimal
	count int64
	buys  int
	sells int
}

// ComputePulse summarises a sample of recent orders per UTC minute. It is a
// point-in-time snapshot: concurrent writes may change the sample between
// calls.
func (s *Service) ComputePulse(ctx context.Context) (*PulseReport, error) {
	if s.store == nil {
		return nil, ErrNotConfigured
	}
	items, err := s.store.Scan(ctx, s.cfg.Orders.PulseSampleLimit)
	if err != nil {
		s.logger.Errorw("pulse_scan_failed", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
	report := BuildPulse(items)
	s.logger.Debugw("pulse_computed", "sampled", report.Stats.OrdersSampled, "points", len(report.Points))
	return report, nil
}

// BuildPulse aggregates orders into minute buckets. Orders whose acceptedAt
// does not parse are skipped entirely.
func BuildPulse(items []Order) *PulseReport {
	buckets := make(map[time.Time]*minuteBucket)
	var (
		latest      *Order
		latestAt    time.Time
		buys, sells int
	)

	for i := range items {
		o := &items[i]
		ts, ok := ParseAcceptedAt(o.AcceptedAt)
		if !ok {
			continue
		}
		minute := ts.Truncate(time.Minute)
		b, ok := buckets[minute]
		if !ok {
			b = &minuteBucket{}
			buckets[minute] = b
		}
		b.sum = b.sum.Add(o.Price)
		b.count++
		// anything that is not a BUY counts as a sell
		if o.Side == Buy {
			b.buys++
			buys++
		} else {
			b.sells++
			sells++
		}
		if latest == nil || ts.After(latestAt) {
			latest, latestAt = o, ts
		}
	}

	minutes := make([]time.Time, 0, len(buckets))
	for m := range buckets {
		minutes = append(minutes, m)
	}
	sort.Slice(minutes, func(i, j int) bool { return minutes[i].Before(minutes[j]) })
	if len(minutes) > MaxPulsePoints {
		minutes = minutes[len(minutes)-MaxPulsePoints:]
	}

	points := make([]PulsePoint, 0, len(minutes))
	for _, m := range minutes {
		b := buckets[m]
		avg := b.sum.Div(decimal.NewFromInt(b.count)).Round(4)
		points = append(points, PulsePoint{
			TS:         m.Format(time.RFC3339),
			AvgPrice:   avg.InexactFloat64(),
			BuyOrders:  b.buys,
			SellOrders: b.sells,
		})
	}

	stats := PulseStats{OrdersSampled: buys + sells}
	if latest != nil {
		stats.LastPrice = latest.Price.InexactFloat64()
	}
	if total := buys + sells; total > 0 {
		stats.BuyShare = float64(buys) / float64(total)
		stats.SellShare = 1 - stats.BuyShare
	}
	return &PulseReport{Points: points, Stats: stats}
}
