package orders

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tulipdesk/pkg/app/personas"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

const StatusAccepted = "ACCEPTED"

// EventOrderAccepted is the type tag of the queue message.
const EventOrderAccepted = "OrderAccepted"

// acceptedAtLayout renders UTC with microsecond precision and a trailing Z;
// trailing zero fractions are dropped.
const acceptedAtLayout = "2006-01-02T15:04:05.999999Z"

// FormatAcceptedAt renders t as the canonical acceptedAt string.
func FormatAcceptedAt(t time.Time) string {
	return t.UTC().Format(acceptedAtLayout)
}

// ParseAcceptedAt accepts RFC 3339 timestamps with or without a zone; a
// missing zone is read as UTC.
func ParseAcceptedAt(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Order is the stored record. Legacy records may lack UserID and Market.
type Order struct {
	OrderID         string          `json:"orderId"`
	ClientID        string          `json:"clientId"`
	UserID          string          `json:"userId,omitempty"`
	Side            Side            `json:"side"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	TimeInForce     string          `json:"timeInForce"`
	Status          string          `json:"status"`
	AcceptedAt      string          `json:"acceptedAt"`
	Region          string          `json:"region"`
	AcceptedAZ      string          `json:"acceptedAz"`
	IdempotencyHash string          `json:"idempotencyHash"`
	SimulationSeed  string          `json:"simulationSeed,omitempty"`
	Env             string          `json:"env,omitempty"`
	Version         string          `json:"version,omitempty"`
	Market          string          `json:"market,omitempty"`
	ProcessingMs    *int64          `json:"processingMs,omitempty"`
}

// View is the canonical order representation returned to callers: numbers
// as plain JSON floats, persona display fields attached.
type View struct {
	OrderID      string  `json:"orderId"`
	ClientID     string  `json:"clientId"`
	UserID       string  `json:"userId"`
	UserName     string  `json:"userName"`
	AvatarURL    string  `json:"avatarUrl"`
	Side         Side    `json:"side"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	TimeInForce  string  `json:"timeInForce"`
	Status       string  `json:"status"`
	AcceptedAt   string  `json:"acceptedAt"`
	Region       string  `json:"region"`
	AcceptedAZ   string  `json:"acceptedAz"`
	Market       string  `json:"market"`
	ProcessingMs *int64  `json:"processingMs,omitempty"`
}

func (o *Order) View(p personas.Persona, defaultMarket string) View {
	market := o.Market
	if market == "" {
		market = defaultMarket
	}
	return View{
		OrderID:      o.OrderID,
		ClientID:     o.ClientID,
		UserID:       p.UserID,
		UserName:     p.UserName,
		AvatarURL:    p.AvatarURL,
		Side:         o.Side,
		Price:        o.Price.InexactFloat64(),
		Quantity:     o.Quantity.InexactFloat64(),
		TimeInForce:  o.TimeInForce,
		Status:       o.Status,
		AcceptedAt:   o.AcceptedAt,
		Region:       o.Region,
		AcceptedAZ:   o.AcceptedAZ,
		Market:       market,
		ProcessingMs: o.ProcessingMs,
	}
}

// AcceptedEvent is the queue payload announcing an accepted order.
type AcceptedEvent struct {
	Type        string  `json:"type"`
	OrderID     string  `json:"orderId"`
	ClientID    string  `json:"clientId"`
	UserID      string  `json:"userId"`
	Side        Side    `json:"side"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	TimeInForce string  `json:"timeInForce"`
	AcceptedAt  string  `json:"acceptedAt"`
	Market      string  `json:"market"`
	Env         string  `json:"env"`
}

func (o *Order) AcceptedEvent() AcceptedEvent {
	return AcceptedEvent{
		Type:        EventOrderAccepted,
		OrderID:     o.OrderID,
		ClientID:    o.ClientID,
		UserID:      o.UserID,
		Side:        o.Side,
		Price:       o.Price.InexactFloat64(),
		Quantity:    o.Quantity.InexactFloat64(),
		TimeInForce: o.TimeInForce,
		AcceptedAt:  o.AcceptedAt,
		Market:      o.Market,
		Env:         o.Env,
	}
}

// Amount is a decimal field as submitted: a JSON number or a numeric string.
// Anything else keeps its raw text and fails to parse later.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	*a = Amount(bytes.TrimSpace(b))
	return nil
}

// Positive parses the amount and reports whether it is strictly positive
// and representable as a finite float64.
func (a Amount) Positive() (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(string(a))
	if err != nil || !d.IsPositive() || math.IsInf(d.InexactFloat64(), 0) {
		return decimal.Decimal{}, false
	}
	return d, true
}

var _ json.Unmarshaler = (*Amount)(nil)
