package orders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tulipdesk/pkg/app/personas"
	"github.com/uhyunpark/tulipdesk/pkg/metrics"
	"github.com/uhyunpark/tulipdesk/pkg/util"
)

var acceptedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	svc   *Service
	store *fakeStore
	pub   *fakePublisher
	clock *util.FixedClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: newFakeStore(),
		pub:   &fakePublisher{},
		clock: util.NewFixedClock(acceptedAt),
	}
	lookup := staticPersonas{
		"clusius": {UserID: "clusius", UserName: "Carolus Clusius", AvatarURL: "/avatars/clusius.png"},
	}
	h.svc = NewService(testConfig(), h.store, h.pub, lookup, nil)
	h.svc.Clock = h.clock
	n := 0
	h.svc.NewID = func() string {
		n++
		return fmt.Sprintf("order-%d", n)
	}
	return h
}

func decodeRequest(t *testing.T, body string) *SubmitRequest {
	t.Helper()
	var req SubmitRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return &req
}

func TestIdempotencyHash(t *testing.T) {
	sum := sha256.Sum256([]byte("demo-ui:k1"))
	assert.Equal(t, hex.EncodeToString(sum[:]), IdempotencyHash("demo-ui", "k1"))
	assert.NotEqual(t, IdempotencyHash("a", "k1"), IdempotencyHash("b", "k1"))
}

func TestSubmit_Accepts(t *testing.T) {
	h := newHarness(t)
	var broadcast []View
	h.svc.OnAccepted = func(v View) { broadcast = append(broadcast, v) }

	res, err := h.svc.Submit(context.Background(), decodeRequest(t,
		`{"side":"BUY","price":10.5,"quantity":"2","idempotencyKey":"k1","userId":"clusius"}`))
	require.NoError(t, err)
	require.False(t, res.Replayed)

	v := res.Order
	assert.Equal(t, "order-1", v.OrderID)
	assert.Equal(t, "demo-ui", v.ClientID)
	assert.Equal(t, "clusius", v.UserID)
	assert.Equal(t, "Carolus Clusius", v.UserName)
	assert.Equal(t, Buy, v.Side)
	assert.Equal(t, 10.5, v.Price)
	assert.Equal(t, 2.0, v.Quantity)
	assert.Equal(t, "GTC", v.TimeInForce)
	assert.Equal(t, StatusAccepted, v.Status)
	assert.Equal(t, "2024-05-01T12:00:00Z", v.AcceptedAt)
	assert.Equal(t, "eu-west-1", v.Region)
	assert.Equal(t, "eu-west-1a", v.AcceptedAZ)
	assert.Equal(t, "tulip", v.Market)
	require.NotNil(t, v.ProcessingMs)
	assert.Equal(t, int64(0), *v.ProcessingMs)

	stored := h.store.orders["order-1"]
	assert.Equal(t, "10.5", stored.Price.String())
	assert.Equal(t, IdempotencyHash("demo-ui", "k1"), stored.IdempotencyHash)
	assert.Equal(t, stored.IdempotencyHash, stored.SimulationSeed)
	assert.Equal(t, "test", stored.Env)
	assert.Equal(t, "1.2.3", stored.Version)
	require.NotNil(t, stored.ProcessingMs)

	require.Len(t, h.pub.sent, 1)
	msg := h.pub.sent[0]
	assert.Equal(t, "market-tulip", msg.key)
	assert.Equal(t, stored.IdempotencyHash, msg.dedupID)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &ev))
	assert.Equal(t, EventOrderAccepted, ev["type"])
	assert.Equal(t, "order-1", ev["orderId"])
	assert.Equal(t, "clusius", ev["userId"])
	assert.Equal(t, 10.5, ev["price"])
	assert.Equal(t, 2.0, ev["quantity"])
	assert.Equal(t, "tulip", ev["market"])
	assert.Equal(t, "test", ev["env"])

	require.Len(t, broadcast, 1)
	assert.Equal(t, v, broadcast[0])
}

func TestSubmit_ReplaysSameKey(t *testing.T) {
	h := newHarness(t)
	body := `{"side":"SELL","price":"12","quantity":1,"idempotencyKey":"same","userId":"clusius","clientId":"desk"}`

	first, err := h.svc.Submit(context.Background(), decodeRequest(t, body))
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	second, err := h.svc.Submit(context.Background(), decodeRequest(t, body))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.OrderID, second.Order.OrderID)
	assert.Equal(t, first.Order.AcceptedAt, second.Order.AcceptedAt)
	assert.Equal(t, 1, h.store.len())
	assert.Len(t, h.pub.sent, 1)
}

func TestSubmit_ReplayIgnoresUserID(t *testing.T) {
	h := newHarness(t)

	first, err := h.svc.Submit(context.Background(), decodeRequest(t,
		`{"side":"BUY","price":1,"quantity":1,"idempotencyKey":"k","userId":"clusius"}`))
	require.NoError(t, err)
	second, err := h.svc.Submit(context.Background(), decodeRequest(t,
		`{"side":"BUY","price":1,"quantity":1,"idempotencyKey":"k","userId":"someone-else"}`))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.OrderID, second.Order.OrderID)
	assert.Equal(t, "clusius", second.Order.UserID)
}

func TestSubmit_RollsBackWhenPublishFails(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errBoom
	reg := prometheus.NewRegistry()
	h.svc.Metrics = metrics.NewIntake(reg)

	_, err := h.svc.Submit(context.Background(), decodeRequest(t,
		`{"side":"BUY","price":5,"quantity":1,"idempotencyKey":"k","userId":"u"}`))
	require.ErrorIs(t, err, ErrEnqueueFailed)
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, []string{"order-1"}, h.store.deleted)
	assert.Equal(t, 0, h.store.len())

	// the key is free again once the queue recovers
	h.pub.err = nil
	res, err := h.svc.Submit(context.Background(), decodeRequest(t,
		`{"side":"BUY","price":5,"quantity":1,"idempotencyKey":"k","userId":"u"}`))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, "order-2", res.Order.OrderID)

	assert.Equal(t, 1.0, counterValue(t, reg, "orders_rollback_total", "result", "deleted"))
	assert.Equal(t, 1.0, counterValue(t, reg, "orders_intake_total", "outcome", metrics.OutcomeEnqueueFailed))
	assert.Equal(t, 1.0, counterValue(t, reg, "orders_intake_total", "outcome", metrics.OutcomeCreated))
}

func TestSubmit_RollbackFailureStillReportsEnqueue(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errBoom
	h.store.deleteErr = errors.New("delete refused")
	reg := prometheus.NewRegistry()
	h.svc.Metrics = metrics.NewIntake(reg)

	_, err := h.svc.Submit(context.Background(), decodeRequest(t,
		`{"side":"BUY","price":5,"quantity":1,"idempotencyKey":"k","userId":"u"}`))
	require.ErrorIs(t, err, ErrEnqueueFailed)
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, []string{"order-1"}, h.store.deleted)
	assert.Equal(t, 1, h.store.len())
	assert.Equal(t, 1.0, counterValue(t, reg, "orders_rollback_total", "result", "failed"))
	assert.Equal(t, 1.0, counterValue(t, reg, "orders_intake_total", "outcome", metrics.OutcomeEnqueueFailed))
}

func TestSubmit_ProcessingUpdateFailureStillAccepts(t *testing.T) {
	h := newHarness(t)
	h.store.updateErr = errBoom
	reg := prometheus.NewRegistry()
	h.svc.Metrics = metrics.NewIntake(reg)

	res, err := h.svc.Submit(context.Background(), decodeRequest(t,
		`{"side":"SELL","price":3,"quantity":2,"idempotencyKey":"k","userId":"u"}`))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, "order-1", res.Order.OrderID)
	require.NotNil(t, res.Order.ProcessingMs)

	assert.Len(t, h.pub.sent, 1)
	assert.Empty(t, h.store.deleted)
	assert.Nil(t, h.store.orders["order-1"].ProcessingMs)
	assert.Equal(t, 1.0, counterValue(t, reg, "orders_intake_total", "outcome", metrics.OutcomeCreated))
}

func TestSubmit_FallsBackWithoutIndex(t *testing.T) {
	h := newHarness(t)
	h.store.unindex = true

	body := `{"side":"BUY","price":5,"quantity":1,"idempotencyKey":"k","userId":"u"}`
	_, err := h.svc.Submit(context.Background(), decodeRequest(t, body))
	require.NoError(t, err)
	res, err := h.svc.Submit(context.Background(), decodeRequest(t, body))
	require.NoError(t, err)

	// no index means no replay detection: a second order is written
	assert.False(t, res.Replayed)
	assert.Equal(t, 2, h.store.len())
}

func TestSubmit_StoreErrors(t *testing.T) {
	body := `{"side":"BUY","price":5,"quantity":1,"idempotencyKey":"k","userId":"u"}`

	t.Run("lookup failure", func(t *testing.T) {
		h := newHarness(t)
		h.store.lookupErr = errBoom
		_, err := h.svc.Submit(context.Background(), decodeRequest(t, body))
		assert.ErrorIs(t, err, ErrIdempotencyLookup)
		assert.Empty(t, h.pub.sent)
	})

	t.Run("duplicate order id", func(t *testing.T) {
		h := newHarness(t)
		h.store.orders["order-1"] = Order{OrderID: "order-1"}
		_, err := h.svc.Submit(context.Background(), decodeRequest(t, body))
		assert.ErrorIs(t, err, ErrDuplicateOrder)
		assert.Empty(t, h.pub.sent)
	})

	t.Run("put failure", func(t *testing.T) {
		h := newHarness(t)
		h.store.putErr = errBoom
		_, err := h.svc.Submit(context.Background(), decodeRequest(t, body))
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.Empty(t, h.pub.sent)
	})
}

func TestSubmit_NotConfigured(t *testing.T) {
	svc := NewService(testConfig(), nil, &fakePublisher{}, nil, nil)
	_, err := svc.Submit(context.Background(), &SubmitRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	svc = NewService(testConfig(), newFakeStore(), nil, nil, nil)
	_, err = svc.Submit(context.Background(), &SubmitRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "bad side",
			body: `{"side":"HOLD","price":1,"quantity":1,"idempotencyKey":"k","userId":"u"}`,
			want: []string{"side must be BUY or SELL"},
		},
		{
			name: "lowercase side",
			body: `{"side":"buy","price":1,"quantity":1,"idempotencyKey":"k","userId":"u"}`,
			want: []string{"side must be BUY or SELL"},
		},
		{
			name: "zero price",
			body: `{"side":"BUY","price":0,"quantity":1,"idempotencyKey":"k","userId":"u"}`,
			want: []string{"price must be a positive number"},
		},
		{
			name: "negative price",
			body: `{"side":"BUY","price":-5,"quantity":1,"idempotencyKey":"k","userId":"u"}`,
			want: []string{"price must be a positive number"},
		},
		{
			name: "price overflows float64",
			body: `{"side":"BUY","price":1e400,"quantity":1,"idempotencyKey":"k","userId":"u"}`,
			want: []string{"price must be a positive number"},
		},
		{
			name: "quantity overflows float64",
			body: `{"side":"BUY","price":1,"quantity":"2e308","idempotencyKey":"k","userId":"u"}`,
			want: []string{"quantity must be a positive number"},
		},
		{
			name: "negative quantity",
			body: `{"side":"SELL","price":1,"quantity":-5,"idempotencyKey":"k","userId":"u"}`,
			want: []string{"quantity must be a positive number"},
		},
		{
			name: "non-numeric price",
			body: `{"side":"SELL","price":"abc","quantity":1,"idempotencyKey":"k","userId":"u"}`,
			want: []string{"price must be a positive number"},
		},
		{
			name: "missing key and user",
			body: `{"side":"BUY","price":1,"quantity":1}`,
			want: []string{"idempotencyKey is required", "userId is required"},
		},
		{
			name: "empty body",
			body: `{}`,
			want: []string{
				"side must be BUY or SELL",
				"price must be a positive number",
				"quantity must be a positive number",
				"idempotencyKey is required",
				"userId is required",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.Submit(context.Background(), decodeRequest(t, tt.body))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.want, verr.Details)
			assert.Equal(t, 0, h.store.len())
			assert.Empty(t, h.pub.sent)
		})
	}
}

func TestSubmit_UnknownPersona(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Submit(context.Background(), decodeRequest(t,
		`{"side":"SELL","price":3,"quantity":1,"idempotencyKey":"k","userId":"ghost"}`))
	require.NoError(t, err)
	assert.Equal(t, "ghost", res.Order.UserID)
	assert.Equal(t, personas.Unknown("ghost").UserName, res.Order.UserName)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == label && l.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
