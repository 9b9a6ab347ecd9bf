package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-vape/internal/events"
	"github.com/noah-isme/backend-vape/internal/order"
	"github.com/noah-isme/backend-vape/internal/pricing"
	"github.com/noah-isme/backend-vape/internal/resilience"
)

func newTestXendit(url string) *Xendit {
	return NewXendit(XenditConfig{
		SecretKey:     "xnd_development_secret",
		CallbackToken: "cb-token",
		BaseURL:       url,
		MaxAttempts:   3,
		RetryBase:     time.Millisecond,
	}, resilience.NewBreaker(10, 0.9, time.Minute))
}

func TestXenditCreateInvoice(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.Equal(t, "/v2/invoices", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "xnd_development_secret", user)
		require.Empty(t, pass)
		require.Equal(t, "order-ord-1", r.Header.Get("X-IDEMPOTENCY-KEY"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "ord-1", body["external_id"])
		require.EqualValues(t, 255000, body["amount"])
		require.EqualValues(t, 86400, body["invoice_duration"])
		require.Len(t, body["fees"], 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"inv-1","external_id":"ord-1","status":"PENDING","invoice_url":"https://checkout.xendit.co/web/inv-1","expiry_date":"2025-03-02T10:00:00Z"}`))
	}))
	defer srv.Close()

	inv, err := newTestXendit(srv.URL).CreateInvoice(context.Background(), InvoiceRequest{
		OrderID:  "ord-1",
		Amount:   255000,
		Duration: 24 * time.Hour,
		Items:    []InvoiceItem{{Name: "Mango Ice", Quantity: 3, Price: 80000}},
		Fees:     []InvoiceFee{{Type: "Shipping", Value: 15000}},
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load(), "5xx is retried")
	require.Equal(t, "inv-1", inv.ID)
	require.Equal(t, StatusPending, inv.Status)
	require.Equal(t, 2025, inv.ExpiresAt.Year())
}

func TestXenditCreateInvoiceClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":"API_VALIDATION_ERROR"}`))
	}))
	defer srv.Close()

	_, err := newTestXendit(srv.URL).CreateInvoice(context.Background(), InvoiceRequest{OrderID: "ord-1", Amount: 1000})
	require.ErrorContains(t, err, "API_VALIDATION_ERROR")
	require.Equal(t, int32(1), calls.Load())

	_, err = newTestXendit(srv.URL).CreateInvoice(context.Background(), InvoiceRequest{OrderID: "ord-1"})
	require.Error(t, err)
}

func TestXenditVerifyCallback(t *testing.T) {
	x := newTestXendit("")
	body := []byte(`{"id":"inv-1","external_id":"ord-1","status":"PAID","amount":255000,"paid_at":"2025-03-01T10:00:00Z"}`)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("x-callback-token", "cb-token")
	res, err := x.VerifyCallback(req, body)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, res.Status)
	require.Equal(t, pricing.Money(255000), res.Amount)
	require.Equal(t, "ord-1", res.OrderID)

	req.Header.Set("x-callback-token", "nope")
	_, err = x.VerifyCallback(req, body)
	require.ErrorIs(t, err, ErrInvalidCallback)
}

type stubProvider struct {
	invoice Invoice
	err     error
	last    InvoiceRequest
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) CreateInvoice(_ context.Context, req InvoiceRequest) (Invoice, error) {
	s.last = req
	return s.invoice, s.err
}

func (s *stubProvider) VerifyCallback(r *http.Request, body []byte) (CallbackResult, error) {
	if r.Header.Get("x-callback-token") != "ok" {
		return CallbackResult{}, ErrInvalidCallback
	}
	var res CallbackResult
	err := json.Unmarshal(body, &res)
	return res, err
}

type memOrders struct {
	orders   map[string]*order.Order
	attached map[string]string
}

func newMemOrders(orders ...order.Order) *memOrders {
	m := &memOrders{orders: map[string]*order.Order{}, attached: map[string]string{}}
	for i := range orders {
		o := orders[i]
		m.orders[o.ID] = &o
	}
	return m
}

func (m *memOrders) AttachInvoice(_ context.Context, id, invoiceID, _ string) error {
	o, ok := m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.InvoiceID = invoiceID
	m.attached[id] = invoiceID
	return nil
}

func (m *memOrders) Get(_ context.Context, id string) (order.Order, error) {
	if o, ok := m.orders[id]; ok {
		return *o, nil
	}
	return order.Order{}, order.ErrNotFound
}

func (m *memOrders) GetByInvoice(_ context.Context, invoiceID string) (order.Order, error) {
	for _, o := range m.orders {
		if o.InvoiceID == invoiceID {
			return *o, nil
		}
	}
	return order.Order{}, order.ErrNotFound
}

func (m *memOrders) MarkPaid(_ context.Context, id string, at time.Time) (bool, error) {
	o := m.orders[id]
	if o.Status != order.StatusPendingPayment {
		return false, nil
	}
	o.Status = order.StatusPaid
	o.PaidAt = &at
	return true, nil
}

func (m *memOrders) MarkExpired(_ context.Context, id string) (bool, error) {
	o := m.orders[id]
	if o.Status != order.StatusPendingPayment {
		return false, nil
	}
	o.Status = order.StatusExpired
	return true, nil
}

type spendLog map[string]pricing.Money

func (s spendLog) AddLifetimeSpend(_ context.Context, email string, amount pricing.Money) error {
	s[email] += amount
	return nil
}

type topics []string

func (t *topics) Emit(_ context.Context, ev events.Event) error {
	*t = append(*t, ev.Topic)
	return nil
}

func pendingOrder() order.Order {
	return order.Order{
		ID:             "ord-1",
		CustomerEmail:  "budi@example.com",
		Status:         order.StatusPendingPayment,
		SubTotal:       300000,
		DiscountAmount: 60000,
		DiscountName:   "First order discount",
		TotalPrice:     240000,
		ShippingCost:   15000,
		GrandTotal:     255000,
		Items:          []order.Item{{ProductName: "Mango Ice", Quantity: 3, UnitPrice: 100000}},
	}
}

func TestServiceOpen(t *testing.T) {
	provider := &stubProvider{invoice: Invoice{ID: "inv-9", URL: "https://pay/inv-9"}}
	orders := newMemOrders(pendingOrder())
	svc := &Service{Provider: provider, Orders: orders, Currency: "IDR", Duration: time.Hour}

	inv, err := svc.Open(context.Background(), pendingOrder())
	require.NoError(t, err)
	require.Equal(t, "inv-9", inv.ID)
	require.Equal(t, "inv-9", orders.attached["ord-1"])
	require.Equal(t, pricing.Money(255000), provider.last.Amount)
	require.Equal(t, []InvoiceFee{{Type: "First order discount", Value: -60000}, {Type: "Shipping", Value: 15000}}, provider.last.Fees)

	provider.err = errors.New("breaker open")
	_, err = svc.Open(context.Background(), pendingOrder())
	require.Error(t, err)
}

type webhookFixture struct {
	hook   Webhook
	orders *memOrders
	spend  spendLog
	topics *topics
	mr     *miniredis.Miniredis
}

func newWebhookFixture(t *testing.T) webhookFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	o := pendingOrder()
	o.InvoiceID = "inv-1"
	f := webhookFixture{orders: newMemOrders(o), spend: spendLog{}, topics: &topics{}, mr: mr}
	f.hook = Webhook{
		Provider:  &stubProvider{},
		Orders:    f.orders,
		Spend:     f.spend,
		Events:    f.topics,
		Replay:    client,
		ReplayTTL: time.Hour,
	}
	return f
}

func (f webhookFixture) send(body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/xendit", strings.NewReader(body))
	req.Header.Set("x-callback-token", token)
	rr := httptest.NewRecorder()
	f.hook.Handle(rr, req)
	return rr
}

func TestWebhookPaid(t *testing.T) {
	f := newWebhookFixture(t)
	body := `{"InvoiceID":"inv-1","Status":"PAID","Amount":255000}`

	rr := f.send(body, "ok")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"paid"`)
	require.Equal(t, order.StatusPaid, f.orders.orders["ord-1"].Status)
	require.Equal(t, pricing.Money(240000), f.spend["budi@example.com"])
	require.Equal(t, topics{events.TopicOrderPaid}, *f.topics)

	rr = f.send(body, "ok")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "duplicate")

	f.mr.FlushAll()
	rr = f.send(body, "ok")
	require.Contains(t, rr.Body.String(), "ignored")
	require.Equal(t, pricing.Money(240000), f.spend["budi@example.com"], "spend is only added once")
	require.Len(t, *f.topics, 1)
}

func TestWebhookRejections(t *testing.T) {
	f := newWebhookFixture(t)

	rr := f.send(`{"InvoiceID":"inv-1","Status":"PAID"}`, "bad")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.send(`{"InvoiceID":"inv-1","Status":"PAID","Amount":1}`, "ok")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "AMOUNT_MISMATCH")
	require.Empty(t, f.mr.Keys(), "failed callbacks release the replay key")

	rr = f.send(`{"InvoiceID":"inv-404","OrderID":"ord-404","Status":"PAID"}`, "ok")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, order.StatusPendingPayment, f.orders.orders["ord-1"].Status)
}

func TestWebhookExpiredFallsBackToOrderID(t *testing.T) {
	f := newWebhookFixture(t)
	rr := f.send(`{"InvoiceID":"inv-other","OrderID":"ord-1","Status":"EXPIRED"}`, "ok")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, order.StatusExpired, f.orders.orders["ord-1"].Status)
	require.Equal(t, topics{events.TopicOrderExpired}, *f.topics)
	require.Empty(t, f.spend)
}

type stuckReplay struct {
	redis.Cmdable
}

func (stuckReplay) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "del")
	cmd.SetErr(errors.New("redis: connection reset"))
	return cmd
}

func TestWebhookLogsReplayReleaseFailure(t *testing.T) {
	f := newWebhookFixture(t)
	f.hook.Replay = stuckReplay{Cmdable: f.hook.Replay}

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/xendit", strings.NewReader(`{"InvoiceID":"inv-1","Status":"PAID","Amount":1}`))
	req.Header.Set("x-callback-token", "ok")
	req = req.WithContext(logger.WithContext(req.Context()))
	rr := httptest.NewRecorder()
	f.hook.Handle(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, buf.String(), "release webhook replay key")
	require.Contains(t, buf.String(), "connection reset")
	require.Contains(t, buf.String(), `"level":"warn"`)
}
